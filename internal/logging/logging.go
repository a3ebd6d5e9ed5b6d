// Package logging builds the zap logger shared by a run.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console-encoded logger writing to w. Only warnings and errors are
// emitted unless verbose is set. A nil w writes to stderr.
func New(verbose bool, w io.Writer) *zap.SugaredLogger {
	if w == nil {
		w = os.Stderr
	}
	var encCfg zapcore.EncoderConfig
	level := zap.WarnLevel
	if verbose {
		encCfg = zap.NewDevelopmentEncoderConfig()
		level = zap.DebugLevel
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core).Sugar().Named("predeploy")
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
