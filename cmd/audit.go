package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"predeploy/internal/app"
	"predeploy/internal/config"
	"predeploy/internal/logging"
	"predeploy/internal/model"
	"predeploy/internal/progress"
	"predeploy/internal/report"
	"predeploy/internal/tui"
	"predeploy/internal/typecheck"
)

const (
	formatText = "text"
	formatJSON = "json"

	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"

	defaultWorkers = 4
)

type auditFlags struct {
	noTSC       bool
	strict      bool
	tscTimeout  time.Duration
	tscBin      string
	workers     int
	format      string
	jsonOut     string
	sarifOut    string
	metricsFile string
	color       string
	enableTUI   bool
	verbose     bool
	configPath  string
	only        []string
	skip        []string
}

func (f *auditFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVar(&f.noTSC, "no-tsc", false, "Skip the TypeScript type-check")
	fl.BoolVar(&f.strict, "strict", false, "Treat warnings as deploy blockers")
	fl.DurationVar(&f.tscTimeout, "tsc-timeout", typecheck.DefaultTimeout, "Type-check time limit; exceeding it is a warning")
	fl.StringVar(&f.tscBin, "tsc-bin", "", "TypeScript compiler to run (default node_modules/.bin/tsc, else npx tsc)")
	fl.IntVar(&f.workers, "workers", defaultWorkers, "Rules evaluated concurrently")
	fl.StringVar(&f.format, "format", formatText, "Report format on stdout: text|json")
	fl.StringVar(&f.jsonOut, "json-out", "", "Also write the JSON report to this file")
	fl.StringVar(&f.sarifOut, "sarif", "", "Write a SARIF 2.1.0 report to this file")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this file")
	fl.StringVar(&f.color, "color", colorAuto, "Colour output: auto|always|never (NO_COLOR disables auto)")
	fl.BoolVar(&f.enableTUI, "tui", false, "Show live progress in an interactive terminal view")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Log debug output and progress events to stderr")
	fl.StringVar(&f.configPath, "config", "", "Additional config file applied after the global and repo configs")
	fl.StringSliceVar(&f.only, "only", nil, "Only run these rule ids (repeatable or comma-separated)")
	fl.StringSliceVar(&f.skip, "skip", nil, "Skip these rule ids (repeatable or comma-separated)")
}

// settings is the merged result of config files and flags. Flags that were set
// explicitly win over config values.
type settings struct {
	audit   app.AuditOptions
	format  string
	color   string
	verbose bool
	tui     bool
}

func resolveSettings(cmd *cobra.Command, f *auditFlags, cfg config.Config, root string) (settings, error) {
	changed := cmd.Flags().Changed
	s := settings{
		format:  f.format,
		color:   f.color,
		verbose: f.verbose,
		tui:     f.enableTUI,
		audit: app.AuditOptions{
			Root:        root,
			Config:      cfg,
			Strict:      f.strict,
			NoTSC:       f.noTSC,
			TSCBin:      f.tscBin,
			TSCTimeout:  f.tscTimeout,
			Workers:     f.workers,
			OnlyRules:   f.only,
			SkipRules:   f.skip,
			JSONOut:     f.jsonOut,
			SARIFOut:    f.sarifOut,
			MetricsFile: f.metricsFile,
		},
	}

	if !changed("strict") && cfg.Strict != nil {
		s.audit.Strict = *cfg.Strict
	}
	if !changed("no-tsc") && cfg.NoTSC != nil {
		s.audit.NoTSC = *cfg.NoTSC
	}
	if !changed("tsc-bin") && strings.TrimSpace(cfg.TSCBin) != "" {
		s.audit.TSCBin = cfg.TSCBin
	}
	if !changed("tsc-timeout") {
		d, ok, err := cfg.Timeout()
		if err != nil {
			return settings{}, err
		}
		if ok {
			s.audit.TSCTimeout = d
		}
	}
	if !changed("workers") && cfg.Workers != nil {
		s.audit.Workers = *cfg.Workers
	}
	if !changed("format") && strings.TrimSpace(cfg.Format) != "" {
		s.format = cfg.Format
	}
	if !changed("color") && strings.TrimSpace(cfg.Color) != "" {
		s.color = cfg.Color
	}
	if !changed("verbose") && cfg.Verbose != nil {
		s.verbose = *cfg.Verbose
	}
	if !changed("only") && len(cfg.Only) > 0 {
		s.audit.OnlyRules = cfg.Only
	}
	if !changed("skip") && len(cfg.Skip) > 0 {
		s.audit.SkipRules = cfg.Skip
	}

	s.format = strings.ToLower(strings.TrimSpace(s.format))
	s.color = strings.ToLower(strings.TrimSpace(s.color))
	switch s.format {
	case formatText, formatJSON:
	default:
		return settings{}, fmt.Errorf("--format must be %s or %s, got %q", formatText, formatJSON, s.format)
	}
	switch s.color {
	case colorAuto, colorAlways, colorNever:
	default:
		return settings{}, fmt.Errorf("--color must be auto, always or never, got %q", s.color)
	}
	if s.audit.Workers < 1 {
		return settings{}, errors.New("--workers must be at least 1")
	}
	if s.audit.TSCTimeout <= 0 {
		return settings{}, errors.New("--tsc-timeout must be positive")
	}
	return s, nil
}

func runAudit(cmd *cobra.Command, f *auditFlags, root string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(root, f.configPath)
	if err != nil {
		return err
	}
	s, err := resolveSettings(cmd, f, cfg, root)
	if err != nil {
		return err
	}

	logger := logging.New(s.verbose, stderr)
	defer func() { _ = logger.Sync() }()
	s.audit.Logger = logger

	var rep model.Report
	if s.tui {
		rep, err = runWithTUI(cmd, s.audit, stderr)
	} else {
		if s.verbose {
			s.audit.Progress = progress.NewPlainSink(stderr)
		}
		rep, err = app.RunAudit(cmd.Context(), s.audit)
	}
	if rep.RunID == "" {
		return err
	}

	if renderErr := render(stdout, rep, s); renderErr != nil {
		return renderErr
	}
	if err != nil {
		return err
	}
	logger.Debugw("exit", "code", rep.ExitCode)
	if rep.ExitCode != 0 {
		return exitError{code: rep.ExitCode}
	}
	return nil
}

func runWithTUI(cmd *cobra.Command, opts app.AuditOptions, stderr io.Writer) (model.Report, error) {
	events := make(chan progress.Event, 256)
	opts.Progress = progress.NewChannelSink(events)
	// The live view owns the terminal; only errors reach the log.
	opts.Logger = opts.Logger.WithOptions(zap.IncreaseLevel(zap.ErrorLevel))

	type runResult struct {
		report model.Report
		err    error
	}
	runDone := make(chan runResult, 1)
	go func() {
		defer close(events)
		rep, err := app.RunAudit(cmd.Context(), opts)
		runDone <- runResult{report: rep, err: err}
	}()

	if err := tui.Run(tui.Options{Events: events, Output: stderr}); err != nil {
		return model.Report{}, err
	}
	result := <-runDone
	return result.report, result.err
}

func render(w io.Writer, rep model.Report, s settings) error {
	if s.format == formatJSON {
		return report.WriteJSON(w, rep)
	}
	return report.RenderText(w, rep, report.TextOptions{Color: useColor(s.color, w)})
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case colorAlways:
		return true
	case colorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fd, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(fd.Fd()) || isatty.IsCygwinTerminal(fd.Fd())
}
