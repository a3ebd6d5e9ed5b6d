// Package typecheck runs the TypeScript compiler as an external collaborator of the audit.
package typecheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"predeploy/internal/engine"
	"predeploy/internal/envsafe"
	"predeploy/internal/model"
)

const (
	RuleID         = "typescript"
	SectionTitle   = "TypeScript"
	DefaultTimeout = 120 * time.Second

	maxDetailLines = 18
	waitDelay      = 2 * time.Second
)

var tscArgs = []string{"--noEmit", "--pretty", "false"}

type Options struct {
	// Bin overrides binary discovery. Relative paths with a directory part resolve against the root.
	Bin     string
	Timeout time.Duration
}

// Command returns the program and arguments used to type-check root.
func Command(root, bin string) (string, []string) {
	args := append([]string(nil), tscArgs...)
	if bin = strings.TrimSpace(bin); bin != "" {
		if !filepath.IsAbs(bin) && strings.ContainsAny(bin, `/\`) {
			bin = filepath.Join(root, bin)
		}
		return bin, args
	}
	for _, name := range []string{"tsc.cmd", "tsc"} {
		candidate := filepath.Join(root, "node_modules", ".bin", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, args
		}
	}
	return "npx", append([]string{"tsc"}, args...)
}

// Rule wraps Check as an audit rule.
func Rule(opts Options) engine.Rule {
	return engine.Rule{
		ID:          RuleID,
		Name:        "TypeScript type-check",
		Category:    engine.CategoryCollaborator,
		Description: "tsc --noEmit reports no type errors.",
		Run: func(ctx context.Context, env engine.Env) []model.Finding {
			return engine.One(Check(ctx, env.Snapshot.Root(), opts, env.Logger))
		},
	}
}

// Check runs the compiler in root. Timeouts and spawn failures are warnings; compiler
// diagnostics are a failure.
func Check(ctx context.Context, root string, opts Options, logger *zap.SugaredLogger) model.Finding {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	name, args := Command(root, opts.Bin)
	logger.Debugw("running type-check", "cmd", name, "args", strings.Join(args, " "), "timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := run(runCtx, root, name, args)

	switch {
	case err == nil:
		return engine.Pass("TypeScript type-check passed (tsc --noEmit)")
	case ctx.Err() != nil:
		return engine.Warn("tsc interrupted -- skipping: " + ctx.Err().Error())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return engine.Warn(fmt.Sprintf("tsc timed out after %s -- skipping", seconds(timeout)))
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		logger.Debugw("type-check could not start", "error", err)
		return engine.Warn(fmt.Sprintf("tsc could not run: %v", err))
	}
	lines := diagnosticLines(out)
	f := engine.Fail(fmt.Sprintf("TypeScript errors found (%d diagnostic lines)", len(lines)))
	f.Detail = summarize(lines)
	return f
}

func run(ctx context.Context, dir, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = envsafe.ToolchainEnv(os.Environ())
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = waitDelay
	cmdDone := make(chan struct{})
	defer close(cmdDone)
	go func() {
		select {
		case <-ctx.Done():
			killProcessGroup(cmd)
		case <-cmdDone:
		}
	}()
	return cmd.CombinedOutput()
}

func diagnosticLines(out []byte) []string {
	text := strings.TrimSpace(strings.ReplaceAll(string(out), "\r\n", "\n"))
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// summarize keeps the first distinct lines and notes how many were left out.
func summarize(lines []string) string {
	seen := make(map[string]struct{}, len(lines))
	unique := make([]string, 0, maxDetailLines)
	for _, line := range lines {
		if len(unique) == maxDetailLines {
			break
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		unique = append(unique, line)
	}
	detail := strings.Join(unique, "\n")
	if len(lines) > maxDetailLines {
		detail += fmt.Sprintf("\n... (%d more lines)", len(lines)-maxDetailLines)
	}
	return detail
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
