// Package app wires configuration, the rule catalogue and the engine into one audit run.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"predeploy/internal/checks"
	"predeploy/internal/config"
	"predeploy/internal/engine"
	"predeploy/internal/metrics"
	"predeploy/internal/model"
	"predeploy/internal/progress"
	"predeploy/internal/redact"
	reportpkg "predeploy/internal/report"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
	"predeploy/internal/suppress"
	"predeploy/internal/typecheck"
)

// NoTSCNote is added to the report when the type-check collaborator is disabled.
const NoTSCNote = "TypeScript check skipped via --no-tsc"

type AuditOptions struct {
	Root   string
	Config config.Config

	Strict     bool
	NoTSC      bool
	TSCBin     string
	TSCTimeout time.Duration
	Workers    int
	OnlyRules  []string
	SkipRules  []string

	JSONOut     string
	SARIFOut    string
	MetricsFile string

	Logger   *zap.SugaredLogger
	Progress progress.Sink
	// Now defaults to time.Now. Suppression expiry is evaluated against it.
	Now func() time.Time
}

// Prepared is a validated run plan: the snapshot to audit and the selected rules.
type Prepared struct {
	Snapshot *snapshot.Snapshot
	Scanner  *scan.Scanner
	Registry *engine.Registry
	Skipped  []string
	Warnings []string
	Notes    []string
}

// Prepare builds the catalogue, snapshot, suppression index and rule selection
// without running any rule.
func Prepare(opts AuditOptions) (Prepared, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := nowFunc(opts)

	cat := checks.DefaultCatalog()
	if err := opts.Config.DecodeCatalog(&cat); err != nil {
		return Prepared{}, err
	}
	if err := cat.Validate(); err != nil {
		return Prepared{}, fmt.Errorf("invalid catalog: %w", err)
	}

	snap, err := snapshot.New(opts.Root, cat.Layout, snapshot.WithLogger(logger))
	if err != nil {
		return Prepared{}, err
	}

	suppressionPath := suppress.DefaultPath(snap.Root())
	rules, err := suppress.Load(suppressionPath)
	if err != nil {
		return Prepared{}, fmt.Errorf("load suppressions: %w", err)
	}
	index := suppress.NewIndex(rules, now())
	logger.Debugw("suppressions loaded", "path", suppressionPath, "total", len(rules), "live", index.Len())

	scanner := scan.New(snap, scan.Options{Suppressions: index, Logger: logger})

	reg := engine.NewRegistry()
	if err := checks.Register(reg, cat); err != nil {
		return Prepared{}, err
	}
	var notes []string
	if opts.NoTSC {
		notes = append(notes, NoTSCNote)
	} else {
		tsc := typecheck.Rule(typecheck.Options{Bin: opts.TSCBin, Timeout: opts.TSCTimeout})
		if err := reg.Add(typecheck.SectionTitle, tsc); err != nil {
			return Prepared{}, err
		}
	}

	sel, err := checks.Select(reg, checks.SelectionOptions{OnlyIDs: opts.OnlyRules, SkipIDs: opts.SkipRules})
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{
		Snapshot: snap,
		Scanner:  scanner,
		Registry: sel.Registry,
		Skipped:  sel.Skipped,
		Warnings: sel.Warnings,
		Notes:    notes,
	}, nil
}

// RunAudit executes every selected rule and writes the requested machine-readable
// outputs. The returned report is complete even when writing an output fails.
func RunAudit(ctx context.Context, opts AuditOptions) (report model.Report, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sink := opts.Progress
	if sink == nil {
		sink = progress.NoopSink{}
	}
	now := nowFunc(opts)

	plan, err := Prepare(opts)
	if err != nil {
		return model.Report{}, err
	}

	started := now().UTC()
	runID := uuid.NewString()
	sink.Emit(progress.Event{
		Type:      progress.EventRunStarted,
		At:        started,
		RunID:     runID,
		RuleCount: plan.Registry.Len(),
		Message:   plan.Snapshot.Root(),
	})
	for _, msg := range plan.Warnings {
		logger.Warn(msg)
		sink.Emit(progress.Event{
			Type:    progress.EventRunWarning,
			RunID:   runID,
			Status:  "warning",
			Message: msg,
		})
	}

	env := engine.Env{Snapshot: plan.Snapshot, Scanner: plan.Scanner, Logger: logger}
	agg := plan.Registry.Run(ctx, env, engine.RunOptions{Workers: opts.Workers, RunID: runID, Sink: sink})
	v := agg.Verdict(opts.Strict)
	completed := now().UTC()

	report = model.Report{
		RunID:       runID,
		Root:        plan.Snapshot.Root(),
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
		Strict:      opts.Strict,
		Findings:    agg.Findings(),
		Counts:      v.Counts,
		Verdict:     v.Outcome,
		ExitCode:    v.ExitCode(),
		Skipped:     plan.Skipped,
		Notes:       append(append([]string{}, plan.Notes...), redact.Strings(plan.Warnings)...),
	}

	sink.Emit(progress.Event{
		Type:         progress.EventRunFinished,
		At:           completed,
		RunID:        runID,
		Status:       v.Outcome.String(),
		FindingCount: len(report.Findings),
		DurationMS:   report.DurationMS,
	})
	logger.Debugw("audit finished", "run_id", runID, "verdict", v.Outcome.String(),
		"pass", v.Counts.Pass, "warn", v.Counts.Warn, "fail", v.Counts.Fail)

	err = writeOutputs(report, opts)
	return report, err
}

func writeOutputs(report model.Report, opts AuditOptions) error {
	if path := strings.TrimSpace(opts.JSONOut); path != "" {
		if err := reportpkg.WriteJSONFile(path, report); err != nil {
			return err
		}
	}
	if path := strings.TrimSpace(opts.SARIFOut); path != "" {
		if err := reportpkg.WriteSARIFFile(path, report); err != nil {
			return err
		}
	}
	if path := strings.TrimSpace(opts.MetricsFile); path != "" {
		if err := metrics.WriteTextfile(path, report); err != nil {
			return err
		}
	}
	return nil
}

func nowFunc(opts AuditOptions) func() time.Time {
	if opts.Now != nil {
		return opts.Now
	}
	return time.Now
}
