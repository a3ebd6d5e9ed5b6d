package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"predeploy/internal/model"
	"predeploy/internal/progress"
	"predeploy/internal/verdict"
)

const defaultWorkers = 4

// Registry holds rules grouped into sections, in declaration order.
type Registry struct {
	sections []Section
	ids      map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Add appends rules to the named section, creating it after the existing ones if needed.
// Rule ids must be unique across the registry.
func (r *Registry) Add(title string, rules ...Rule) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("section title is required")
	}
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return err
		}
		if _, dup := r.ids[rule.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
	}
	idx := -1
	for i := range r.sections {
		if r.sections[i].Title == title {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.sections = append(r.sections, Section{Title: title})
		idx = len(r.sections) - 1
	}
	for _, rule := range rules {
		r.ids[rule.ID] = struct{}{}
		r.sections[idx].Rules = append(r.sections[idx].Rules, rule)
	}
	return nil
}

func (r *Registry) Sections() []Section {
	out := make([]Section, len(r.sections))
	for i, s := range r.sections {
		out[i] = Section{Title: s.Title, Rules: append([]Rule(nil), s.Rules...)}
	}
	return out
}

func (r *Registry) Len() int { return len(r.ids) }

// Entry is a rule together with the section it was declared in.
type Entry struct {
	Section string
	Rule    Rule
}

func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.ids))
	for _, s := range r.sections {
		for _, rule := range s.Rules {
			out = append(out, Entry{Section: s.Title, Rule: rule})
		}
	}
	return out
}

type RunOptions struct {
	Workers int
	RunID   string
	Sink    progress.Sink
}

// Run executes every rule and returns the findings merged in declaration order.
// Rules may run concurrently; one rule's failure never prevents the others from running.
func (r *Registry) Run(ctx context.Context, env Env, opts RunOptions) *verdict.Aggregator {
	if env.Logger == nil {
		env.Logger = zap.NewNop().Sugar()
	}
	sink := opts.Sink
	if sink == nil {
		sink = progress.NoopSink{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	entries := r.Entries()
	results := make([][]model.Finding, len(entries))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = runEntry(ctx, env, entry, opts.RunID, sink)
			return nil
		})
	}
	_ = g.Wait()

	agg := verdict.NewAggregator()
	for _, findings := range results {
		agg.Add(findings...)
	}
	return agg
}

func runEntry(ctx context.Context, env Env, entry Entry, runID string, sink progress.Sink) []model.Finding {
	rule := entry.Rule
	logger := env.Logger.With("rule", rule.ID)
	start := time.Now()
	sink.Emit(progress.Event{Type: progress.EventRuleStarted, RunID: runID, Rule: rule.ID, Section: entry.Section})
	logger.Debugw("rule started", "section", entry.Section)

	var findings []model.Finding
	var runErr string
	if err := ctx.Err(); err != nil {
		findings = One(Warn(rule.Name))
		findings[0].Detail = fmt.Sprintf("not evaluated: %v", err)
		runErr = err.Error()
	} else {
		ruleEnv := env
		ruleEnv.Logger = logger
		if env.Scanner != nil {
			ruleEnv.Scanner = env.Scanner.ForRule(rule.ID)
		}
		findings, runErr = invoke(ctx, ruleEnv, rule)
	}
	if len(findings) == 0 {
		logger.Warnw("rule returned no findings")
		f := Warn(rule.Name)
		f.Detail = "rule produced no result"
		findings = One(f)
	}

	worst := model.SeverityPass
	for i := range findings {
		findings[i] = stamp(findings[i], entry)
		worst = worst.Max(findings[i].Severity)
	}

	elapsed := time.Since(start)
	logger.Debugw("rule finished", "status", worst.String(), "findings", len(findings), "duration", elapsed)
	sink.Emit(progress.Event{
		Type:         progress.EventRuleFinished,
		RunID:        runID,
		Rule:         rule.ID,
		Section:      entry.Section,
		Status:       worst.String(),
		FindingCount: len(findings),
		DurationMS:   elapsed.Milliseconds(),
		Error:        runErr,
	})
	return findings
}

func invoke(ctx context.Context, env Env, rule Rule) (findings []model.Finding, runErr string) {
	defer func() {
		if rec := recover(); rec != nil {
			env.Logger.Errorw("rule panicked", "panic", rec, "stack", string(debug.Stack()))
			f := Fail(rule.Name)
			f.Detail = fmt.Sprintf("rule %s crashed: %v", rule.ID, rec)
			findings = One(f)
			runErr = fmt.Sprint(rec)
		}
	}()
	return rule.Run(ctx, env), ""
}

func stamp(f model.Finding, entry Entry) model.Finding {
	f.Rule = entry.Rule.ID
	f.Section = entry.Section
	if strings.TrimSpace(f.Check) == "" {
		f.Check = entry.Rule.Name
	}
	if entry.Rule.Category == CategoryHeuristic {
		f.Heuristic = true
	}
	if !f.Severity.Valid() {
		f.Detail = strings.TrimSpace(fmt.Sprintf("invalid severity %d reported; %s", int(f.Severity), f.Detail))
		f.Severity = model.SeverityFail
	}
	return f
}
