// Package verdict aggregates rule findings and derives the overall deploy decision.
package verdict

import (
	"sync"

	"predeploy/internal/model"
)

// Aggregator collects findings in insertion order. It is safe for concurrent Add calls,
// though the engine only appends from a single goroutine after merging by declaration order.
type Aggregator struct {
	mu       sync.Mutex
	findings []model.Finding
	counts   model.Counts
}

func NewAggregator() *Aggregator {
	return &Aggregator{findings: make([]model.Finding, 0, 32)}
}

func (a *Aggregator) Add(findings ...model.Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range findings {
		a.findings = append(a.findings, f)
		switch f.Severity {
		case model.SeverityPass:
			a.counts.Pass++
		case model.SeverityWarn:
			a.counts.Warn++
		default:
			a.counts.Fail++
		}
	}
}

// Findings returns a copy of the collected findings.
func (a *Aggregator) Findings() []model.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

func (a *Aggregator) Counts() model.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

func (a *Aggregator) Verdict(strict bool) Verdict {
	return New(a.Counts(), strict)
}

type Verdict struct {
	Outcome model.Severity
	Strict  bool
	Counts  model.Counts
}

func New(counts model.Counts, strict bool) Verdict {
	return Verdict{Outcome: Decide(counts, strict), Strict: strict, Counts: counts}
}

// Decide applies the gate table: any FAIL blocks; WARN blocks only in strict mode.
func Decide(counts model.Counts, strict bool) model.Severity {
	switch {
	case counts.Fail > 0:
		return model.SeverityFail
	case counts.Warn > 0 && strict:
		return model.SeverityFail
	case counts.Warn > 0:
		return model.SeverityWarn
	default:
		return model.SeverityPass
	}
}

// Of computes the verdict for a plain multiset of severities.
func Of(severities []model.Severity, strict bool) Verdict {
	var counts model.Counts
	for _, s := range severities {
		switch s {
		case model.SeverityPass:
			counts.Pass++
		case model.SeverityWarn:
			counts.Warn++
		default:
			counts.Fail++
		}
	}
	return New(counts, strict)
}

func (v Verdict) ExitCode() int {
	if v.Outcome == model.SeverityFail {
		return 1
	}
	return 0
}

func (v Verdict) Blocked() bool {
	return v.Outcome == model.SeverityFail
}

// EscalatedByStrict reports whether the block comes only from strict mode.
func (v Verdict) EscalatedByStrict() bool {
	return v.Outcome == model.SeverityFail && v.Counts.Fail == 0
}

func (v Verdict) Message() string {
	switch {
	case v.Outcome == model.SeverityFail && v.EscalatedByStrict():
		return "Deploy BLOCKED (--strict) -- resolve WARNs before deploying."
	case v.Outcome == model.SeverityFail:
		return "Deploy BLOCKED -- fix all FAILs before pushing to production."
	case v.Outcome == model.SeverityWarn:
		return "Warnings present -- review before deploying."
	default:
		return "All checks passed -- safe to deploy."
	}
}
