// Package engine registers audit rules and executes them against a shared snapshot.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"predeploy/internal/model"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
)

// Category is the risk family of a rule. It decides the severity policy the rule follows.
type Category string

const (
	CategoryExistence    Category = "existence"
	CategorySecret       Category = "secret"
	CategoryHeuristic    Category = "heuristic"
	CategoryConsistency  Category = "consistency"
	CategoryCollaborator Category = "collaborator"
)

// Env is the read-only input shared by every rule of a run.
type Env struct {
	Snapshot *snapshot.Snapshot
	Scanner  *scan.Scanner
	Logger   *zap.SugaredLogger
}

// RuleFunc inspects the environment and returns at least one finding.
type RuleFunc func(ctx context.Context, env Env) []model.Finding

type Rule struct {
	ID          string
	Name        string
	Category    Category
	Description string
	Run         RuleFunc
}

func (r Rule) validate() error {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return fmt.Errorf("rule id is required")
	}
	if strings.ContainsAny(id, " \t*") {
		return fmt.Errorf("rule id %q must be a single token without wildcards", id)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %s: name is required", id)
	}
	if r.Run == nil {
		return fmt.Errorf("rule %s: run function is required", id)
	}
	return nil
}

type Section struct {
	Title string
	Rules []Rule
}

// Pass, Warn and Fail build a finding for the calling rule.
func Pass(check string) model.Finding {
	return model.Finding{Check: check, Severity: model.SeverityPass}
}

func Warn(check string, hits ...model.Hit) model.Finding {
	return model.Finding{Check: check, Severity: model.SeverityWarn, Hits: hits}
}

func Fail(check string, hits ...model.Hit) model.Finding {
	return model.Finding{Check: check, Severity: model.SeverityFail, Hits: hits}
}

// One wraps a single finding as a rule result.
func One(f model.Finding) []model.Finding {
	return []model.Finding{f}
}
