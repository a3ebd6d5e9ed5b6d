package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"predeploy/internal/model"
	"predeploy/internal/safefile"
	"predeploy/internal/version"
)

// SARIF v2.1.0 types, the subset GitHub code scanning reads.

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"
	toolName     = "predeploy"
)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool        `json:"tool"`
	Results    []sarifResult    `json:"results"`
	Properties *sarifRunSummary `json:"properties,omitempty"`
}

type sarifRunSummary struct {
	RunID   string `json:"runId,omitempty"`
	Verdict string `json:"verdict"`
	Strict  bool   `json:"strict"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name,omitempty"`
	ShortDescription sarifMessage        `json:"shortDescription"`
	DefaultConfig    *sarifDefaultConfig `json:"defaultConfiguration,omitempty"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID     string           `json:"ruleId"`
	Level      string           `json:"level"`
	Message    sarifMessage     `json:"message"`
	Locations  []sarifLocation  `json:"locations,omitempty"`
	Properties *sarifProperties `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

type sarifProperties struct {
	Section   string `json:"section,omitempty"`
	Severity  string `json:"severity"`
	Heuristic bool   `json:"heuristic,omitempty"`
}

func WriteSARIF(w io.Writer, rep model.Report) error {
	b, err := json.MarshalIndent(buildSARIF(redactReport(rep)), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sarif report: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	return nil
}

func WriteSARIFFile(path string, rep model.Report) error {
	if err := safefile.WriteWith(path, 0o644, func(w io.Writer) error { return WriteSARIF(w, rep) }); err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	return nil
}

// buildSARIF lists every evaluated rule and reports only WARN and FAIL findings as results.
func buildSARIF(rep model.Report) sarifLog {
	ruleIndex := map[string]int{}
	rules := []sarifRule{}
	results := []sarifResult{}

	for _, f := range rep.Findings {
		ruleID := f.Rule
		if ruleID == "" {
			ruleID = "predeploy-finding"
		}
		level := mapSeverityToSARIF(f.Severity)
		if idx, seen := ruleIndex[ruleID]; !seen {
			ruleIndex[ruleID] = len(rules)
			rules = append(rules, sarifRule{
				ID:               ruleID,
				Name:             f.Section,
				ShortDescription: sarifMessage{Text: f.Check},
				DefaultConfig:    &sarifDefaultConfig{Level: level},
			})
		} else if rules[idx].DefaultConfig.Level == "note" {
			rules[idx].DefaultConfig.Level = level
		}
		if f.Severity == model.SeverityPass {
			continue
		}

		message := f.Check
		if detail := strings.TrimSpace(f.Detail); detail != "" {
			message += "\n" + detail
		}
		results = append(results, sarifResult{
			RuleID:    ruleID,
			Level:     level,
			Message:   sarifMessage{Text: message},
			Locations: locations(f.Hits),
			Properties: &sarifProperties{
				Section:   f.Section,
				Severity:  f.Severity.String(),
				Heuristic: f.Heuristic,
			},
		})
	}

	return sarifLog{
		Version: sarifVersion,
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool: sarifTool{
				Driver: sarifDriver{
					Name:    toolName,
					Version: version.Version,
					Rules:   rules,
				},
			},
			Results: results,
			Properties: &sarifRunSummary{
				RunID:   rep.RunID,
				Verdict: rep.Verdict.String(),
				Strict:  rep.Strict,
			},
		}},
	}
}

func locations(hits []model.Hit) []sarifLocation {
	var out []sarifLocation
	for _, h := range hits {
		uri := strings.TrimSpace(h.File)
		if uri == "" {
			continue
		}
		loc := sarifLocation{PhysicalLocation: sarifPhysicalLocation{ArtifactLocation: sarifArtifactLocation{URI: uri}}}
		if h.Line > 0 {
			loc.PhysicalLocation.Region = &sarifRegion{StartLine: h.Line}
		}
		out = append(out, loc)
	}
	return out
}

func mapSeverityToSARIF(s model.Severity) string {
	switch s {
	case model.SeverityFail:
		return "error"
	case model.SeverityWarn:
		return "warning"
	default:
		return "note"
	}
}
