package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the outcome of a single rule. The zero value is SeverityPass.
type Severity int

const (
	SeverityPass Severity = iota
	SeverityWarn
	SeverityFail
)

var AllSeverities = []Severity{SeverityPass, SeverityWarn, SeverityFail}

func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "PASS"
	case SeverityWarn:
		return "WARN"
	case SeverityFail:
		return "FAIL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

func (s Severity) Valid() bool {
	return s >= SeverityPass && s <= SeverityFail
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PASS":
		return SeverityPass, nil
	case "WARN", "WARNING":
		return SeverityWarn, nil
	case "FAIL":
		return SeverityFail, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", raw)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hit is one located match. Line is 1-indexed; 0 means the hit refers to the whole file.
type Hit struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
	Text string `json:"text,omitempty"`
}

func (h Hit) Location() string {
	if h.Line > 0 {
		return fmt.Sprintf("%s:%d", h.File, h.Line)
	}
	return h.File
}

type Finding struct {
	Rule      string   `json:"rule"`
	Section   string   `json:"section"`
	Check     string   `json:"check"`
	Severity  Severity `json:"severity"`
	Heuristic bool     `json:"heuristic,omitempty"`
	Hits      []Hit    `json:"hits,omitempty"`
	// MaxHits bounds how many hits a human-readable rendering shows. Zero means the default.
	MaxHits int    `json:"-"`
	Detail  string `json:"detail,omitempty"`
}

type Counts struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

func (c Counts) Of(s Severity) int {
	switch s {
	case SeverityPass:
		return c.Pass
	case SeverityWarn:
		return c.Warn
	case SeverityFail:
		return c.Fail
	default:
		return 0
	}
}

func (c Counts) Total() int {
	return c.Pass + c.Warn + c.Fail
}

type Report struct {
	RunID       string    `json:"run_id"`
	Root        string    `json:"root"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
	Strict      bool      `json:"strict"`
	Findings    []Finding `json:"findings"`
	Counts      Counts    `json:"counts"`
	Verdict     Severity  `json:"verdict"`
	ExitCode    int       `json:"exit_code"`
	Skipped     []string  `json:"skipped,omitempty"`
	// Notes are run-level remarks shown after the sections, such as a skipped type-check.
	Notes []string `json:"notes,omitempty"`
}
