// Package progress carries run and rule lifecycle events from the engine to
// whatever is watching: a plain log on stderr or the live terminal view.
package progress

import "time"

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunWarning   EventType = "run_warning"
	EventRunFinished  EventType = "run_finished"
	EventRuleStarted  EventType = "rule_started"
	EventRuleFinished EventType = "rule_finished"
)

// runLevel reports whether the event describes the run as a whole.
func (t EventType) runLevel() bool {
	switch t {
	case EventRunStarted, EventRunWarning, EventRunFinished:
		return true
	default:
		return false
	}
}

// Event is one lifecycle notification. Status holds the worst severity of a
// finished rule, or the verdict of a finished run.
type Event struct {
	Type         EventType `json:"type"`
	At           time.Time `json:"at"`
	RunID        string    `json:"run_id,omitempty"`
	Rule         string    `json:"rule,omitempty"`
	Section      string    `json:"section,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
	FindingCount int       `json:"finding_count,omitempty"`
	RuleCount    int       `json:"rule_count,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}
