package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"predeploy/internal/redact"
	"predeploy/internal/sanitize"
)

// runEventWait bounds how long run-level events wait for a slow consumer.
const runEventWait = 2 * time.Second

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

type NoopSink struct{}

func (NoopSink) Emit(Event) {}

// ChannelSink forwards events to a live view. Rule events are dropped when the
// channel is full; run events wait up to runEventWait so the view sees the
// verdict.
type ChannelSink struct {
	ch   chan<- Event
	wait time.Duration
}

func NewChannelSink(ch chan<- Event) *ChannelSink {
	return &ChannelSink{ch: ch, wait: runEventWait}
}

func (s *ChannelSink) Emit(e Event) {
	if s == nil || s.ch == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case s.ch <- e:
		return
	default:
	}
	if !e.Type.runLevel() || s.wait <= 0 {
		return
	}
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case s.ch <- e:
	case <-timer.C:
	}
}

// PlainSink writes one line per event. Messages are redacted and stripped of
// terminal control characters.
type PlainSink struct {
	w  io.Writer
	mu sync.Mutex
}

func NewPlainSink(w io.Writer) *PlainSink {
	return &PlainSink{w: w}
}

func (s *PlainSink) Emit(e Event) {
	if s == nil || s.w == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	line := formatPlain(e)
	if line == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}

func formatPlain(e Event) string {
	ts := e.At.Format("15:04:05")
	switch e.Type {
	case EventRunStarted:
		return fmt.Sprintf("[%s] run %s started rules=%d", ts, e.RunID, e.RuleCount)
	case EventRunWarning:
		msg := clean(e.Message)
		if msg == "" {
			msg = clean(e.Error)
		}
		return fmt.Sprintf("[%s] warning: %s", ts, msg)
	case EventRunFinished:
		return withError(fmt.Sprintf("[%s] run %s finished verdict=%s findings=%d duration=%dms", ts, e.RunID, e.Status, e.FindingCount, e.DurationMS), e.Error)
	case EventRuleStarted:
		if e.Section != "" {
			return fmt.Sprintf("[%s] rule %s started section=%q", ts, e.Rule, e.Section)
		}
		return fmt.Sprintf("[%s] rule %s started", ts, e.Rule)
	case EventRuleFinished:
		return withError(fmt.Sprintf("[%s] rule %s finished status=%s findings=%d duration=%dms", ts, e.Rule, e.Status, e.FindingCount, e.DurationMS), e.Error)
	default:
		return ""
	}
}

func withError(line, errText string) string {
	if msg := clean(errText); msg != "" {
		line += " error=" + msg
	}
	return line
}

func clean(s string) string {
	return strings.TrimSpace(sanitize.Line(redact.Text(s)))
}
