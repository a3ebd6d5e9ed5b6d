package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"predeploy/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

const maxLogLines = 12

type ruleState struct {
	Rule         string
	Section      string
	Status       string
	FindingCount int
	DurationMS   int64
	StartedAt    time.Time
	Error        string
}

type eventMsg struct {
	event progress.Event
	ok    bool
}

type uiModel struct {
	events <-chan progress.Event

	runID      string
	runStatus  string
	runError   string
	startedAt  time.Time
	finishedAt time.Time
	findings   int
	ruleCount  int

	showDetails bool
	done        bool

	rules map[string]ruleState
	order []string

	logLines []string
	tick     int
}

func newModel(events <-chan progress.Event) uiModel {
	return uiModel{
		events:      events,
		runStatus:   "running",
		rules:       make(map[string]ruleState),
		order:       []string{},
		showDetails: true,
		logLines:    make([]string, 0, maxLogLines),
	}
}

func waitForEvent(ch <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		return eventMsg{event: ev, ok: ok}
	}
}

type tickMsg time.Time

func nextTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), nextTick())
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "d":
			m.showDetails = !m.showDetails
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil
	case eventMsg:
		if !msg.ok {
			m.done = true
			return m, tea.Quit
		}
		m.applyEvent(msg.event)
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, nextTick()
	default:
		return m, nil
	}
}

func (m uiModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Pre-Deploy QA Audit"))
	b.WriteString("\n")
	if m.runStatus == "running" {
		b.WriteString(fmt.Sprintf("Active: %s\n", runningStyle.Render(m.runningFrame())))
	}
	b.WriteString(fmt.Sprintf("Run: %s\n", valueOrDash(m.runID)))
	b.WriteString(fmt.Sprintf("Status: %s\n", styleStatus(m.runStatus).Render(strings.ToUpper(valueOrDash(m.runStatus)))))
	b.WriteString(fmt.Sprintf("Rules: %d/%d\n", m.finishedRules(), m.ruleCount))
	b.WriteString(fmt.Sprintf("Findings: %d\n", m.findings))
	b.WriteString(fmt.Sprintf("Elapsed: %s\n", m.elapsedString()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-34s %-11s %-9s %-10s", "Rule", "Status", "Findings", "Duration")))
	b.WriteString("\n")

	for idx, id := range m.orderedRules() {
		r := m.rules[id]
		baseStatus := r.Status
		if strings.TrimSpace(baseStatus) == "" {
			baseStatus = "pending"
		}
		displayStatus := m.ruleStatusDisplay(baseStatus, idx)
		durationMS := m.ruleDurationMS(r, baseStatus)
		line := fmt.Sprintf("%-34s %-11s %-9d %-10s", id, displayStatus, r.FindingCount, durationString(durationMS))
		b.WriteString(styleStatus(baseStatus).Render(line))
		b.WriteString("\n")
	}

	if m.showDetails {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("Recent Events"))
		b.WriteString("\n")
		if len(m.logLines) == 0 {
			b.WriteString(idleStyle.Render("No events yet."))
			b.WriteString("\n")
		} else {
			for _, line := range m.logLines {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(helpStyle.Render("Press q to close"))
	} else {
		b.WriteString(helpStyle.Render("d toggle details"))
	}
	b.WriteString("\n")

	return b.String()
}

func (m *uiModel) applyEvent(e progress.Event) {
	switch e.Type {
	case progress.EventRunStarted:
		m.runID = e.RunID
		m.runStatus = "running"
		m.ruleCount = e.RuleCount
		if !e.At.IsZero() {
			m.startedAt = e.At
		}
		m.appendEventLine(e, fmt.Sprintf("run started (%s)", valueOrDash(e.RunID)))
	case progress.EventRunWarning:
		m.appendEventLine(e, fmt.Sprintf("warning: %s", firstNonEmpty(e.Message, e.Error)))
	case progress.EventRuleStarted:
		r := m.ensureRule(e.Rule)
		r.Status = "running"
		r.Section = firstNonEmpty(e.Section, r.Section)
		if !e.At.IsZero() {
			r.StartedAt = e.At
		}
		m.rules[e.Rule] = r
		m.appendEventLine(e, fmt.Sprintf("%s started", e.Rule))
	case progress.EventRuleFinished:
		r := m.ensureRule(e.Rule)
		r.Status = firstNonEmpty(e.Status, r.Status)
		r.FindingCount = e.FindingCount
		r.DurationMS = e.DurationMS
		if r.StartedAt.IsZero() && !e.At.IsZero() && e.DurationMS > 0 {
			r.StartedAt = e.At.Add(-time.Duration(e.DurationMS) * time.Millisecond)
		}
		r.Error = firstNonEmpty(e.Error, r.Error)
		m.rules[e.Rule] = r
		msg := fmt.Sprintf("%s finished status=%s findings=%d duration=%s", e.Rule, firstNonEmpty(e.Status, "unknown"), e.FindingCount, durationString(e.DurationMS))
		if strings.TrimSpace(e.Error) != "" {
			msg += " error=" + strings.TrimSpace(e.Error)
		}
		m.appendEventLine(e, msg)
	case progress.EventRunFinished:
		m.runStatus = firstNonEmpty(e.Status, "done")
		m.runError = strings.TrimSpace(e.Error)
		m.findings = e.FindingCount
		if !e.At.IsZero() {
			m.finishedAt = e.At
		}
		m.done = true
		msg := fmt.Sprintf("run finished verdict=%s findings=%d duration=%s", firstNonEmpty(e.Status, "unknown"), e.FindingCount, durationString(e.DurationMS))
		if m.runError != "" {
			msg += " error=" + m.runError
		}
		m.appendEventLine(e, msg)
	}
}

func (m *uiModel) ensureRule(id string) ruleState {
	if id == "" {
		return ruleState{}
	}
	r, ok := m.rules[id]
	if !ok {
		r = ruleState{Rule: id, Status: "pending"}
		m.order = append(m.order, id)
	}
	return r
}

// orderedRules lists rules in the order they started; rules known only from
// out-of-order events follow alphabetically.
func (m uiModel) orderedRules() []string {
	out := append([]string{}, m.order...)
	seen := make(map[string]struct{}, len(out))
	for _, id := range out {
		seen[id] = struct{}{}
	}
	var tail []string
	for id := range m.rules {
		if _, ok := seen[id]; !ok {
			tail = append(tail, id)
		}
	}
	sort.Strings(tail)
	return append(out, tail...)
}

func (m uiModel) finishedRules() int {
	n := 0
	for _, r := range m.rules {
		switch r.Status {
		case "pending", "running", "":
		default:
			n++
		}
	}
	return n
}

func (m uiModel) elapsedString() string {
	if m.startedAt.IsZero() {
		return "0s"
	}
	end := time.Now().UTC()
	if !m.finishedAt.IsZero() {
		end = m.finishedAt
	}
	return end.Sub(m.startedAt).Round(time.Second).String()
}

func (m *uiModel) appendEventLine(e progress.Event, text string) {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	line := fmt.Sprintf("[%s] %s", ts.Format("15:04:05"), strings.TrimSpace(text))
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

func durationString(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func valueOrDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}

func styleStatus(status string) lipgloss.Style {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PASS":
		return okStyle
	case "WARN":
		return warnStyle
	case "FAIL":
		return errorStyle
	case "RUNNING":
		return runningStyle
	default:
		return idleStyle
	}
}

func (m uiModel) runningFrame() string {
	frames := []string{"-", "\\", "|", "/"}
	return frames[m.tick%len(frames)]
}

func (m uiModel) ruleStatusDisplay(status string, idx int) string {
	if strings.EqualFold(strings.TrimSpace(status), "running") {
		frames := []string{"-", "\\", "|", "/"}
		return "running " + frames[(m.tick+idx)%len(frames)]
	}
	return strings.TrimSpace(status)
}

func (m uiModel) ruleDurationMS(r ruleState, status string) int64 {
	if strings.EqualFold(strings.TrimSpace(status), "running") && !r.StartedAt.IsZero() {
		return time.Since(r.StartedAt).Milliseconds()
	}
	return r.DurationMS
}
