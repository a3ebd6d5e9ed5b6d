// Package report renders an audit report for terminals and machines.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"

	"predeploy/internal/model"
	"predeploy/internal/redact"
	"predeploy/internal/sanitize"
	"predeploy/internal/scan"
	"predeploy/internal/verdict"
)

const (
	DefaultTitle = "Pre-Deploy QA Audit"
	DefaultWidth = 100

	ruleWidth    = 68
	sectionWidth = 60
	detailIndent = "         "
)

type TextOptions struct {
	Color bool
	// Width bounds wrapped explanation lines. Zero selects DefaultWidth.
	Width int
	Title string
}

type palette struct {
	bold, dim, header, pass, warn, fail func(string) string
}

func newPalette(w io.Writer, color bool) palette {
	if !color {
		plain := func(s string) string { return s }
		return palette{plain, plain, plain, plain, plain, plain}
	}
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.ANSI256)
	render := func(s lipgloss.Style) func(string) string { return func(str string) string { return s.Render(str) } }
	return palette{
		bold:   render(r.NewStyle().Bold(true)),
		dim:    render(r.NewStyle().Faint(true)),
		header: render(r.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))),
		pass:   render(r.NewStyle().Foreground(lipgloss.Color("42"))),
		warn:   render(r.NewStyle().Foreground(lipgloss.Color("214"))),
		fail:   render(r.NewStyle().Foreground(lipgloss.Color("196"))),
	}
}

func (p palette) severity(s model.Severity) func(string) string {
	switch s {
	case model.SeverityFail:
		return p.fail
	case model.SeverityWarn:
		return p.warn
	default:
		return p.pass
	}
}

// RenderText writes the human report: a banner, one block per section in run order,
// run notes, the counts line and the verdict sentence.
func RenderText(w io.Writer, rep model.Report, opts TextOptions) error {
	p := newPalette(w, opts.Color)
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}
	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	var b strings.Builder
	b.WriteString("\n" + p.bold(strings.Repeat("=", ruleWidth)) + "\n")
	b.WriteString(p.bold("  "+title) + "\n")
	b.WriteString(p.dim("  Project root: "+sanitize.Line(rep.Root)) + "\n")
	b.WriteString(p.bold(strings.Repeat("=", ruleWidth)) + "\n")

	current := ""
	for i, f := range rep.Findings {
		if i == 0 || f.Section != current {
			current = f.Section
			b.WriteString("\n" + p.header(sectionHeader(current)) + "\n")
		}
		writeFinding(&b, p, f, width)
	}

	for _, note := range rep.Notes {
		b.WriteString("\n" + p.dim("  ["+sanitize.Line(note)+"]") + "\n")
	}

	v := verdict.New(rep.Counts, rep.Strict)
	b.WriteString("\n" + p.bold(strings.Repeat("-", ruleWidth)) + "\n")
	b.WriteString(p.bold("  Results:  ") +
		p.pass(fmt.Sprintf("%d PASS", rep.Counts.Pass)) + "  " +
		p.warn(fmt.Sprintf("%d WARN", rep.Counts.Warn)) + "  " +
		p.fail(fmt.Sprintf("%d FAIL", rep.Counts.Fail)) + "\n")
	b.WriteString(p.bold(strings.Repeat("-", ruleWidth)) + "\n\n")
	b.WriteString(p.bold(p.severity(v.Outcome)("  "+verdictIcon(v)+"  "+v.Message())) + "\n\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Text renders the report without colour.
func Text(rep model.Report) string {
	var b strings.Builder
	_ = RenderText(&b, rep, TextOptions{})
	return b.String()
}

func sectionHeader(title string) string {
	pad := sectionWidth - len(title)
	if pad < 0 {
		pad = 0
	}
	return "-- " + title + " " + strings.Repeat("-", pad)
}

func writeFinding(b *strings.Builder, p palette, f model.Finding, width int) {
	label := p.severity(f.Severity)(f.Severity.String())
	check := sanitize.Line(redact.Text(f.Check))
	if f.Heuristic && f.Severity != model.SeverityPass {
		check += p.dim(" (heuristic)")
	}
	b.WriteString("  " + label + "  " + check + "\n")

	// Redact before FormatHits truncates, or a cut-off secret slips under the patterns.
	hits := make([]model.Hit, len(f.Hits))
	for i, h := range f.Hits {
		h.Text = redact.Text(h.Text)
		hits[i] = h
	}
	for _, line := range scan.FormatHits(hits, f.MaxHits) {
		b.WriteString(detailIndent + p.dim(sanitize.Line(redact.Text(line))) + "\n")
	}
	if detail := strings.TrimSpace(f.Detail); detail != "" {
		wrapped := wordwrap.String(sanitize.Block(redact.Text(detail)), width-len(detailIndent))
		for _, line := range strings.Split(wrapped, "\n") {
			b.WriteString(detailIndent + p.dim(strings.TrimRight(line, " ")) + "\n")
		}
	}
}

func verdictIcon(v verdict.Verdict) string {
	switch v.Outcome {
	case model.SeverityFail:
		if v.EscalatedByStrict() {
			return "!"
		}
		return "X"
	case model.SeverityWarn:
		return "!"
	default:
		return "OK"
	}
}
