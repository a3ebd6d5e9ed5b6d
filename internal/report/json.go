package report

import (
	"encoding/json"
	"fmt"
	"io"

	"predeploy/internal/model"
	"predeploy/internal/redact"
	"predeploy/internal/safefile"
)

// WriteJSON encodes the report with every quoted source line masked.
func WriteJSON(w io.Writer, rep model.Report) error {
	b, err := json.MarshalIndent(redactReport(rep), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit report: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write audit json: %w", err)
	}
	return nil
}

func WriteJSONFile(path string, rep model.Report) error {
	if err := safefile.WriteWith(path, 0o644, func(w io.Writer) error { return WriteJSON(w, rep) }); err != nil {
		return fmt.Errorf("write audit json: %w", err)
	}
	return nil
}

func redactReport(in model.Report) model.Report {
	in.Notes = redact.Strings(in.Notes)
	if len(in.Findings) == 0 {
		return in
	}
	findings := make([]model.Finding, 0, len(in.Findings))
	for _, f := range in.Findings {
		f.Check = redact.Text(f.Check)
		f.Detail = redact.Text(f.Detail)
		if len(f.Hits) > 0 {
			hits := make([]model.Hit, len(f.Hits))
			for i, h := range f.Hits {
				h.Text = redact.Text(h.Text)
				hits[i] = h
			}
			f.Hits = hits
		}
		findings = append(findings, f)
	}
	in.Findings = findings
	return in
}
