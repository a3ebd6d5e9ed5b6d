package scan

import (
	"fmt"

	"predeploy/internal/model"
)

const (
	DefaultMaxHits = 8
	maxHitText     = 120
)

// FormatHits renders at most n hits followed by a remainder line.
// n <= 0 selects DefaultMaxHits.
func FormatHits(hits []model.Hit, n int) []string {
	if n <= 0 {
		n = DefaultMaxHits
	}
	shown := hits
	if len(shown) > n {
		shown = shown[:n]
	}
	out := make([]string, 0, len(shown)+1)
	for _, h := range shown {
		if h.Text == "" {
			out = append(out, h.Location())
			continue
		}
		out = append(out, fmt.Sprintf("%s  %s", h.Location(), truncate(h.Text, maxHitText)))
	}
	if rest := len(hits) - len(shown); rest > 0 {
		out = append(out, fmt.Sprintf("... and %d more", rest))
	}
	return out
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
