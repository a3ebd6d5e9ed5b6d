package suppress

import (
	"errors"
	"strings"
)

const marker = "predeploy:ignore"

// ErrWildcard is returned for a "predeploy:ignore *" annotation, which is never honoured.
var ErrWildcard = errors.New("wildcard ignore annotations are not honoured; name a rule id")

// commentOpeners are the comment markers that may precede an annotation on the same line.
var commentOpeners = []string{"//", "#", "/*", "<!--", "--", "*"}

// ParseInline extracts the rule id and optional reason from a line carrying
// "predeploy:ignore <rule-id>" or "predeploy:ignore <rule-id> -- reason" inside a comment.
// The comment may trail code on the same line.
func ParseInline(line string) (ruleID, reason string, ok bool, err error) {
	idx := strings.Index(strings.ToLower(line), marker)
	if idx < 0 {
		return "", "", false, nil
	}
	if !hasCommentOpener(line[:idx]) {
		return "", "", false, nil
	}

	rest := strings.TrimSpace(line[idx+len(marker):])
	rest = strings.TrimSuffix(rest, "}")
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "*/")
	rest = strings.TrimSuffix(rest, "-->")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", false, nil
	}

	if dashIdx := strings.Index(rest, " -- "); dashIdx >= 0 {
		ruleID = strings.TrimSpace(rest[:dashIdx])
		reason = strings.TrimSpace(rest[dashIdx+4:])
	} else {
		ruleID = rest
	}
	if fields := strings.Fields(ruleID); len(fields) > 0 {
		ruleID = fields[0]
	}
	if ruleID == "" {
		return "", "", false, nil
	}
	if ruleID == "*" {
		return "", "", false, ErrWildcard
	}
	return ruleID, reason, true, nil
}

func hasCommentOpener(prefix string) bool {
	trimmed := strings.TrimSpace(prefix)
	for _, opener := range commentOpeners {
		if opener == "*" {
			// A bare asterisk only counts as the continuation of a block comment.
			if strings.HasPrefix(trimmed, "*") {
				return true
			}
			continue
		}
		if strings.Contains(prefix, opener) {
			return true
		}
	}
	return false
}

// ScanLines collects the annotations of one file. Wildcard annotations are
// reported through onWildcard and otherwise ignored.
func ScanLines(file string, lines []string, onWildcard func(line int)) []Inline {
	var out []Inline
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), marker) {
			continue
		}
		ruleID, reason, ok, err := ParseInline(line)
		if err != nil {
			if onWildcard != nil {
				onWildcard(i + 1)
			}
			continue
		}
		if !ok {
			continue
		}
		out = append(out, Inline{RuleID: ruleID, Reason: reason, File: file, Line: i + 1})
	}
	return out
}

// Silences reports whether an annotation for ruleID sits on line or on the line directly above it.
func Silences(annotations []Inline, ruleID string, line int) bool {
	for _, a := range annotations {
		if !strings.EqualFold(a.RuleID, ruleID) {
			continue
		}
		if a.Line == line || a.Line == line-1 {
			return true
		}
	}
	return false
}
