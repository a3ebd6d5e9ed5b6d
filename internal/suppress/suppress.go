package suppress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns the conventional path for the suppressions file.
func DefaultPath(root string) string {
	return filepath.Join(root, ".predeploy", "suppressions.yaml")
}

// Load reads and parses suppression rules from a YAML file.
// Returns nil rules and nil error if the file does not exist.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, nil
	}
	var sf suppressionsFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, rule := range sf.Suppressions {
		if strings.TrimSpace(rule.Rule) == "" {
			return nil, fmt.Errorf("suppression %d: rule is required", i+1)
		}
		if strings.TrimSpace(rule.Rule) == "*" {
			return nil, fmt.Errorf("suppression %d: wildcard rule is not allowed", i+1)
		}
		if strings.TrimSpace(rule.Reason) == "" {
			return nil, fmt.Errorf("suppression %d: reason is required", i+1)
		}
		if rule.Files != "" && !doublestar.ValidatePattern(filepath.ToSlash(rule.Files)) {
			return nil, fmt.Errorf("suppression %d: invalid files pattern %q", i+1, rule.Files)
		}
		if rule.HasInvalidExpiry() {
			return nil, fmt.Errorf("suppression %d: expires must be YYYY-MM-DD, got %q", i+1, rule.Expires)
		}
	}
	return EnsureRuleIDs(sf.Suppressions), nil
}

// EnsureRuleIDs fills missing rule IDs and guarantees uniqueness.
func EnsureRuleIDs(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)

	used := make(map[string]struct{}, len(out))
	for i := range out {
		out[i].ID = normalizeRuleID(out[i].ID)
		if out[i].ID == "" {
			out[i].ID = generateRuleID(out[i])
		}
		base := out[i].ID
		for n := 2; ; n++ {
			if _, exists := used[out[i].ID]; !exists {
				used[out[i].ID] = struct{}{}
				break
			}
			out[i].ID = fmt.Sprintf("%s-%d", base, n)
		}
	}
	return out
}

// Index answers whether a rule's hit in a file is covered by a live suppression.
type Index struct {
	rules []Rule
}

// NewIndex keeps the rules that have not expired at now.
func NewIndex(rules []Rule, now time.Time) *Index {
	live := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsExpired(now) {
			continue
		}
		live = append(live, r)
	}
	return &Index{rules: live}
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.rules)
}

// Match returns the first live suppression covering ruleID in file.
func (ix *Index) Match(ruleID, file string) (Rule, bool) {
	if ix == nil {
		return Rule{}, false
	}
	for _, r := range ix.rules {
		if ruleMatches(r, ruleID, file) {
			return r, true
		}
	}
	return Rule{}, false
}

func ruleMatches(r Rule, ruleID, file string) bool {
	pattern := strings.ToLower(strings.TrimSpace(r.Rule))
	if pattern == "" || pattern == "*" {
		return false
	}
	if ok, _ := doublestar.Match(pattern, strings.ToLower(ruleID)); !ok {
		return false
	}
	files := strings.TrimSpace(filepath.ToSlash(r.Files))
	if files == "" {
		return true
	}
	ok, _ := doublestar.Match(files, filepath.ToSlash(file))
	return ok
}

func normalizeRuleID(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for _, ch := range raw {
		switch {
		case ch >= 'a' && ch <= 'z':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '-' || ch == '_':
			b.WriteRune(ch)
		case ch == ' ':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-_")
}

func generateRuleID(rule Rule) string {
	parts := []string{
		strings.TrimSpace(rule.Rule),
		strings.TrimSpace(rule.Files),
		strings.TrimSpace(rule.Reason),
		strings.TrimSpace(rule.Author),
		strings.TrimSpace(rule.Expires),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "sup-" + hex.EncodeToString(sum[:6])
}
