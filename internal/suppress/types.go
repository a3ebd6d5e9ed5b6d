package suppress

import "time"

// Rule is a centralized suppression from .predeploy/suppressions.yaml.
// It silences hits of matching rules in matching files.
type Rule struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Rule  string `yaml:"rule"`
	Files string `yaml:"files,omitempty"`

	Reason  string `yaml:"reason"`
	Author  string `yaml:"author,omitempty"`
	Expires string `yaml:"expires,omitempty"`
}

// IsExpired returns true if the rule has an expiration date that has passed.
func (r Rule) IsExpired(now time.Time) bool {
	if r.Expires == "" {
		return false
	}
	t, err := time.Parse("2006-01-02", r.Expires)
	if err != nil {
		return false
	}
	return now.After(t)
}

// HasInvalidExpiry returns true when the expires field is set but not parseable.
func (r Rule) HasInvalidExpiry() bool {
	if r.Expires == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", r.Expires)
	return err != nil
}

// Inline is a predeploy:ignore annotation found in an audited file.
type Inline struct {
	RuleID string
	Reason string
	File   string
	Line   int
}

type suppressionsFile struct {
	Suppressions []Rule `yaml:"suppressions"`
}
