package suppress

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuppressions(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "suppressions.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	rules, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestLoad_ValidatesEntries(t *testing.T) {
	cases := map[string]string{
		"missing rule":   "suppressions:\n  - reason: x\n",
		"wildcard":       "suppressions:\n  - rule: '*'\n    reason: x\n",
		"missing reason": "suppressions:\n  - rule: optional-chaining\n",
		"bad expiry":     "suppressions:\n  - rule: optional-chaining\n    reason: x\n    expires: soon\n",
		"bad glob":       "suppressions:\n  - rule: optional-chaining\n    reason: x\n    files: 'src/[a'\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeSuppressions(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoad_AssignsUniqueIDs(t *testing.T) {
	p := writeSuppressions(t, `suppressions:
  - id: Legacy Console
    rule: console-sensitive
    reason: audited
  - id: legacy-console
    rule: console-sensitive
    files: src/legacy/**
    reason: audited
  - rule: optional-chaining
    reason: generated client
`)
	rules, err := Load(p)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "legacy-console", rules[0].ID)
	assert.Equal(t, "legacy-console-2", rules[1].ID)
	assert.Contains(t, rules[2].ID, "sup-")
}

func TestIndex_Match(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ix := NewIndex([]Rule{
		{Rule: "optional-chaining", Files: "src/generated/**", Reason: "codegen"},
		{Rule: "console-*", Reason: "legacy", Expires: "2026-01-01"},
	}, now)

	assert.Equal(t, 1, ix.Len())
	r, ok := ix.Match("optional-chaining", "src/generated/api/client.ts")
	require.True(t, ok)
	assert.Equal(t, "codegen", r.Reason)

	_, ok = ix.Match("optional-chaining", "src/lib/client.ts")
	assert.False(t, ok)
	_, ok = ix.Match("console-sensitive", "src/lib/log.ts")
	assert.False(t, ok, "expired rules are ignored")

	var nilIndex *Index
	_, ok = nilIndex.Match("x", "y")
	assert.False(t, ok)
}
