package scan

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predeploy/internal/model"
	"predeploy/internal/snapshot"
	"predeploy/internal/suppress"
)

func newScanner(t *testing.T, files map[string]string, opts Options) (*Scanner, *snapshot.Snapshot) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	snap, err := snapshot.New(root, snapshot.DefaultLayout())
	require.NoError(t, err)
	return New(snap, opts), snap
}

var (
	chainMatch = regexp.MustCompile(`\?\.\w+\.\w+`)
	chainSafe  = regexp.MustCompile(`\?\.headers\.get\(`)
)

func TestScan_SuppressionLaw(t *testing.T) {
	sc, snap := newScanner(t, map[string]string{
		"src/a.ts": "const h = req?.headers.get('x').value\nconst n = user?.profile.name\nconst ok = 1\n",
	}, Options{})

	hits := sc.Scan(snap.List(snapshot.RoleSource), Query{Match: chainMatch, Safe: []*regexp.Regexp{chainSafe}})
	require.Len(t, hits, 1)
	assert.Equal(t, model.Hit{File: "src/a.ts", Line: 2, Text: "const n = user?.profile.name"}, hits[0])

	q := Query{Match: chainMatch, Safe: []*regexp.Regexp{chainSafe}}
	assert.False(t, q.MatchLine("req?.headers.get('x').value"), "matches both patterns")
	assert.True(t, q.MatchLine("user?.profile.name"), "matches only the primary pattern")
	assert.False(t, q.MatchLine("req.headers?.get('x').value"), "primary pattern never matches")
}

func TestScan_ExcludesTestDirectories(t *testing.T) {
	sc, snap := newScanner(t, map[string]string{
		"src/tests/fixture.ts":        "user?.profile.name\n",
		"src/lib/__tests__/a.test.ts": "user?.profile.name\n",
		"src/lib/testsuite/helper.ts": "user?.profile.name\n",
		"src/lib/contests/page.ts":    "const x = 1\n",
	}, Options{})

	hits := sc.Scan(snap.List(snapshot.RoleSource), Query{Match: chainMatch})
	require.Len(t, hits, 1)
	assert.Equal(t, "src/lib/testsuite/helper.ts", hits[0].File)
}

func TestScan_RequireNormalizeAndComments(t *testing.T) {
	sc, snap := newScanner(t, map[string]string{
		"src/log.ts": `console.log("password reset sent")
console.error('failed', password)
// console.log(password)
console.info(user)
`,
	}, Options{})

	q := Query{
		Match:        regexp.MustCompile(`console\.(log|error|warn|info)\s*\(`),
		Require:      []*regexp.Regexp{regexp.MustCompile(`(?i)\bpassword\b`)},
		Normalize:    StripStrings,
		SkipComments: true,
	}
	hits := sc.Scan(snap.List(snapshot.RoleSource), q)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Line)
}

func TestScan_InlineAndFileSuppressions(t *testing.T) {
	idx := suppress.NewIndex([]suppress.Rule{{Rule: "optional-chaining", Files: "src/gen/**", Reason: "codegen"}}, time.Now())
	sc, snap := newScanner(t, map[string]string{
		"src/a.ts":       "// predeploy:ignore optional-chaining -- guarded\nuser?.profile.name\nuser?.profile.name\nx?.y.z // predeploy:ignore optional-chaining\n",
		"src/gen/api.ts": "user?.profile.name\n",
	}, Options{Suppressions: idx})

	files := snap.List(snapshot.RoleSource)
	q := Query{Match: chainMatch}

	all := sc.Scan(files, q)
	assert.Len(t, all, 4, "scanner without a rule applies no suppressions")

	hits := sc.ForRule("optional-chaining").Scan(files, q)
	require.Len(t, hits, 1)
	assert.Equal(t, model.Hit{File: "src/a.ts", Line: 3, Text: "user?.profile.name"}, hits[0])

	other := sc.ForRule("console-sensitive").Scan(files, q)
	assert.Len(t, other, 4)
}

func TestScan_Idempotent(t *testing.T) {
	sc, snap := newScanner(t, map[string]string{
		"src/b.ts": "a?.b.c\n",
		"src/a.ts": "a?.b.c\nd?.e.f\n",
	}, Options{})
	first := sc.Scan(snap.List(snapshot.RoleSource), Query{Match: chainMatch})
	second := sc.Scan(snap.List(snapshot.RoleSource), Query{Match: chainMatch})
	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, "src/a.ts", first[0].File)
	assert.Equal(t, "src/b.ts", first[2].File)
}

func TestStripStrings(t *testing.T) {
	assert.Equal(t, `console.log("", x)`, StripStrings(`console.log("the password is", x)`))
	assert.Equal(t, `f("", "")`, StripStrings(`f('it\'s', "a \"b\"")`))
	assert.Equal(t, "g(\"\")", StripStrings("g(`tpl ${password}`)"))
}
