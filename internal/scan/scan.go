// Package scan runs line-oriented pattern searches over snapshot files.
package scan

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"predeploy/internal/model"
	"predeploy/internal/snapshot"
	"predeploy/internal/suppress"
)

// DefaultExcludeSegments are path segments whose files never produce hits.
// Test fixtures intentionally contain unsafe-looking code.
var DefaultExcludeSegments = []string{"tests", "__tests__"}

// Query describes one search. A line is reported when it matches Match and every
// Require pattern, and matches none of the Safe patterns. Normalize, when set,
// rewrites the line before any pattern is applied; the reported text is always the
// original trimmed line.
type Query struct {
	Match        *regexp.Regexp
	Require      []*regexp.Regexp
	Safe         []*regexp.Regexp
	Normalize    func(string) string
	SkipComments bool
}

type Options struct {
	ExcludeSegments []string
	Suppressions    *suppress.Index
	Logger          *zap.SugaredLogger
}

// Scanner is safe for concurrent use. Scanners derived with ForRule share the
// annotation cache of their parent.
type Scanner struct {
	snap    *snapshot.Snapshot
	exclude map[string]struct{}
	index   *suppress.Index
	logger  *zap.SugaredLogger
	rule    string
	inline  *sync.Map
}

func New(snap *snapshot.Snapshot, opts Options) *Scanner {
	segments := opts.ExcludeSegments
	if len(segments) == 0 {
		segments = DefaultExcludeSegments
	}
	exclude := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			exclude[seg] = struct{}{}
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scanner{
		snap:    snap,
		exclude: exclude,
		index:   opts.Suppressions,
		logger:  logger,
		inline:  &sync.Map{},
	}
}

// ForRule returns a scanner that honours suppressions addressed to ruleID.
func (s *Scanner) ForRule(ruleID string) *Scanner {
	cp := *s
	cp.rule = strings.TrimSpace(ruleID)
	return &cp
}

func (s *Scanner) Snapshot() *snapshot.Snapshot { return s.snap }

// Excluded reports whether a relative path lies under an excluded segment.
func (s *Scanner) Excluded(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if _, ok := s.exclude[seg]; ok {
			return true
		}
	}
	return false
}

// Scan returns every reported line across files in file then line order.
func (s *Scanner) Scan(files []snapshot.File, q Query) []model.Hit {
	if q.Match == nil {
		return nil
	}
	var hits []model.Hit
	for _, f := range files {
		if s.Excluded(f.Rel) {
			continue
		}
		for i, line := range s.snap.Lines(f) {
			if !q.matches(line) {
				continue
			}
			hits = append(hits, model.Hit{File: f.Rel, Line: i + 1, Text: strings.TrimSpace(line)})
		}
	}
	return s.Filter(hits)
}

// MatchLine applies the query to a single line.
func (q Query) MatchLine(line string) bool {
	return q.Match != nil && q.matches(line)
}

func (q Query) matches(line string) bool {
	if q.SkipComments && IsCommentLine(line) {
		return false
	}
	candidate := line
	if q.Normalize != nil {
		candidate = q.Normalize(line)
	}
	if !q.Match.MatchString(candidate) {
		return false
	}
	for _, re := range q.Require {
		if !re.MatchString(candidate) {
			return false
		}
	}
	for _, re := range q.Safe {
		if re.MatchString(candidate) {
			return false
		}
	}
	return true
}

// Filter drops hits silenced by suppressions addressed to the scanner's rule.
// Hits without a line number are only subject to file-level suppressions.
func (s *Scanner) Filter(hits []model.Hit) []model.Hit {
	if s.rule == "" || len(hits) == 0 {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if r, ok := s.index.Match(s.rule, h.File); ok {
			s.logger.Debugw("hit suppressed", "rule", s.rule, "file", h.File, "line", h.Line, "suppression", r.ID)
			continue
		}
		if h.Line > 0 && suppress.Silences(s.annotations(h.File), s.rule, h.Line) {
			s.logger.Debugw("hit suppressed inline", "rule", s.rule, "file", h.File, "line", h.Line)
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *Scanner) annotations(rel string) []suppress.Inline {
	if cached, ok := s.inline.Load(rel); ok {
		return cached.([]suppress.Inline)
	}
	found := suppress.ScanLines(rel, s.snap.Lines(snapshot.File{Rel: rel}), func(line int) {
		s.logger.Warnw("ignoring wildcard predeploy:ignore annotation; name a rule id", "file", rel, "line", line)
	})
	actual, _ := s.inline.LoadOrStore(rel, found)
	return actual.([]suppress.Inline)
}

// IsCommentLine reports whether a line is a // line comment or part of a block comment.
func IsCommentLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "//") || strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*")
}

var stringLiteral = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`(?:[^`\\\\]|\\\\.)*`")

// StripStrings blanks single-line string literals so patterns only see code.
func StripStrings(line string) string {
	return stringLiteral.ReplaceAllString(line, `""`)
}
