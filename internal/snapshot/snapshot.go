// Package snapshot provides a lazily loaded, read-only view of the audited repository.
package snapshot

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Role selects a family of files from the snapshot.
type Role string

const (
	RoleSource   Role = "source"
	RoleAPIRoute Role = "api-route"
	RolePage     Role = "page"
)

// clientScanLines bounds how far into a file the client directive is looked for.
// It leaves room for long licence headers above the directive.
const clientScanLines = 200

// Layout describes where the audited application keeps its code.
type Layout struct {
	SourceRoot    string   `yaml:"source_root" json:"source_root"`
	SourceExts    []string `yaml:"source_exts" json:"source_exts"`
	DependencyDir string   `yaml:"dependency_dir" json:"dependency_dir"`
	APIRoutes     string   `yaml:"api_routes" json:"api_routes"`
	Pages         string   `yaml:"pages" json:"pages"`
}

func DefaultLayout() Layout {
	return Layout{
		SourceRoot:    "src",
		SourceExts:    []string{".ts", ".tsx"},
		DependencyDir: "node_modules",
		APIRoutes:     "src/app/api/**/route.ts",
		Pages:         "src/app/**/page.tsx",
	}
}

// File is a reference to one file in the snapshot, addressed by slash-separated relative path.
type File struct {
	Rel string
}

func (f File) String() string { return f.Rel }

type entry struct {
	once    sync.Once
	content string
	lines   []string
	client  bool
	exists  bool
}

type Option func(*Snapshot)

// WithReadFile replaces the function used to load file bytes.
func WithReadFile(fn func(name string) ([]byte, error)) Option {
	return func(s *Snapshot) {
		if fn != nil {
			s.readFile = fn
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Snapshot) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Snapshot caches file contents for one run. Every file is read at most once,
// and all methods are safe for concurrent use.
type Snapshot struct {
	root     string
	layout   Layout
	fsys     fs.FS
	readFile func(name string) ([]byte, error)
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry

	listOnce sync.Once
	lists    map[Role][]File
}

func New(root string, layout Layout, opts ...Option) (*Snapshot, error) {
	abs, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	if len(layout.SourceExts) == 0 {
		layout.SourceExts = DefaultLayout().SourceExts
	}
	s := &Snapshot{
		root:     abs,
		layout:   layout,
		fsys:     os.DirFS(abs),
		readFile: os.ReadFile,
		logger:   zap.NewNop().Sugar(),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Snapshot) Root() string { return s.root }

func (s *Snapshot) Layout() Layout { return s.layout }

// List returns the files of a role in lexical order.
func (s *Snapshot) List(role Role) []File {
	s.listOnce.Do(s.buildLists)
	out := make([]File, len(s.lists[role]))
	copy(out, s.lists[role])
	return out
}

func (s *Snapshot) buildLists() {
	s.lists = map[Role][]File{
		RoleSource:   s.sourceFiles(),
		RoleAPIRoute: s.Glob(s.layout.APIRoutes),
		RolePage:     s.Glob(s.layout.Pages),
	}
}

func (s *Snapshot) sourceFiles() []File {
	rootDir := cleanRel(s.layout.SourceRoot)
	if rootDir == "" {
		rootDir = "."
	}
	var out []File
	_ = fs.WalkDir(s.fsys, rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debugw("skip unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() && p != rootDir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != rootDir && s.isDependencyDir(p) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.hasSourceExt(p) {
			out = append(out, File{Rel: p})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out
}

// Glob lists regular files matching a doublestar pattern relative to the root,
// excluding anything inside the dependency directory.
func (s *Snapshot) Glob(pattern string) []File {
	pattern = cleanRel(pattern)
	if pattern == "" {
		return nil
	}
	matches, err := doublestar.Glob(s.fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		s.logger.Debugw("glob failed", "pattern", pattern, "error", err)
		return nil
	}
	out := make([]File, 0, len(matches))
	for _, m := range matches {
		if s.inDependencyDir(m) {
			continue
		}
		out = append(out, File{Rel: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out
}

func (s *Snapshot) hasSourceExt(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, allowed := range s.layout.SourceExts {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (s *Snapshot) isDependencyDir(p string) bool {
	dep := strings.TrimSpace(s.layout.DependencyDir)
	return dep != "" && path.Base(p) == dep
}

func (s *Snapshot) inDependencyDir(p string) bool {
	dep := strings.TrimSpace(s.layout.DependencyDir)
	if dep == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == dep {
			return true
		}
	}
	return false
}

func (s *Snapshot) entry(rel string) *entry {
	rel = cleanRel(rel)
	s.mu.Lock()
	e, ok := s.entries[rel]
	if !ok {
		e = &entry{}
		s.entries[rel] = e
	}
	s.mu.Unlock()

	e.once.Do(func() { s.load(rel, e) })
	return e
}

func (s *Snapshot) load(rel string, e *entry) {
	if rel == "" {
		return
	}
	raw, err := s.readFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debugw("skip unreadable file", "file", rel, "error", err)
		}
		return
	}
	e.exists = true
	e.content = decode(raw)
	e.lines = splitLines(e.content)
	e.client = hasClientDirective(e.lines)
}

// Content returns the decoded text of a file, or "" when it is absent or unreadable.
func (s *Snapshot) Content(f File) string { return s.entry(f.Rel).content }

// Read is Content for a singleton path such as a manifest or workflow.
func (s *Snapshot) Read(rel string) string { return s.entry(rel).content }

// Lines returns the file split on newlines with trailing carriage returns removed.
// Callers must not modify the returned slice.
func (s *Snapshot) Lines(f File) []string { return s.entry(f.Rel).lines }

func (s *Snapshot) Exists(rel string) bool { return s.entry(rel).exists }

// DirExists reports whether rel names a directory under the root.
func (s *Snapshot) DirExists(rel string) bool {
	rel = cleanRel(rel)
	if rel == "" {
		return true
	}
	info, err := fs.Stat(s.fsys, rel)
	return err == nil && info.IsDir()
}

// IsClientExecuted reports whether the file declares itself browser-executed
// with a 'use client' directive in its opening lines.
func (s *Snapshot) IsClientExecuted(f File) bool { return s.entry(f.Rel).client }

// ClientFiles returns the client-executed subset of the source role.
func (s *Snapshot) ClientFiles() []File {
	var out []File
	for _, f := range s.List(RoleSource) {
		if s.IsClientExecuted(f) {
			out = append(out, f)
		}
	}
	return out
}

func hasClientDirective(lines []string) bool {
	n := len(lines)
	if n > clientScanLines {
		n = clientScanLines
	}
	for _, line := range lines[:n] {
		if strings.Contains(line, `'use client'`) || strings.Contains(line, `"use client"`) {
			return true
		}
	}
	return false
}

// decode honours a UTF-8 or UTF-16 byte-order mark and replaces invalid sequences with U+FFFD.
func decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	text := string(raw)
	if hasBOM(raw) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err == nil {
			text = string(out)
		}
	}
	return strings.ToValidUTF8(text, "\uFFFD")
}

func hasBOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(raw, []byte{0xFF, 0xFE})
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func cleanRel(rel string) string {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	if rel == "" {
		return ""
	}
	rel = path.Clean(strings.TrimPrefix(rel, "/"))
	if rel == "." {
		return ""
	}
	return rel
}
