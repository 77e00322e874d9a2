// Package ignore decides which working-tree files stay out of a persisted
// project, using gitignore-style patterns.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the ignore file looked up in the working root.
const FileName = ".genforgeignore"

// DefaultPatterns drop interpreter and test-runner caches left behind by the
// sandbox.
var DefaultPatterns = []string{"__pycache__/", ".pytest_cache/", "*.pyc", "*.pyo"}

type rule struct {
	pattern  string
	dirOnly  bool
	anchored bool
}

// Matcher reports whether a relative path is ignored. A nil Matcher ignores
// nothing.
type Matcher struct {
	rules []rule
}

// New builds a Matcher from gitignore-style lines. Comments, blank lines and
// negations are skipped.
func New(patterns []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool)
	for _, line := range patterns {
		r, ok := parseLine(line)
		if !ok {
			continue
		}
		key := r.pattern
		if r.dirOnly {
			key += "/"
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		m.rules = append(m.rules, r)
	}
	return m
}

// Load reads FileName from root. When the file does not exist the fallback
// patterns are used instead.
func Load(root string, fallback []string) (*Matcher, error) {
	f, err := os.Open(filepath.Join(root, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return New(fallback), nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(lines), nil
}

// Len returns the number of active patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match reports whether the file at rel, relative to the working root, is
// ignored either by name or through one of its parent directories.
func (m *Matcher) Match(rel string) bool {
	if m == nil || rel == "" {
		return false
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	for _, r := range m.rules {
		if r.match(parts) {
			return true
		}
	}
	return false
}

func (r rule) match(parts []string) bool {
	last := len(parts) - 1
	for i := range parts {
		if r.dirOnly && i == last {
			break
		}
		subject := parts[i]
		if r.anchored {
			subject = strings.Join(parts[:i+1], "/")
		}
		if ok, _ := path.Match(r.pattern, subject); ok {
			return true
		}
	}
	return false
}

// parseLine converts one gitignore line into a rule.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return rule{}, false
	}

	var r rule
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	line = strings.TrimPrefix(line, "**/")
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return rule{}, false
	}
	r.pattern = line
	return r, true
}
