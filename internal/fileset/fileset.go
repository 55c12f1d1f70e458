// Package fileset selects source files by glob the way the stages declare them.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled glob. A "**/" segment, leading or inner, also
// matches zero directories.
type Pattern struct {
	source string
	globs  []glob.Glob
}

// Compile compiles a slash-separated glob supporting *, **, ? and {a,b}.
func Compile(pattern string) (*Pattern, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	var sources []string
	for _, v := range globstarVariants(pattern) {
		sources = append(sources, v)
		if rest, ok := strings.CutPrefix(v, "**/"); ok {
			sources = append(sources, rest)
		}
	}
	p := &Pattern{source: pattern}
	for _, s := range sources {
		g, err := glob.Compile(s, '/')
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
		}
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// globstarVariants returns pattern with every combination of its inner "/**/"
// segments kept or collapsed to "/".
func globstarVariants(pattern string) []string {
	i := strings.Index(pattern, "/**/")
	if i < 0 {
		return []string{pattern}
	}
	head := pattern[:i]
	var out []string
	for _, tail := range globstarVariants(pattern[i+len("/**/"):]) {
		out = append(out, head+"/**/"+tail, head+"/"+tail)
	}
	return out
}

// MustCompile is Compile for patterns known at compile time.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the slash-separated relative path matches.
func (p *Pattern) Match(rel string) bool {
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (p *Pattern) String() string { return p.source }

// Matcher combines include and exclude patterns. Include entries prefixed with
// "!" are treated as excludes.
type Matcher struct {
	include []*Pattern
	exclude []*Pattern
}

// NewMatcher compiles include and exclude patterns.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range include {
		neg, isNeg := strings.CutPrefix(raw, "!")
		p, err := Compile(neg)
		if err != nil {
			return nil, err
		}
		if isNeg {
			m.exclude = append(m.exclude, p)
		} else {
			m.include = append(m.include, p)
		}
	}
	for _, raw := range exclude {
		p, err := Compile(strings.TrimPrefix(raw, "!"))
		if err != nil {
			return nil, err
		}
		m.exclude = append(m.exclude, p)
	}
	return m, nil
}

// Match reports whether rel matches an include and no exclude.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range m.exclude {
		if p.Match(rel) {
			return false
		}
	}
	for _, p := range m.include {
		if p.Match(rel) {
			return true
		}
	}
	return false
}

// Options tunes Select.
type Options struct {
	// Dot includes files and directories whose name starts with a dot.
	Dot bool
}

// Select walks root and returns the sorted slash-separated relative paths of
// regular files accepted by m. A missing root yields no files.
func Select(root string, m *Matcher, opts Options) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !opts.Dot && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if m.Match(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Glob is a convenience wrapper around NewMatcher and Select.
func Glob(root string, include, exclude []string, opts Options) ([]string, error) {
	m, err := NewMatcher(include, exclude)
	if err != nil {
		return nil, err
	}
	return Select(root, m, opts)
}

// IsPartial reports whether a style file is a partial (leading underscore).
func IsPartial(rel string) bool {
	return strings.HasPrefix(filepath.Base(rel), "_")
}
