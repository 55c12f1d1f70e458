package assets

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"git.home.luguber.info/inful/assetbuilder/internal/cache"
)

var (
	// A rule starts a line or follows the ";" of the previous statement.
	importStatement = regexp.MustCompile(`(?m)(?:^|;)\s*@(?:import|use|forward)\s*(?:\(\w+\)\s*)?(['"][^;\n]*)`)
	quotedPath      = regexp.MustCompile(`['"]([^'"]+)['"]`)
)

// ParseImports returns the quoted targets of @import, @use and @forward rules.
func ParseImports(src []byte) []string {
	var out []string
	for _, m := range importStatement.FindAllSubmatch(src, -1) {
		for _, q := range quotedPath.FindAllSubmatch(m[1], -1) {
			target := string(q[1])
			if isExternalImport(target) {
				continue
			}
			out = append(out, target)
		}
	}
	return out
}

func isExternalImport(target string) bool {
	return strings.HasPrefix(target, "http://") ||
		strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "//") ||
		strings.HasPrefix(target, "sass:") ||
		strings.HasSuffix(target, ".css")
}

// ImportGraph resolves Sass imports so that a change to a partial marks its
// importers stale.
type ImportGraph struct {
	includePaths []string

	mu    sync.Mutex
	memo  map[string][]string
	files map[string][]byte
}

// NewImportGraph resolves imports relative to the importing file first, then
// against includePaths.
func NewImportGraph(includePaths []string) *ImportGraph {
	return &ImportGraph{
		includePaths: includePaths,
		memo:         make(map[string][]string),
		files:        make(map[string][]byte),
	}
}

// Resolve returns the file an import target of from refers to, or "".
func (g *ImportGraph) Resolve(from, target string) string {
	dirs := append([]string{filepath.Dir(from)}, g.includePaths...)
	for _, dir := range dirs {
		base := filepath.Join(dir, filepath.FromSlash(target))
		for _, cand := range candidates(base) {
			if info, err := os.Stat(cand); err == nil && !info.IsDir() {
				return cand
			}
		}
	}
	return ""
}

func candidates(base string) []string {
	dir, name := filepath.Split(base)
	var out []string
	if ext := filepath.Ext(name); ext == ".scss" || ext == ".sass" {
		return []string{base, filepath.Join(dir, "_"+name)}
	}
	for _, ext := range []string{".scss", ".sass"} {
		out = append(out, filepath.Join(dir, "_"+name+ext), filepath.Join(dir, name+ext))
	}
	for _, ext := range []string{".scss", ".sass"} {
		out = append(out, filepath.Join(base, "_index"+ext), filepath.Join(base, "index"+ext))
	}
	return out
}

// Deps returns the transitive, de-duplicated dependencies of file in
// discovery order. Cycles are tolerated.
func (g *ImportGraph) Deps(file string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := map[string]bool{file: true}
	var out []string
	var walk func(string)
	walk = func(f string) {
		for _, dep := range g.direct(f) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	walk(file)
	return out
}

func (g *ImportGraph) direct(file string) []string {
	if deps, ok := g.memo[file]; ok {
		return deps
	}
	src, err := g.read(file)
	if err != nil {
		g.memo[file] = nil
		return nil
	}
	var deps []string
	for _, target := range ParseImports(src) {
		if resolved := g.Resolve(file, target); resolved != "" {
			deps = append(deps, resolved)
		}
	}
	g.memo[file] = deps
	return deps
}

func (g *ImportGraph) read(file string) ([]byte, error) {
	if b, ok := g.files[file]; ok {
		return b, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	g.files[file] = b
	return b, nil
}

// Fingerprint combines the content of file with the content of everything it
// imports.
func (g *ImportGraph) Fingerprint(file string, content []byte) string {
	deps := g.Deps(file)
	g.mu.Lock()
	fps := make([]string, 0, len(deps))
	for _, d := range deps {
		if b, err := g.read(d); err == nil {
			fps = append(fps, d+"="+cache.Fingerprint(b))
		}
	}
	g.mu.Unlock()
	return cache.Fingerprint(content, fps...)
}
