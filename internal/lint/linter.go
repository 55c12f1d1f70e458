package lint

import (
	"os"
	"path/filepath"
	"sort"
)

// Config contains configuration for the linter.
type Config struct {
	// Quiet suppresses warnings, only showing errors.
	Quiet bool
}

// Linter applies a rule set to files below a root directory.
type Linter struct {
	cfg   Config
	rules []Rule
}

// NewLinter creates a linter with the given rules.
func NewLinter(cfg Config, rules ...Rule) *Linter {
	return &Linter{cfg: cfg, rules: rules}
}

// Rules returns the configured rules.
func (l *Linter) Rules() []Rule { return l.rules }

// LintFile applies every applicable rule to one file. rel is used as the
// reported path.
func (l *Linter) LintFile(root, rel string) (*Result, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	result := &Result{FilesTotal: 1}
	for _, rule := range l.rules {
		if !rule.AppliesTo(rel) {
			continue
		}
		issues, err := rule.Check(rel, src)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if l.cfg.Quiet && issue.Severity != SeverityError {
				continue
			}
			result.Issues = append(result.Issues, issue)
		}
	}
	sort.SliceStable(result.Issues, func(i, j int) bool {
		return result.Issues[i].Line < result.Issues[j].Line
	})
	return result, nil
}

// LintFiles lints a list of files relative to root. Files that vanished in the
// meantime are skipped.
func (l *Linter) LintFiles(root string, files []string) (*Result, error) {
	result := &Result{Issues: []Issue{}}
	for _, rel := range files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); os.IsNotExist(err) {
			continue
		}
		r, err := l.LintFile(root, rel)
		if err != nil {
			return result, err
		}
		result.Merge(r)
	}
	return result, nil
}
