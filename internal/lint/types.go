package lint

import (
	"path/filepath"
	"strings"
)

// Severity indicates the importance level of a linting issue.
type Severity int

const (
	// SeverityInfo indicates informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning indicates issues that should be fixed but never fail a stage.
	SeverityWarning
	// SeverityError indicates issues that can fail a non-interactive build.
	SeverityError
)

// String returns the human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a configured severity name. Unknown names fall back to def.
func ParseSeverity(s string, def Severity) Severity {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	default:
		return def
	}
}

// Issue represents a single linting problem found in a file.
type Issue struct {
	FilePath string   // Path relative to the linted root
	Severity Severity // Issue severity level
	Rule     string   // Rule identifier (e.g., "no-var")
	Message  string   // Brief description of the issue
	Fix      string   // Suggested fix
	Line     int      // Line number (0 if file-level issue)
	Column   int
}

// Result contains all issues found during linting.
type Result struct {
	Issues     []Issue
	FilesTotal int // Total files scanned
}

// HasErrors returns true if any error-level issues exist.
func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

// HasWarnings returns true if any warning-level issues exist.
func (r *Result) HasWarnings() bool {
	return r.WarningCount() > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	return r.count(SeverityError)
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return r.count(SeverityWarning)
}

func (r *Result) count(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// ByFile groups issues per file, preserving their order.
func (r *Result) ByFile() map[string][]Issue {
	out := make(map[string][]Issue)
	for _, issue := range r.Issues {
		out[issue.FilePath] = append(out[issue.FilePath], issue)
	}
	return out
}

// Merge appends the issues and file count of other.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
	r.FilesTotal += other.FilesTotal
}

// Rule defines a linting rule that can be applied to files.
type Rule interface {
	// Name returns the unique identifier for this rule.
	Name() string

	// Check validates the content of a file and returns any issues found.
	Check(filePath string, src []byte) ([]Issue, error)

	// AppliesTo returns true if this rule should be checked for the given file.
	AppliesTo(filePath string) bool
}

// IsStyleFile returns true for Sass and SCSS sources.
func IsStyleFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".scss" || ext == ".sass"
}

// IsScriptFile returns true for JavaScript sources that are not minified output.
func IsScriptFile(path string) bool {
	return filepath.Ext(path) == ".js" && !strings.HasSuffix(path, ".min.js")
}
