package lint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// StyleLinterConfig is one entry of the `linters:` map of a style lint file.
type StyleLinterConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Severity string `yaml:"severity"`
	MaxDepth int    `yaml:"max_depth"`
}

// StyleConfig is the style lint configuration file (scss-lint layout).
type StyleConfig struct {
	Linters map[string]StyleLinterConfig `yaml:"linters"`
}

// DefaultNestingDepth is the selector nesting depth allowed by default.
const DefaultNestingDepth = 3

// LoadStyleConfig reads a style lint file. A missing file enables every rule
// with its defaults.
func LoadStyleConfig(path string) (StyleConfig, error) {
	var cfg StyleConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read style lint config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse style lint config %s: %w", path, err)
	}
	return cfg, nil
}

func (c StyleConfig) linter(name string) (StyleLinterConfig, bool) {
	lc, ok := c.Linters[name]
	if !ok {
		return StyleLinterConfig{}, true
	}
	return lc, lc.Enabled == nil || *lc.Enabled
}

// StyleRules builds the enabled style rules.
func StyleRules(cfg StyleConfig) []Rule {
	var rules []Rule
	if lc, on := cfg.linter("TrailingWhitespace"); on {
		rules = append(rules, &TrailingWhitespaceRule{severity: ParseSeverity(lc.Severity, SeverityWarning)})
	}
	if lc, on := cfg.linter("ImportantRule"); on {
		rules = append(rules, &ImportantRule{severity: ParseSeverity(lc.Severity, SeverityWarning)})
	}
	if lc, on := cfg.linter("IdSelector"); on {
		rules = append(rules, &IDSelectorRule{severity: ParseSeverity(lc.Severity, SeverityWarning)})
	}
	if lc, on := cfg.linter("NestingDepth"); on {
		depth := lc.MaxDepth
		if depth <= 0 {
			depth = DefaultNestingDepth
		}
		rules = append(rules, &NestingDepthRule{MaxDepth: depth, severity: ParseSeverity(lc.Severity, SeverityWarning)})
	}
	return rules
}

// styleLines returns the source lines with comments blanked out so that rules
// never match inside them. Line numbering is preserved.
func styleLines(src []byte) []string {
	var out bytes.Buffer
	inBlock := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				inBlock = false
				out.WriteString("  ")
				i++
				continue
			}
			if c == '\n' {
				out.WriteByte('\n')
			} else {
				out.WriteByte(' ')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			inBlock = true
			out.WriteString("  ")
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/' && (i == 0 || src[i-1] != ':'):
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out.WriteByte('\n')
			}
		default:
			out.WriteByte(c)
		}
	}
	return strings.Split(out.String(), "\n")
}

// TrailingWhitespaceRule reports lines ending in spaces or tabs.
type TrailingWhitespaceRule struct{ severity Severity }

func (r *TrailingWhitespaceRule) Name() string                   { return "TrailingWhitespace" }
func (r *TrailingWhitespaceRule) AppliesTo(filePath string) bool { return IsStyleFile(filePath) }

func (r *TrailingWhitespaceRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	for i, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, Issue{
				FilePath: filePath, Severity: r.severity, Rule: r.Name(), Line: i + 1,
				Message: "Line contains trailing whitespace",
				Fix:     "Remove the whitespace at the end of the line",
			})
		}
	}
	return issues, nil
}

// ImportantRule reports uses of !important.
type ImportantRule struct{ severity Severity }

var importantPattern = regexp.MustCompile(`!\s*important`)

func (r *ImportantRule) Name() string                   { return "ImportantRule" }
func (r *ImportantRule) AppliesTo(filePath string) bool { return IsStyleFile(filePath) }

func (r *ImportantRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	for i, line := range styleLines(src) {
		if loc := importantPattern.FindStringIndex(line); loc != nil {
			issues = append(issues, Issue{
				FilePath: filePath, Severity: r.severity, Rule: r.Name(), Line: i + 1, Column: loc[0] + 1,
				Message: "!important should not be used",
			})
		}
	}
	return issues, nil
}

// IDSelectorRule reports selectors that target an id.
type IDSelectorRule struct{ severity Severity }

var (
	interpolationPattern = regexp.MustCompile(`#\{[^}]*\}`)
	idSelectorPattern    = regexp.MustCompile(`#[A-Za-z_-][\w-]*`)
)

func (r *IDSelectorRule) Name() string                   { return "IdSelector" }
func (r *IDSelectorRule) AppliesTo(filePath string) bool { return IsStyleFile(filePath) }

func (r *IDSelectorRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	for i, line := range styleLines(src) {
		selector, _, found := strings.Cut(interpolationPattern.ReplaceAllString(line, ""), "{")
		if !found || strings.HasPrefix(strings.TrimSpace(selector), "@") {
			continue
		}
		// Declarations sharing the line with an opening brace are not selectors.
		if idx := strings.LastIndexAny(selector, ";}"); idx >= 0 {
			selector = selector[idx+1:]
		}
		if m := idSelectorPattern.FindString(selector); m != "" {
			issues = append(issues, Issue{
				FilePath: filePath, Severity: r.severity, Rule: r.Name(), Line: i + 1,
				Message: fmt.Sprintf("Avoid using id selectors (%s)", m),
				Fix:     "Use a class selector instead",
			})
		}
	}
	return issues, nil
}

// NestingDepthRule reports rule sets nested deeper than MaxDepth.
type NestingDepthRule struct {
	MaxDepth int
	severity Severity
}

func (r *NestingDepthRule) Name() string                   { return "NestingDepth" }
func (r *NestingDepthRule) AppliesTo(filePath string) bool { return filepath.Ext(filePath) == ".scss" }

func (r *NestingDepthRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	// Each entry records whether the open block is a selector block.
	var stack []bool
	depth := 0
	for i, line := range styleLines(src) {
		header := ""
		for j := 0; j < len(line); j++ {
			switch line[j] {
			case '{':
				if j > 0 && line[j-1] == '#' {
					// Interpolation, find its end on the same line.
					if end := strings.IndexByte(line[j:], '}'); end >= 0 {
						header += line[j : j+end+1]
						j += end
						continue
					}
				}
				isRule := !strings.HasPrefix(strings.TrimSpace(header), "@")
				stack = append(stack, isRule)
				if isRule {
					depth++
					if depth > r.MaxDepth {
						issues = append(issues, Issue{
							FilePath: filePath, Severity: r.severity, Rule: r.Name(), Line: i + 1,
							Message: fmt.Sprintf("Nesting should be no greater than %d, but was %d", r.MaxDepth, depth),
						})
					}
				}
				header = ""
			case '}':
				if n := len(stack); n > 0 {
					if stack[n-1] {
						depth--
					}
					stack = stack[:n-1]
				}
				header = ""
			case ';':
				header = ""
			default:
				header += string(line[j])
			}
		}
		header += " "
	}
	return issues, nil
}
