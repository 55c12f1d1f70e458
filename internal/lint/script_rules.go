package lint

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// DefaultMaxLen is the line length limit of the script rules.
const DefaultMaxLen = 80

// ScriptRules builds the script rule set: a Google-style base with strict
// equality downgraded to a warning.
func ScriptRules(maxLen int) []Rule {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return []Rule{
		&SyntaxRule{},
		&EqEqEqRule{},
		&NoVarRule{},
		&NoTrailingSpacesRule{},
		&MaxLenRule{Max: maxLen},
	}
}

// SyntaxRule reports parse errors.
type SyntaxRule struct{}

func (r *SyntaxRule) Name() string                   { return "syntax" }
func (r *SyntaxRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r *SyntaxRule) Check(filePath string, src []byte) ([]Issue, error) {
	res := api.Transform(string(src), api.TransformOptions{
		Loader:     api.LoaderJS,
		Sourcefile: filePath,
		LogLevel:   api.LogLevelSilent,
	})
	issues := make([]Issue, 0, len(res.Errors))
	for _, msg := range res.Errors {
		issue := Issue{FilePath: filePath, Severity: SeverityError, Rule: r.Name(), Message: msg.Text}
		if msg.Location != nil {
			issue.Line = msg.Location.Line
			issue.Column = msg.Location.Column + 1
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// scanTokens feeds every token of src with its 1-based line to fn. Slashes are
// re-read as regular expressions where an expression may start. Scanning stops
// at the first lexer error; SyntaxRule reports those.
func scanTokens(src []byte, fn func(tt js.TokenType, text []byte, line int)) {
	l := js.NewLexer(parse.NewInputBytes(src))
	line := 1
	prev := js.ErrorToken
	for {
		tt, text := l.Next()
		if tt == js.ErrorToken {
			return
		}
		if (tt == js.DivToken || tt == js.DivEqToken) && regexpAllowedAfter(prev) {
			tt, text = l.RegExp()
			if tt == js.ErrorToken {
				return
			}
		}
		fn(tt, text, line)
		line += bytes.Count(text, []byte{'\n'})
		switch tt {
		case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
		default:
			prev = tt
		}
	}
}

func regexpAllowedAfter(tt js.TokenType) bool {
	switch tt {
	case js.CloseParenToken, js.CloseBracketToken, js.CloseBraceToken,
		js.StringToken, js.TemplateToken, js.TemplateEndToken, js.RegExpToken,
		js.ThisToken, js.TrueToken, js.FalseToken, js.NullToken, js.SuperToken,
		js.IncrToken, js.DecrToken, js.PrivateIdentifierToken:
		return false
	}
	if js.IsNumeric(tt) {
		return false
	}
	// Identifiers end an expression, keywords such as return or typeof do not.
	return !js.IsIdentifier(tt)
}

// EqEqEqRule reports loose equality operators.
type EqEqEqRule struct{}

func (r *EqEqEqRule) Name() string                   { return "eqeqeq" }
func (r *EqEqEqRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r *EqEqEqRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	scanTokens(src, func(tt js.TokenType, text []byte, line int) {
		if tt != js.EqEqToken && tt != js.NotEqToken {
			return
		}
		want := "==="
		if tt == js.NotEqToken {
			want = "!=="
		}
		issues = append(issues, Issue{
			FilePath: filePath, Severity: SeverityWarning, Rule: r.Name(), Line: line,
			Message: fmt.Sprintf("Expected '%s' and instead saw '%s'", want, text),
		})
	})
	return issues, nil
}

// NoVarRule reports var declarations.
type NoVarRule struct{}

func (r *NoVarRule) Name() string                   { return "no-var" }
func (r *NoVarRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r *NoVarRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	scanTokens(src, func(tt js.TokenType, _ []byte, line int) {
		if tt == js.VarToken {
			issues = append(issues, Issue{
				FilePath: filePath, Severity: SeverityError, Rule: r.Name(), Line: line,
				Message: "Unexpected var, use let or const instead",
			})
		}
	})
	return issues, nil
}

// NoTrailingSpacesRule reports lines ending in whitespace.
type NoTrailingSpacesRule struct{}

func (r *NoTrailingSpacesRule) Name() string                   { return "no-trailing-spaces" }
func (r *NoTrailingSpacesRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r *NoTrailingSpacesRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	for i, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, Issue{
				FilePath: filePath, Severity: SeverityError, Rule: r.Name(), Line: i + 1,
				Message: "Trailing spaces not allowed",
			})
		}
	}
	return issues, nil
}

// MaxLenRule reports lines longer than Max characters. Lines containing a URL
// are exempt.
type MaxLenRule struct{ Max int }

func (r *MaxLenRule) Name() string                   { return "max-len" }
func (r *MaxLenRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r *MaxLenRule) Check(filePath string, src []byte) ([]Issue, error) {
	var issues []Issue
	for i, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSuffix(line, "\r")
		n := utf8.RuneCountInString(line)
		if n <= r.Max || strings.Contains(line, "://") {
			continue
		}
		issues = append(issues, Issue{
			FilePath: filePath, Severity: SeverityWarning, Rule: r.Name(), Line: i + 1,
			Message: fmt.Sprintf("Line %d exceeds the maximum line length of %d", i+1, r.Max),
		})
	}
	return issues, nil
}
