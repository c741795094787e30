// Package interpolate converts IAM's "${...}" string templates into the
// expression IR, matching AWS's policy variable substitution rules: literal
// escapes for *, ? and $, qualified/nested attribute names, and ${name,
// 'default'} fallbacks that compile to an object.get(...) call.
package interpolate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mizzy/iamrego/internal/expr"
	"golang.org/x/text/unicode/norm"
)

// Error is one of the compile-time failures Substitute can return: an empty
// expression, interpolation nested inside interpolation, a qualified name
// with more than one '/', or characters outside the allowed variable syntax.
type Error struct {
	Kind string
	Expr string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Expr)
}

const (
	KindNestedInterpolation = "nested interpolation"
	KindInvalidCharacters   = "invalid characters"
	KindTooManySlashes      = "too many slashes"
	KindEmptyExpression     = "empty expression"
)

const inputPrefix = "input."

// Substitute parses template and returns the IR for it: a plain string if
// no "${" appears, or a sprintf template otherwise.
func Substitute(template string) (expr.Str, error) {
	if !strings.Contains(template, "${") {
		return expr.StrPlain(normalize(template)), nil
	}

	var result strings.Builder
	var vars []expr.Expr
	lastEnd := 0
	pos := 0

	for pos < len(template) {
		startOffset := strings.Index(template[pos:], "${")
		if startOffset < 0 {
			result.WriteString(normalize(template[lastEnd:]))
			break
		}

		start := pos + startOffset
		searchStart := start + 2

		relEnd := strings.IndexByte(template[searchStart:], '}')
		if relEnd < 0 {
			// Unclosed interpolation is tolerated by copying the rest verbatim.
			result.WriteString(normalize(template[lastEnd:]))
			break
		}

		end := searchStart + relEnd
		varExpr := template[searchStart:end]

		result.WriteString(normalize(template[lastEnd:start]))

		if literal, ok := specialVariable(varExpr); ok {
			result.WriteString(literal)
			lastEnd = end + 1
			pos = end + 1
			continue
		}

		varPart, defaultValue, hasDefault := parseVariableWithDefault(varExpr)

		if err := validateVariableExpr(varPart); err != nil {
			return expr.Str{}, err
		}

		var variable strings.Builder
		variable.WriteString(inputPrefix)
		for _, c := range varPart {
			if c == ':' || c == '/' {
				variable.WriteByte('.')
			} else {
				variable.WriteRune(c)
			}
		}
		path := variable.String()

		var varIR expr.Expr
		if hasDefault {
			parts := strings.Split(path, ".")
			object := parts[0]

			segments := make([]expr.Expr, 0, len(parts)-1)
			for _, p := range parts[1:] {
				segExpr, err := Substitute(p)
				if err != nil {
					return expr.Str{}, err
				}
				segments = append(segments, segExpr)
			}

			defaultExpr, err := Substitute(defaultValue)
			if err != nil {
				return expr.Str{}, err
			}

			varIR = expr.Call{
				Name: "object.get",
				Args: []expr.Expr{
					expr.Var{Path: object},
					expr.List{Elements: segments},
					defaultExpr,
				},
			}
		} else {
			varIR = expr.Var{Path: path}
		}

		result.WriteString("%s")
		vars = append(vars, varIR)

		lastEnd = end + 1
		pos = end + 1
	}

	if len(vars) > 0 {
		return expr.StrTemplate(result.String(), vars), nil
	}
	return expr.StrPlain(result.String()), nil
}

// normalize applies Unicode NFC normalization to a literal text segment so
// that two documents differing only in composition form (precomposed vs.
// combining-mark sequences) compile to byte-identical programs.
func normalize(s string) string {
	return norm.NFC.String(s)
}

func specialVariable(e string) (string, bool) {
	switch strings.TrimSpace(e) {
	case "*":
		return "*", true
	case "?":
		return "?", true
	case "$":
		return "$", true
	default:
		return "", false
	}
}

func parseVariableWithDefault(e string) (varPart string, defaultValue string, hasDefault bool) {
	commaPos := strings.IndexByte(e, ',')
	if commaPos < 0 {
		return e, "", false
	}

	varCandidate := strings.TrimSpace(e[:commaPos])
	defaultCandidate := strings.TrimSpace(e[commaPos+1:])

	if quoted, ok := extractQuotedString(defaultCandidate); ok {
		return varCandidate, quoted, true
	}

	return e, "", false
}

func extractQuotedString(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], true
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func validateVariableExpr(e string) error {
	if e == "" {
		return &Error{Kind: KindEmptyExpression}
	}

	if strings.Contains(e, "${") {
		return &Error{Kind: KindNestedInterpolation, Expr: e}
	}

	if strings.Contains(e, "}") {
		return &Error{Kind: KindInvalidCharacters, Expr: e}
	}

	slashes := strings.Count(e, "/")
	if slashes > 1 {
		return &Error{Kind: KindTooManySlashes, Expr: e}
	}

	for _, c := range e {
		if !isAllowedChar(c) {
			return &Error{Kind: KindInvalidCharacters, Expr: e}
		}
	}

	return nil
}

func isAllowedChar(c rune) bool {
	switch {
	case unicode.IsLetter(c), unicode.IsDigit(c):
		return true
	case c == '_', c == '-', c == ':', c == '.', c == '/':
		return true
	default:
		return false
	}
}
