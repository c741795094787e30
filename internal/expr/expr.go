// Package expr implements the expression intermediate representation that
// every IAM construct is translated into before being rendered as textual
// rules of the target policy language. It is a recursive sum type: parents
// exclusively own their children, nodes are built bottom-up during
// translation, and rendering never mutates a node, so a tree may be rendered
// more than once with the same result.
package expr

import (
	"fmt"
	"strings"
)

// Effect is the outcome a Statement grants.
type Effect int

const (
	Allow Effect = iota
	Deny
)

// Expr is any node of the expression IR. Render appends the node's textual
// form directly into the shared buffer; nothing intermediate is allocated
// per node.
type Expr interface {
	Render(w *strings.Builder) error
}

// ConditionSource lazily rebuilds the IR for a statement's conditions at
// emission time. Statement keeps its conditions unlowered (just the raw
// operator/attribute/value triples) so that re-rendering a Statement is
// cheap and always consistent; internal/condition implements this
// interface so internal/expr never needs to import it back.
type ConditionSource interface {
	Build() ([]Expr, error)
}

// Statement is a top-level rule: one `permit`/`deny` block per IAM
// statement.
type Statement struct {
	Effect     Effect
	Body       []Expr
	Conditions ConditionSource
}

func (s Statement) Render(w *strings.Builder) error {
	switch s.Effect {
	case Allow:
		w.WriteString("permit if {\n")
	case Deny:
		w.WriteString("deny if {\n")
	}

	for _, e := range s.Body {
		w.WriteString("  ")
		if err := e.Render(w); err != nil {
			return err
		}
		w.WriteString("\n")
	}

	if s.Conditions != nil {
		conds, err := s.Conditions.Build()
		if err != nil {
			return err
		}
		for _, c := range conds {
			w.WriteString("  ")
			if err := c.Render(w); err != nil {
				return err
			}
			w.WriteString("\n")
		}
	}

	w.WriteString("}\n")
	return nil
}

// Call is an invocation of a target-language builtin.
type Call struct {
	Name string
	Args []Expr
}

func (c Call) Render(w *strings.Builder) error {
	w.WriteString(c.Name)
	w.WriteString("(")
	for i, a := range c.Args {
		if i > 0 {
			w.WriteString(", ")
		}
		if err := a.Render(w); err != nil {
			return err
		}
	}
	w.WriteString(")")
	return nil
}

// Var is a dotted identifier, e.g. "input.aws.userid".
type Var struct {
	Path string
}

func (v Var) Render(w *strings.Builder) error {
	w.WriteString(v.Path)
	return nil
}

// List is a literal sequence.
type List struct {
	Elements []Expr
}

func (l List) Render(w *strings.Builder) error {
	w.WriteString("[")
	for i, e := range l.Elements {
		if i > 0 {
			w.WriteString(", ")
		}
		if err := e.Render(w); err != nil {
			return err
		}
	}
	w.WriteString("]")
	return nil
}

// AnyIn means "any element of Inner", emitted as `inner[_]`. A single
// element list still renders this way, preserving set-quantifier semantics
// against multi-valued context attributes.
type AnyIn struct {
	Inner Expr
}

func (a AnyIn) Render(w *strings.Builder) error {
	if err := a.Inner.Render(w); err != nil {
		return err
	}
	w.WriteString("[_]")
	return nil
}

// Null is the literal `null` token.
type Null struct{}

func (Null) Render(w *strings.Builder) error {
	w.WriteString("null")
	return nil
}

// Bool is a literal boolean.
type Bool struct{ Value bool }

func (b Bool) Render(w *strings.Builder) error {
	if b.Value {
		w.WriteString("true")
	} else {
		w.WriteString("false")
	}
	return nil
}

// Int is a literal integer.
type Int struct{ Value int64 }

func (i Int) Render(w *strings.Builder) error {
	fmt.Fprintf(w, "%d", i.Value)
	return nil
}

// Str is either a plain string literal or an interpolated sprintf template.
// Use StrPlain/StrTemplate to build one.
type Str struct {
	plain   string
	isPlain bool
	format  string
	vars    []Expr
}

// StrPlain builds a non-templated string literal.
func StrPlain(s string) Str { return Str{plain: s, isPlain: true} }

// StrTemplate builds a sprintf-style template string. format must contain
// exactly len(vars) occurrences of "%s".
func StrTemplate(format string, vars []Expr) Str { return Str{format: format, vars: vars} }

// IsPlain reports whether this is a non-templated literal.
func (s Str) IsPlain() bool { return s.isPlain }

// Vars returns the template's variable expressions (empty for a plain string).
func (s Str) Vars() []Expr { return s.vars }

func (s Str) Render(w *strings.Builder) error {
	if s.isPlain {
		fmt.Fprintf(w, "%q", s.plain)
		return nil
	}

	w.WriteString("sprintf(")
	fmt.Fprintf(w, "%q", s.format)
	w.WriteString(", ")
	if err := (List{Elements: s.vars}).Render(w); err != nil {
		return err
	}
	w.WriteString(")")
	return nil
}

// Neg is logical negation, emitted as `not expr`.
type Neg struct{ Inner Expr }

func (n Neg) Render(w *strings.Builder) error {
	w.WriteString("not ")
	return n.Inner.Render(w)
}

func renderBinary(w *strings.Builder, lhs Expr, op string, rhs Expr) error {
	if err := lhs.Render(w); err != nil {
		return err
	}
	w.WriteString(op)
	return rhs.Render(w)
}

// Eq, Ne, Gt, Gte, Lt, Lte are binary comparisons.
type Eq struct{ LHS, RHS Expr }

func (e Eq) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " == ", e.RHS) }

type Ne struct{ LHS, RHS Expr }

func (e Ne) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " != ", e.RHS) }

type Gt struct{ LHS, RHS Expr }

func (e Gt) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " > ", e.RHS) }

type Gte struct{ LHS, RHS Expr }

func (e Gte) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " >= ", e.RHS) }

type Lt struct{ LHS, RHS Expr }

func (e Lt) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " < ", e.RHS) }

type Lte struct{ LHS, RHS Expr }

func (e Lte) Render(w *strings.Builder) error { return renderBinary(w, e.LHS, " <= ", e.RHS) }

// Every is universal quantification over Iterable; Body uses Var.
type Every struct {
	Var      string
	Iterable Expr
	Body     Expr
}

func (e Every) Render(w *strings.Builder) error {
	w.WriteString("every ")
	w.WriteString(e.Var)
	w.WriteString(" in ")
	if err := e.Iterable.Render(w); err != nil {
		return err
	}
	w.WriteString(" { ")
	if err := e.Body.Render(w); err != nil {
		return err
	}
	w.WriteString(" }")
	return nil
}

// Item is the loop variable conventionally used by Every nodes built over a
// literal list (see internal/condition and internal/translate).
func Item() Var { return Var{Path: "item"} }

// EveryOverList builds `every item in list { body(item) }`, the shape a
// negated comparison against a literal list renders to.
func EveryOverList(list []Expr, body func(Expr) (Expr, error)) (Expr, error) {
	b, err := body(Item())
	if err != nil {
		return nil, err
	}
	return Every{Var: "item", Iterable: List{Elements: list}, Body: b}, nil
}

// Render is a convenience for rendering any Expr to a string in one shot.
func Render(e Expr) (string, error) {
	var b strings.Builder
	if err := e.Render(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}
