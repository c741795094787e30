// Package translate turns one IAM statement's Principal/Action/Resource
// scopes and its Condition block into a single expr.Statement.
package translate

import (
	"fmt"
	"strings"

	"github.com/mizzy/iamrego/internal/condition"
	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/iamval"
	"github.com/mizzy/iamrego/internal/interpolate"
)

// Kind names which request attribute a scope reads: input.principal,
// input.action or input.resource.
type Kind int

const (
	Principal Kind = iota
	Action
	Resource
)

func (k Kind) inputVar() string {
	switch k {
	case Principal:
		return "input.principal"
	case Action:
		return "input.action"
	default:
		return "input.resource"
	}
}

// UnsupportedWildcardError is returned when Action or Resource is the bare
// "*" wildcard (or a list of nothing but "*"), which this module refuses to
// compile into an unconstrained rule.
type UnsupportedWildcardError struct{ Kind string }

func (e *UnsupportedWildcardError) Error() string {
	return fmt.Sprintf("unsupported wildcard %q in %s", "*", e.Kind)
}

// UnsupportedNegationError is returned for a NotPrincipal statement.
type UnsupportedNegationError struct{}

func (e *UnsupportedNegationError) Error() string { return "unsupported negation: NotPrincipal" }

// UnsupportedPrincipalTypeError is returned for any principal that is not
// an AWS identity (or the bare wildcard).
type UnsupportedPrincipalTypeError struct{ Type string }

func (e *UnsupportedPrincipalTypeError) Error() string {
	return fmt.Sprintf("unsupported principal type %q", e.Type)
}

func isWildcardOnly(v iamval.Value[string]) bool {
	for _, s := range v.Slice() {
		if s != "*" {
			return false
		}
	}
	return true
}

// scope builds the IR for one Principal/Action/Resource scope: wildcard
// values are omitted from the rule body, glob-containing values compile to
// glob.match, everything else to a direct (in)equality, with negated scopes
// wrapping list comparisons in Every instead of AnyIn.
func scope(kind Kind, sc iamval.Scope[string]) (expr.Expr, error) {
	if isWildcardOnly(sc.Value) {
		return nil, nil
	}

	ctx := expr.Var{Path: kind.inputVar()}
	negated := sc.Negated

	vals, err := iamval.MapValue(sc.Value, func(s string) (expr.Expr, error) {
		str, err := interpolate.Substitute(s)
		if err != nil {
			return nil, err
		}
		return str, nil
	})
	if err != nil {
		return nil, err
	}

	relate := func(lhs, rhs expr.Expr) expr.Expr {
		if negated {
			return expr.Ne{LHS: lhs, RHS: rhs}
		}
		return expr.Eq{LHS: lhs, RHS: rhs}
	}
	negate := func(e expr.Expr) expr.Expr {
		if negated {
			return expr.Neg{Inner: e}
		}
		return e
	}

	if vals.IsOne() {
		one := sc.Value.OneValue()
		oneExpr := vals.OneValue()

		if strings.Contains(one, "*") {
			return negate(expr.Call{Name: "glob.match", Args: []expr.Expr{oneExpr, expr.Null{}, ctx}}), nil
		}
		return relate(ctx, oneExpr), nil
	}

	hasGlob := false
	for _, s := range sc.Value.Slice() {
		if strings.Contains(s, "*") {
			hasGlob = true
			break
		}
	}

	elems := vals.Slice()

	if hasGlob {
		if !negated {
			return expr.Call{Name: "glob.match", Args: []expr.Expr{expr.AnyIn{Inner: expr.List{Elements: elems}}, expr.Null{}, ctx}}, nil
		}
		return expr.EveryOverList(elems, func(item expr.Expr) (expr.Expr, error) {
			return expr.Neg{Inner: expr.Call{Name: "glob.match", Args: []expr.Expr{item, expr.Null{}, ctx}}}, nil
		})
	}

	if !negated {
		return relate(expr.AnyIn{Inner: expr.List{Elements: elems}}, ctx), nil
	}
	return expr.EveryOverList(elems, func(item expr.Expr) (expr.Expr, error) {
		return expr.Ne{LHS: item, RHS: ctx}, nil
	})
}

// requiredScope is scope translation for Action/Resource, which (unlike
// Principal) reject the bare wildcard outright rather than treating it as
// an unconstrained, omitted conjunct.
func requiredScope(kind Kind, name string, sc iamval.Scope[string]) (expr.Expr, error) {
	if isWildcardOnly(sc.Value) {
		return nil, &UnsupportedWildcardError{Kind: name}
	}
	return scope(kind, sc)
}

// Statement is the decoded, not-yet-translated form of one IAM statement,
// produced by internal/iamjson.
type Statement struct {
	Effect           expr.Effect
	Principal        iamval.Scope[string]
	HasPrincipal     bool
	PrincipalAWSOnly bool
	// PrincipalExplicitWildcard is set when the source document wrote the
	// AWS principal's value as "*" explicitly (e.g. {"AWS": "*"}), which is
	// rejected rather than compiled as unconstrained. It is distinct from a
	// wholly absent Principal, which Translate itself defaults to "*".
	PrincipalExplicitWildcard bool
	NotPrincipal              bool
	Action                    iamval.Scope[string]
	Resource                  iamval.Scope[string]
	Conditions                condition.Source
}

// Translate composes one expr.Statement: Principal defaults to the
// unconstrained wildcard when absent, NotPrincipal, non-AWS principals and
// an explicit AWS "*" principal are rejected, Action/Resource reject the
// bare wildcard, and the statement's conditions are carried unrendered onto
// the result.
func Translate(s Statement) (expr.Statement, error) {
	if s.NotPrincipal {
		return expr.Statement{}, &UnsupportedNegationError{}
	}
	if s.HasPrincipal && !s.PrincipalAWSOnly {
		return expr.Statement{}, &UnsupportedPrincipalTypeError{Type: "non-AWS"}
	}
	if s.HasPrincipal && s.PrincipalExplicitWildcard {
		return expr.Statement{}, &UnsupportedPrincipalTypeError{Type: "AWS:*"}
	}

	principal := s.Principal
	if !s.HasPrincipal {
		principal = iamval.Id(iamval.One("*"))
	}

	var body []expr.Expr

	principalExpr, err := scope(Principal, principal)
	if err != nil {
		return expr.Statement{}, err
	}
	if principalExpr != nil {
		body = append(body, principalExpr)
	}

	actionExpr, err := requiredScope(Action, "Action", s.Action)
	if err != nil {
		return expr.Statement{}, err
	}
	if actionExpr != nil {
		body = append(body, actionExpr)
	}

	resourceExpr, err := requiredScope(Resource, "Resource", s.Resource)
	if err != nil {
		return expr.Statement{}, err
	}
	if resourceExpr != nil {
		body = append(body, resourceExpr)
	}

	return expr.Statement{Effect: s.Effect, Body: body, Conditions: s.Conditions}, nil
}
