// Package condition translates IAM Condition blocks into expression IR. Each
// block is a map of operator key (optionally "ForAnyValue:"/"ForAllValues:"
// prefixed) to a set of (attribute, values) pairs; this package is the total
// function from that closed operator set to IR described in the operator
// metadata table: a base relation, an optional normalization, a negation
// bit, and an optional set quantifier.
package condition

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/iamval"
	"github.com/mizzy/iamrego/internal/interpolate"
)

// Pair is one attribute and its (possibly scalar-or-array) condition values.
type Pair struct {
	Attribute string
	Values    iamval.Value[iamval.ConditionValue]
}

// Entry is one operator key and the pairs it governs.
type Entry struct {
	Operator string
	Pairs    []Pair
}

// Source holds every condition entry of one IAM statement, unrendered. It
// implements expr.ConditionSource so a Statement can re-derive its condition
// IR at emission time without internal/expr depending on this package.
type Source struct {
	Entries []Entry
}

func (s Source) Build() ([]expr.Expr, error) {
	var out []expr.Expr

	for _, e := range s.Entries {
		built, err := Build(e.Operator, e.Pairs)
		if err != nil {
			return nil, err
		}
		out = append(out, built...)
	}

	return out, nil
}

// UnsupportedOperatorError reports a condition operator key outside the
// closed list of twenty-one, together with the closest known name.
type UnsupportedOperatorError struct {
	Name       string
	Suggestion string
}

func (e *UnsupportedOperatorError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("unsupported condition operator %q", e.Name)
	}
	return fmt.Sprintf("unsupported condition operator %q (did you mean %q?)", e.Name, e.Suggestion)
}

var knownOperators = []string{
	"Bool",
	"StringEquals", "StringNotEquals", "StringEqualsIgnoreCase", "StringNotEqualsIgnoreCase",
	"StringLike", "StringNotLike",
	"NumericEquals", "NumericNotEquals",
	"NumericLessThan", "NumericLessThanEquals", "NumericGreaterThan", "NumericGreaterThanEquals",
	"DateEquals", "DateNotEquals",
	"DateGreaterThan", "DateGreaterThanEquals", "DateLessThan", "DateLessThanEquals",
	"IpAddress", "NotIpAddress",
}

func unsupportedOperatorError(name string) error {
	// Same "closest known candidate" heuristic hashicorp/hcl's own
	// diagnostics use: cap the distance by input length instead of always
	// suggesting *something*.
	maxDist := len(name) / 3
	if maxDist == 0 {
		maxDist = 1
	}

	best := ""
	bestDist := maxDist + 1

	for _, k := range knownOperators {
		d := levenshtein.Distance(name, k, nil)
		if d < bestDist {
			best = k
			bestDist = d
		}
	}

	if bestDist > maxDist {
		best = ""
	}

	return &UnsupportedOperatorError{Name: name, Suggestion: best}
}

type quantifier int

const (
	noQuantifier quantifier = iota
	anyValue
	allValues
)

func parseOperatorKey(key string) (quantifier, string) {
	switch {
	case strings.HasPrefix(key, "ForAnyValue:"):
		return anyValue, strings.TrimPrefix(key, "ForAnyValue:")
	case strings.HasPrefix(key, "ForAllValues:"):
		return allValues, strings.TrimPrefix(key, "ForAllValues:")
	default:
		return noQuantifier, key
	}
}

// resolveAttr turns a condition key, e.g. "aws:tags/region" or "s3:prefix",
// into its dotted context path: "input.aws.tags.region" / "input.s3.prefix".
func resolveAttr(attribute string) string {
	if idx := strings.IndexByte(attribute, ':'); idx >= 0 {
		qualifier := attribute[:idx]
		rest := strings.ReplaceAll(attribute[idx+1:], "/", ".")
		return "input." + qualifier + "." + rest
	}
	return "input." + strings.ReplaceAll(attribute, "/", ".")
}

// toArrayExpr builds the safe-navigation read of a possibly scalar, array or
// absent context attribute: split the path at its last "." into
// (object, key) and emit to_array(object.get(object, "key", [])). A path
// with no "." is read as-is.
func toArrayExpr(path string) expr.Expr {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return expr.Call{Name: "to_array", Args: []expr.Expr{expr.Var{Path: path}}}
	}

	object := path[:idx]
	key := path[idx+1:]

	return expr.Call{
		Name: "to_array",
		Args: []expr.Expr{
			expr.Call{
				Name: "object.get",
				Args: []expr.Expr{expr.Var{Path: object}, expr.StrPlain(key), expr.List{}},
			},
		},
	}
}

// Build translates one (operator key, pairs) entry of a Condition block into
// zero or more IR conjuncts, one per attribute.
func Build(operatorKey string, pairs []Pair) ([]expr.Expr, error) {
	quant, base := parseOperatorKey(operatorKey)

	switch base {
	case "Bool":
		return buildEquality(pairs, quant, false, identity, toBoolExpr)
	case "StringEquals":
		return buildEquality(pairs, quant, false, identity, toStrExpr)
	case "StringNotEquals":
		return buildEquality(pairs, quant, true, identity, toStrExpr)
	case "StringEqualsIgnoreCase":
		return buildEquality(pairs, quant, false, wrapLower, toStrExpr)
	case "StringNotEqualsIgnoreCase":
		return buildEquality(pairs, quant, true, wrapLower, toStrExpr)
	case "StringLike":
		return buildLike(pairs, quant, false)
	case "StringNotLike":
		return buildLike(pairs, quant, true)
	case "NumericEquals":
		return buildEquality(pairs, quant, false, identity, toIntExpr)
	case "NumericNotEquals":
		return buildEquality(pairs, quant, true, identity, toIntExpr)
	case "NumericLessThan":
		return buildOrder(pairs, quant, "<", toIntExpr, identity)
	case "NumericLessThanEquals":
		return buildOrder(pairs, quant, "<=", toIntExpr, identity)
	case "NumericGreaterThan":
		return buildOrder(pairs, quant, ">", toIntExpr, identity)
	case "NumericGreaterThanEquals":
		return buildOrder(pairs, quant, ">=", toIntExpr, identity)
	case "DateEquals":
		return buildEquality(pairs, quant, false, wrapDatetime, toStrExpr)
	case "DateNotEquals":
		return buildEquality(pairs, quant, true, wrapDatetime, toStrExpr)
	case "DateGreaterThan":
		return buildOrder(pairs, quant, ">", toStrExpr, wrapDatetime)
	case "DateGreaterThanEquals":
		return buildOrder(pairs, quant, ">=", toStrExpr, wrapDatetime)
	case "DateLessThan":
		return buildOrder(pairs, quant, "<", toStrExpr, wrapDatetime)
	case "DateLessThanEquals":
		return buildOrder(pairs, quant, "<=", toStrExpr, wrapDatetime)
	case "IpAddress":
		return buildIP(pairs, quant, false)
	case "NotIpAddress":
		return buildIP(pairs, quant, true)
	default:
		return nil, unsupportedOperatorError(base)
	}
}

func identity(e expr.Expr) expr.Expr { return e }

func wrapLower(e expr.Expr) expr.Expr {
	return expr.Call{Name: "lower", Args: []expr.Expr{e}}
}

func wrapDatetime(e expr.Expr) expr.Expr {
	return expr.Call{Name: "time.parse_rfc3339_ns", Args: []expr.Expr{e}}
}

func toStrExpr(cv iamval.ConditionValue) (expr.Expr, error) {
	s, err := cv.ToStr()
	if err != nil {
		return nil, err
	}
	str, err := interpolate.Substitute(s)
	if err != nil {
		return nil, err
	}
	return str, nil
}

func toIntExpr(cv iamval.ConditionValue) (expr.Expr, error) {
	i, err := cv.ToInt()
	if err != nil {
		return nil, err
	}
	return expr.Int{Value: i}, nil
}

func toBoolExpr(cv iamval.ConditionValue) (expr.Expr, error) {
	b, err := cv.ToBool()
	if err != nil {
		return nil, err
	}
	return expr.Bool{Value: b}, nil
}

// wrapElementsAsList returns the policy-side values as a list, wrapping a
// single scalar value into a one-element list so AnyIn continues to mean
// "exists a policy value" once a quantifier is present.
func wrapElementsAsList(v iamval.Value[expr.Expr]) []expr.Expr {
	if v.IsOne() {
		return []expr.Expr{v.OneValue()}
	}
	return v.Slice()
}

// buildEquality handles every operator whose base relation is Eq/Ne:
// Bool, String(Not)Equals(IgnoreCase), Numeric(Not)Equals, Date(Not)Equals.
func buildEquality(
	pairs []Pair,
	quant quantifier,
	negated bool,
	wrap func(expr.Expr) expr.Expr,
	coerce func(iamval.ConditionValue) (expr.Expr, error),
) ([]expr.Expr, error) {
	relate := func(lhs, rhs expr.Expr) expr.Expr {
		if negated {
			return expr.Ne{LHS: lhs, RHS: rhs}
		}
		return expr.Eq{LHS: lhs, RHS: rhs}
	}

	var out []expr.Expr

	for _, p := range pairs {
		ctxPath := resolveAttr(p.Attribute)
		ctx := wrap(expr.Var{Path: ctxPath})

		mapped, err := iamval.MapValue(p.Values, coerce)
		if err != nil {
			return nil, err
		}

		if quant != noQuantifier {
			polElems := wrapElementsAsList(mapped)
			ctxArray := toArrayExpr(ctxPath)

			switch {
			case negated:
				out = append(out, everyEveryNeg(ctxArray, polElems, wrap, relate))
			case quant == anyValue:
				pol := wrap(expr.AnyIn{Inner: expr.List{Elements: polElems}})
				out = append(out, relate(pol, wrap(expr.AnyIn{Inner: ctxArray})))
			default: // allValues, positive operator
				pol := wrap(expr.AnyIn{Inner: expr.List{Elements: polElems}})
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body:     relate(pol, wrap(expr.Var{Path: "ctx_item"})),
				})
			}
			continue
		}

		if mapped.IsOne() {
			out = append(out, relate(ctx, wrap(mapped.OneValue())))
			continue
		}

		if !negated {
			pol := wrap(expr.AnyIn{Inner: expr.List{Elements: mapped.Slice()}})
			out = append(out, relate(pol, ctx))
		} else {
			body := relate(ctx, wrap(expr.Item()))
			out = append(out, expr.Every{Var: "item", Iterable: expr.List{Elements: mapped.Slice()}, Body: body})
		}
	}

	return out, nil
}

// everyEveryNeg builds the Every(ctx_item, Every(pol_val, BASE_neg(...)))
// shape shared by every quantified, operator-negative condition, regardless
// of whether the quantifier itself is ForAnyValue or ForAllValues.
func everyEveryNeg(
	ctxArray expr.Expr,
	polElems []expr.Expr,
	wrap func(expr.Expr) expr.Expr,
	relate func(lhs, rhs expr.Expr) expr.Expr,
) expr.Expr {
	body := relate(wrap(expr.Var{Path: "pol_val"}), wrap(expr.Var{Path: "ctx_item"}))

	return expr.Every{
		Var:      "ctx_item",
		Iterable: ctxArray,
		Body: expr.Every{
			Var:      "pol_val",
			Iterable: expr.List{Elements: polElems},
			Body:     body,
		},
	}
}

// buildLike handles StringLike/StringNotLike: a glob.match(pattern, null,
// ctx) call rather than an infix relation.
func buildLike(pairs []Pair, quant quantifier, negated bool) ([]expr.Expr, error) {
	call := func(pattern, ctx expr.Expr) expr.Expr {
		return expr.Call{Name: "glob.match", Args: []expr.Expr{pattern, expr.Null{}, ctx}}
	}
	relate := func(pattern, ctx expr.Expr) expr.Expr {
		c := call(pattern, ctx)
		if negated {
			return expr.Neg{Inner: c}
		}
		return c
	}

	var out []expr.Expr

	for _, p := range pairs {
		ctxPath := resolveAttr(p.Attribute)
		ctx := expr.Var{Path: ctxPath}

		mapped, err := iamval.MapValue(p.Values, toStrExpr)
		if err != nil {
			return nil, err
		}

		if quant != noQuantifier {
			polElems := wrapElementsAsList(mapped)
			ctxArray := toArrayExpr(ctxPath)

			switch {
			case negated:
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body: expr.Every{
						Var:      "pol_val",
						Iterable: expr.List{Elements: polElems},
						Body:     expr.Neg{Inner: call(expr.Var{Path: "pol_val"}, expr.Var{Path: "ctx_item"})},
					},
				})
			case quant == anyValue:
				out = append(out, call(expr.AnyIn{Inner: expr.List{Elements: polElems}}, expr.AnyIn{Inner: ctxArray}))
			default:
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body:     call(expr.AnyIn{Inner: expr.List{Elements: polElems}}, expr.Var{Path: "ctx_item"}),
				})
			}
			continue
		}

		if mapped.IsOne() {
			out = append(out, relate(mapped.OneValue(), ctx))
			continue
		}

		if !negated {
			out = append(out, call(expr.AnyIn{Inner: expr.List{Elements: mapped.Slice()}}, ctx))
		} else {
			out = append(out, expr.Every{
				Var:      "item",
				Iterable: expr.List{Elements: mapped.Slice()},
				Body:     expr.Neg{Inner: call(expr.Item(), ctx)},
			})
		}
	}

	return out, nil
}

// buildIP handles IpAddress/NotIpAddress: a net.cidr_contains(cidr, ctx)
// call, shaped exactly like buildLike minus the "null" argument.
func buildIP(pairs []Pair, quant quantifier, negated bool) ([]expr.Expr, error) {
	call := func(cidr, ctx expr.Expr) expr.Expr {
		return expr.Call{Name: "net.cidr_contains", Args: []expr.Expr{cidr, ctx}}
	}
	relate := func(cidr, ctx expr.Expr) expr.Expr {
		c := call(cidr, ctx)
		if negated {
			return expr.Neg{Inner: c}
		}
		return c
	}

	var out []expr.Expr

	for _, p := range pairs {
		ctxPath := resolveAttr(p.Attribute)
		ctx := expr.Var{Path: ctxPath}

		mapped, err := iamval.MapValue(p.Values, toStrExpr)
		if err != nil {
			return nil, err
		}

		if quant != noQuantifier {
			polElems := wrapElementsAsList(mapped)
			ctxArray := toArrayExpr(ctxPath)

			switch {
			case negated:
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body: expr.Every{
						Var:      "pol_val",
						Iterable: expr.List{Elements: polElems},
						Body:     expr.Neg{Inner: call(expr.Var{Path: "pol_val"}, expr.Var{Path: "ctx_item"})},
					},
				})
			case quant == anyValue:
				out = append(out, call(expr.AnyIn{Inner: expr.List{Elements: polElems}}, expr.AnyIn{Inner: ctxArray}))
			default:
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body:     call(expr.AnyIn{Inner: expr.List{Elements: polElems}}, expr.Var{Path: "ctx_item"}),
				})
			}
			continue
		}

		if mapped.IsOne() {
			out = append(out, relate(mapped.OneValue(), ctx))
			continue
		}

		if !negated {
			out = append(out, call(expr.AnyIn{Inner: expr.List{Elements: mapped.Slice()}}, ctx))
		} else {
			out = append(out, expr.Every{
				Var:      "item",
				Iterable: expr.List{Elements: mapped.Slice()},
				Body:     expr.Neg{Inner: call(expr.Item(), ctx)},
			})
		}
	}

	return out, nil
}

func orderRelate(op string) func(lhs, rhs expr.Expr) expr.Expr {
	switch op {
	case "<":
		return func(l, r expr.Expr) expr.Expr { return expr.Lt{LHS: l, RHS: r} }
	case "<=":
		return func(l, r expr.Expr) expr.Expr { return expr.Lte{LHS: l, RHS: r} }
	case ">":
		return func(l, r expr.Expr) expr.Expr { return expr.Gt{LHS: l, RHS: r} }
	default:
		return func(l, r expr.Expr) expr.Expr { return expr.Gte{LHS: l, RHS: r} }
	}
}

// buildOrder handles the six ordering operators: Numeric/Date
// LessThan(Equals)/GreaterThan(Equals). None of them carry a negation bit.
func buildOrder(
	pairs []Pair,
	quant quantifier,
	op string,
	coerce func(iamval.ConditionValue) (expr.Expr, error),
	wrap func(expr.Expr) expr.Expr,
) ([]expr.Expr, error) {
	relate := orderRelate(op)

	var out []expr.Expr

	for _, p := range pairs {
		ctxPath := resolveAttr(p.Attribute)
		ctx := wrap(expr.Var{Path: ctxPath})

		mapped, err := iamval.MapValue(p.Values, coerce)
		if err != nil {
			return nil, err
		}

		if quant != noQuantifier {
			polElems := wrapElementsAsList(mapped)
			ctxArray := toArrayExpr(ctxPath)
			pol := wrap(expr.AnyIn{Inner: expr.List{Elements: polElems}})

			if quant == anyValue {
				out = append(out, relate(pol, wrap(expr.AnyIn{Inner: ctxArray})))
			} else {
				out = append(out, expr.Every{
					Var:      "ctx_item",
					Iterable: ctxArray,
					Body:     relate(pol, wrap(expr.Var{Path: "ctx_item"})),
				})
			}
			continue
		}

		if mapped.IsOne() {
			out = append(out, relate(ctx, wrap(mapped.OneValue())))
			continue
		}

		pol := wrap(expr.AnyIn{Inner: expr.List{Elements: mapped.Slice()}})
		out = append(out, relate(pol, ctx))
	}

	return out, nil
}
