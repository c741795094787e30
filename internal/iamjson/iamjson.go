// Package iamjson decodes an IAM policy document's JSON into the data model
// the rest of this module translates: internal/translate.Statement values
// carrying iamval.Scope[string] scopes and internal/condition.Source
// condition blocks. It decodes whole documents; the scalar-or-array values
// inside them are decoded by iamval, and tfsource re-marshals Terraform
// values to JSON before handing them here.
package iamjson

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/mizzy/iamrego/internal/condition"
	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/iamval"
	"github.com/mizzy/iamrego/internal/translate"
)

// Document is a decoded IAM policy document.
type Document struct {
	Version    string
	Statements []translate.Statement
}

// Parse reads one IAM policy document from r.
func Parse(r io.Reader) (*Document, error) {
	var raw struct {
		Version   string          `json:"Version"`
		Statement json.RawMessage `json:"Statement"`
	}

	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding policy document: %w", err)
	}

	rawStatements, err := decodeStatementList(raw.Statement)
	if err != nil {
		return nil, fmt.Errorf("decoding Statement: %w", err)
	}

	statements := make([]translate.Statement, 0, len(rawStatements))
	for _, rs := range rawStatements {
		s, err := rs.translate()
		if err != nil {
			return nil, err
		}
		statements = append(statements, s)
	}

	return &Document{Version: raw.Version, Statements: statements}, nil
}

// decodeStatementList accepts either a single statement object or an array
// of them, mirroring the scalar-or-array polymorphism used everywhere else
// in an IAM document.
func decodeStatementList(data []byte) ([]rawStatement, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("missing Statement")
	}

	var one rawStatement
	if err := json.Unmarshal(data, &one); err == nil {
		return []rawStatement{one}, nil
	}

	var many []rawStatement
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, err
	}
	return many, nil
}

type rawStatement struct {
	Sid          string                                                     `json:"Sid,omitempty"`
	Effect       string                                                     `json:"Effect"`
	Principal    *principalJSON                                             `json:"Principal,omitempty"`
	NotPrincipal *principalJSON                                             `json:"NotPrincipal,omitempty"`
	Action       *iamval.Value[string]                                     `json:"Action,omitempty"`
	NotAction    *iamval.Value[string]                                     `json:"NotAction,omitempty"`
	Resource     *iamval.Value[string]                                     `json:"Resource,omitempty"`
	NotResource  *iamval.Value[string]                                     `json:"NotResource,omitempty"`
	Condition    map[string]map[string]iamval.Value[iamval.ConditionValue] `json:"Condition,omitempty"`
}

// principalJSON decodes IAM's Principal/NotPrincipal shape: either the bare
// "*" wildcard, or an object keyed by principal type ("AWS", "Service",
// "Federated", "CanonicalUser", …).
type principalJSON struct {
	Wildcard bool
	HasAWS   bool
	AWS      iamval.Value[string]
	OtherKey string
}

func (p *principalJSON) UnmarshalJSON(data []byte) error {
	var wildcard string
	if err := json.Unmarshal(data, &wildcard); err == nil {
		if wildcard != "*" {
			return fmt.Errorf("decoding principal: bare string %q is not the \"*\" wildcard", wildcard)
		}
		p.Wildcard = true
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding principal: %w", err)
	}

	for key, raw := range obj {
		if key != "AWS" {
			p.OtherKey = key
			continue
		}

		var v iamval.Value[string]
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decoding principal AWS value: %w", err)
		}
		p.AWS = v
		p.HasAWS = true
	}

	return nil
}

func (rs rawStatement) translate() (translate.Statement, error) {
	effect, err := decodeEffect(rs.Effect)
	if err != nil {
		return translate.Statement{}, err
	}

	out := translate.Statement{Effect: effect}

	if rs.NotPrincipal != nil {
		out.NotPrincipal = true
		out.HasPrincipal = true
	} else if rs.Principal != nil {
		out.HasPrincipal = true

		switch {
		case rs.Principal.Wildcard:
			out.Principal = iamval.Id(iamval.One("*"))
			out.PrincipalAWSOnly = true
		case rs.Principal.HasAWS:
			out.Principal = iamval.Id(rs.Principal.AWS)
			out.PrincipalAWSOnly = rs.Principal.OtherKey == ""
			out.PrincipalExplicitWildcard = isWildcardOnly(rs.Principal.AWS)
		default:
			out.Principal = iamval.Id(iamval.One("*"))
			out.PrincipalAWSOnly = false
		}
	}

	action, err := decodeScope(rs.Action, rs.NotAction)
	if err != nil {
		return translate.Statement{}, fmt.Errorf("decoding Action: %w", err)
	}
	out.Action = action

	resource, err := decodeScope(rs.Resource, rs.NotResource)
	if err != nil {
		return translate.Statement{}, fmt.Errorf("decoding Resource: %w", err)
	}
	out.Resource = resource

	out.Conditions = condition.Source{Entries: decodeConditions(rs.Condition)}

	return out, nil
}

// isWildcardOnly reports whether every value of v is the literal "*",
// distinguishing an explicit {"AWS": "*"} principal (rejected) from a
// wholly absent Principal (which Translate defaults to "*" itself).
func isWildcardOnly(v iamval.Value[string]) bool {
	for _, s := range v.Slice() {
		if s != "*" {
			return false
		}
	}
	return true
}

func decodeEffect(s string) (expr.Effect, error) {
	switch s {
	case "Allow":
		return expr.Allow, nil
	case "Deny":
		return expr.Deny, nil
	default:
		return 0, fmt.Errorf("invalid Effect %q", s)
	}
}

func decodeScope(id, not *iamval.Value[string]) (iamval.Scope[string], error) {
	switch {
	case id != nil && not != nil:
		return iamval.Scope[string]{}, fmt.Errorf("both positive and Not* forms present")
	case id != nil:
		return iamval.Id(*id), nil
	case not != nil:
		return iamval.Not(*not), nil
	default:
		return iamval.Scope[string]{}, fmt.Errorf("missing required field")
	}
}

// decodeConditions flattens the Condition block's two map levels into
// ordered entries, sorting both the operator keys and each operator's
// attribute keys so that compiling the same document twice produces
// byte-identical output regardless of Go's randomized map iteration order.
func decodeConditions(block map[string]map[string]iamval.Value[iamval.ConditionValue]) []condition.Entry {
	if len(block) == 0 {
		return nil
	}

	operators := make([]string, 0, len(block))
	for op := range block {
		operators = append(operators, op)
	}
	sort.Strings(operators)

	entries := make([]condition.Entry, 0, len(operators))

	for _, op := range operators {
		attrs := block[op]

		attrNames := make([]string, 0, len(attrs))
		for a := range attrs {
			attrNames = append(attrNames, a)
		}
		sort.Strings(attrNames)

		pairs := make([]condition.Pair, 0, len(attrNames))
		for _, a := range attrNames {
			pairs = append(pairs, condition.Pair{Attribute: a, Values: attrs[a]})
		}

		entries = append(entries, condition.Entry{Operator: op, Pairs: pairs})
	}

	return entries
}
