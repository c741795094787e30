// Package tfsource discovers IAM policy documents inside Terraform/OpenTofu
// configuration: aws_iam_policy_document data sources written as native HCL
// statement blocks, and the policy attribute of aws_iam_policy,
// aws_iam_role_policy, aws_iam_user_policy and aws_iam_group_policy
// resources, whether that attribute is a static JSON string, a heredoc, or a
// jsonencode(...) call. Local module calls are followed so a root module's
// policies and its children's are all staged together.
package tfsource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/terraform-config-inspect/tfconfig"
	"github.com/zclconf/go-cty/cty"

	"github.com/mizzy/iamrego/internal/condition"
	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/iamjson"
	"github.com/mizzy/iamrego/internal/iamval"
	"github.com/mizzy/iamrego/internal/translate"
)

// Load scans dir, and any local module it calls, for IAM policy documents.
func Load(dir string) ([]*iamjson.Document, error) {
	l := &loader{parser: hclparse.NewParser(), visited: map[string]bool{}}
	if err := l.loadDir(dir); err != nil {
		return nil, err
	}
	return l.documents, nil
}

type loader struct {
	parser    *hclparse.Parser
	documents []*iamjson.Document
	visited   map[string]bool
}

func (l *loader) loadDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	if l.visited[absDir] {
		return nil
	}
	l.visited[absDir] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".tf" {
			continue
		}
		if err := l.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
	}

	module, diags := tfconfig.LoadModule(dir)
	if diags.HasErrors() {
		return nil
	}
	for name, call := range module.ModuleCalls {
		modPath := resolveLocalModule(dir, call.Source)
		if modPath == "" {
			continue
		}
		if err := l.loadDir(modPath); err != nil {
			return fmt.Errorf("module %q: %w", name, err)
		}
	}
	return nil
}

// resolveLocalModule resolves only local module sources; a remote module
// not yet checked out has nothing on disk to scan.
func resolveLocalModule(base, source string) string {
	if !strings.HasPrefix(source, "./") && !strings.HasPrefix(source, "../") {
		return ""
	}
	path := filepath.Join(base, source)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return ""
}

func (l *loader) loadFile(filename string) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("parsing HCL: %s", diags.Error())
	}

	content, _, diags := file.Body.PartialContent(&hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "resource", LabelNames: []string{"type", "name"}},
			{Type: "data", LabelNames: []string{"type", "name"}},
		},
	})
	if diags.HasErrors() {
		return fmt.Errorf("extracting content: %s", diags.Error())
	}

	for _, block := range content.Blocks {
		if len(block.Labels) < 2 {
			continue
		}
		resourceType := block.Labels[0]

		switch {
		case block.Type == "data" && resourceType == "aws_iam_policy_document":
			doc, err := parseDocumentBlock(block)
			if err != nil {
				return fmt.Errorf("data.aws_iam_policy_document.%s: %w", block.Labels[1], err)
			}
			l.documents = append(l.documents, doc)

		case block.Type == "resource" && isIAMPolicyResource(resourceType):
			doc, err := parseInlinePolicy(block)
			if err != nil || doc == nil {
				// A policy attribute that references another resource
				// (rather than embedding JSON directly) has nothing for
				// this loader to decode; it is not an error condition,
				// just nothing to stage.
				continue
			}
			l.documents = append(l.documents, doc)
		}
	}

	return nil
}

func isIAMPolicyResource(resourceType string) bool {
	switch resourceType {
	case "aws_iam_policy", "aws_iam_role_policy", "aws_iam_user_policy", "aws_iam_group_policy":
		return true
	default:
		return false
	}
}

// parseDocumentBlock turns a data "aws_iam_policy_document" block's nested
// statement blocks directly into translate.Statement values, without ever
// passing through JSON.
func parseDocumentBlock(block *hcl.Block) (*iamjson.Document, error) {
	content, _, diags := block.Body.PartialContent(&hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{{Type: "statement"}},
	})
	if diags.HasErrors() {
		return nil, fmt.Errorf("extracting statements: %s", diags.Error())
	}

	doc := &iamjson.Document{}
	for _, sb := range content.Blocks {
		stmt, err := parseStatementBlock(sb)
		if err != nil {
			return nil, err
		}
		doc.Statements = append(doc.Statements, stmt)
	}
	return doc, nil
}

func parseStatementBlock(block *hcl.Block) (translate.Statement, error) {
	content, _, diags := block.Body.PartialContent(&hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "sid"},
			{Name: "effect"},
			{Name: "actions"},
			{Name: "not_actions"},
			{Name: "resources"},
			{Name: "not_resources"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "principals"},
			{Type: "not_principals"},
			{Type: "condition"},
		},
	})
	if diags.HasErrors() {
		return translate.Statement{}, fmt.Errorf("parsing statement: %s", diags.Error())
	}

	stmt := translate.Statement{Effect: expr.Allow}

	if attr, ok := content.Attributes["effect"]; ok {
		s, err := attrString(attr)
		if err != nil {
			return translate.Statement{}, err
		}
		switch s {
		case "Allow":
			stmt.Effect = expr.Allow
		case "Deny":
			stmt.Effect = expr.Deny
		default:
			return translate.Statement{}, fmt.Errorf("invalid effect %q", s)
		}
	}

	action, err := scopeFromAttrs(content.Attributes, "actions", "not_actions")
	if err != nil {
		return translate.Statement{}, fmt.Errorf("actions: %w", err)
	}
	stmt.Action = action

	resource, err := scopeFromAttrs(content.Attributes, "resources", "not_resources")
	if err != nil {
		return translate.Statement{}, fmt.Errorf("resources: %w", err)
	}
	stmt.Resource = resource

	var principalsBlocks []*hcl.Block
	for _, b := range content.Blocks {
		switch b.Type {
		case "principals":
			principalsBlocks = append(principalsBlocks, b)
		case "not_principals":
			stmt.HasPrincipal = true
			stmt.NotPrincipal = true
		case "condition":
			entry, err := parseConditionBlock(b)
			if err != nil {
				return translate.Statement{}, err
			}
			stmt.Conditions.Entries = append(stmt.Conditions.Entries, entry)
		}
	}

	if len(principalsBlocks) > 0 && !stmt.NotPrincipal {
		sc, awsOnly, explicitWildcard, err := parsePrincipalsBlocks(principalsBlocks)
		if err != nil {
			return translate.Statement{}, err
		}
		stmt.HasPrincipal = true
		stmt.Principal = sc
		stmt.PrincipalAWSOnly = awsOnly
		stmt.PrincipalExplicitWildcard = explicitWildcard
	}

	return stmt, nil
}

// parsePrincipalsBlocks combines every principals block of one statement.
// Only the "AWS" principal type (and the "*" wildcard-everyone type) are
// representable downstream; any other type present marks the scope as
// non-AWS-only so the statement translator rejects it. An "AWS" block whose
// identifiers are only "*" is reported separately (explicitWildcard) rather
// than folded into the identifier list, since that is a distinct, rejected
// case from a "*"-typed (wildcard-everyone) block.
func parsePrincipalsBlocks(blocks []*hcl.Block) (sc iamval.Scope[string], awsOnly bool, explicitWildcard bool, err error) {
	var idents []string
	awsOnly = true

	for _, block := range blocks {
		content, _, diags := block.Body.PartialContent(&hcl.BodySchema{
			Attributes: []hcl.AttributeSchema{
				{Name: "type", Required: true},
				{Name: "identifiers", Required: true},
			},
		})
		if diags.HasErrors() {
			return iamval.Scope[string]{}, false, false, fmt.Errorf("parsing principals: %s", diags.Error())
		}

		typ, err := attrString(content.Attributes["type"])
		if err != nil {
			return iamval.Scope[string]{}, false, false, err
		}

		val, diags := content.Attributes["identifiers"].Expr.Value(nil)
		if diags.HasErrors() {
			return iamval.Scope[string]{}, false, false, fmt.Errorf("evaluating identifiers: %s", diags.Error())
		}

		if typ != "AWS" && typ != "*" {
			awsOnly = false
			continue
		}

		ids := ctyToStringSlice(val)
		if typ == "AWS" && len(ids) == 1 && ids[0] == "*" {
			explicitWildcard = true
			continue
		}
		idents = append(idents, ids...)
	}

	if explicitWildcard {
		return iamval.Scope[string]{}, awsOnly, true, nil
	}
	if len(idents) == 0 {
		return iamval.Scope[string]{}, awsOnly, false, nil
	}
	return iamval.Id(listValue(idents)), awsOnly, false, nil
}

func parseConditionBlock(block *hcl.Block) (condition.Entry, error) {
	content, _, diags := block.Body.PartialContent(&hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "test", Required: true},
			{Name: "variable", Required: true},
			{Name: "values", Required: true},
		},
	})
	if diags.HasErrors() {
		return condition.Entry{}, fmt.Errorf("parsing condition: %s", diags.Error())
	}

	test, err := attrString(content.Attributes["test"])
	if err != nil {
		return condition.Entry{}, err
	}
	variable, err := attrString(content.Attributes["variable"])
	if err != nil {
		return condition.Entry{}, err
	}
	values, err := conditionValues(content.Attributes["values"])
	if err != nil {
		return condition.Entry{}, err
	}

	return condition.Entry{
		Operator: test,
		Pairs:    []condition.Pair{{Attribute: variable, Values: values}},
	}, nil
}

// conditionValues decodes a condition block's values list by round-tripping
// it through JSON, reusing iamval.Value's own scalar-or-array decoding
// instead of duplicating it for HCL's cty representation.
func conditionValues(attr *hcl.Attribute) (iamval.Value[iamval.ConditionValue], error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return iamval.Value[iamval.ConditionValue]{}, fmt.Errorf("evaluating values: %s", diags.Error())
	}

	generic, err := ctyToGeneric(val)
	if err != nil {
		return iamval.Value[iamval.ConditionValue]{}, err
	}

	data, err := json.Marshal(generic)
	if err != nil {
		return iamval.Value[iamval.ConditionValue]{}, fmt.Errorf("marshaling values: %w", err)
	}

	var v iamval.Value[iamval.ConditionValue]
	if err := json.Unmarshal(data, &v); err != nil {
		return iamval.Value[iamval.ConditionValue]{}, fmt.Errorf("decoding values: %w", err)
	}
	return v, nil
}

func scopeFromAttrs(attrs map[string]*hcl.Attribute, posName, negName string) (iamval.Scope[string], error) {
	posAttr, hasPos := attrs[posName]
	negAttr, hasNeg := attrs[negName]

	switch {
	case hasPos && hasNeg:
		return iamval.Scope[string]{}, fmt.Errorf("both %s and %s present", posName, negName)
	case hasPos:
		strs, err := stringListAttr(posAttr)
		if err != nil {
			return iamval.Scope[string]{}, err
		}
		return iamval.Id(listValue(strs)), nil
	case hasNeg:
		strs, err := stringListAttr(negAttr)
		if err != nil {
			return iamval.Scope[string]{}, err
		}
		return iamval.Not(listValue(strs)), nil
	default:
		return iamval.Scope[string]{}, fmt.Errorf("missing %s or %s", posName, negName)
	}
}

func stringListAttr(attr *hcl.Attribute) ([]string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating %s: %s", attr.Name, diags.Error())
	}
	return ctyToStringSlice(val), nil
}

func listValue(strs []string) iamval.Value[string] {
	if len(strs) == 1 {
		return iamval.One(strs[0])
	}
	return iamval.Many(strs)
}

func attrString(attr *hcl.Attribute) (string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("%s", diags.Error())
	}
	if val.Type() != cty.String {
		return "", fmt.Errorf("attribute %q must be a string", attr.Name)
	}
	return val.AsString(), nil
}

// parseInlinePolicy decodes the policy attribute of an aws_iam_policy (or
// *_role_policy/*_user_policy/*_group_policy) resource: a static JSON
// string, a heredoc, or a jsonencode(...) call. A dynamic reference to
// another resource's output is left unresolved; (nil, nil) is returned so
// the caller treats it as nothing to stage rather than an error.
func parseInlinePolicy(block *hcl.Block) (*iamjson.Document, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		content, _, pDiags := block.Body.PartialContent(&hcl.BodySchema{
			Attributes: []hcl.AttributeSchema{{Name: "policy"}},
		})
		if pDiags.HasErrors() {
			return nil, fmt.Errorf("extracting policy attribute: %s", pDiags.Error())
		}
		attrs = content.Attributes
	}

	policyAttr, ok := attrs["policy"]
	if !ok {
		return nil, nil
	}

	if val, valDiags := policyAttr.Expr.Value(nil); !valDiags.HasErrors() && val.Type() == cty.String {
		return iamjson.Parse(strings.NewReader(val.AsString()))
	}

	if funcExpr, ok := policyAttr.Expr.(*hclsyntax.FunctionCallExpr); ok {
		if funcExpr.Name == "jsonencode" && len(funcExpr.Args) > 0 {
			return parseJsonencodeArg(funcExpr.Args[0])
		}
	}

	return nil, nil
}

// parseJsonencodeArg evaluates a jsonencode(...) call's argument expression
// directly (HCL can construct object/tuple literals without needing the
// jsonencode function itself registered) and re-marshals the result to
// JSON so it can be handed to the same decoder as a hand-written policy
// file.
func parseJsonencodeArg(e hcl.Expression) (*iamjson.Document, error) {
	val, diags := e.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating jsonencode argument: %s", diags.Error())
	}

	generic, err := ctyToGeneric(val)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("marshaling policy document: %w", err)
	}

	return iamjson.Parse(bytes.NewReader(data))
}

// ctyToGeneric converts a cty.Value tree into the any/map/slice shape
// encoding/json expects, so an HCL-native policy literal can be decoded by
// the same path as a JSON one.
func ctyToGeneric(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}

	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0)
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			g, err := ctyToGeneric(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			g, err := ctyToGeneric(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = g
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", t.FriendlyName())
	}
}

func ctyToStringSlice(val cty.Value) []string {
	var result []string

	if val.Type() == cty.String {
		return []string{val.AsString()}
	}

	if val.Type().IsTupleType() || val.Type().IsListType() || val.Type().IsSetType() {
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			if v.Type() == cty.String {
				result = append(result, v.AsString())
			}
		}
	}

	return result
}
