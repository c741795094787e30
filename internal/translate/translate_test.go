package translate

import (
	"testing"

	"github.com/mizzy/iamrego/internal/condition"
	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/iamval"
)

func renderExpr(t *testing.T, e expr.Expr) string {
	t.Helper()
	out, err := expr.Render(e)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestScopeWildcardOmitted(t *testing.T) {
	got, err := scope(Principal, iamval.Id(iamval.One("*")))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil (omitted) expr, got %v", got)
	}
}

func TestScopeScalarEquality(t *testing.T) {
	got, err := scope(Principal, iamval.Id(iamval.One("arn:aws:iam::111111111111:root")))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `input.principal == "arn:aws:iam::111111111111:root"`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeScalarGlob(t *testing.T) {
	got, err := scope(Resource, iamval.Id(iamval.One("arn:aws:s3:::my-bucket/*")))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `glob.match("arn:aws:s3:::my-bucket/*", null, input.resource)`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeScalarGlobNegated(t *testing.T) {
	got, err := scope(Resource, iamval.Not(iamval.One("arn:aws:s3:::my-bucket/*")))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `not glob.match("arn:aws:s3:::my-bucket/*", null, input.resource)`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeArrayNoGlob(t *testing.T) {
	got, err := scope(Action, iamval.Id(iamval.Many([]string{"s3:GetObject", "s3:PutObject"})))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `["s3:GetObject", "s3:PutObject"][_] == input.action`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeArrayNoGlobNegated(t *testing.T) {
	got, err := scope(Action, iamval.Not(iamval.Many([]string{"s3:GetObject", "s3:PutObject"})))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `every item in ["s3:GetObject", "s3:PutObject"] { item != input.action }`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeArrayWithGlob(t *testing.T) {
	got, err := scope(Resource, iamval.Id(iamval.Many([]string{"arn:aws:s3:::a/*", "arn:aws:s3:::b/*"})))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `glob.match(["arn:aws:s3:::a/*", "arn:aws:s3:::b/*"][_], null, input.resource)`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestScopeArrayWithGlobNegated(t *testing.T) {
	got, err := scope(Resource, iamval.Not(iamval.Many([]string{"arn:aws:s3:::a/*", "arn:aws:s3:::b/*"})))
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	want := `every item in ["arn:aws:s3:::a/*", "arn:aws:s3:::b/*"] { not glob.match(item, null, input.resource) }`
	if s := renderExpr(t, got); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}

func TestRequiredScopeRejectsBareWildcard(t *testing.T) {
	_, err := requiredScope(Action, "Action", iamval.Id(iamval.One("*")))
	if err == nil {
		t.Fatal("expected error")
	}
	werr, ok := err.(*UnsupportedWildcardError)
	if !ok {
		t.Fatalf("expected *UnsupportedWildcardError, got %T", err)
	}
	if werr.Kind != "Action" {
		t.Errorf("Kind = %q, want Action", werr.Kind)
	}
}

func TestTranslatePrincipalDefaultsToWildcard(t *testing.T) {
	stmt := Statement{
		Effect:   expr.Allow,
		Action:   iamval.Id(iamval.One("s3:GetObject")),
		Resource: iamval.Id(iamval.One("arn:aws:s3:::my-bucket")),
	}
	out, err := Translate(stmt)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(out.Body) != 2 {
		t.Fatalf("Body has %d exprs, want 2 (principal omitted)", len(out.Body))
	}
}

func TestTranslateRejectsNotPrincipal(t *testing.T) {
	stmt := Statement{
		Effect:       expr.Allow,
		NotPrincipal: true,
		Action:       iamval.Id(iamval.One("s3:GetObject")),
		Resource:     iamval.Id(iamval.One("arn:aws:s3:::my-bucket")),
	}
	_, err := Translate(stmt)
	if _, ok := err.(*UnsupportedNegationError); !ok {
		t.Fatalf("expected *UnsupportedNegationError, got %v (%T)", err, err)
	}
}

func TestTranslateRejectsNonAWSPrincipal(t *testing.T) {
	stmt := Statement{
		Effect:       expr.Allow,
		HasPrincipal: true,
		Principal:    iamval.Id(iamval.One("arn:aws:iam::111111111111:root")),
		Action:       iamval.Id(iamval.One("s3:GetObject")),
		Resource:     iamval.Id(iamval.One("arn:aws:s3:::my-bucket")),
	}
	_, err := Translate(stmt)
	if _, ok := err.(*UnsupportedPrincipalTypeError); !ok {
		t.Fatalf("expected *UnsupportedPrincipalTypeError, got %v (%T)", err, err)
	}
}

func TestTranslateRejectsExplicitAWSWildcardPrincipal(t *testing.T) {
	stmt := Statement{
		Effect:                    expr.Allow,
		HasPrincipal:              true,
		PrincipalAWSOnly:          true,
		PrincipalExplicitWildcard: true,
		Principal:                 iamval.Id(iamval.One("*")),
		Action:                    iamval.Id(iamval.One("s3:GetObject")),
		Resource:                  iamval.Id(iamval.One("arn:aws:s3:::my-bucket")),
	}
	_, err := Translate(stmt)
	if _, ok := err.(*UnsupportedPrincipalTypeError); !ok {
		t.Fatalf("expected *UnsupportedPrincipalTypeError, got %v (%T)", err, err)
	}
}

func TestTranslateFullStatement(t *testing.T) {
	stmt := Statement{
		Effect:           expr.Allow,
		HasPrincipal:     true,
		PrincipalAWSOnly: true,
		Principal:        iamval.Id(iamval.One("arn:aws:iam::111111111111:root")),
		Action:           iamval.Id(iamval.One("s3:GetObject")),
		Resource:         iamval.Id(iamval.One("arn:aws:s3:::my-bucket/*")),
		Conditions:       condition.Source{},
	}
	out, err := Translate(stmt)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(out.Body) != 3 {
		t.Fatalf("Body has %d exprs, want 3", len(out.Body))
	}
	if out.Effect != expr.Allow {
		t.Errorf("Effect = %v, want Allow", out.Effect)
	}
}
