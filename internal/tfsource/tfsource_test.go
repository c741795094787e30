package tfsource

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTF(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadNativeHCLPolicyDocument(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
data "aws_iam_policy_document" "example" {
  statement {
    sid       = "AllowGet"
    effect    = "Allow"
    actions   = ["s3:GetObject"]
    resources = ["arn:aws:s3:::my-bucket/*"]

    principals {
      type        = "AWS"
      identifiers = ["arn:aws:iam::111111111111:root"]
    }

    condition {
      test     = "StringEquals"
      variable = "s3:prefix"
      values   = ["home/"]
    }
  }
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if len(docs[0].Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(docs[0].Statements))
	}

	stmt := docs[0].Statements[0]
	if !stmt.HasPrincipal || !stmt.PrincipalAWSOnly {
		t.Errorf("HasPrincipal=%v PrincipalAWSOnly=%v", stmt.HasPrincipal, stmt.PrincipalAWSOnly)
	}
	if !stmt.Action.Value.IsOne() || stmt.Action.Value.OneValue() != "s3:GetObject" {
		t.Errorf("Action = %+v", stmt.Action)
	}
	if len(stmt.Conditions.Entries) != 1 || stmt.Conditions.Entries[0].Operator != "StringEquals" {
		t.Errorf("Conditions = %+v", stmt.Conditions.Entries)
	}
}

func TestLoadJsonencodePolicyAttribute(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
resource "aws_iam_policy" "example" {
  name = "example"
  policy = jsonencode({
    Version = "2012-10-17"
    Statement = [{
      Effect   = "Allow"
      Action   = "s3:GetObject"
      Resource = "arn:aws:s3:::my-bucket/*"
    }]
  })
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if len(docs[0].Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(docs[0].Statements))
	}
}

func TestLoadStaticJSONStringPolicyAttribute(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
resource "aws_iam_role_policy" "example" {
  name = "example"
  role = "example-role"
  policy = "{\"Version\":\"2012-10-17\",\"Statement\":{\"Effect\":\"Allow\",\"Action\":\"s3:GetObject\",\"Resource\":\"arn:aws:s3:::my-bucket\"}}"
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
}

func TestLoadDynamicPolicyReferenceIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
resource "aws_iam_policy" "example" {
  name   = "example"
  policy = data.aws_iam_policy_document.other.json
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("got %d documents, want 0 for a dynamic reference", len(docs))
	}
}

func TestLoadFollowsLocalModuleCalls(t *testing.T) {
	dir := t.TempDir()
	childDir := filepath.Join(dir, "modules", "policy")
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	writeTF(t, dir, "main.tf", `
module "policy" {
  source = "./modules/policy"
}
`)
	writeTF(t, childDir, "main.tf", `
data "aws_iam_policy_document" "child" {
  statement {
    effect    = "Allow"
    actions   = ["s3:GetObject"]
    resources = ["arn:aws:s3:::child-bucket/*"]
  }
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1 (from the local module)", len(docs))
	}
}

func TestLoadNotPrincipalsBlock(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
data "aws_iam_policy_document" "example" {
  statement {
    effect    = "Deny"
    actions   = ["s3:GetObject"]
    resources = ["arn:aws:s3:::my-bucket/*"]

    not_principals {
      type        = "AWS"
      identifiers = ["arn:aws:iam::222222222222:root"]
    }
  }
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stmt := docs[0].Statements[0]
	if !stmt.NotPrincipal {
		t.Error("expected NotPrincipal=true")
	}
}

func TestLoadPrincipalsBlockExplicitAWSWildcard(t *testing.T) {
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `
data "aws_iam_policy_document" "example" {
  statement {
    effect    = "Allow"
    actions   = ["s3:GetObject"]
    resources = ["arn:aws:s3:::my-bucket/*"]

    principals {
      type        = "AWS"
      identifiers = ["*"]
    }
  }
}
`)

	docs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stmt := docs[0].Statements[0]
	if !stmt.PrincipalExplicitWildcard {
		t.Error("expected PrincipalExplicitWildcard=true for an AWS principals block with identifiers = [\"*\"]")
	}
}
