// Package iamrego compiles AWS IAM policy documents into a Rego-compatible
// target policy language and, given a caller-supplied evaluation engine,
// decides requests against them. Translation is the whole of what this
// module does: the engine that actually runs compiled text is injected by
// the caller, never implemented here.
package iamrego

import (
	"context"
	"fmt"
	"io"

	"github.com/mizzy/iamrego/internal/assemble"
	"github.com/mizzy/iamrego/internal/iamjson"
	"github.com/mizzy/iamrego/internal/tfsource"
)

// Engine is the external collaborator that actually evaluates compiled
// target-language text. PolicyBuilder and Evaluator never parse or run Rego
// themselves; they only build program text and hand it to an Engine.
type Engine interface {
	AddPolicy(name, text string) error
	AddData(data any) error
	Eval(ctx context.Context, entrypoint string, input any) (bool, error)
}

// PolicyBuilder accumulates IAM policy documents, either as raw JSON or
// discovered inside Terraform configuration, ready to be compiled into an
// Evaluator.
type PolicyBuilder struct {
	engine    Engine
	documents []*iamjson.Document
}

// NewPolicyBuilder returns a builder that will drive engine once compiled.
func NewPolicyBuilder(engine Engine) *PolicyBuilder {
	return &PolicyBuilder{engine: engine}
}

// AddPolicy parses one IAM policy document from r and stages it for
// compilation. An arbitrary number of documents may be added; they are all
// compiled and loaded into the engine together.
func (b *PolicyBuilder) AddPolicy(r io.Reader) error {
	doc, err := iamjson.Parse(r)
	if err != nil {
		return fmt.Errorf("parsing policy: %w", err)
	}

	b.documents = append(b.documents, doc)
	return nil
}

// AddTerraform scans dir for aws_iam_policy_document data sources and
// jsonencode(...) policy attributes, staging each as a policy document.
func (b *PolicyBuilder) AddTerraform(dir string) error {
	docs, err := tfsource.Load(dir)
	if err != nil {
		return fmt.Errorf("loading terraform source: %w", err)
	}

	b.documents = append(b.documents, docs...)
	return nil
}

// AddData injects static context data shared across every decision made by
// the compiled Evaluator. Request-specific data is supplied separately, at
// evaluation time.
func (b *PolicyBuilder) AddData(data any) error {
	if err := b.engine.AddData(data); err != nil {
		return fmt.Errorf("adding engine data: %w", err)
	}
	return nil
}

// Compile translates every staged document and loads the result into the
// engine, returning an Evaluator ready to decide requests.
func (b *PolicyBuilder) Compile() (*Evaluator, error) {
	policies := make([]*assemble.Policy, 0, len(b.documents))

	for i, doc := range b.documents {
		policy, err := assemble.Compile(context.Background(), doc.Statements)
		if err != nil {
			return nil, fmt.Errorf("compiling document %d: %w", i, err)
		}
		policies = append(policies, policy)
	}

	for i, policy := range policies {
		text, err := policy.Render()
		if err != nil {
			return nil, fmt.Errorf("rendering document %d: %w", i, err)
		}

		if err := b.engine.AddPolicy(fmt.Sprintf("policy_%d.rego", i), text); err != nil {
			return nil, fmt.Errorf("loading document %d into engine: %w", i, err)
		}
	}

	return &Evaluator{engine: b.engine, policies: policies}, nil
}

// Evaluator owns one or more compiled policies, loaded into an Engine, and
// decides requests against them.
type Evaluator struct {
	engine   Engine
	policies []*assemble.Policy
}

// Evaluate decides whether input is allowed under the compiled policies.
// input must match the request shape named in the compiled rules:
// "principal", "action", "resource", plus any freeform nested attributes
// the policies' conditions reference.
func (e *Evaluator) Evaluate(ctx context.Context, input any) (bool, error) {
	allowed, err := e.engine.Eval(ctx, "data.main.allow", input)
	if err != nil {
		return false, fmt.Errorf("evaluating request: %w", err)
	}
	return allowed, nil
}

// Rendered exposes the compiled policies, each of which can serialize
// itself back to target-language text.
func (e *Evaluator) Rendered() []*assemble.Policy {
	return e.policies
}
