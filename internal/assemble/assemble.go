// Package assemble builds one compiled policy: the fixed preamble plus every
// translated statement, in input order. Compile translates a single
// document's statements concurrently, since each statement's translation is
// pure and independently owned, and recombines the results by index.
package assemble

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mizzy/iamrego/internal/expr"
	"github.com/mizzy/iamrego/internal/translate"
)

// preamble declares the target program's package, default decision values,
// and the to_array/arn_like helpers every emitted statement may call.
const preamble = `package main
default allow = false
default deny = false
default permit = false
to_array(x) := x if { is_array(x) }
to_array(x) := [x] if { not is_array(x) }
arn_like(lhs, rhs) if {
  count(indexof_n(lhs, ":")) == 5
  count(indexof_n(rhs, ":")) == 5
  glob.match(lhs, [":"], rhs)
}
allow if {
  permit
  not deny
}
`

// Policy is one compiled IAM document: a sequence of translated statements
// that, together with the preamble, forms a complete target-language
// program.
type Policy struct {
	statements []expr.Statement
}

// Render serializes the policy to target-language text. Conditions are
// re-expanded from their unrendered form at this point, so Render may be
// called more than once and always returns the same text.
func (p *Policy) Render() (string, error) {
	var b strings.Builder
	b.WriteString(preamble)

	for _, s := range p.statements {
		if err := s.Render(&b); err != nil {
			return "", err
		}
	}

	return b.String(), nil
}

// Compile translates every statement of one decoded document concurrently,
// then recombines the results by index so program order never depends on
// goroutine completion order.
func Compile(ctx context.Context, statements []translate.Statement) (*Policy, error) {
	rendered := make([]expr.Statement, len(statements))

	g, _ := errgroup.WithContext(ctx)
	for i, s := range statements {
		g.Go(func() error {
			st, err := translate.Translate(s)
			if err != nil {
				return err
			}
			rendered[i] = st
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Policy{statements: rendered}, nil
}
