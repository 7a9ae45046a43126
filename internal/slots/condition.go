package slots

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Condition is a pure predicate over a render context. A registration whose
// condition returns false is filtered out of resolution; a nil condition
// always passes.
type Condition func(rc RenderContext) bool

// ExprCondition compiles an HCL expression (e.g. `page == "thread"`) into a
// Condition evaluated against the render context's variables. An expression
// that fails to evaluate, or evaluates to a non-boolean, filters the
// registration out rather than failing the render.
func ExprCondition(src string) (Condition, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "condition", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse condition %q: %w", src, diags)
	}

	return func(rc RenderContext) bool {
		evalCtx := &hcl.EvalContext{Variables: rc}
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return false
		}
		if val.Type() != cty.Bool || val.IsNull() || !val.IsKnown() {
			return false
		}
		return val.True()
	}, nil
}
