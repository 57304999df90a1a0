// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// CELEvaluator compiles `when` expressions evaluated against a target
type CELEvaluator struct {
	env *cel.Env
}

// Condition is a compiled expression, safe for concurrent evaluation
type Condition struct {
	expression string
	program    cel.Program
}

// NewCELEvaluator creates a new CEL evaluator exposing the `target` variable
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	return &CELEvaluator{env: env}, nil
}

// Compile parses and type-checks an expression once so it can be evaluated per target
func (e *CELEvaluator) Compile(expression string) (*Condition, error) {
	ast, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error parsing expression: %w", issues.Err())
	}

	checked, issues := e.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error type-checking expression: %w", issues.Err())
	}

	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to a boolean, got %s", checked.OutputType())
	}

	program, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("error compiling expression: %w", err)
	}

	return &Condition{expression: expression, program: program}, nil
}

// EvaluateExpression compiles and evaluates an expression against a target in one step
func (e *CELEvaluator) EvaluateExpression(expression string, target models.Target) (bool, error) {
	c, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	return c.Evaluate(target)
}

// String returns the source expression
func (c *Condition) String() string {
	return c.expression
}

// Evaluate runs the compiled expression against a target
func (c *Condition) Evaluate(target models.Target) (bool, error) {
	result, _, err := c.program.Eval(map[string]interface{}{
		"target": TargetVars(target),
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating expression: %w", err)
	}

	if result.Type() != types.BoolType {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}

	return result.Value().(bool), nil
}

// TargetVars is the map bound to `target` in expressions
func TargetVars(t models.Target) map[string]interface{} {
	md := make(map[string]interface{}, len(t.Metadata))
	for k, v := range t.Metadata {
		md[k] = v
	}
	return map[string]interface{}{
		"id":           t.ID,
		"category":     string(t.Category),
		"payload":      string(t.Payload),
		"payload_size": len(t.Payload),
		"metadata":     md,
	}
}
