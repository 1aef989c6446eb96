package metadata

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"anchor-backend/internal/engine"
)

// CompileExpression compiles a boolean expression rule. The expression sees
// the environment {record: {<property>: <value>, ...}} and is violated when
// it evaluates true.
func CompileExpression(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prog, nil
}

// evaluateExpressionRule runs a compiled expression rule against the object's
// current property values.
func evaluateExpressionRule(d RuleDef, prog *vm.Program, obj *engine.Object) ([]engine.Message, error) {
	env := map[string]any{
		"record": recordEnv(obj),
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate rule %s: %w", d.Identity(), err)
	}

	violated, ok := result.(bool)
	if !ok || !violated {
		return nil, nil
	}
	msg := d.Message
	if msg == "" {
		msg = "Expression rule violated"
	}
	return []engine.Message{{Property: d.triggers()[0], Text: msg}}, nil
}

// recordEnv flattens the object's scalar property values for expression
// evaluation. Child objects and collections are not exposed to expressions.
func recordEnv(obj *engine.Object) map[string]any {
	out := make(map[string]any)
	for _, p := range obj.Properties().All() {
		v := p.Current()
		if _, ok := v.(interface{ IsValid() bool }); ok {
			continue
		}
		out[p.Name()] = v
	}
	return out
}
