package metadata

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"

	"anchor-backend/internal/engine"
)

// RuleDef is a declarative validation constraint. At registration time it is
// translated into an ordinary engine rule with a synthesized deterministic
// identity, so reconstructed objects re-associate messages correctly and the
// engine never special-cases definition-derived rules.
type RuleDef struct {
	Type       string   `json:"type"` // "field" or "expression"
	Field      string   `json:"field,omitempty"`
	Operator   string   `json:"operator,omitempty"` // required, min, max, min_length, max_length, pattern, enum
	Value      any      `json:"value,omitempty"`
	Message    string   `json:"message,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Triggers   []string `json:"triggers,omitempty"` // expression rules; field rules default to the field
	Order      int      `json:"order,omitempty"`
	Async      bool     `json:"async,omitempty"`
}

// Identity returns the deterministic rule-identity token for this definition.
// The constraint value participates so two rules sharing a field and operator
// (two pattern rules, say) keep separate message slots.
func (d RuleDef) Identity() string {
	h := fnv.New32a()
	if d.Type == "expression" {
		h.Write([]byte(d.Expression))
		return fmt.Sprintf("expr:%08x", h.Sum32())
	}
	fmt.Fprintf(h, "%v", d.Value)
	return fmt.Sprintf("field:%s:%s:%08x", d.Field, d.Operator, h.Sum32())
}

func (d RuleDef) triggers() []string {
	if len(d.Triggers) > 0 {
		return d.Triggers
	}
	if d.Field != "" {
		return []string{d.Field}
	}
	return nil
}

// BuildRule translates a definition into an engine rule.
func BuildRule(d RuleDef) (engine.Rule, error) {
	triggers := d.triggers()
	if len(triggers) == 0 {
		return nil, fmt.Errorf("rule %s: no trigger properties", d.Identity())
	}

	var fn func(ctx context.Context, obj *engine.Object) ([]engine.Message, error)
	switch d.Type {
	case "field":
		def := d
		fn = func(ctx context.Context, obj *engine.Object) ([]engine.Message, error) {
			return evaluateFieldRule(def, obj), nil
		}
	case "expression":
		prog, err := CompileExpression(d.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.Identity(), err)
		}
		def := d
		fn = func(ctx context.Context, obj *engine.Object) ([]engine.Message, error) {
			return evaluateExpressionRule(def, prog, obj)
		}
	default:
		return nil, fmt.Errorf("rule %s: unknown type %q", d.Identity(), d.Type)
	}

	if d.Async {
		return engine.NewAsyncRule(d.Identity(), triggers, fn).WithOrder(d.Order), nil
	}
	return engine.NewRule(d.Identity(), triggers, fn).WithOrder(d.Order), nil
}

// evaluateFieldRule checks one field operator against the property's current
// value. Absent values pass every operator except "required".
func evaluateFieldRule(d RuleDef, obj *engine.Object) []engine.Message {
	p := obj.Prop(d.Field)
	if p == nil {
		return []engine.Message{{Property: d.Field, Text: fmt.Sprintf("unknown field %s", d.Field)}}
	}
	val := p.Current()

	msg := d.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", d.Field, d.Operator)
	}
	broken := []engine.Message{{Property: d.Field, Text: msg}}

	if d.Operator == "required" {
		if val == nil {
			return broken
		}
		if s, ok := val.(string); ok && s == "" {
			return broken
		}
		return nil
	}
	if val == nil {
		return nil
	}

	switch d.Operator {
	case "min":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(d.Value)
		if ok && num < threshold {
			return broken
		}

	case "max":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(d.Value)
		if ok && num > threshold {
			return broken
		}

	case "min_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(d.Value)
		if ok && len(s) < int(threshold) {
			return broken
		}

	case "max_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(d.Value)
		if ok && len(s) > int(threshold) {
			return broken
		}

	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		pattern, ok := d.Value.(string)
		if !ok {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return broken
		}

	case "enum":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		for _, allowed := range toStrings(d.Value) {
			if s == allowed {
				return nil
			}
		}
		return broken
	}

	return nil
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
