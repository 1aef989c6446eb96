package metadata

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"anchor-backend/internal/engine"
)

func fieldRuleTarget(t *testing.T, d RuleDef, value any) *engine.Object {
	t.Helper()
	o := engine.NewObject()
	o.AddProperty(d.Field)
	o.Prop(d.Field).LoadValue(value)
	return o
}

func TestRuleDef_Parsing(t *testing.T) {
	raw := `{
		"type": "field",
		"field": "total",
		"operator": "min",
		"value": 0,
		"message": "Total must be non-negative"
	}`
	var def RuleDef
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("parse field rule: %v", err)
	}
	if def.Field != "total" {
		t.Fatalf("expected field=total, got %s", def.Field)
	}
	if def.Operator != "min" {
		t.Fatalf("expected operator=min, got %s", def.Operator)
	}
	if def.Value != float64(0) {
		t.Fatalf("expected value=0, got %v", def.Value)
	}
}

func TestRuleDef_IdentityIsDeterministic(t *testing.T) {
	a := RuleDef{Type: "field", Field: "total", Operator: "min", Value: 0}
	b := RuleDef{Type: "field", Field: "total", Operator: "min", Value: 0}
	c := RuleDef{Type: "field", Field: "total", Operator: "min", Value: 10}
	if a.Identity() != b.Identity() {
		t.Fatalf("identical definitions must share identity: %s vs %s", a.Identity(), b.Identity())
	}
	if a.Identity() == c.Identity() {
		t.Fatal("same field+operator with different values must not share identity")
	}
	if !strings.HasPrefix(a.Identity(), "field:total:min:") {
		t.Fatalf("unexpected identity %s", a.Identity())
	}

	e1 := RuleDef{Type: "expression", Expression: "record.a > 1"}
	e2 := RuleDef{Type: "expression", Expression: "record.a > 1"}
	e3 := RuleDef{Type: "expression", Expression: "record.a > 2"}
	if e1.Identity() != e2.Identity() {
		t.Fatal("identical expressions must share identity")
	}
	if e1.Identity() == e3.Identity() {
		t.Fatal("different expressions must not share identity")
	}
}

func TestFieldRule_Required(t *testing.T) {
	d := RuleDef{Type: "field", Field: "name", Operator: "required", Message: "Name is required"}

	for _, tc := range []struct {
		value  any
		broken bool
	}{
		{nil, true},
		{"", true},
		{"Ada", false},
		{0, false}, // zero is a present value
	} {
		o := fieldRuleTarget(t, d, tc.value)
		msgs := evaluateFieldRule(d, o)
		if (len(msgs) > 0) != tc.broken {
			t.Fatalf("value %v: expected broken=%v, got %v", tc.value, tc.broken, msgs)
		}
	}
}

func TestFieldRule_MinMax(t *testing.T) {
	min := RuleDef{Type: "field", Field: "qty", Operator: "min", Value: 1}
	max := RuleDef{Type: "field", Field: "qty", Operator: "max", Value: 10}

	if msgs := evaluateFieldRule(min, fieldRuleTarget(t, min, float64(0))); len(msgs) != 1 {
		t.Fatalf("expected min violation, got %v", msgs)
	}
	if msgs := evaluateFieldRule(min, fieldRuleTarget(t, min, float64(1))); len(msgs) != 0 {
		t.Fatalf("expected min pass at threshold, got %v", msgs)
	}
	if msgs := evaluateFieldRule(max, fieldRuleTarget(t, max, float64(11))); len(msgs) != 1 {
		t.Fatalf("expected max violation, got %v", msgs)
	}
	// Absent values pass everything but required.
	if msgs := evaluateFieldRule(min, fieldRuleTarget(t, min, nil)); len(msgs) != 0 {
		t.Fatalf("nil must pass min, got %v", msgs)
	}
}

func TestFieldRule_Lengths(t *testing.T) {
	minLen := RuleDef{Type: "field", Field: "code", Operator: "min_length", Value: 3}
	maxLen := RuleDef{Type: "field", Field: "code", Operator: "max_length", Value: 5}

	if msgs := evaluateFieldRule(minLen, fieldRuleTarget(t, minLen, "ab")); len(msgs) != 1 {
		t.Fatalf("expected min_length violation, got %v", msgs)
	}
	if msgs := evaluateFieldRule(maxLen, fieldRuleTarget(t, maxLen, "abcdef")); len(msgs) != 1 {
		t.Fatalf("expected max_length violation, got %v", msgs)
	}
	if msgs := evaluateFieldRule(minLen, fieldRuleTarget(t, minLen, "abc")); len(msgs) != 0 {
		t.Fatalf("expected pass, got %v", msgs)
	}
}

func TestFieldRule_Pattern(t *testing.T) {
	d := RuleDef{Type: "field", Field: "email", Operator: "pattern", Value: `^[^@\s]+@[^@\s]+$`}

	if msgs := evaluateFieldRule(d, fieldRuleTarget(t, d, "not-an-email")); len(msgs) != 1 {
		t.Fatalf("expected pattern violation, got %v", msgs)
	}
	if msgs := evaluateFieldRule(d, fieldRuleTarget(t, d, "a@example.com")); len(msgs) != 0 {
		t.Fatalf("expected pattern pass, got %v", msgs)
	}
}

func TestFieldRule_Enum(t *testing.T) {
	d := RuleDef{Type: "field", Field: "status", Operator: "enum",
		Value: []any{"draft", "submitted"}}

	if msgs := evaluateFieldRule(d, fieldRuleTarget(t, d, "bogus")); len(msgs) != 1 {
		t.Fatalf("expected enum violation, got %v", msgs)
	}
	if msgs := evaluateFieldRule(d, fieldRuleTarget(t, d, "draft")); len(msgs) != 0 {
		t.Fatalf("expected enum pass, got %v", msgs)
	}
}

func TestFieldRule_DefaultMessage(t *testing.T) {
	d := RuleDef{Type: "field", Field: "qty", Operator: "min", Value: 1}
	msgs := evaluateFieldRule(d, fieldRuleTarget(t, d, float64(0)))
	if len(msgs) != 1 || msgs[0].Text != "field qty failed min validation" {
		t.Fatalf("unexpected default message: %v", msgs)
	}
}

func TestBuildRule_FieldRuleDispatches(t *testing.T) {
	ctx := context.Background()
	d := RuleDef{Type: "field", Field: "qty", Operator: "min", Value: 1,
		Message: "Quantity must be at least 1"}
	rule, err := BuildRule(d)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	o := engine.NewObject()
	o.AddProperty("qty")
	o.Rules().Add(rule)

	if err := o.Prop("qty").SetValue(ctx, float64(0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if o.IsValid() {
		t.Fatal("expected invalid")
	}
	if err := o.Prop("qty").SetValue(ctx, float64(2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !o.IsValid() {
		t.Fatal("expected valid")
	}
}

func TestBuildRule_SameFieldOperatorKeepSeparateSlots(t *testing.T) {
	ctx := context.Background()
	lower := RuleDef{Type: "field", Field: "code", Operator: "pattern", Value: "^[a-z]",
		Message: "Code must start with a lowercase letter"}
	digits := RuleDef{Type: "field", Field: "code", Operator: "pattern", Value: `[0-9]$`,
		Message: "Code must end with a digit"}

	o := engine.NewObject()
	o.AddProperty("code")
	for _, d := range []RuleDef{lower, digits} {
		rule, err := BuildRule(d)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		o.Rules().Add(rule)
	}

	// Violates both constraints: each rule must hold its own message.
	if err := o.Prop("code").SetValue(ctx, "X"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if msgs := o.Prop("code").Messages(); len(msgs) != 2 {
		t.Fatalf("expected both pattern rules to contribute, got %v", msgs)
	}

	// Fixes only the second constraint: the first rule's message survives.
	if err := o.Prop("code").SetValue(ctx, "X1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	msgs := o.Prop("code").Messages()
	if len(msgs) != 1 || msgs[0].Text != "Code must start with a lowercase letter" {
		t.Fatalf("expected only the lowercase message to remain, got %v", msgs)
	}

	if err := o.Prop("code").SetValue(ctx, "a1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !o.IsValid() {
		t.Fatal("expected valid once both constraints pass")
	}
}

func TestBuildRule_NoTriggersRejected(t *testing.T) {
	_, err := BuildRule(RuleDef{Type: "expression", Expression: "true"})
	if err == nil {
		t.Fatal("expected error for expression rule without triggers")
	}
}

func TestBuildRule_UnknownTypeRejected(t *testing.T) {
	_, err := BuildRule(RuleDef{Type: "magic", Field: "x"})
	if err == nil {
		t.Fatal("expected error for unknown rule type")
	}
}

func TestExpressionRule_Violation(t *testing.T) {
	ctx := context.Background()
	d := RuleDef{
		Type:       "expression",
		Expression: `record.status == "paid" && record.payment_date == nil`,
		Triggers:   []string{"status", "payment_date"},
		Message:    "Payment date is required when status is paid",
	}
	rule, err := BuildRule(d)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	o := engine.NewObject()
	o.AddProperty("status")
	o.AddProperty("payment_date")
	o.Rules().Add(rule)

	if err := o.Prop("status").SetValue(ctx, "paid"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if o.IsValid() {
		t.Fatal("expected violation: paid without payment date")
	}
	msgs := o.Prop("status").Messages()
	if len(msgs) != 1 || msgs[0].Text != "Payment date is required when status is paid" {
		t.Fatalf("unexpected messages: %v", msgs)
	}

	if err := o.Prop("payment_date").SetValue(ctx, "2026-08-29"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !o.IsValid() {
		t.Fatal("expected valid after setting payment date")
	}
}

func TestExpressionRule_CompileErrorSurfacesAtBuild(t *testing.T) {
	_, err := BuildRule(RuleDef{
		Type:       "expression",
		Expression: "record.status ==",
		Triggers:   []string{"status"},
	})
	if err == nil {
		t.Fatal("expected compile error at build time")
	}
}
