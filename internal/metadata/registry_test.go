package metadata

import (
	"context"
	"errors"
	"testing"

	"anchor-backend/internal/engine"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	defs := []*EntityDef{
		{
			Name:       "order",
			Table:      "orders",
			PrimaryKey: PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []Field{
				{Name: "id", Type: "uuid", ReadOnly: true},
				{Name: "status", Type: "string", Default: "draft",
					Enum: []string{"draft", "submitted"}},
				{Name: "customer", Type: "string", Required: true, DisplayName: "Customer"},
			},
			Children: []ChildDef{
				{Name: "lines", Entity: "order_line", ForeignKey: "order_id"},
			},
		},
		{
			Name:       "order_line",
			Table:      "order_lines",
			PrimaryKey: PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []Field{
				{Name: "id", Type: "uuid", ReadOnly: true},
				{Name: "order_id", Type: "uuid", Nullable: true},
				{Name: "product", Type: "string", Required: true},
				{Name: "qty", Type: "number"},
			},
			Rules: []RuleDef{
				{Type: "field", Field: "qty", Operator: "min", Value: 1,
					Message: "Quantity must be at least 1"},
			},
		},
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	return reg
}

func TestRegistry_RegisterRejectsCollision(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&EntityDef{
		Name:   "bad",
		Fields: []Field{{Name: "lines", Type: "string"}},
		Children: []ChildDef{
			{Name: "lines", Entity: "other", ForeignKey: "bad_id"},
		},
	})
	if err == nil {
		t.Fatal("expected collision error")
	}
}

func TestRegistry_NewInstance(t *testing.T) {
	reg := testRegistry(t)
	inst, err := reg.NewInstance("order")
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}

	if !inst.IsNew() {
		t.Fatal("fresh instance must be new")
	}
	if got := inst.Prop("status").Current(); got != "draft" {
		t.Fatalf("expected default draft, got %v", got)
	}
	if inst.IsModified() {
		t.Fatal("defaults must not mark the instance modified")
	}
	if !inst.Prop("id").IsReadOnly() {
		t.Fatal("id must be read-only")
	}
	if got := inst.Prop("customer").DisplayName(); got != "Customer" {
		t.Fatalf("expected display name Customer, got %v", got)
	}
	if inst.ChildList("lines") == nil {
		t.Fatal("expected child collection lines")
	}
}

func TestRegistry_NewInstanceUnknownEntity(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.NewInstance("ghost"); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestInstance_DeclaredRulesFire(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	inst, err := reg.NewInstance("order")
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}

	if err := inst.Prop("customer").SetValue(ctx, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if inst.IsValid() {
		t.Fatal("expected required violation")
	}

	if err := inst.Prop("status").SetValue(ctx, "bogus"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if inst.Prop("status").IsValid() {
		t.Fatal("expected enum violation")
	}

	if err := inst.Prop("customer").SetValue(ctx, "ACME"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := inst.Prop("status").SetValue(ctx, "submitted"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !inst.IsValid() {
		t.Fatal("expected valid instance after fixes")
	}
}

func TestInstance_ChildValidationGatesRoot(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	inst, err := reg.NewInstance("order")
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	inst.Prop("customer").LoadValue("ACME")

	line, err := reg.NewChildInstance(inst.Def(), "lines")
	if err != nil {
		t.Fatalf("new child: %v", err)
	}
	if err := inst.ChildList("lines").Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !line.IsChild() {
		t.Fatal("collection member must be a child")
	}
	if err := line.CheckSavable(); !errors.Is(err, engine.ErrChildObject) {
		t.Fatalf("expected ErrChildObject, got %v", err)
	}

	if err := line.Prop("product").SetValue(ctx, "widget"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := line.Prop("qty").SetValue(ctx, float64(0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if inst.IsValid() {
		t.Fatal("broken line must gate root validity")
	}

	if err := line.Prop("qty").SetValue(ctx, float64(2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !inst.IsValid() {
		t.Fatal("expected valid aggregate")
	}
}

func TestRegistry_RestoreInstance(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	inst, err := reg.NewInstance("order")
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	if err := inst.Prop("customer").SetValue(ctx, "ACME"); err != nil {
		t.Fatalf("set: %v", err)
	}
	line, err := reg.NewChildInstance(inst.Def(), "lines")
	if err != nil {
		t.Fatalf("new child: %v", err)
	}
	if err := inst.ChildList("lines").Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := line.Prop("product").SetValue(ctx, "widget"); err != nil {
		t.Fatalf("set: %v", err)
	}

	st := engine.Capture(inst)
	restored, err := reg.RestoreInstance("order", st)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := restored.Prop("customer").Current(); got != "ACME" {
		t.Fatalf("expected ACME, got %v", got)
	}
	if restored.ChildList("lines").Len() != 1 {
		t.Fatalf("expected one line, got %d", restored.ChildList("lines").Len())
	}
	member := restored.ChildList("lines").At(0).(*Instance)
	if got := member.Prop("product").Current(); got != "widget" {
		t.Fatalf("expected widget, got %v", got)
	}

	// The restored aggregate revalidates with the same rule identities.
	if err := restored.RunRules(ctx, engine.RuleScopeAll); err != nil {
		t.Fatalf("run rules: %v", err)
	}
	if err := restored.WaitForTasks(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !restored.IsValid() {
		t.Fatal("expected restored aggregate valid")
	}
}
