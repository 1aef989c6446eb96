package server

import (
	"context"
	"testing"
	"time"

	"anchor-backend/internal/engine"
	"anchor-backend/internal/metadata"
)

func jobRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	reg := metadata.NewRegistry()
	err := reg.Register(&metadata.EntityDef{
		Name:       "job",
		Table:      "jobs",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid"},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "state", Type: "string"},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestHandler_RuleTimeoutBoundsOperations(t *testing.T) {
	reg := jobRegistry(t)
	h := NewHandler(nil, nil, reg, nil, 30)

	ctx, cancel := h.opContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline from the configured rule timeout")
	}

	// A rule that never finishes on its own; it must observe the operation
	// deadline and convert to a cancellation message.
	inst, err := reg.NewInstance("job")
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	inst.Rules().Add(engine.NewAsyncRule("state:remote_check", []string{"state"},
		func(ctx context.Context, obj *engine.Object) ([]engine.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	if err := inst.Prop("state").SetValue(ctx, "running"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := inst.WaitForTasks(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	msgs := inst.Prop("state").Messages()
	if len(msgs) != 1 || msgs[0].Text != engine.CancelledText {
		t.Fatalf("expected cancellation message, got %v", msgs)
	}
	if inst.IsValid() {
		t.Fatal("expected invalid after cancelled validation")
	}
}

func TestHandler_ZeroTimeoutLeavesOperationsUnbounded(t *testing.T) {
	h := NewHandler(nil, nil, jobRegistry(t), nil, 0)
	ctx, cancel := h.opContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("expected no deadline when the timeout is disabled")
	}
	if h.ruleTimeout != 0 {
		t.Fatalf("expected zero timeout, got %v", h.ruleTimeout)
	}
}

func TestHandler_RuleTimeoutFromMillis(t *testing.T) {
	h := NewHandler(nil, nil, jobRegistry(t), nil, 5000)
	if h.ruleTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %v", h.ruleTimeout)
	}
}
