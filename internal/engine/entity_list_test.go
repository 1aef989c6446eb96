package engine

import (
	"context"
	"errors"
	"testing"
)

func newInvoiceRoot() (*Entity, *EntityList) {
	root := NewEntity()
	root.AddProperty("number")
	list := NewEntityList(root)
	root.AddChildProperty("lines", list)
	return root, list
}

func newLine(t *testing.T, product string) *Entity {
	t.Helper()
	line := NewEntity()
	line.AddProperty("product")
	line.AddProperty("qty")
	line.Prop("product").LoadValue(product)
	return line
}

func TestEntityList_AddSetsOwnership(t *testing.T) {
	root, list := newInvoiceRoot()
	line := newLine(t, "widget")

	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !line.IsChild() {
		t.Fatal("added member must become a child")
	}
	// Parent is the owning entity, not the collection.
	if line.Parent() != root.base() {
		t.Fatal("member parent must be the owning entity")
	}
	if line.Root() != root.base() {
		t.Fatal("member root must be the aggregate root")
	}
	if root.Root() != nil {
		t.Fatal("root of the aggregate root must be nil")
	}
	if list.Len() != 1 || list.At(0) != EntityNode(line) {
		t.Fatalf("expected one member, got %d", list.Len())
	}
}

func TestEntityList_CrossAggregateAddRejected(t *testing.T) {
	_, listA := newInvoiceRoot()
	_, listB := newInvoiceRoot()
	line := newLine(t, "widget")

	if err := listA.Add(line); err != nil {
		t.Fatalf("add to A: %v", err)
	}
	err := listB.Add(line)
	if !errors.Is(err, ErrAggregateBoundary) {
		t.Fatalf("expected ErrAggregateBoundary, got %v", err)
	}
	// A is unchanged by the failed add.
	if listA.Len() != 1 {
		t.Fatalf("aggregate A must keep its member, got %d", listA.Len())
	}
	if listB.Len() != 0 {
		t.Fatalf("aggregate B must remain empty, got %d", listB.Len())
	}
}

func TestEntityList_DuplicateAddRejectedAsMember(t *testing.T) {
	_, list := newInvoiceRoot()
	line := newLine(t, "widget")

	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := list.Add(line)
	if !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if errors.Is(err, ErrAggregateBoundary) {
		t.Fatal("intra-aggregate duplicate must not read as a boundary violation")
	}
	if list.Len() != 1 {
		t.Fatalf("expected one member after failed duplicate add, got %d", list.Len())
	}
}

func TestEntityList_RemoveNewMemberDiscards(t *testing.T) {
	_, list := newInvoiceRoot()
	line := newLine(t, "widget")
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !list.Remove(line) {
		t.Fatal("expected removal to succeed")
	}
	if list.Len() != 0 {
		t.Fatalf("expected empty list, got %d", list.Len())
	}
	if got := len(list.DeletedItems()); got != 0 {
		t.Fatalf("never-persisted member must not enter the deleted set, got %d", got)
	}
	if line.IsDeleted() {
		t.Fatal("discarded new member must not be marked deleted")
	}
}

func TestEntityList_RemoveLoadedMemberParksDeletion(t *testing.T) {
	root, list := newInvoiceRoot()
	line := newLine(t, "widget")
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	line.MarkOld()

	if !list.Remove(line) {
		t.Fatal("expected removal to succeed")
	}
	if list.Len() != 0 {
		t.Fatalf("expected empty active list, got %d", list.Len())
	}
	deleted := list.DeletedItems()
	if len(deleted) != 1 || deleted[0] != EntityNode(line) {
		t.Fatalf("expected one pending deletion, got %v", deleted)
	}
	if !line.IsDeleted() {
		t.Fatal("parked member must be marked deleted")
	}
	// The deleted member still belongs to its aggregate.
	if line.Parent() != root.base() {
		t.Fatal("pending deletion must keep its parent link")
	}
	if !root.IsModified() {
		t.Fatal("a pending deletion counts as unsaved change")
	}
}

func TestEntityList_ReAddUndeletes(t *testing.T) {
	_, list := newInvoiceRoot()
	line := newLine(t, "widget")
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	line.MarkOld()
	list.Remove(line)

	if err := list.Add(line); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if line.IsDeleted() {
		t.Fatal("re-added member must be undeleted")
	}
	if line.IsNew() {
		t.Fatal("re-added member must not be treated as new")
	}
	if got := len(list.DeletedItems()); got != 0 {
		t.Fatalf("deleted set must be empty after re-add, got %d", got)
	}
	if list.Len() != 1 {
		t.Fatalf("expected one active member, got %d", list.Len())
	}
}

func TestEntityList_ValidityIgnoresPendingDeletions(t *testing.T) {
	ctx := context.Background()
	root, list := newInvoiceRoot()
	line := newLine(t, "widget")
	line.Rules().Add(requiredRule("product"))
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	line.MarkOld()

	if err := line.Prop("product").SetValue(ctx, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if root.IsValid() {
		t.Fatal("root must be invalid while a member is broken")
	}

	list.Remove(line)
	if !root.IsValid() {
		t.Fatal("pending deletions must not block validity")
	}
	if !list.IsValid() {
		t.Fatal("list must ignore pending deletions for validity")
	}
}

func TestEntityList_AcceptChangesFinalizesDeletions(t *testing.T) {
	ctx := context.Background()
	_, list := newInvoiceRoot()
	line := newLine(t, "widget")
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	line.MarkOld()
	list.Remove(line)

	list.AcceptChanges()
	if got := len(list.DeletedItems()); got != 0 {
		t.Fatalf("expected finalized deletions, got %d", got)
	}
	if list.IsModified() {
		t.Fatal("list must be unmodified after AcceptChanges")
	}
	// The finalized member is terminal.
	if err := line.Prop("qty").SetValue(ctx, 2); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal on finalized member, got %v", err)
	}
}

func TestEntityList_ChildModificationBubblesToRoot(t *testing.T) {
	ctx := context.Background()
	root, list := newInvoiceRoot()
	line := newLine(t, "widget")
	if err := list.Add(line); err != nil {
		t.Fatalf("add: %v", err)
	}
	root.MarkOld()

	if root.IsModified() {
		t.Fatal("expected clean aggregate after MarkOld")
	}
	if err := line.Prop("qty").SetValue(ctx, 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !root.IsModified() {
		t.Fatal("child modification must bubble to the root")
	}
	if root.IsSelfModified() {
		t.Fatal("root's own properties are untouched")
	}
}
