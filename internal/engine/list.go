package engine

import "context"

// List is an ordered collection of child validatable objects. The list is
// transparent for ownership: members' parent is the list's owning object,
// not the list itself.
type List struct {
	owner *Object
	items []Node
}

// NewList creates a list owned by the given object or entity.
func NewList(owner Node) *List {
	return &List{owner: owner.base()}
}

// Add appends a child. An item that already belongs to another aggregate is
// rejected with ErrAggregateBoundary; so is an item that already has an owner.
func (l *List) Add(item Node) error {
	b := item.base()
	g := l.owner.graph
	g.mu.Lock()
	if b.parent != nil {
		g.mu.Unlock()
		return ErrAggregateBoundary
	}
	b.adoptGraph(g)
	b.parent = l.owner
	l.items = append(l.items, item)
	g.mu.Unlock()
	l.owner.refreshUp()
	return nil
}

// Remove detaches a child from the list. Returns false when the item is not a member.
func (l *List) Remove(item Node) bool {
	g := l.owner.graph
	g.mu.Lock()
	idx := -1
	for i, it := range l.items {
		if it.base() == item.base() {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	g.mu.Unlock()
	l.owner.refreshUp()
	return true
}

// Len returns the number of members.
func (l *List) Len() int {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return len(l.items)
}

// At returns the member at index i.
func (l *List) At(i int) Node {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.items[i]
}

// Items returns the members in order.
func (l *List) Items() []Node {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	out := make([]Node, len(l.items))
	copy(out, l.items)
	return out
}

// IsValid reports whether every member is valid.
func (l *List) IsValid() bool {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.validLocked()
}

// IsBusy reports whether any member is busy.
func (l *List) IsBusy() bool {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.busyLocked()
}

// graphMember implementation.

func (l *List) validLocked() bool {
	for _, it := range l.items {
		if !it.base().validLocked() {
			return false
		}
	}
	return true
}

func (l *List) busyLocked() bool {
	for _, it := range l.items {
		if it.base().busyLocked() {
			return true
		}
	}
	return false
}

func (l *List) modifiedLocked() bool {
	for _, it := range l.items {
		if it.base().modifiedLocked() {
			return true
		}
	}
	return false
}

func (l *List) adoptGraph(g *graph) {
	for _, it := range l.items {
		it.base().adoptGraph(g)
	}
}

func (l *List) collectTasks(out *[]*taskSet) {
	for _, it := range l.items {
		it.base().collectTasks(out)
	}
}

func (l *List) reRunRules(ctx context.Context) error {
	for _, it := range l.Items() {
		if err := it.base().RunRules(ctx, RuleScopeAll); err != nil {
			return err
		}
	}
	return nil
}

func (l *List) acceptChangesLocked() {
	for _, it := range l.items {
		it.base().acceptChangesLocked()
	}
}
