package engine

import "context"

// EntityList is an ordered collection of child entities belonging to one
// aggregate. Beyond List semantics it tracks pending deletions: removing a
// previously persisted member parks it in the deleted set until the aggregate
// root saves successfully. Deleted members stay addressable (and keep their
// parent/root links) so they can be restored or persisted as deletes.
type EntityList struct {
	owner   *Object
	items   []EntityNode
	deleted []EntityNode
}

// NewEntityList creates a child collection owned by the given entity.
func NewEntityList(owner EntityNode) *EntityList {
	return &EntityList{owner: owner.base()}
}

// Add appends a child entity. Re-adding a member of this aggregate's deleted
// set undeletes it instead of treating it as brand new. An item owned by a
// different aggregate is rejected with ErrAggregateBoundary, leaving both
// aggregates unchanged; an active member of this same aggregate is rejected
// with ErrAlreadyMember.
func (l *EntityList) Add(item EntityNode) error {
	b := item.base()
	ent := item.entityBase()
	g := l.owner.graph
	g.mu.Lock()
	for i, d := range l.deleted {
		if d.base() == b {
			// Intra-aggregate re-add: restore instead of append-as-new.
			l.deleted = append(l.deleted[:i], l.deleted[i+1:]...)
			ent.undeleteLocked()
			l.items = append(l.items, item)
			g.mu.Unlock()
			l.owner.refreshUp()
			return nil
		}
	}
	if b.parent != nil {
		err := ErrAggregateBoundary
		if b.rootOrSelfLocked() == l.owner.rootOrSelfLocked() {
			err = ErrAlreadyMember
		}
		g.mu.Unlock()
		return err
	}
	b.adoptGraph(g)
	b.parent = l.owner
	ent.isChild = true
	l.items = append(l.items, item)
	g.mu.Unlock()
	l.owner.refreshUp()
	return nil
}

// Remove detaches a member. A never-persisted member is discarded outright;
// a persisted one is marked deleted and moved to the deleted set. Returns
// false when the item is not an active member.
func (l *EntityList) Remove(item EntityNode) bool {
	b := item.base()
	ent := item.entityBase()
	g := l.owner.graph
	g.mu.Lock()
	idx := -1
	for i, it := range l.items {
		if it.base() == b {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	if ent.isNew {
		// Never persisted: discard outright and release ownership.
		b.parent = nil
	} else {
		ent.isDeleted = true
		l.deleted = append(l.deleted, item)
	}
	g.mu.Unlock()
	l.owner.refreshUp()
	return true
}

// Len returns the number of active members.
func (l *EntityList) Len() int {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return len(l.items)
}

// At returns the active member at index i.
func (l *EntityList) At(i int) EntityNode {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.items[i]
}

// Items returns the active members in order.
func (l *EntityList) Items() []EntityNode {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	out := make([]EntityNode, len(l.items))
	copy(out, l.items)
	return out
}

// DeletedItems returns the members pending deletion.
func (l *EntityList) DeletedItems() []EntityNode {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	out := make([]EntityNode, len(l.deleted))
	copy(out, l.deleted)
	return out
}

// IsValid reports whether every active member is valid. Pending deletions do
// not block validity.
func (l *EntityList) IsValid() bool {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.validLocked()
}

// IsBusy reports whether any active member is busy.
func (l *EntityList) IsBusy() bool {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.busyLocked()
}

// IsModified reports whether any active member is modified or a deletion is pending.
func (l *EntityList) IsModified() bool {
	l.owner.graph.mu.Lock()
	defer l.owner.graph.mu.Unlock()
	return l.modifiedLocked()
}

// AcceptChanges finalizes a successful aggregate save: members become clean
// and not-new, pending deletions are finalized and their linkage to the
// now-obsolete deletion context released.
func (l *EntityList) AcceptChanges() {
	l.owner.graph.mu.Lock()
	l.acceptChangesLocked()
	l.owner.graph.mu.Unlock()
	l.owner.refreshUp()
}

// graphMember implementation.

func (l *EntityList) validLocked() bool {
	for _, it := range l.items {
		if !it.base().validLocked() {
			return false
		}
	}
	return true
}

func (l *EntityList) busyLocked() bool {
	for _, it := range l.items {
		if it.base().busyLocked() {
			return true
		}
	}
	return false
}

func (l *EntityList) modifiedLocked() bool {
	if len(l.deleted) > 0 {
		return true
	}
	for _, it := range l.items {
		if it.base().modifiedLocked() {
			return true
		}
	}
	return false
}

func (l *EntityList) adoptGraph(g *graph) {
	for _, it := range l.items {
		it.base().adoptGraph(g)
	}
	for _, it := range l.deleted {
		it.base().adoptGraph(g)
	}
}

func (l *EntityList) collectTasks(out *[]*taskSet) {
	for _, it := range l.items {
		it.base().collectTasks(out)
	}
	for _, it := range l.deleted {
		it.base().collectTasks(out)
	}
}

func (l *EntityList) reRunRules(ctx context.Context) error {
	for _, it := range l.Items() {
		if err := it.base().RunRules(ctx, RuleScopeAll); err != nil {
			return err
		}
	}
	return nil
}

func (l *EntityList) acceptChangesLocked() {
	for _, it := range l.items {
		ent := it.entityBase()
		ent.isNew = false
		ent.Object.acceptChangesLocked()
	}
	for _, it := range l.deleted {
		ent := it.entityBase()
		ent.dead = true
		ent.parent = nil
	}
	l.deleted = nil
}
