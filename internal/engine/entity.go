package engine

// Entity lifecycle states as reported by State.
const (
	StateNew      = "new"
	StateClean    = "clean"
	StateModified = "modified"
	StateDeleted  = "deleted"
)

// EntityNode is satisfied by *Entity and any consumer type embedding it.
type EntityNode interface {
	Node
	entityBase() *Entity
}

// Entity extends Object with the persistence lifecycle: new/deleted/child
// flags, derived modified and savable state, and the mark transitions the
// persistence layer drives. A freshly created entity is new and unmodified;
// it becomes modified on the first tracked property set outside a pause.
type Entity struct {
	Object
	isNew     bool
	isDeleted bool
	isChild   bool
}

// NewEntity creates a standalone entity in the New state.
func NewEntity() *Entity {
	e := &Entity{}
	e.Init()
	return e
}

// Init prepares an embedded Entity. Must be called exactly once.
func (e *Entity) Init() {
	e.Object.Init()
	e.isNew = true
}

// InitWithSequence prepares the entity using the given execution-id sequence.
func (e *Entity) InitWithSequence(seq *Sequence) {
	e.Object.InitWithSequence(seq)
	e.isNew = true
}

func (e *Entity) entityBase() *Entity { return e }

// IsNew reports whether the entity has never been persisted.
func (e *Entity) IsNew() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.isNew
}

// IsDeleted reports whether the entity is marked for (or has undergone) deletion.
func (e *Entity) IsDeleted() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.isDeleted
}

// IsChild reports whether the entity is owned by an aggregate. Children are
// persisted only through their root's save.
func (e *Entity) IsChild() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.isChild
}

// IsModified reports whether the entity, any child, or any child list's
// pending deletions carry unsaved changes.
func (e *Entity) IsModified() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.props.modifiedLocked()
}

// IsSelfModified considers own properties only.
func (e *Entity) IsSelfModified() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.props.selfModifiedLocked()
}

// IsSavable reports whether the entity may currently be the target of a
// persist operation: valid, carrying unsaved state, not busy and not a child.
// A new entity always carries unsaved state, even before its first tracked set.
func (e *Entity) IsSavable() bool {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	return e.props.validLocked() && (e.isNew || e.props.modifiedLocked()) && !e.props.busyLocked() && !e.isChild
}

// CheckSavable returns the invariant violation preventing a save, or nil.
// A child object is reported distinctly from the other gating conditions.
func (e *Entity) CheckSavable() error {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	if e.isChild {
		return ErrChildObject
	}
	if !e.props.validLocked() || !(e.isNew || e.props.modifiedLocked()) || e.props.busyLocked() {
		return ErrNotSavable
	}
	return nil
}

// State returns the derived lifecycle state name.
func (e *Entity) State() string {
	e.graph.mu.Lock()
	defer e.graph.mu.Unlock()
	switch {
	case e.isDeleted:
		return StateDeleted
	case e.isNew:
		return StateNew
	case e.props.modifiedLocked():
		return StateModified
	default:
		return StateClean
	}
}

// MarkOld transitions the entity to the Clean state after a load from source
// or a successful insert/update: not new, nothing modified, child lists'
// pending deletions accepted.
func (e *Entity) MarkOld() {
	e.graph.mu.Lock()
	e.isNew = false
	e.acceptChangesLocked()
	e.graph.mu.Unlock()
	e.refreshUp()
}

// MarkDeleted flags the entity for deletion. Removal from an owning list does
// this automatically for previously persisted items.
func (e *Entity) MarkDeleted() {
	e.graph.mu.Lock()
	e.isDeleted = true
	e.graph.mu.Unlock()
}

// MarkAsChild ties the entity to an aggregate. Set exactly once, when the
// entity joins an owning collection; never cleared afterwards.
func (e *Entity) MarkAsChild() {
	e.graph.mu.Lock()
	e.isChild = true
	e.graph.mu.Unlock()
}

// MarkDead finalizes a persisted deletion. The entity is terminal afterwards:
// property sets fail with ErrTerminal.
func (e *Entity) MarkDead() {
	e.graph.mu.Lock()
	e.isDeleted = true
	e.dead = true
	e.graph.mu.Unlock()
}

func (e *Entity) undeleteLocked() {
	e.isDeleted = false
}

// acceptChangesLocked clears the new flag along with the modified flags, so a
// child entity held directly as a property value becomes clean with its root.
func (e *Entity) acceptChangesLocked() {
	e.isNew = false
	e.Object.acceptChangesLocked()
}
