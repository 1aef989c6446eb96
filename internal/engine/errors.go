package engine

import "errors"

var (
	// ErrChildObject is returned when a save is attempted on a child
	// object directly. Children are persisted only through their
	// aggregate root.
	ErrChildObject = errors.New("object is a child of an aggregate and cannot be saved directly")

	// ErrNotSavable is returned when an entity is not in a savable state
	// (invalid, unchanged, busy, or a child).
	ErrNotSavable = errors.New("object is not in a savable state")

	// ErrAggregateBoundary is returned when an item already owned by one
	// aggregate is added to a collection belonging to another.
	ErrAggregateBoundary = errors.New("item belongs to a different aggregate")

	// ErrAlreadyMember is returned when an item that already belongs to
	// this aggregate is added again.
	ErrAlreadyMember = errors.New("item is already a member of this aggregate")

	// ErrTerminal is returned when a property set is attempted on an
	// entity whose deletion has already been persisted.
	ErrTerminal = errors.New("object has been deleted and can no longer be modified")

	// ErrReadOnly is returned when a read-only property is set through
	// the normal write path.
	ErrReadOnly = errors.New("property is read-only")

	// ErrUnknownProperty is returned by name-based access for a property
	// that was never registered.
	ErrUnknownProperty = errors.New("unknown property")
)
