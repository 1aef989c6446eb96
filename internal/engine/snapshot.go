package engine

import "fmt"

// PropertyState is one property's captured value for transport.
type PropertyState struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Modified bool   `json:"modified,omitempty"`
}

// ListState captures a child collection: active members plus pending deletions.
type ListState struct {
	Items   []*EntityState `json:"items"`
	Deleted []*EntityState `json:"deleted,omitempty"`
}

// EntityState captures an entity for reconstruction across a process
// boundary: values, lifecycle flags and child membership. Busy state and
// in-progress rule messages are not captured; rules are
// re-run after restore, and deterministic rule identities re-associate
// their message contributions.
type EntityState struct {
	IsNew      bool                  `json:"is_new"`
	IsDeleted  bool                  `json:"is_deleted"`
	IsChild    bool                  `json:"is_child"`
	Properties []PropertyState       `json:"properties"`
	Children   map[string]*ListState `json:"children,omitempty"`
}

// Capture snapshots an entity and its child collections.
func Capture(e EntityNode) *EntityState {
	ent := e.entityBase()
	ent.graph.mu.Lock()
	defer ent.graph.mu.Unlock()
	return captureLocked(ent)
}

func captureLocked(ent *Entity) *EntityState {
	st := &EntityState{
		IsNew:     ent.isNew,
		IsDeleted: ent.isDeleted,
		IsChild:   ent.isChild,
	}
	for _, name := range ent.props.names {
		p := ent.props.byName[name]
		if list, ok := p.value.(*EntityList); ok {
			ls := &ListState{}
			for _, it := range list.items {
				ls.Items = append(ls.Items, captureLocked(it.entityBase()))
			}
			for _, it := range list.deleted {
				ls.Deleted = append(ls.Deleted, captureLocked(it.entityBase()))
			}
			if st.Children == nil {
				st.Children = make(map[string]*ListState)
			}
			st.Children[name] = ls
			continue
		}
		if _, ok := p.value.(graphMember); ok {
			continue
		}
		st.Properties = append(st.Properties, PropertyState{
			Name:     name,
			Value:    p.value,
			Modified: p.modified,
		})
	}
	return st
}

// Restore populates a freshly constructed entity from a captured state.
// Child list members are created through factory, keyed by the list property
// name. The caller re-runs rules afterwards; restore itself never dispatches.
func Restore(e EntityNode, st *EntityState, factory func(listName string) (EntityNode, error)) error {
	ent := e.entityBase()
	ent.graph.mu.Lock()
	defer ent.graph.mu.Unlock()
	return restoreLocked(ent, st, factory)
}

func restoreLocked(ent *Entity, st *EntityState, factory func(string) (EntityNode, error)) error {
	for _, ps := range st.Properties {
		p := ent.props.byName[ps.Name]
		if p == nil {
			return fmt.Errorf("restore %s: %w", ps.Name, ErrUnknownProperty)
		}
		p.value = ps.Value
		p.loaded = true
		p.modified = ps.Modified
	}
	ent.isNew = st.IsNew
	ent.isDeleted = st.IsDeleted
	ent.isChild = st.IsChild

	for name, ls := range st.Children {
		p := ent.props.byName[name]
		if p == nil {
			return fmt.Errorf("restore %s: %w", name, ErrUnknownProperty)
		}
		list, ok := p.value.(*EntityList)
		if !ok {
			return fmt.Errorf("restore %s: property is not a child collection", name)
		}
		restoreMember := func(ms *EntityState) (EntityNode, error) {
			item, err := factory(name)
			if err != nil {
				return nil, fmt.Errorf("restore %s: %w", name, err)
			}
			child := item.entityBase()
			if err := restoreLocked(child, ms, factory); err != nil {
				return nil, err
			}
			child.adoptGraph(ent.graph)
			child.parent = list.owner
			child.isChild = true
			return item, nil
		}
		for _, ms := range ls.Items {
			item, err := restoreMember(ms)
			if err != nil {
				return err
			}
			list.items = append(list.items, item)
		}
		for _, ms := range ls.Deleted {
			item, err := restoreMember(ms)
			if err != nil {
				return err
			}
			item.entityBase().isDeleted = true
			list.deleted = append(list.deleted, item)
		}
	}
	return nil
}
