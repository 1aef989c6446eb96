package engine

import "context"

// graphMember is satisfied by every node that can live inside an aggregate:
// *Object, *Entity, *List, *EntityList, and any consumer type embedding one
// of them (promoted methods carry the interface across packages).
type graphMember interface {
	validLocked() bool
	busyLocked() bool
	modifiedLocked() bool
	adoptGraph(g *graph)
	collectTasks(out *[]*taskSet)
	reRunRules(ctx context.Context) error
}

// PropertyManager is the ordered, name-indexed property set of one object.
// Aggregate validity, busy and modified state cover the object's own
// properties plus any child object or collection held as a property value.
type PropertyManager struct {
	owner  *Object
	names  []string
	byName map[string]*Property
}

func newPropertyManager(owner *Object) *PropertyManager {
	return &PropertyManager{owner: owner, byName: make(map[string]*Property)}
}

func (pm *PropertyManager) add(name string) *Property {
	if _, ok := pm.byName[name]; ok {
		panic("engine: duplicate property " + name)
	}
	p := &Property{name: name, owner: pm.owner}
	pm.byName[name] = p
	pm.names = append(pm.names, name)
	return p
}

// Get returns the named property, or nil if it was never registered.
func (pm *PropertyManager) Get(name string) *Property {
	return pm.byName[name]
}

// Names returns the property names in registration order.
func (pm *PropertyManager) Names() []string {
	out := make([]string, len(pm.names))
	copy(out, pm.names)
	return out
}

// All returns the properties in registration order.
func (pm *PropertyManager) All() []*Property {
	out := make([]*Property, 0, len(pm.names))
	for _, n := range pm.names {
		out = append(out, pm.byName[n])
	}
	return out
}

// IsValid reports whether every property and every child node is valid.
func (pm *PropertyManager) IsValid() bool {
	pm.owner.graph.mu.Lock()
	defer pm.owner.graph.mu.Unlock()
	return pm.validLocked()
}

// IsBusy reports whether any property or child node is busy.
func (pm *PropertyManager) IsBusy() bool {
	pm.owner.graph.mu.Lock()
	defer pm.owner.graph.mu.Unlock()
	return pm.busyLocked()
}

// IsModified reports whether any property or child node is modified.
func (pm *PropertyManager) IsModified() bool {
	pm.owner.graph.mu.Lock()
	defer pm.owner.graph.mu.Unlock()
	return pm.modifiedLocked()
}

func (pm *PropertyManager) validLocked() bool {
	for _, n := range pm.names {
		if !pm.byName[n].validLocked() {
			return false
		}
	}
	for _, c := range pm.childrenLocked() {
		if !c.validLocked() {
			return false
		}
	}
	return true
}

func (pm *PropertyManager) selfValidLocked() bool {
	for _, n := range pm.names {
		if !pm.byName[n].validLocked() {
			return false
		}
	}
	return true
}

func (pm *PropertyManager) selfBusyLocked() bool {
	for _, n := range pm.names {
		if pm.byName[n].busy > 0 {
			return true
		}
	}
	return false
}

func (pm *PropertyManager) busyLocked() bool {
	for _, n := range pm.names {
		if pm.byName[n].busy > 0 {
			return true
		}
	}
	for _, c := range pm.childrenLocked() {
		if c.busyLocked() {
			return true
		}
	}
	return false
}

func (pm *PropertyManager) modifiedLocked() bool {
	if pm.selfModifiedLocked() {
		return true
	}
	for _, c := range pm.childrenLocked() {
		if c.modifiedLocked() {
			return true
		}
	}
	return false
}

func (pm *PropertyManager) selfModifiedLocked() bool {
	for _, n := range pm.names {
		if pm.byName[n].modified {
			return true
		}
	}
	return false
}

// childrenLocked returns the child nodes currently held as property values.
func (pm *PropertyManager) childrenLocked() []graphMember {
	var out []graphMember
	for _, n := range pm.names {
		if m, ok := pm.byName[n].value.(graphMember); ok {
			out = append(out, m)
		}
	}
	return out
}
