package metadata

import (
	"fmt"
	"sync"

	"anchor-backend/internal/engine"
)

// Registry holds the entity definitions known to the process and builds live
// instances from them.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityDef
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*EntityDef)}
}

// Register adds or replaces an entity definition.
func (r *Registry) Register(def *EntityDef) error {
	if def.Name == "" {
		return fmt.Errorf("register entity: empty name")
	}
	for _, c := range def.Children {
		if def.GetField(c.Name) != nil {
			return fmt.Errorf("register entity %s: child %s collides with a field", def.Name, c.Name)
		}
	}
	r.mu.Lock()
	r.entities[def.Name] = def
	r.mu.Unlock()
	return nil
}

// GetEntity returns the definition with the given name, or nil.
func (r *Registry) GetEntity(name string) *EntityDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered definitions.
func (r *Registry) AllEntities() []*EntityDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityDef, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// Instance is a definition-driven entity: properties built from fields, child
// collections from child declarations, and rules translated from rule
// definitions. Access is generic, through the property indexer.
type Instance struct {
	engine.Entity
	def *EntityDef
}

// Def returns the definition this instance was built from.
func (i *Instance) Def() *EntityDef { return i.def }

// ChildList returns the named child collection, or nil.
func (i *Instance) ChildList(name string) *engine.EntityList {
	p := i.Prop(name)
	if p == nil {
		return nil
	}
	list, _ := p.Current().(*engine.EntityList)
	return list
}

// NewInstance builds a live entity from a registered definition. Field-level
// Required and Enum flags and declared rules become ordinary engine rules;
// child declarations become empty entity lists.
func (r *Registry) NewInstance(name string) (*Instance, error) {
	def := r.GetEntity(name)
	if def == nil {
		return nil, fmt.Errorf("unknown entity: %s", name)
	}

	inst := &Instance{def: def}
	inst.Init()

	for _, f := range def.Fields {
		p := inst.AddProperty(f.Name).SetDisplayName(f.Display())
		if f.ReadOnly {
			p.SetReadOnly()
		}
		if f.Default != nil {
			p.LoadValue(f.Default)
		}
	}
	for _, c := range def.Children {
		inst.AddChildProperty(c.Name, engine.NewEntityList(inst))
	}

	var defs []RuleDef
	for _, f := range def.Fields {
		if f.Required {
			defs = append(defs, RuleDef{
				Type: "field", Field: f.Name, Operator: "required",
				Message: fmt.Sprintf("%s is required", f.Display()),
			})
		}
		if len(f.Enum) > 0 {
			defs = append(defs, RuleDef{
				Type: "field", Field: f.Name, Operator: "enum", Value: f.Enum,
				Message: fmt.Sprintf("%s must be one of the allowed values", f.Display()),
			})
		}
	}
	defs = append(defs, def.Rules...)

	for _, rd := range defs {
		rule, err := BuildRule(rd)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
		inst.Rules().Add(rule)
	}
	return inst, nil
}

// NewChildInstance builds a member for the named child collection of def.
func (r *Registry) NewChildInstance(def *EntityDef, listName string) (*Instance, error) {
	c := def.GetChild(listName)
	if c == nil {
		return nil, fmt.Errorf("entity %s has no child collection %s", def.Name, listName)
	}
	return r.NewInstance(c.Entity)
}

// RestoreInstance reconstructs an instance from a transported snapshot and
// re-runs no rules itself; callers run rules once the graph is assembled so
// validity reflects the restored values.
func (r *Registry) RestoreInstance(name string, st *engine.EntityState) (*Instance, error) {
	inst, err := r.NewInstance(name)
	if err != nil {
		return nil, err
	}
	err = engine.Restore(inst, st, func(listName string) (engine.EntityNode, error) {
		return r.NewChildInstance(inst.def, listName)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}
