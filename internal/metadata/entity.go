package metadata

// EntityDef declares one persistable entity: its table, primary key, fields,
// child collections and validation rules. Definitions are data; the registry
// turns them into live, rule-wired instances.
type EntityDef struct {
	Name       string     `json:"name"`
	Table      string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	Fields     []Field    `json:"fields"`
	Children   []ChildDef `json:"children,omitempty"`
	Rules      []RuleDef  `json:"rules,omitempty"`
}

// PrimaryKey identifies the key field of an entity.
type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// ChildDef declares a child collection property: the property name on the
// owner and the entity definition its members are built from. Members carry a
// foreign-key field back to the owner's primary key.
type ChildDef struct {
	Name       string `json:"name"`
	Entity     string `json:"entity"`
	ForeignKey string `json:"foreign_key"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *EntityDef) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *EntityDef) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names.
func (e *EntityDef) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// GetChild returns the child collection declaration with the given property name, or nil.
func (e *EntityDef) GetChild(name string) *ChildDef {
	for i := range e.Children {
		if e.Children[i].Name == name {
			return &e.Children[i]
		}
	}
	return nil
}

// WritableFields returns fields the client may set. Excludes auto-generated
// primary keys and read-only fields.
func (e *EntityDef) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.ReadOnly {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
