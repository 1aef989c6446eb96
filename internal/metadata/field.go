package metadata

// Field declares one tracked property of an entity.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, text, int, bigint, decimal, boolean, uuid, timestamp, date, json
	DisplayName string   `json:"display_name,omitempty"`
	Required    bool     `json:"required,omitempty"`
	ReadOnly    bool     `json:"read_only,omitempty"`
	Default     any      `json:"default,omitempty"`
	Nullable    bool     `json:"nullable,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Precision   int      `json:"precision,omitempty"`
}

// Display returns the human-facing name, falling back to the field name.
func (f Field) Display() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}
