package store

import (
	"context"
	"fmt"
	"strings"

	"anchor-backend/internal/metadata"
)

// Migrator creates the tables behind registered entity definitions.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll ensures a table exists for every registered entity.
func (m *Migrator) MigrateAll(ctx context.Context, reg *metadata.Registry) error {
	for _, def := range reg.AllEntities() {
		if err := m.Migrate(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// Migrate creates the entity's table if it doesn't exist. Child collections
// are declared on the owner; their members' tables come from the child
// entity's own definition, which carries the foreign-key field.
func (m *Migrator) Migrate(ctx context.Context, def *metadata.EntityDef) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, def.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}
	if exists {
		return nil
	}
	return m.createTable(ctx, def)
}

func (m *Migrator) createTable(ctx context.Context, def *metadata.EntityDef) error {
	var cols []string
	for i := range def.Fields {
		cols = append(cols, m.buildColumnDef(def, &def.Fields[i]))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", def.Table, strings.Join(cols, ",\n    "))
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", def.Table, err)
	}
	return nil
}

func (m *Migrator) buildColumnDef(def *metadata.EntityDef, f *metadata.Field) string {
	colType := m.store.Dialect.ColumnType(f.Type, f.Precision)
	col := fmt.Sprintf("%s %s", f.Name, colType)
	if f.Name == def.PrimaryKey.Field {
		col += " PRIMARY KEY"
	} else if f.Required && !f.Nullable {
		col += " NOT NULL"
	}
	return col
}
