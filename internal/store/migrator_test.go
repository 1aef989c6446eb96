package store

import (
	"strings"
	"testing"

	"anchor-backend/internal/metadata"
)

func TestMigrator_BuildColumnDef(t *testing.T) {
	m := &Migrator{store: &Store{Dialect: &PostgresDialect{}}}
	def := &metadata.EntityDef{
		Name:       "order",
		Table:      "orders",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
	}

	pk := metadata.Field{Name: "id", Type: "uuid"}
	if got := m.buildColumnDef(def, &pk); got != "id UUID PRIMARY KEY" {
		t.Fatalf("unexpected pk column: %s", got)
	}

	required := metadata.Field{Name: "customer", Type: "string", Required: true}
	if got := m.buildColumnDef(def, &required); got != "customer TEXT NOT NULL" {
		t.Fatalf("unexpected required column: %s", got)
	}

	nullable := metadata.Field{Name: "notes", Type: "string", Nullable: true}
	if got := m.buildColumnDef(def, &nullable); got != "notes TEXT" {
		t.Fatalf("unexpected nullable column: %s", got)
	}

	precise := metadata.Field{Name: "total", Type: "decimal", Precision: 2}
	if got := m.buildColumnDef(def, &precise); !strings.Contains(got, "NUMERIC(18,2)") {
		t.Fatalf("unexpected decimal column: %s", got)
	}
}
