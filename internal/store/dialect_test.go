package store

import (
	"strings"
	"testing"
)

func TestNewDialect(t *testing.T) {
	pg := NewDialect("postgres")
	if pg.Name() != "postgres" || pg.DriverName() != "pgx" {
		t.Fatalf("unexpected postgres dialect: %s/%s", pg.Name(), pg.DriverName())
	}

	lite := NewDialect("sqlite")
	if lite.Name() != "sqlite" || lite.DriverName() != "sqlite" {
		t.Fatalf("unexpected sqlite dialect: %s/%s", lite.Name(), lite.DriverName())
	}

	// Unknown drivers fall back to postgres.
	if d := NewDialect("oracle"); d.Name() != "postgres" {
		t.Fatalf("expected postgres fallback, got %s", d.Name())
	}
}

func TestDialect_Placeholders(t *testing.T) {
	pg := &PostgresDialect{}
	if got := pg.Placeholder(3); got != "$3" {
		t.Fatalf("expected $3, got %s", got)
	}
	lite := &SQLiteDialect{}
	if got := lite.Placeholder(3); got != "?3" {
		t.Fatalf("expected ?3, got %s", got)
	}
}

func TestDialect_ParamBuilder(t *testing.T) {
	pb := (&PostgresDialect{}).NewParamBuilder()
	if got := pb.Add("a"); got != "$1" {
		t.Fatalf("expected $1, got %s", got)
	}
	if got := pb.Add(2); got != "$2" {
		t.Fatalf("expected $2, got %s", got)
	}
	params := pb.Params()
	if len(params) != 2 || params[0] != "a" || params[1] != 2 {
		t.Fatalf("unexpected params %v", params)
	}
	if pb.Count() != 2 {
		t.Fatalf("expected count 2, got %d", pb.Count())
	}

	lb := (&SQLiteDialect{}).NewParamBuilder()
	if got := lb.Add("a"); got != "?1" {
		t.Fatalf("expected ?1, got %s", got)
	}
}

func TestDialect_ColumnTypes(t *testing.T) {
	pg := &PostgresDialect{}
	lite := &SQLiteDialect{}

	for _, tc := range []struct {
		fieldType string
		precision int
		pg        string
		lite      string
	}{
		{"string", 0, "TEXT", "TEXT"},
		{"number", 0, "DOUBLE PRECISION", "REAL"},
		{"int", 0, "INTEGER", "INTEGER"},
		{"decimal", 2, "NUMERIC(18,2)", "REAL"},
		{"boolean", 0, "BOOLEAN", "INTEGER"},
		{"uuid", 0, "UUID", "TEXT"},
		{"json", 0, "JSONB", "TEXT"},
		{"mystery", 0, "TEXT", "TEXT"},
	} {
		if got := pg.ColumnType(tc.fieldType, tc.precision); got != tc.pg {
			t.Fatalf("%s: expected postgres %s, got %s", tc.fieldType, tc.pg, got)
		}
		if got := lite.ColumnType(tc.fieldType, tc.precision); got != tc.lite {
			t.Fatalf("%s: expected sqlite %s, got %s", tc.fieldType, tc.lite, got)
		}
	}
}

func TestDialect_SystemTablesDDL(t *testing.T) {
	for _, d := range []Dialect{&PostgresDialect{}, &SQLiteDialect{}} {
		ddl := d.SystemTablesSQL()
		for _, table := range []string{"_users", "_refresh_tokens", "_events"} {
			if !strings.Contains(ddl, table) {
				t.Fatalf("%s DDL missing table %s", d.Name(), table)
			}
		}
	}
}
