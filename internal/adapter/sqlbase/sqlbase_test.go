package sqlbase

import (
	"testing"

	"github.com/sadopc/jsonrel/internal/schema"
)

var pg = Standard{
	DialectName:       "test",
	Types:             map[schema.Kind]string{schema.KindReal: "DOUBLE PRECISION"},
	Dollar:            true,
	IfNotExistsColumn: true,
	Params:            65535,
	ImplicitSchema:    "public",
}

func TestStandard_Placeholders(t *testing.T) {
	spec := schema.TableSpec{
		Name:       "t",
		Columns:    []schema.ColumnSpec{{Name: "k", Kind: schema.KindKey}, {Name: "v"}},
		PrimaryKey: []string{"k"},
	}
	got := pg.Upsert("s", spec, 2)
	want := `INSERT INTO "s"."t" ("k", "v") VALUES ($1, $2), ($3, $4) ON CONFLICT ("k") DO UPDATE SET "v" = excluded."v"`
	if got != want {
		t.Errorf("Upsert =\n%s\nwant\n%s", got, want)
	}
	if got := InsertValues(pg, "public", spec, 1); got != `INSERT INTO "t" ("k", "v") VALUES ($1, $2)` {
		t.Errorf("InsertValues = %s", got)
	}
}

func TestStandard_DDL(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"add column",
			pg.AddColumn("", "t", schema.ColumnSpec{Name: "at", Kind: schema.KindReal}),
			`ALTER TABLE "t" ADD COLUMN IF NOT EXISTS "at" DOUBLE PRECISION`,
		},
		{
			"default type",
			pg.TypeName(schema.KindInteger),
			"TEXT",
		},
		{
			"drop index",
			pg.DropIndex("s", "t", "ix"),
			`DROP INDEX IF EXISTS "s"."ix"`,
		},
		{
			"create index",
			pg.CreateIndex("s", "t", schema.IndexSpec{Name: "ix", Columns: []schema.ColumnSpec{{Name: "a"}, {Name: "b"}}}),
			`CREATE INDEX IF NOT EXISTS "ix" ON "s"."t" ("a", "b")`,
		},
		{
			"quote",
			pg.Quote(`a"b`),
			`"a""b"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestIsSelect(t *testing.T) {
	tests := map[string]bool{
		"SELECT 1":                 true,
		"  with x as (select 1) s": true,
		"PRAGMA table_info(t)":     true,
		"show tables":              true,
		"INSERT INTO t VALUES (1)": false,
		"CREATE TABLE t (a TEXT)":  false,
	}
	for q, want := range tests {
		if got := IsSelect(q); got != want {
			t.Errorf("IsSelect(%q) = %v, want %v", q, got, want)
		}
	}
}
