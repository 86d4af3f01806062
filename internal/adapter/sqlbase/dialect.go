// Package sqlbase implements adapter.Connection and adapter.Tx over
// database/sql for backends that differ only in dialect and catalog queries.
package sqlbase

import (
	"fmt"
	"strings"

	"github.com/sadopc/jsonrel/internal/schema"
)

// Standard is a double-quoting dialect with ON CONFLICT upserts, shared by
// sqlite, duckdb and postgres.
type Standard struct {
	DialectName string
	Types       map[schema.Kind]string
	// Dollar selects $1-style placeholders instead of ?.
	Dollar bool
	// IfNotExistsColumn allows ADD COLUMN IF NOT EXISTS.
	IfNotExistsColumn bool
	Params            int
	// ImplicitSchema is left out of qualified names.
	ImplicitSchema string
}

func (d Standard) Name() string { return d.DialectName }

// Quote wraps ident in double quotes, doubling embedded quotes.
func (d Standard) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d Standard) Qualify(schemaName, table string) string {
	if schemaName == "" || schemaName == d.ImplicitSchema {
		return d.Quote(table)
	}
	return d.Quote(schemaName) + "." + d.Quote(table)
}

func (d Standard) TypeName(k schema.Kind) string {
	if t, ok := d.Types[k]; ok {
		return t
	}
	return "TEXT"
}

func (d Standard) Placeholder(i int) string {
	if d.Dollar {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (d Standard) MaxParams() int { return d.Params }

func (d Standard) CreateTable(schemaName string, spec schema.TableSpec) string {
	return CreateTable(d, schemaName, spec)
}

func (d Standard) AddColumn(schemaName, table string, col schema.ColumnSpec) string {
	ine := ""
	if d.IfNotExistsColumn {
		ine = "IF NOT EXISTS "
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s %s",
		d.Qualify(schemaName, table), ine, d.Quote(col.Name), d.TypeName(col.Kind))
}

func (d Standard) CreateIndex(schemaName, table string, idx schema.IndexSpec) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.Quote(c.Name)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.Quote(idx.Name), d.Qualify(schemaName, table), strings.Join(cols, ", "))
}

func (d Standard) DropIndex(schemaName, table, index string) string {
	return "DROP INDEX IF EXISTS " + d.Qualify(schemaName, index)
}

func (d Standard) Upsert(schemaName string, spec schema.TableSpec, rows int) string {
	var b strings.Builder
	insertValues(&b, d, schemaName, spec, rows)

	keys := make([]string, len(spec.PrimaryKey))
	for i, k := range spec.PrimaryKey {
		keys[i] = d.Quote(k)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", strings.Join(keys, ", "))

	var sets []string
	for _, c := range spec.Columns {
		if !spec.IsKey(c.Name) {
			q := d.Quote(c.Name)
			sets = append(sets, q+" = excluded."+q)
		}
	}
	if len(sets) == 0 {
		b.WriteString("NOTHING")
	} else {
		b.WriteString("UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String()
}

func (d Standard) Lock(schemaName, table string) string   { return "" }
func (d Standard) Unlock(schemaName, table string) string { return "" }

// CreateTable renders CREATE TABLE IF NOT EXISTS with a primary key clause.
func CreateTable(d schema.Dialect, schemaName string, spec schema.TableSpec) string {
	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def := d.Quote(c.Name) + " " + d.TypeName(c.Kind)
		if spec.IsKey(c.Name) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(spec.PrimaryKey) > 0 {
		keys := make([]string, len(spec.PrimaryKey))
		for i, k := range spec.PrimaryKey {
			keys[i] = d.Quote(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.Qualify(schemaName, spec.Name), strings.Join(defs, ",\n  "))
}

// insertValues writes "INSERT INTO t (cols) VALUES (...), (...)".
func insertValues(b *strings.Builder, d schema.Dialect, schemaName string, spec schema.TableSpec, rows int) {
	cols := spec.ColumnNames()
	for i, c := range cols {
		cols[i] = d.Quote(c)
	}
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES ", d.Qualify(schemaName, spec.Name), strings.Join(cols, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range spec.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
}

// InsertValues is insertValues for dialects outside this package.
func InsertValues(d schema.Dialect, schemaName string, spec schema.TableSpec, rows int) string {
	var b strings.Builder
	insertValues(&b, d, schemaName, spec, rows)
	return b.String()
}
