package persister

import (
	"sort"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/schema"
)

// Table kinds reported per job.
const (
	KindEntity   = "entity"
	KindJunction = "junction"
)

// job is one physical table: its wanted shape, its rows without provenance
// and the secondary indexes recreated after loading.
type job struct {
	kind    string
	spec    schema.TableSpec
	rows    [][]any
	indexes []schema.IndexSpec
	// shadowed lists content columns replaced by provenance columns.
	shadowed []string
}

// buildJobs derives every entity and junction table of m. Tables without
// rows or columns and relations without links are skipped.
func buildJobs(m *model.Model, cfg *config.Config) []job {
	var jobs []job
	for _, t := range m.Tables() {
		if t.RowCount() == 0 || len(t.Columns()) == 0 {
			continue
		}
		jobs = append(jobs, entityJob(t, cfg))
	}
	for _, rel := range m.Relations() {
		if len(rel.Links) == 0 {
			continue
		}
		jobs = append(jobs, junctionJob(rel, cfg))
	}
	return jobs
}

func provenance(cfg *config.Config) []schema.ColumnSpec {
	return []schema.ColumnSpec{
		{Name: cfg.Naming.SourceColumn, Kind: schema.KindText},
		{Name: cfg.Naming.TimeColumn, Kind: schema.KindReal},
	}
}

func entityJob(t *model.Table, cfg *config.Config) job {
	idCol := cfg.IDColumn("")
	src, ts := cfg.Naming.SourceColumn, cfg.Naming.TimeColumn
	values := t.ValueColumns(idCol, cfg.HashColumn(t.Name), src, ts)

	j := job{kind: KindEntity}
	for _, c := range []string{src, ts} {
		if t.HasColumn(c) {
			j.shadowed = append(j.shadowed, c)
		}
	}

	j.spec = schema.TableSpec{
		Name:       schema.Identifier(t.Name),
		Columns:    []schema.ColumnSpec{{Name: idCol, Kind: schema.KindKey}},
		PrimaryKey: []string{idCol},
	}
	for _, c := range values {
		j.spec.Columns = append(j.spec.Columns, schema.ColumnSpec{Name: c, Kind: schema.KindText})
	}
	j.spec.Columns = append(j.spec.Columns, provenance(cfg)...)

	for _, id := range t.RowIDs() {
		r, _ := t.Row(id)
		row := make([]any, 0, len(values)+1)
		row = append(row, id)
		for _, c := range values {
			v, _ := r.Get(c)
			row = append(row, v.SQL())
		}
		j.rows = append(j.rows, row)
	}

	j.indexes = indexSpecs(j.spec.Name, j.spec.Columns[1:], cfg.Persist.IndexDepth)
	return j
}

// JunctionColumns returns the parent and child id column names of a
// junction table. A relation from a table to itself gets a distinct child
// column.
func JunctionColumns(id model.RelationID, cfg *config.Config) (string, string) {
	p := cfg.IDColumn(id.Parent)
	c := cfg.IDColumn(id.Child)
	if id.Parent == id.Child {
		c = cfg.IDColumn(id.Child + "__child")
	}
	return p, c
}

func junctionJob(rel *model.Relation, cfg *config.Config) job {
	pcol, ccol := JunctionColumns(rel.ID, cfg)

	j := job{kind: KindJunction}
	j.spec = schema.TableSpec{
		Name: schema.Identifier(rel.ID.String()),
		Columns: []schema.ColumnSpec{
			{Name: pcol, Kind: schema.KindKey},
			{Name: ccol, Kind: schema.KindKey},
		},
		PrimaryKey: []string{pcol, ccol},
	}
	indexed := rel.ID.Kind == model.Indexed
	if indexed {
		icol := cfg.IndexColumn(rel.ID.Parent)
		j.spec.Columns = append(j.spec.Columns, schema.ColumnSpec{Name: icol, Kind: schema.KindInteger})
		j.spec.PrimaryKey = append(j.spec.PrimaryKey, icol)
	}
	j.spec.Columns = append(j.spec.Columns, provenance(cfg)...)

	type key struct {
		a, b string
		pos  int
	}
	seen := make(map[key]bool, len(rel.Links))
	for _, l := range rel.Links {
		a, b := rel.Canonical(l)
		k := key{a, b, l.Position}
		if !indexed {
			k.pos = 0
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		if indexed {
			j.rows = append(j.rows, []any{a, b, l.Position})
		} else {
			j.rows = append(j.rows, []any{a, b})
		}
	}

	j.indexes = indexSpecs(j.spec.Name, j.spec.Columns, cfg.Persist.IndexDepth)
	return j
}

// indexSpecs returns one index per column and, at depth 2, one per ordered
// pair of distinct columns.
func indexSpecs(table string, cols []schema.ColumnSpec, depth int) []schema.IndexSpec {
	if depth < 1 {
		return nil
	}
	var out []schema.IndexSpec
	for _, c := range cols {
		out = append(out, schema.IndexSpec{
			Name:    schema.IndexName(table, c.Name),
			Columns: []schema.ColumnSpec{c},
		})
		if depth < 2 {
			continue
		}
		for _, d := range cols {
			if d.Name == c.Name {
				continue
			}
			out = append(out, schema.IndexSpec{
				Name:    schema.IndexName(table, c.Name, d.Name),
				Columns: []schema.ColumnSpec{c, d},
			})
		}
	}
	return out
}

// Table is the physical shape of one entity or junction table with its rows.
// Rows hold every column of Spec except the trailing provenance pair.
type Table struct {
	Kind string
	Spec schema.TableSpec
	Rows [][]any
}

// ContentColumns returns the columns Rows carry.
func (t Table) ContentColumns() []schema.ColumnSpec {
	return t.Spec.Columns[:len(t.Spec.Columns)-2]
}

// Tables returns the tables a persist of m would write, ordered by name.
func Tables(m *model.Model, cfg *config.Config) []Table {
	jobs := sortedJobs(m, cfg)
	out := make([]Table, len(jobs))
	for i, j := range jobs {
		out[i] = Table{Kind: j.kind, Spec: j.spec, Rows: j.rows}
	}
	return out
}

func sortedJobs(m *model.Model, cfg *config.Config) []job {
	jobs := buildJobs(m, cfg)
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].spec.Name < jobs[b].spec.Name })
	return jobs
}

// Plan renders the statements a persist of m would issue against an empty
// database, ordered by table name.
func Plan(m *model.Model, cfg *config.Config, d schema.Dialect) []string {
	var out []string
	for _, j := range sortedJobs(m, cfg) {
		out = append(out, d.CreateTable(cfg.Persist.Schema, j.spec))
		for _, ix := range j.indexes {
			out = append(out, d.CreateIndex(cfg.Persist.Schema, j.spec.Name, ix))
		}
	}
	return out
}
