package model

import (
	"fmt"
	"sort"
)

// Table is an inferred entity table. Rows are kept in the order they were
// added so that every later pass is deterministic.
type Table struct {
	Name   string
	Parent string

	m        *Model
	children map[string]struct{}
	columns  map[string]struct{}
	colOrder []string
	rows     map[string]*Row
	order    []string
}

func newTable(m *Model, name string) *Table {
	return &Table{
		Name:     name,
		m:        m,
		children: make(map[string]struct{}),
		columns:  make(map[string]struct{}),
		rows:     make(map[string]*Row),
	}
}

// AddRow stores row under id. Identities are unique per table.
func (t *Table) AddRow(id string, row *Row) error {
	t.m.mustMutable()
	if _, ok := t.rows[id]; ok {
		return fmt.Errorf("%w: duplicate row id %q in table %q", ErrInvariant, id, t.Name)
	}
	t.rows[id] = row
	t.order = append(t.order, id)
	return nil
}

// Row returns the row with the given identity.
func (t *Table) Row(id string) (*Row, bool) {
	r, ok := t.rows[id]
	return r, ok
}

// RowIDs returns row identities in insertion order.
func (t *Table) RowIDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) RowCount() int { return len(t.order) }

// RemoveRows drops every row whose identity is in ids.
func (t *Table) RemoveRows(ids map[string]bool) {
	t.m.mustMutable()
	if len(ids) == 0 {
		return
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if ids[id] {
			delete(t.rows, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// ReplaceRows swaps the table contents for rows, keyed by identity, in the
// given order.
func (t *Table) ReplaceRows(order []string, rows map[string]*Row) {
	t.m.mustMutable()
	t.order = order
	t.rows = rows
}

// AddColumns records column names observed on a row.
func (t *Table) AddColumns(cols ...string) {
	t.m.mustMutable()
	for _, c := range cols {
		if _, ok := t.columns[c]; ok {
			continue
		}
		t.columns[c] = struct{}{}
		t.colOrder = append(t.colOrder, c)
	}
}

func (t *Table) HasColumn(col string) bool {
	_, ok := t.columns[col]
	return ok
}

// Columns returns the observed columns in first-seen order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.colOrder))
	copy(out, t.colOrder)
	return out
}

// ValueColumns returns the sorted columns excluding the given reserved names.
func (t *Table) ValueColumns(reserved ...string) []string {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	var out []string
	for _, c := range t.colOrder {
		if !skip[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Children returns the sorted child table names.
func (t *Table) Children() []string {
	out := make([]string, 0, len(t.children))
	for c := range t.children {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
