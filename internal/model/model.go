// Package model holds the in-memory relational shape inferred from JSON
// documents: tables of rows plus the relations linking them.
package model

import "errors"

// ErrInvariant marks internal consistency violations. They are never retried.
var ErrInvariant = errors.New("model invariant violated")

// Model is the set of tables and relations built from one document.
type Model struct {
	Root string

	tables    map[string]*Table
	order     []string
	relations map[RelationID]*Relation
	relOrder  []RelationID
	frozen    bool
}

// New returns an empty model whose top-level rows go to table root.
func New(root string) *Model {
	return &Model{
		Root:      root,
		tables:    make(map[string]*Table),
		relations: make(map[RelationID]*Relation),
	}
}

// Freeze marks the model read-only. Later mutation panics.
func (m *Model) Freeze() {
	// Frozen models are shared between goroutines; only the first call writes.
	if !m.frozen {
		m.frozen = true
	}
}

func (m *Model) Frozen() bool { return m.frozen }

func (m *Model) mustMutable() {
	if m.frozen {
		panic("model: mutation after Freeze")
	}
}

// Table returns the named table.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.tables[name]
	return t, ok
}

// EnsureTable returns the named table, creating it on first use.
func (m *Model) EnsureTable(name string) *Table {
	if t, ok := m.tables[name]; ok {
		return t
	}
	m.mustMutable()
	t := newTable(m, name)
	m.tables[name] = t
	m.order = append(m.order, name)
	return t
}

// Tables returns the tables in creation order.
func (m *Model) Tables() []*Table {
	out := make([]*Table, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.tables[n])
	}
	return out
}

// TableNames returns table names in creation order.
func (m *Model) TableNames() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// DeleteTable removes a table and detaches it from every parent.
func (m *Model) DeleteTable(name string) {
	m.mustMutable()
	if _, ok := m.tables[name]; !ok {
		return
	}
	delete(m.tables, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for _, t := range m.tables {
		delete(t.children, name)
	}
}

// SetParent records parent as the parent of child. Both tables are created
// if needed.
func (m *Model) SetParent(child, parent string) {
	m.mustMutable()
	p := m.EnsureTable(parent)
	c := m.EnsureTable(child)
	c.Parent = parent
	p.children[child] = struct{}{}
}

// AddLink records a link from parent row parentID to child row childID.
func (m *Model) AddLink(kind RelationKind, parent, child, parentID, childID string, pos int) {
	m.mustMutable()
	var id RelationID
	if kind == Symmetric {
		id = SymmetricRelation(parent, child)
		pos = 0
	} else {
		id = IndexedRelation(parent, child)
	}
	rel := m.relation(id, parent, child)
	if rel.Parent != parent {
		parentID, childID = childID, parentID
	}
	rel.Links = append(rel.Links, Link{ParentID: parentID, ChildID: childID, Position: pos})
}

func (m *Model) relation(id RelationID, parent, child string) *Relation {
	if rel, ok := m.relations[id]; ok {
		return rel
	}
	rel := &Relation{ID: id, Parent: parent, Child: child}
	m.relations[id] = rel
	m.relOrder = append(m.relOrder, id)
	return rel
}

// Relation returns the relation with the given id.
func (m *Model) Relation(id RelationID) (*Relation, bool) {
	r, ok := m.relations[id]
	return r, ok
}

// Relations returns every relation in registration order.
func (m *Model) Relations() []*Relation {
	out := make([]*Relation, 0, len(m.relOrder))
	for _, id := range m.relOrder {
		out = append(out, m.relations[id])
	}
	return out
}

// RelationIDs returns relation ids in registration order.
func (m *Model) RelationIDs() []RelationID {
	out := make([]RelationID, len(m.relOrder))
	copy(out, m.relOrder)
	return out
}

// SetLinks replaces the links of a relation, registering it if new.
func (m *Model) SetLinks(id RelationID, parent, child string, links []Link) {
	m.mustMutable()
	rel := m.relation(id, parent, child)
	rel.Parent, rel.Child = parent, child
	rel.Links = links
}

// DropRelation removes a relation and all of its links.
func (m *Model) DropRelation(id RelationID) error {
	m.mustMutable()
	if _, ok := m.relations[id]; !ok {
		return &RelationError{Op: "drop", Key: id, Known: m.RelationIDs()}
	}
	delete(m.relations, id)
	for i, have := range m.relOrder {
		if have == id {
			m.relOrder = append(m.relOrder[:i], m.relOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RelationsTo returns the relations whose child side is table.
func (m *Model) RelationsTo(table string) []*Relation {
	var out []*Relation
	for _, id := range m.relOrder {
		if rel := m.relations[id]; rel.Child == table {
			out = append(out, rel)
		}
	}
	return out
}
