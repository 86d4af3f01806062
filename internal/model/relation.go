package model

import (
	"fmt"
	"strings"
)

// RelationKind distinguishes ordered parent/child relations from the legacy
// unordered pairing.
type RelationKind uint8

const (
	Indexed RelationKind = iota
	Symmetric
)

func (k RelationKind) String() string {
	if k == Symmetric {
		return "symmetric"
	}
	return "indexed"
}

// RelationID names a relation. Symmetric ids are canonical: Parent <= Child.
type RelationID struct {
	Parent string
	Child  string
	Kind   RelationKind
}

// IndexedRelation returns the id of the ordered relation parent -> child.
func IndexedRelation(parent, child string) RelationID {
	return RelationID{Parent: parent, Child: child, Kind: Indexed}
}

// SymmetricRelation returns the canonical id for an unordered pair.
func SymmetricRelation(a, b string) RelationID {
	if b < a {
		a, b = b, a
	}
	return RelationID{Parent: a, Child: b, Kind: Symmetric}
}

// String is the junction table name: "parent<-child" or "a~b".
func (id RelationID) String() string {
	if id.Kind == Symmetric {
		return id.Parent + "~" + id.Child
	}
	return id.Parent + "<-" + id.Child
}

// Link connects a parent row to a child row. Position is the 0-based order of
// the child within its parent; symmetric links always carry 0.
type Link struct {
	ParentID string
	ChildID  string
	Position int
}

// Relation holds the links of one relation. Parent and Child give the
// direction the links were recorded in, which for symmetric relations may
// differ from the canonical id order.
type Relation struct {
	ID     RelationID
	Parent string
	Child  string
	Links  []Link
}

// Canonical returns the link ids ordered as (ID.Parent, ID.Child).
func (r *Relation) Canonical(l Link) (string, string) {
	if r.ID.Kind == Symmetric && r.Parent != r.ID.Parent {
		return l.ChildID, l.ParentID
	}
	return l.ParentID, l.ChildID
}

// RelationError reports an operation on a relation that was never recorded.
type RelationError struct {
	Op    string
	Key   RelationID
	Known []RelationID
}

func (e *RelationError) Error() string {
	known := make([]string, len(e.Known))
	for i, k := range e.Known {
		known[i] = k.String()
	}
	return fmt.Sprintf("%s: relation %s not recorded (known: [%s])", e.Op, e.Key, strings.Join(known, ", "))
}
