package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/xxh3"
)

// Kind is the logical type of a column. Dialects map it to a native type.
type Kind int

const (
	KindText    Kind = iota
	KindKey          // identity and foreign identity columns
	KindReal         // import timestamp
	KindInteger      // junction position
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindReal:
		return "real"
	case KindInteger:
		return "integer"
	default:
		return "text"
	}
}

// ColumnSpec is a column the persister wants to exist.
type ColumnSpec struct {
	Name string
	Kind Kind
}

// TableSpec is a table the persister wants to exist.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnNames returns the column names in declaration order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// IsKey reports whether col is part of the primary key.
func (s TableSpec) IsKey(col string) bool {
	for _, k := range s.PrimaryKey {
		if k == col {
			return true
		}
	}
	return false
}

// IndexSpec is a secondary index the persister wants to exist.
type IndexSpec struct {
	Name    string
	Columns []ColumnSpec
}

// MaxIdentifier is the longest identifier every supported backend accepts
// unchanged (postgres truncates at 63 bytes).
const MaxIdentifier = 63

// Identifier returns name unchanged when it fits, otherwise a prefix plus a
// hash of the full name so distinct long names stay distinct.
func Identifier(name string) string {
	if len(name) <= MaxIdentifier {
		return name
	}
	sum := fmt.Sprintf("%016x", xxh3.HashString(name))
	prefix := name[:MaxIdentifier-len(sum)-1]
	for !utf8.ValidString(prefix) {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + "_" + sum
}

// IndexName builds the index name for cols on table.
func IndexName(table string, cols ...string) string {
	return Identifier("ix_" + table + "__" + strings.Join(cols, "__"))
}

// Dialect renders the statements the persister issues. Implementations
// quote every identifier they emit.
type Dialect interface {
	Name() string
	Quote(ident string) string
	Qualify(schemaName, table string) string
	TypeName(k Kind) string
	// Placeholder returns the i-th (1-based) bind parameter.
	Placeholder(i int) string
	// MaxParams is the bind parameter limit of a single statement.
	MaxParams() int

	CreateTable(schemaName string, spec TableSpec) string
	AddColumn(schemaName, table string, col ColumnSpec) string
	CreateIndex(schemaName, table string, idx IndexSpec) string
	DropIndex(schemaName, table, index string) string
	// Upsert inserts rows rows of spec, updating non-key columns on
	// conflict with the primary key.
	Upsert(schemaName string, spec TableSpec, rows int) string
	// Lock returns the statement taking a table-level exclusive lock for the
	// rest of the transaction, or "" when the backend has none. A statement
	// returning a row must return 1 in its first column once the lock is held.
	Lock(schemaName, table string) string
	// Unlock returns the statement releasing a lock that outlives the
	// transaction, or "".
	Unlock(schemaName, table string) string
}
