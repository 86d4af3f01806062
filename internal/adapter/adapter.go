package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sadopc/jsonrel/internal/schema"
)

var (
	ErrNotConnected   = errors.New("not connected to database")
	ErrUnknownAdapter = errors.New("unknown adapter")
	ErrLockTimeout    = errors.New("table lock not acquired")
)

// Adapter creates database connections.
type Adapter interface {
	Connect(ctx context.Context, dsn string) (Connection, error)
	Name() string
	DefaultPort() int
	// Dialect renders the SQL this backend understands without connecting.
	Dialect() schema.Dialect
}

// Connection represents an active database connection.
type Connection interface {
	// Introspection
	Tables(ctx context.Context, schemaName string) ([]schema.Table, error)
	Columns(ctx context.Context, schemaName, table string) ([]schema.Column, error)
	Indexes(ctx context.Context, schemaName, table string) ([]schema.Index, error)

	// Query execution
	Execute(ctx context.Context, query string, args ...any) (*QueryResult, error)

	// Begin opens a transaction whose schema operations target schemaName
	// (the connection default when empty).
	Begin(ctx context.Context, schemaName string) (Tx, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Info
	DatabaseName() string
	AdapterName() string
	DefaultSchema() string
	Dialect() schema.Dialect
}

// Tx is the schema and data capability the persister needs for one table.
// All calls run inside one transaction.
type Tx interface {
	Columns(ctx context.Context, table string) ([]schema.Column, error)
	Indexes(ctx context.Context, table string) ([]schema.Index, error)
	EnsureTable(ctx context.Context, spec schema.TableSpec) error
	EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) error
	// LockTable takes an exclusive lock on an existing table. Missing tables
	// and backends without table locks are a no-op.
	LockTable(ctx context.Context, table string) error
	DropIndex(ctx context.Context, table, index string) error
	CreateIndex(ctx context.Context, table string, idx schema.IndexSpec) error
	Upsert(ctx context.Context, spec schema.TableSpec, rows [][]any) error
	MaxParams() int
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QueryResult holds the result of a query execution.
type QueryResult struct {
	Columns  []ColumnMeta
	Rows     [][]string
	RowCount int64 // -1 if unknown
	Duration time.Duration
	IsSelect bool
	Message  string
}

// ColumnMeta holds metadata about a result column.
type ColumnMeta struct {
	Name     string
	Type     string
	Nullable bool
}

// Registry holds registered adapters by name.
var Registry = map[string]Adapter{}

// Register adds an adapter to the global registry.
func Register(a Adapter) {
	Registry[a.Name()] = a
}

// Lookup returns the registered adapter with the given name.
func Lookup(name string) (Adapter, error) {
	a, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownAdapter, name, Names())
	}
	return a, nil
}

// Names returns the registered adapter names, sorted.
func Names() []string {
	out := make([]string, 0, len(Registry))
	for n := range Registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
