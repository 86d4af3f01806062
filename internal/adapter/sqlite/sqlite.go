package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/adapter/sqlbase"
	"github.com/sadopc/jsonrel/internal/schema"

	_ "modernc.org/sqlite"
)

func init() {
	adapter.Register(&sqliteAdapter{})
}

// sqliteAdapter implements adapter.Adapter for SQLite databases.
type sqliteAdapter struct{}

func (a *sqliteAdapter) Name() string            { return "sqlite" }
func (a *sqliteAdapter) DefaultPort() int        { return 0 }
func (a *sqliteAdapter) Dialect() schema.Dialect { return newBackend() }

func (a *sqliteAdapter) Connect(ctx context.Context, dsn string) (adapter.Connection, error) {
	dsn = normalizeDSN(dsn)

	db, err := sql.Open("sqlite", withParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	dbName, _, _ := strings.Cut(dsn, "?")
	if dbName != ":memory:" {
		dbName = filepath.Base(dbName)
	}

	return &sqlbase.Conn{
		DB:      db,
		Backend: newBackend(),
		Name:    "sqlite",
		DBName:  dbName,
		Schema:  "main",
	}, nil
}

// withParams makes every pooled connection wait on a locked database and
// take the write lock when its transaction begins, so concurrent writers
// queue up instead of failing with SQLITE_BUSY. Parameters already in dsn
// are kept.
func withParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn += sep + "_pragma=busy_timeout(5000)"
		sep = "&"
	}
	if !strings.Contains(dsn, "_txlock=") {
		dsn += sep + "_txlock=immediate"
	}
	return dsn
}

// normalizeDSN strips common SQLite URI prefixes.
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") {
		return strings.TrimPrefix(dsn, "sqlite://")
	}
	if strings.HasPrefix(dsn, "file:") {
		return strings.TrimPrefix(dsn, "file:")
	}
	return dsn
}

// backend is the SQLite dialect plus PRAGMA based introspection.
type backend struct {
	sqlbase.Standard
}

var dialect = sqlbase.Standard{
	DialectName: "sqlite",
	Types: map[schema.Kind]string{
		schema.KindText:    "TEXT",
		schema.KindKey:     "TEXT",
		schema.KindReal:    "REAL",
		schema.KindInteger: "INTEGER",
	},
	// SQLITE_MAX_VARIABLE_NUMBER since 3.32.
	Params:         32766,
	ImplicitSchema: "main",
}

func newBackend() backend { return backend{dialect} }

// CreateIndex names the schema on the index, not the table.
func (backend) CreateIndex(schemaName, table string, idx schema.IndexSpec) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = dialect.Quote(c.Name)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		dialect.Qualify(schemaName, idx.Name), dialect.Quote(table), strings.Join(cols, ", "))
}

// pragma renders "PRAGMA [schema.]name(arg)".
func pragma(schemaName, name, arg string) string {
	prefix := ""
	if schemaName != "" && schemaName != "main" {
		prefix = dialect.Quote(schemaName) + "."
	}
	return fmt.Sprintf("PRAGMA %s%s(%s)", prefix, name, dialect.Quote(arg))
}

// Tables returns all user tables in the schema.
func (backend) Tables(ctx context.Context, q sqlbase.Querier, schemaName string) ([]schema.Table, error) {
	master := "sqlite_master"
	if schemaName != "" && schemaName != "main" {
		master = dialect.Quote(schemaName) + ".sqlite_master"
	}
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM "+master+" WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqlite tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite tables scan: %w", err)
		}
		tables = append(tables, schema.Table{Name: name})
	}
	return tables, rows.Err()
}

// Columns returns column metadata using PRAGMA table_info. A missing table
// yields no columns.
func (backend) Columns(ctx context.Context, q sqlbase.Querier, schemaName, table string) ([]schema.Column, error) {
	rows, err := q.QueryContext(ctx, pragma(schemaName, "table_info", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite columns: %w", err)
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("sqlite columns scan: %w", err)
		}
		col := schema.Column{
			Name:     name,
			Type:     colType,
			Nullable: notNull == 0,
			IsPK:     pk > 0,
		}
		if dfltValue.Valid {
			col.Default = dfltValue.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// Indexes returns the indexes of table. Indexes SQLite created for a
// primary key or unique constraint are marked Primary.
func (backend) Indexes(ctx context.Context, q sqlbase.Querier, schemaName, table string) ([]schema.Index, error) {
	listRows, err := q.QueryContext(ctx, pragma(schemaName, "index_list", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite index_list: %w", err)
	}

	type indexEntry struct {
		name    string
		unique  bool
		primary bool
	}
	var entries []indexEntry
	for listRows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := listRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			listRows.Close()
			return nil, fmt.Errorf("sqlite index_list scan: %w", err)
		}
		entries = append(entries, indexEntry{name: name, unique: unique == 1, primary: origin != "c"})
	}
	listRows.Close()
	if err := listRows.Err(); err != nil {
		return nil, err
	}

	var indexes []schema.Index
	for _, entry := range entries {
		infoRows, err := q.QueryContext(ctx, pragma(schemaName, "index_info", entry.name))
		if err != nil {
			return nil, fmt.Errorf("sqlite index_info: %w", err)
		}

		var cols []string
		for infoRows.Next() {
			var (
				seqno int
				cid   int
				name  sql.NullString
			)
			if err := infoRows.Scan(&seqno, &cid, &name); err != nil {
				infoRows.Close()
				return nil, fmt.Errorf("sqlite index_info scan: %w", err)
			}
			cols = append(cols, name.String)
		}
		infoRows.Close()
		if err := infoRows.Err(); err != nil {
			return nil, err
		}

		indexes = append(indexes, schema.Index{
			Name:    entry.name,
			Columns: cols,
			Unique:  entry.unique,
			Primary: entry.primary,
		})
	}
	return indexes, nil
}
