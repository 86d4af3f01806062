//go:build duckdb

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/adapter/sqlbase"
	"github.com/sadopc/jsonrel/internal/schema"
)

func init() {
	adapter.Register(&duckdbAdapter{})
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

type duckdbAdapter struct{}

func (a *duckdbAdapter) Name() string            { return "duckdb" }
func (a *duckdbAdapter) DefaultPort() int        { return 0 }
func (a *duckdbAdapter) Dialect() schema.Dialect { return dialect }

func (a *duckdbAdapter) Connect(ctx context.Context, dsn string) (adapter.Connection, error) {
	// Strip the "duckdb://" prefix if present.
	dsn = strings.TrimPrefix(dsn, "duckdb://")
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}

	return &sqlbase.Conn{
		DB:      db,
		Backend: backend{dialect},
		Name:    "duckdb",
		DBName:  dsn,
		Schema:  "main",
	}, nil
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

type backend struct {
	sqlbase.Standard
}

func (backend) Tables(ctx context.Context, q sqlbase.Querier, schemaName string) ([]schema.Table, error) {
	query := `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	rows, err := q.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("duckdb: tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("duckdb: tables scan: %w", err)
		}
		tables = append(tables, schema.Table{Name: name})
	}
	return tables, rows.Err()
}

func (backend) Columns(ctx context.Context, q sqlbase.Querier, schemaName, table string) ([]schema.Column, error) {
	query := `SELECT column_name,
			data_type,
			CASE WHEN is_nullable = 'YES' THEN true ELSE false END,
			COALESCE(column_default, ''),
			CASE WHEN column_name IN (
				SELECT kcu.column_name
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
				  ON tc.constraint_name = kcu.constraint_name
				  AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND tc.table_schema = ?
				  AND tc.table_name = ?
			) THEN true ELSE false END
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`
	rows, err := q.QueryContext(ctx, query, schemaName, table, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: columns: %w", err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var col schema.Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.IsPK); err != nil {
			return nil, fmt.Errorf("duckdb: columns scan: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// Indexes lists CREATE INDEX indexes. Primary key indexes are not reported
// by duckdb_indexes().
func (backend) Indexes(ctx context.Context, q sqlbase.Querier, schemaName, table string) ([]schema.Index, error) {
	query := `SELECT index_name, is_unique, sql
		FROM duckdb_indexes()
		WHERE schema_name = ? AND table_name = ?
		ORDER BY index_name`
	rows, err := q.QueryContext(ctx, query, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: indexes: %w", err)
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		var sqlStr sql.NullString
		if err := rows.Scan(&idx.Name, &idx.Unique, &sqlStr); err != nil {
			return nil, fmt.Errorf("duckdb: indexes scan: %w", err)
		}
		idx.Columns = parseIndexColumns(sqlStr.String)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
