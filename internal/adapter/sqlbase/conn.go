package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/schema"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Introspector reads the catalog of one backend.
type Introspector interface {
	Tables(ctx context.Context, q Querier, schemaName string) ([]schema.Table, error)
	Columns(ctx context.Context, q Querier, schemaName, table string) ([]schema.Column, error)
	Indexes(ctx context.Context, q Querier, schemaName, table string) ([]schema.Index, error)
}

// Backend is what a database/sql driver package supplies.
type Backend interface {
	schema.Dialect
	Introspector
}

// Conn implements adapter.Connection over a *sql.DB.
type Conn struct {
	DB      *sql.DB
	Backend Backend
	// Name is the adapter name used in error messages.
	Name   string
	DBName string
	Schema string
}

func (c *Conn) AdapterName() string            { return c.Name }
func (c *Conn) DatabaseName() string           { return c.DBName }
func (c *Conn) DefaultSchema() string          { return c.Schema }
func (c *Conn) Dialect() schema.Dialect        { return c.Backend }
func (c *Conn) Ping(ctx context.Context) error { return c.DB.PingContext(ctx) }
func (c *Conn) Close() error                   { return c.DB.Close() }

func (c *Conn) schemaOr(s string) string {
	if s == "" {
		return c.Schema
	}
	return s
}

func (c *Conn) Tables(ctx context.Context, schemaName string) ([]schema.Table, error) {
	return c.Backend.Tables(ctx, c.DB, c.schemaOr(schemaName))
}

func (c *Conn) Columns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	return c.Backend.Columns(ctx, c.DB, c.schemaOr(schemaName), table)
}

func (c *Conn) Indexes(ctx context.Context, schemaName, table string) ([]schema.Index, error) {
	return c.Backend.Indexes(ctx, c.DB, c.schemaOr(schemaName), table)
}

// Execute runs a query. Row-returning statements are scanned into strings.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	start := time.Now()
	if IsSelect(query) {
		return c.executeQuery(ctx, query, args, start)
	}
	return c.executeExec(ctx, query, args, start)
}

// IsSelect reports whether query returns rows.
func IsSelect(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	for _, p := range []string{"SELECT", "PRAGMA", "EXPLAIN", "WITH", "SHOW", "DESCRIBE"} {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func (c *Conn) executeQuery(ctx context.Context, query string, args []any, start time.Time) (*adapter.QueryResult, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", c.Name, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%s column types: %w", c.Name, err)
	}

	cols := make([]adapter.ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = adapter.ColumnMeta{
			Name: ct.Name(),
			Type: ct.DatabaseTypeName(),
		}
		if nullable, ok := ct.Nullable(); ok {
			cols[i].Nullable = nullable
		}
	}

	resultRows, err := ScanStrings(rows, len(cols))
	if err != nil {
		return nil, fmt.Errorf("%s rows: %w", c.Name, err)
	}

	return &adapter.QueryResult{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: int64(len(resultRows)),
		Duration: time.Since(start),
		IsSelect: true,
	}, nil
}

func (c *Conn) executeExec(ctx context.Context, query string, args []any, start time.Time) (*adapter.QueryResult, error) {
	result, err := c.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s exec: %w", c.Name, err)
	}

	affected, _ := result.RowsAffected()
	return &adapter.QueryResult{
		RowCount: affected,
		Duration: time.Since(start),
		Message:  fmt.Sprintf("%d row(s) affected", affected),
	}, nil
}

// ScanStrings scans every row into strings, rendering NULL as "NULL".
func ScanStrings(rows *sql.Rows, colCount int) ([][]string, error) {
	scanDest := make([]any, colCount)
	for i := range scanDest {
		scanDest[i] = new(sql.NullString)
	}

	var result [][]string
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, err
		}
		row := make([]string, colCount)
		for i, v := range scanDest {
			ns := v.(*sql.NullString)
			if ns.Valid {
				row[i] = ns.String
			} else {
				row[i] = "NULL"
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Begin pins one pooled connection and opens a transaction on it, so
// session-scoped locks are released on the connection that took them.
func (c *Conn) Begin(ctx context.Context, schemaName string) (adapter.Tx, error) {
	sc, err := c.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s conn: %w", c.Name, err)
	}
	tx, err := sc.BeginTx(ctx, nil)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("%s begin: %w", c.Name, err)
	}
	return &Tx{
		conn:   sc,
		tx:     tx,
		b:      c.Backend,
		name:   c.Name,
		schema: c.schemaOr(schemaName),
	}, nil
}
