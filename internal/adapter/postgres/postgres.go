package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/adapter/sqlbase"
	"github.com/sadopc/jsonrel/internal/schema"
)

func init() {
	adapter.Register(&postgresAdapter{})
}

// postgresAdapter implements adapter.Adapter for PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string            { return "postgres" }
func (a *postgresAdapter) DefaultPort() int        { return 5432 }
func (a *postgresAdapter) Dialect() schema.Dialect { return dialect{} }

func (a *postgresAdapter) Connect(ctx context.Context, dsn string) (adapter.Connection, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &pgConn{
		pool:   pool,
		dbName: extractDBName(dsn),
	}, nil
}

// extractDBName parses the database name from the DSN.
func extractDBName(dsn string) string {
	if dsn == "" {
		return ""
	}
	// Try URL format first (postgres://... or postgresql://...)
	u, err := url.Parse(dsn)
	if err == nil && u.Scheme != "" {
		return strings.TrimPrefix(u.Path, "/")
	}
	// Fallback: keyword=value format (e.g. "host=localhost dbname=myapp")
	for _, part := range strings.Fields(dsn) {
		if strings.HasPrefix(part, "dbname=") {
			return strings.TrimPrefix(part, "dbname=")
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Dialect
// ---------------------------------------------------------------------------

// dialect is the shared double-quoting dialect with $n placeholders and
// LOCK TABLE.
type dialect struct{}

var std = sqlbase.Standard{
	DialectName: "postgres",
	Types: map[schema.Kind]string{
		schema.KindText:    "TEXT",
		schema.KindKey:     "TEXT",
		schema.KindReal:    "DOUBLE PRECISION",
		schema.KindInteger: "INTEGER",
	},
	Dollar:            true,
	IfNotExistsColumn: true,
	Params:            65535,
}

func (dialect) Name() string                            { return std.Name() }
func (dialect) Quote(ident string) string               { return std.Quote(ident) }
func (dialect) Qualify(schemaName, table string) string { return std.Qualify(schemaName, table) }
func (dialect) TypeName(k schema.Kind) string           { return std.TypeName(k) }
func (dialect) Placeholder(i int) string                { return std.Placeholder(i) }
func (dialect) MaxParams() int                          { return std.MaxParams() }

func (dialect) CreateTable(schemaName string, spec schema.TableSpec) string {
	return std.CreateTable(schemaName, spec)
}

func (dialect) AddColumn(schemaName, table string, col schema.ColumnSpec) string {
	return std.AddColumn(schemaName, table, col)
}

func (dialect) CreateIndex(schemaName, table string, idx schema.IndexSpec) string {
	return std.CreateIndex(schemaName, table, idx)
}

func (dialect) DropIndex(schemaName, table, index string) string {
	return std.DropIndex(schemaName, table, index)
}

func (dialect) Upsert(schemaName string, spec schema.TableSpec, rows int) string {
	return std.Upsert(schemaName, spec, rows)
}

func (dialect) Lock(schemaName, table string) string {
	return "LOCK TABLE " + std.Qualify(schemaName, table) + " IN ACCESS EXCLUSIVE MODE"
}

func (dialect) Unlock(string, string) string { return "" }

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgConn implements adapter.Connection for PostgreSQL.
type pgConn struct {
	pool   *pgxpool.Pool
	dbName string
}

func (c *pgConn) DatabaseName() string    { return c.dbName }
func (c *pgConn) AdapterName() string     { return "postgres" }
func (c *pgConn) DefaultSchema() string   { return "public" }
func (c *pgConn) Dialect() schema.Dialect { return dialect{} }

func (c *pgConn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgConn) Close() error {
	c.pool.Close()
	return nil
}

func schemaOr(s string) string {
	if s == "" {
		return "public"
	}
	return s
}

func (c *pgConn) Tables(ctx context.Context, schemaName string) ([]schema.Table, error) {
	return tables(ctx, c.pool, schemaOr(schemaName))
}

func (c *pgConn) Columns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	return columns(ctx, c.pool, schemaOr(schemaName), table)
}

func (c *pgConn) Indexes(ctx context.Context, schemaName, table string) ([]schema.Index, error) {
	return indexes(ctx, c.pool, schemaOr(schemaName), table)
}

// Begin opens a transaction and creates the target schema when needed.
func (c *pgConn) Begin(ctx context.Context, schemaName string) (adapter.Tx, error) {
	schemaName = schemaOr(schemaName)
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	if schemaName != "public" {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+std.Quote(schemaName)); err != nil {
			tx.Rollback(ctx)
			return nil, fmt.Errorf("postgres create schema: %w", err)
		}
	}
	return &pgTx{tx: tx, schema: schemaName}, nil
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

func tables(ctx context.Context, q querier, schemaName string) ([]schema.Table, error) {
	rows, err := q.Query(ctx,
		`SELECT table_name
		 FROM information_schema.tables
		 WHERE table_schema = $1
		   AND table_type   = 'BASE TABLE'
		 ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("postgres tables: %w", err)
	}
	defer rows.Close()

	var out []schema.Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres tables scan: %w", err)
		}
		out = append(out, schema.Table{Name: name})
	}
	return out, rows.Err()
}

func columns(ctx context.Context, q querier, schemaName, table string) ([]schema.Column, error) {
	pkSet, err := primaryKeyColumns(ctx, q, schemaName, table)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT column_name,
		        data_type,
		        is_nullable,
		        COALESCE(column_default, '')
		 FROM information_schema.columns
		 WHERE table_schema = $1
		   AND table_name   = $2
		 ORDER BY ordinal_position`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("postgres columns: %w", err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			name, dtype, nullable, dflt string
		)
		if err := rows.Scan(&name, &dtype, &nullable, &dflt); err != nil {
			return nil, fmt.Errorf("postgres columns scan: %w", err)
		}
		cols = append(cols, schema.Column{
			Name:     name,
			Type:     dtype,
			Nullable: nullable == "YES",
			Default:  dflt,
			IsPK:     pkSet[name],
		})
	}
	return cols, rows.Err()
}

// primaryKeyColumns returns the primary key column names. A missing table has
// none.
func primaryKeyColumns(ctx context.Context, q querier, schemaName, table string) (map[string]bool, error) {
	rows, err := q.Query(ctx,
		`SELECT a.attname
		 FROM pg_index i
		 JOIN pg_class t ON t.oid = i.indrelid
		 JOIN pg_namespace n ON n.oid = t.relnamespace
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		 WHERE n.nspname = $1
		   AND t.relname = $2
		   AND i.indisprimary`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("postgres primary keys: %w", err)
	}
	defer rows.Close()

	pk := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres primary keys scan: %w", err)
		}
		pk[name] = true
	}
	return pk, rows.Err()
}

func indexes(ctx context.Context, q querier, schemaName, table string) ([]schema.Index, error) {
	rows, err := q.Query(ctx,
		`SELECT i.relname                        AS index_name,
		        array_agg(a.attname ORDER BY k.n) AS columns,
		        ix.indisunique                     AS is_unique,
		        ix.indisprimary OR con.oid IS NOT NULL AS is_constraint
		 FROM pg_index ix
		 JOIN pg_class  t ON t.oid  = ix.indrelid
		 JOIN pg_class  i ON i.oid  = ix.indexrelid
		 JOIN pg_namespace n ON n.oid = t.relnamespace
		 LEFT JOIN pg_constraint con ON con.conindid = ix.indexrelid
		 JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, n) ON true
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		 WHERE n.nspname = $1
		   AND t.relname = $2
		 GROUP BY i.relname, ix.indisunique, ix.indisprimary, con.oid
		 ORDER BY i.relname`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("postgres indexes: %w", err)
	}
	defer rows.Close()

	var out []schema.Index
	for rows.Next() {
		var (
			name    string
			cols    []string
			unique  bool
			primary bool
		)
		if err := rows.Scan(&name, &cols, &unique, &primary); err != nil {
			return nil, fmt.Errorf("postgres indexes scan: %w", err)
		}
		out = append(out, schema.Index{
			Name:    name,
			Columns: cols,
			Unique:  unique,
			Primary: primary,
		})
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Transaction
// ---------------------------------------------------------------------------

// pgTx implements adapter.Tx on a pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	schema string
}

func (t *pgTx) exec(ctx context.Context, op, stmt string, args ...any) error {
	if _, err := t.tx.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("postgres %s: %w", op, err)
	}
	return nil
}

func (t *pgTx) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	return columns(ctx, t.tx, t.schema, table)
}

func (t *pgTx) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	return indexes(ctx, t.tx, t.schema, table)
}

func (t *pgTx) EnsureTable(ctx context.Context, spec schema.TableSpec) error {
	return t.exec(ctx, "create table", std.CreateTable(t.schema, spec))
}

func (t *pgTx) EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) error {
	return t.exec(ctx, "add column", std.AddColumn(t.schema, table, col))
}

// LockTable holds an ACCESS EXCLUSIVE lock until the transaction ends.
func (t *pgTx) LockTable(ctx context.Context, table string) error {
	cols, err := t.Columns(ctx, table)
	if err != nil || len(cols) == 0 {
		return err
	}
	return t.exec(ctx, "lock "+table, dialect{}.Lock(t.schema, table))
}

func (t *pgTx) DropIndex(ctx context.Context, table, index string) error {
	return t.exec(ctx, "drop index", std.DropIndex(t.schema, table, index))
}

func (t *pgTx) CreateIndex(ctx context.Context, table string, idx schema.IndexSpec) error {
	return t.exec(ctx, "create index", std.CreateIndex(t.schema, table, idx))
}

func (t *pgTx) Upsert(ctx context.Context, spec schema.TableSpec, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*len(spec.Columns))
	for _, r := range rows {
		args = append(args, r...)
	}
	return t.exec(ctx, "upsert", std.Upsert(t.schema, spec, len(rows)), args...)
}

func (t *pgTx) MaxParams() int { return std.MaxParams() }

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres rollback: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Query Execution
// ---------------------------------------------------------------------------

func (c *pgConn) Execute(ctx context.Context, query string, args ...any) (*adapter.QueryResult, error) {
	start := time.Now()
	if isSelectQuery(query) {
		return c.executeSelect(ctx, query, args, start)
	}
	return c.executeNonSelect(ctx, query, args, start)
}

func (c *pgConn) executeSelect(ctx context.Context, query string, args []any, start time.Time) (*adapter.QueryResult, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres execute: %w", err)
	}
	defer rows.Close()

	cols := fieldDescToMeta(rows.FieldDescriptions())

	var result [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres execute values: %w", err)
		}
		result = append(result, valuesToStrings(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres execute rows: %w", err)
	}

	return &adapter.QueryResult{
		Columns:  cols,
		Rows:     result,
		RowCount: int64(len(result)),
		Duration: time.Since(start),
		IsSelect: true,
	}, nil
}

func (c *pgConn) executeNonSelect(ctx context.Context, query string, args []any, start time.Time) (*adapter.QueryResult, error) {
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres execute: %w", err)
	}

	return &adapter.QueryResult{
		RowCount: tag.RowsAffected(),
		Duration: time.Since(start),
		Message:  tag.String(),
	}, nil
}

// isSelectQuery determines if a query is a SELECT-like statement.
func isSelectQuery(query string) bool {
	q := strings.TrimSpace(query)
	// Strip leading comments (-- and /* */)
	for {
		if strings.HasPrefix(q, "--") {
			if idx := strings.Index(q, "\n"); idx >= 0 {
				q = strings.TrimSpace(q[idx+1:])
				continue
			}
			return false
		}
		if strings.HasPrefix(q, "/*") {
			if idx := strings.Index(q, "*/"); idx >= 0 {
				q = strings.TrimSpace(q[idx+2:])
				continue
			}
			return false
		}
		break
	}
	return sqlbase.IsSelect(q) ||
		strings.HasPrefix(strings.ToUpper(q), "VALUES") ||
		strings.HasPrefix(strings.ToUpper(q), "TABLE")
}

// fieldDescToMeta converts pgx field descriptions to adapter ColumnMeta.
func fieldDescToMeta(fds []pgconn.FieldDescription) []adapter.ColumnMeta {
	cols := make([]adapter.ColumnMeta, len(fds))
	for i, fd := range fds {
		cols[i] = adapter.ColumnMeta{
			Name: fd.Name,
			Type: pgTypeOIDToName(fd.DataTypeOID),
		}
	}
	return cols
}

// valuesToStrings converts a row of values to strings.
func valuesToStrings(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = valueToString(v)
	}
	return out
}

// valueToString renders the types jsonrel tables and catalog queries return.
// NULL renders as "NULL" like the database/sql backends.
func valueToString(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case []string:
		return "{" + strings.Join(val, ",") + "}"
	case pgtype.Numeric:
		dv, err := val.Value()
		if err != nil || dv == nil {
			return "NULL"
		}
		return fmt.Sprintf("%v", dv)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// pgTypeOIDToName maps the type OIDs jsonrel produces to names.
func pgTypeOIDToName(oid uint32) string {
	switch oid {
	case 16:
		return "bool"
	case 20:
		return "int8"
	case 21:
		return "int2"
	case 23:
		return "int4"
	case 25:
		return "text"
	case 701:
		return "float8"
	case 1043:
		return "varchar"
	case 1700:
		return "numeric"
	default:
		return fmt.Sprintf("oid:%d", oid)
	}
}
