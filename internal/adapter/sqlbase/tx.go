package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/schema"
)

// Tx implements adapter.Tx on a pinned connection.
type Tx struct {
	conn   *sql.Conn
	tx     *sql.Tx
	b      Backend
	name   string
	schema string
	unlock []string
	done   bool
}

func (t *Tx) exec(ctx context.Context, q Querier, op, stmt string, args ...any) error {
	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%s %s: %w", t.name, op, err)
	}
	return nil
}

func (t *Tx) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	return t.b.Columns(ctx, t.tx, t.schema, table)
}

func (t *Tx) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	return t.b.Indexes(ctx, t.tx, t.schema, table)
}

func (t *Tx) EnsureTable(ctx context.Context, spec schema.TableSpec) error {
	return t.exec(ctx, t.tx, "create table", t.b.CreateTable(t.schema, spec))
}

func (t *Tx) EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) error {
	return t.exec(ctx, t.tx, "add column", t.b.AddColumn(t.schema, table, col))
}

func (t *Tx) DropIndex(ctx context.Context, table, index string) error {
	return t.exec(ctx, t.tx, "drop index", t.b.DropIndex(t.schema, table, index))
}

func (t *Tx) CreateIndex(ctx context.Context, table string, idx schema.IndexSpec) error {
	return t.exec(ctx, t.tx, "create index", t.b.CreateIndex(t.schema, table, idx))
}

// LockTable runs the dialect's lock statement. A lock query returning a
// first column of 0 or NULL means the lock was not granted.
func (t *Tx) LockTable(ctx context.Context, table string) error {
	stmt := t.b.Lock(t.schema, table)
	if stmt == "" {
		return nil
	}
	cols, err := t.Columns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	rows, err := t.tx.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("%s lock %s: %w", t.name, table, err)
	}
	defer rows.Close()
	if rows.Next() {
		var got sql.NullInt64
		if err := rows.Scan(&got); err == nil && (!got.Valid || got.Int64 == 0) {
			return fmt.Errorf("%s lock %s: %w", t.name, table, adapter.ErrLockTimeout)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s lock %s: %w", t.name, table, err)
	}
	if u := t.b.Unlock(t.schema, table); u != "" {
		t.unlock = append(t.unlock, u)
	}
	return nil
}

func (t *Tx) Upsert(ctx context.Context, spec schema.TableSpec, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*len(spec.Columns))
	for _, r := range rows {
		args = append(args, r...)
	}
	return t.exec(ctx, t.tx, "upsert", t.b.Upsert(t.schema, spec, len(rows)), args...)
}

func (t *Tx) MaxParams() int { return t.b.MaxParams() }

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	err := t.tx.Commit()
	if err != nil {
		err = fmt.Errorf("%s commit: %w", t.name, err)
	}
	return errors.Join(err, t.release(ctx))
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	return errors.Join(err, t.release(ctx))
}

// release drops session locks and returns the connection to the pool.
func (t *Tx) release(ctx context.Context) error {
	t.done = true
	var errs []error
	for _, u := range t.unlock {
		if err := t.exec(context.WithoutCancel(ctx), t.conn, "unlock", u); err != nil {
			errs = append(errs, err)
		}
	}
	t.unlock = nil
	errs = append(errs, t.conn.Close())
	return errors.Join(errs...)
}
