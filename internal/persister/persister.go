// Package persister writes a table model into a relational database: it
// evolves the schema, upserts rows in batches and rebuilds indexes, one
// transaction per table with bounded retries.
package persister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/schema"
)

// ErrSchemaConflict reports an existing junction table whose keys do not
// match the relation being persisted.
var ErrSchemaConflict = errors.New("schema conflict")

// Beginner opens per-table transactions. adapter.Connection satisfies it.
type Beginner interface {
	Begin(ctx context.Context, schemaName string) (adapter.Tx, error)
}

// TableReport describes the outcome of persisting one table.
type TableReport struct {
	Target   string        `json:"target,omitempty"`
	Source   string        `json:"source"`
	Table    string        `json:"table"`
	Kind     string        `json:"kind"`
	Rows     int           `json:"rows"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// Reporter receives a report after every table, successful or not.
type Reporter interface {
	TableDone(TableReport)
}

// Summary is the outcome of one Persist call.
type Summary struct {
	Tables []TableReport
	Rows   int
	Failed int
	// Time is the import timestamp written to every row, in unix seconds.
	Time float64
}

// Option configures a Persister.
type Option func(*Persister)

// WithLogger sets the logger; the config's logger is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(p *Persister) { p.log = l } }

// WithReporter sets the per-table progress sink.
func WithReporter(r Reporter) Option { return func(p *Persister) { p.reporter = r } }

// WithClock sets the source of the import timestamp.
func WithClock(now func() time.Time) Option { return func(p *Persister) { p.now = now } }

// WithRand sets the source used to shuffle table order.
func WithRand(r *rand.Rand) Option { return func(p *Persister) { p.rand = r } }

// WithTarget names the target in reports and log lines.
func WithTarget(name string) Option { return func(p *Persister) { p.target = name } }

// WithSchema sets the schema tables are written to, overriding the config.
func WithSchema(name string) Option { return func(p *Persister) { p.schema = name } }

// Persister writes models to one database.
type Persister struct {
	conn     Beginner
	cfg      *config.Config
	log      *slog.Logger
	reporter Reporter
	now      func() time.Time
	rand     *rand.Rand
	target   string
	schema   string
}

// New returns a Persister writing through conn.
func New(conn Beginner, cfg *config.Config, opts ...Option) *Persister {
	p := &Persister{
		conn:   conn,
		cfg:    cfg,
		log:    cfg.Logger(),
		now:    time.Now,
		schema: cfg.Persist.Schema,
	}
	for _, o := range opts {
		o(p)
	}
	if p.rand == nil {
		p.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if p.target != "" {
		p.log = p.log.With("target", p.target)
	}
	return p
}

// Persist freezes m and writes every table and junction table of it, tagged
// with source. Tables are visited in random order. A schema conflict fails
// only its table; any other failure stops the call after retries are
// exhausted. Tables committed before a failure stay committed.
func (p *Persister) Persist(ctx context.Context, m *model.Model, source string) (*Summary, error) {
	m.Freeze()
	now := p.now()
	sum := &Summary{Time: float64(now.Unix()) + float64(now.Nanosecond())/1e9}

	jobs := buildJobs(m, p.cfg)
	p.rand.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })

	var errs []error
	for _, j := range jobs {
		for _, c := range j.shadowed {
			p.log.Warn("content column replaced by provenance", "table", j.spec.Name, "column", c)
		}

		rep := p.persistTable(ctx, j, source, sum.Time)
		sum.Tables = append(sum.Tables, rep)
		if p.reporter != nil {
			p.reporter.TableDone(rep)
		}
		if rep.Err == nil {
			sum.Rows += rep.Rows
			continue
		}

		sum.Failed++
		errs = append(errs, fmt.Errorf("persist %s: %w", j.spec.Name, rep.Err))
		if !errors.Is(rep.Err, ErrSchemaConflict) {
			break
		}
	}
	return sum, errors.Join(errs...)
}

func (p *Persister) persistTable(ctx context.Context, j job, source string, ts float64) TableReport {
	rep := TableReport{
		Target: p.target,
		Source: source,
		Table:  j.spec.Name,
		Kind:   j.kind,
		Rows:   len(j.rows),
	}
	start := time.Now()
	log := p.log.With("table", j.spec.Name)

	for {
		rep.Attempts++
		err := p.attempt(ctx, j, source, ts)
		if err == nil {
			rep.Duration = time.Since(start)
			log.Info("table persisted", "rows", rep.Rows, "attempts", rep.Attempts, "duration", rep.Duration)
			return rep
		}

		if !retryable(err) || rep.Attempts > p.cfg.Persist.Retries {
			rep.Err = err
			rep.Duration = time.Since(start)
			log.Error("table not persisted", "attempts", rep.Attempts, "err", err)
			return rep
		}

		wait := time.Duration(rep.Attempts) * p.cfg.Persist.Backoff
		log.Warn("persist attempt failed", "attempt", rep.Attempts, "retry_in", wait, "err", err)
		if werr := sleep(ctx, wait); werr != nil {
			rep.Err = fmt.Errorf("%w (retry aborted: %w)", err, werr)
			rep.Duration = time.Since(start)
			return rep
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, ErrSchemaConflict) &&
		!errors.Is(err, model.ErrInvariant) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attempt runs one transaction: lock, evolve schema, drop secondary indexes,
// upsert, recreate indexes, commit.
func (p *Persister) attempt(ctx context.Context, j job, source string, ts float64) (err error) {
	tx, err := p.conn.Begin(ctx, p.schema)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
				p.log.Debug("rollback failed", "table", j.spec.Name, "err", rerr)
			}
		}
	}()

	name := j.spec.Name
	if p.cfg.Persist.Lock {
		if err := tx.LockTable(ctx, name); err != nil {
			return err
		}
	}

	if err := p.evolve(ctx, tx, j); err != nil {
		return err
	}

	existing, err := tx.Indexes(ctx, name)
	if err != nil {
		return err
	}
	dropped := 0
	for _, ix := range existing {
		if ix.Primary {
			continue
		}
		if err := tx.DropIndex(ctx, name, ix.Name); err != nil {
			return err
		}
		dropped++
	}
	p.log.Debug("indexes dropped", "table", name, "count", dropped)

	if err := upsert(ctx, tx, j, source, ts, p.cfg.Persist.BatchSize); err != nil {
		return err
	}

	for _, ix := range j.indexes {
		if err := tx.CreateIndex(ctx, name, ix); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// evolve creates the table or adds the columns it lacks. Junction tables
// must already carry the wanted key.
func (p *Persister) evolve(ctx context.Context, tx adapter.Tx, j job) error {
	cols, err := tx.Columns(ctx, j.spec.Name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return tx.EnsureTable(ctx, j.spec)
	}

	if j.kind == KindJunction {
		if err := compatible(cols, j.spec); err != nil {
			return err
		}
	}
	for _, c := range j.spec.Columns {
		if schema.HasColumn(cols, c.Name) {
			continue
		}
		p.log.Info("adding column", "table", j.spec.Name, "column", c.Name)
		if err := tx.EnsureColumn(ctx, j.spec.Name, c); err != nil {
			return err
		}
	}
	return nil
}

func compatible(cols []schema.Column, spec schema.TableSpec) error {
	for _, k := range spec.PrimaryKey {
		if !schema.HasColumn(cols, k) {
			return fmt.Errorf("%w: %s lacks key column %s", ErrSchemaConflict, spec.Name, k)
		}
	}
	pk := schema.PrimaryKey(cols)
	same := len(pk) == len(spec.PrimaryKey)
	for _, k := range pk {
		same = same && spec.IsKey(k)
	}
	if !same {
		return fmt.Errorf("%w: %s has primary key %v, want %v", ErrSchemaConflict, spec.Name, pk, spec.PrimaryKey)
	}
	return nil
}

// upsert writes rows in batches bounded by batchSize and the backend's bind
// parameter limit.
func upsert(ctx context.Context, tx adapter.Tx, j job, source string, ts float64, batchSize int) error {
	ncols := len(j.spec.Columns)
	size := batchSize
	if max := tx.MaxParams() / ncols; max < size {
		size = max
	}
	if size < 1 {
		size = 1
	}

	batch := make([][]any, 0, size)
	for i, r := range j.rows {
		row := make([]any, 0, ncols)
		row = append(row, r...)
		row = append(row, source, ts)
		batch = append(batch, row)
		if len(batch) == size || i == len(j.rows)-1 {
			if err := tx.Upsert(ctx, j.spec, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return nil
}
