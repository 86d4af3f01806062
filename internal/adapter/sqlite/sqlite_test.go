package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/schema"
)

func TestSQLiteAdapter_Registration(t *testing.T) {
	a, ok := adapter.Registry["sqlite"]
	if !ok {
		t.Fatal("sqlite adapter not found in registry")
	}
	if a.Name() != "sqlite" {
		t.Errorf("registered adapter Name() = %q, want %q", a.Name(), "sqlite")
	}
	if a.DefaultPort() != 0 {
		t.Errorf("registered adapter DefaultPort() = %d, want %d", a.DefaultPort(), 0)
	}
	if a.Dialect().Name() != "sqlite" {
		t.Errorf("Dialect().Name() = %q, want sqlite", a.Dialect().Name())
	}
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"sqlite:// prefix stripped", "sqlite:///path/to/file.db", "/path/to/file.db"},
		{"file: prefix stripped", "file:test.db", "test.db"},
		{"memory unchanged", ":memory:", ":memory:"},
		{"absolute path unchanged", "/absolute/path.db", "/absolute/path.db"},
		{"sqlite:// relative path", "sqlite://data.db", "data.db"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeDSN(tt.dsn)
			if got != tt.want {
				t.Errorf("normalizeDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestWithParams(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"test.db", "test.db?_pragma=busy_timeout(5000)&_txlock=immediate"},
		{":memory:", ":memory:?_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"test.db?cache=shared", "test.db?cache=shared&_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"test.db?_pragma=busy_timeout(100)", "test.db?_pragma=busy_timeout(100)&_txlock=immediate"},
		{"test.db?_txlock=deferred", "test.db?_txlock=deferred&_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		if got := withParams(tt.dsn); got != tt.want {
			t.Errorf("withParams(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestConnect_ConcurrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a := &sqliteAdapter{}

	const writers = 6
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			conn, err := a.Connect(ctx, path)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			res, err := conn.Execute(ctx, "PRAGMA busy_timeout")
			if err != nil {
				errs <- err
				return
			}
			if len(res.Rows) != 1 || res.Rows[0][0] != "5000" {
				t.Errorf("busy_timeout = %v, want 5000", res.Rows)
			}
			if _, err := conn.Execute(ctx, "CREATE TABLE IF NOT EXISTS t (x INTEGER)"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent connect: %v", err)
	}
}

func TestConnect_DatabaseNameDropsParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "named.db")
	conn, err := (&sqliteAdapter{}).Connect(context.Background(), path+"?cache=shared")
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()
	if got := conn.DatabaseName(); got != "named.db" {
		t.Errorf("DatabaseName() = %q, want named.db", got)
	}
}

var carsSpec = schema.TableSpec{
	Name: "cars",
	Columns: []schema.ColumnSpec{
		{Name: "__id", Kind: schema.KindKey},
		{Name: "__value", Kind: schema.KindText},
		{Name: "file", Kind: schema.KindText},
		{Name: "__time", Kind: schema.KindReal},
	},
	PrimaryKey: []string{"__id"},
}

func TestDialect(t *testing.T) {
	d := newBackend()

	if got := d.Qualify("main", "t"); got != `"t"` {
		t.Errorf("Qualify(main) = %s", got)
	}
	if got := d.Qualify("aux", `we"ird`); got != `"aux"."we""ird"` {
		t.Errorf("Qualify(aux) = %s", got)
	}

	up := d.Upsert("", carsSpec, 2)
	want := `INSERT INTO "cars" ("__id", "__value", "file", "__time") VALUES (?, ?, ?, ?), (?, ?, ?, ?)` +
		` ON CONFLICT ("__id") DO UPDATE SET "__value" = excluded."__value", "file" = excluded."file", "__time" = excluded."__time"`
	if up != want {
		t.Errorf("Upsert =\n%s\nwant\n%s", up, want)
	}

	junction := schema.TableSpec{
		Name: "a__b",
		Columns: []schema.ColumnSpec{
			{Name: "a__id", Kind: schema.KindKey},
			{Name: "b__id", Kind: schema.KindKey},
		},
		PrimaryKey: []string{"a__id", "b__id"},
	}
	if up := d.Upsert("", junction, 1); !strings.HasSuffix(up, "DO NOTHING") {
		t.Errorf("key-only upsert should do nothing on conflict: %s", up)
	}

	ddl := d.CreateTable("", carsSpec)
	for _, frag := range []string{`CREATE TABLE IF NOT EXISTS "cars"`, `"__id" TEXT NOT NULL`, `"__time" REAL`, `PRIMARY KEY ("__id")`} {
		if !strings.Contains(ddl, frag) {
			t.Errorf("CreateTable missing %q:\n%s", frag, ddl)
		}
	}

	idx := schema.IndexSpec{Name: "ix_cars__file", Columns: []schema.ColumnSpec{{Name: "file"}}}
	if got := d.CreateIndex("aux", "cars", idx); got != `CREATE INDEX IF NOT EXISTS "aux"."ix_cars__file" ON "cars" ("file")` {
		t.Errorf("CreateIndex = %s", got)
	}
	if d.Lock("", "cars") != "" {
		t.Error("sqlite has no table lock")
	}
}

func TestConnect_InMemory(t *testing.T) {
	conn := openMemory(t)

	if err := conn.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	if got := conn.AdapterName(); got != "sqlite" {
		t.Errorf("AdapterName() = %q, want %q", got, "sqlite")
	}
	if got := conn.DatabaseName(); got != ":memory:" {
		t.Errorf("DatabaseName() = %q, want %q", got, ":memory:")
	}
	if got := conn.DefaultSchema(); got != "main" {
		t.Errorf("DefaultSchema() = %q, want main", got)
	}
}

func TestTx_EnsureUpsertIndex(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, "")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	cols, err := tx.Columns(ctx, "cars")
	if err != nil {
		t.Fatalf("Columns of missing table error: %v", err)
	}
	if len(cols) != 0 {
		t.Fatalf("missing table has %d columns", len(cols))
	}
	if err := tx.LockTable(ctx, "cars"); err != nil {
		t.Fatalf("LockTable error: %v", err)
	}
	if err := tx.EnsureTable(ctx, carsSpec); err != nil {
		t.Fatalf("EnsureTable error: %v", err)
	}
	rows := [][]any{
		{"h1", "Audi", "a.json", 1.5},
		{"h2", nil, "a.json", 1.5},
	}
	if err := tx.Upsert(ctx, carsSpec, rows); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := tx.Upsert(ctx, carsSpec, [][]any{{"h1", "Volvo", "b.json", 2.5}}); err != nil {
		t.Fatalf("second Upsert error: %v", err)
	}
	idx := schema.IndexSpec{
		Name:    schema.IndexName("cars", "file"),
		Columns: []schema.ColumnSpec{{Name: "file", Kind: schema.KindText}},
	}
	if err := tx.CreateIndex(ctx, "cars", idx); err != nil {
		t.Fatalf("CreateIndex error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	result, err := conn.Execute(ctx, `SELECT "__id", "__value", "file" FROM cars ORDER BY "__id"`)
	if err != nil {
		t.Fatalf("SELECT error: %v", err)
	}
	if !result.IsSelect || len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", result.Rows)
	}
	if got := strings.Join(result.Rows[0], ","); got != "h1,Volvo,b.json" {
		t.Errorf("row 0 = %s, want updated values", got)
	}
	if result.Rows[1][1] != "NULL" {
		t.Errorf("Row[1][1] = %q, want NULL", result.Rows[1][1])
	}

	cols, err = conn.Columns(ctx, "", "cars")
	if err != nil {
		t.Fatalf("Columns error: %v", err)
	}
	if pk := schema.PrimaryKey(cols); len(pk) != 1 || pk[0] != "__id" {
		t.Errorf("PrimaryKey = %v, want [__id]", pk)
	}

	indexes, err := conn.Indexes(ctx, "", "cars")
	if err != nil {
		t.Fatalf("Indexes error: %v", err)
	}
	var primary, secondary int
	for _, ix := range indexes {
		if ix.Primary {
			primary++
			continue
		}
		secondary++
		if ix.Name != "ix_cars__file" || len(ix.Columns) != 1 || ix.Columns[0] != "file" {
			t.Errorf("unexpected index %+v", ix)
		}
	}
	if primary != 1 || secondary != 1 {
		t.Errorf("primary=%d secondary=%d, want 1 and 1", primary, secondary)
	}

	tables, err := conn.Tables(ctx, "")
	if err != nil {
		t.Fatalf("Tables error: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "cars" {
		t.Errorf("Tables = %+v", tables)
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, "")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := tx.EnsureTable(ctx, carsSpec); err != nil {
		t.Fatalf("EnsureTable error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("second Rollback should be a no-op: %v", err)
	}

	tables, err := conn.Tables(ctx, "")
	if err != nil {
		t.Fatalf("Tables error: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("rolled back table still exists: %+v", tables)
	}
}

func TestTx_EnsureColumn(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	if _, err := conn.Execute(ctx, `CREATE TABLE cars ("__id" TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("CREATE TABLE error: %v", err)
	}
	tx, err := conn.Begin(ctx, "main")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := tx.EnsureColumn(ctx, "cars", schema.ColumnSpec{Name: "color", Kind: schema.KindText}); err != nil {
		t.Fatalf("EnsureColumn error: %v", err)
	}
	cols, err := tx.Columns(ctx, "cars")
	if err != nil {
		t.Fatalf("Columns error: %v", err)
	}
	if !schema.HasColumn(cols, "color") {
		t.Errorf("column not added: %+v", cols)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
}

func TestExecute_NonSelect(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	if _, err := conn.Execute(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE error: %v", err)
	}
	result, err := conn.Execute(ctx, "INSERT INTO t VALUES (?), (?)", 1, 2)
	if err != nil {
		t.Fatalf("INSERT error: %v", err)
	}
	if result.IsSelect {
		t.Error("INSERT should have IsSelect=false")
	}
	if result.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", result.RowCount)
	}
	if result.Message != "2 row(s) affected" {
		t.Errorf("Message = %q", result.Message)
	}
}

// openMemory creates an in-memory SQLite connection for testing.
func openMemory(t *testing.T) adapter.Connection {
	t.Helper()
	a := &sqliteAdapter{}
	conn, err := a.Connect(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Connect(:memory:) error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
