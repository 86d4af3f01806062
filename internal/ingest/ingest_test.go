package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/jsonrel/internal/adapter"
	_ "github.com/sadopc/jsonrel/internal/adapter/sqlite"
	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/persister"
)

func openMemory(t *testing.T) adapter.Connection {
	t.Helper()
	a, err := adapter.Lookup("sqlite")
	require.NoError(t, err)
	conn, err := a.Connect(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func query(t *testing.T, conn adapter.Connection, q string, args ...any) [][]string {
	t.Helper()
	res, err := conn.Execute(context.Background(), q, args...)
	require.NoError(t, err)
	return res.Rows
}

// importDoc runs the whole pipeline for doc into a fresh in-memory database.
func importDoc(t *testing.T, root, doc string) (adapter.Connection, *Result) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Persist.Backoff = 0
	res, err := Document(context.Background(), strings.NewReader(doc), cfg, Options{Root: root})
	require.NoError(t, err)
	require.True(t, res.Model.Frozen())

	conn := openMemory(t)
	_, err = persister.New(conn, cfg).Persist(context.Background(), res.Model, root)
	require.NoError(t, err)
	return conn, res
}

func TestFlatDocument(t *testing.T) {
	conn, res := importDoc(t, "parents", `[
		{"id": 1, "name": "Kalle", "children": 2},
		{"id": 2, "name": "Karin", "children": 1},
		{"id": 3, "name": "Kasper", "children": 0}
	]`)

	assert.Equal(t, []string{"parents"}, res.Model.TableNames())
	parents, _ := res.Model.Table("parents")
	assert.ElementsMatch(t, []string{"id", "name", "children", "__id"}, parents.Columns())
	assert.Equal(t, [][]string{{"3"}}, query(t, conn, `SELECT COUNT(*) FROM parents`))
	assert.Equal(t, [][]string{{"Kalle"}, {"Karin"}, {"Kasper"}},
		query(t, conn, `SELECT name FROM parents ORDER BY id`))
}

func TestScalarArrayDocument(t *testing.T) {
	conn, _ := importDoc(t, "parents", `[
		{"name": "Kalle", "children": ["Albert", "Herbert"]},
		{"name": "Karin", "children": ["Maja"]},
		{"name": "Kasper", "children": []}
	]`)

	assert.Equal(t, [][]string{{"3"}}, query(t, conn, `SELECT COUNT(*) FROM parents`))
	assert.Equal(t, [][]string{{"3"}}, query(t, conn, `SELECT COUNT(*) FROM children`))
	assert.Equal(t, [][]string{{"3", "0", "1", "1"}},
		query(t, conn, `SELECT COUNT(*), MIN(__index), MAX(__index), SUM(__index) FROM "parents<-children"`))
}

func TestSharedChildrenAcrossAnonymousParents(t *testing.T) {
	conn, _ := importDoc(t, "parents", `[
		{"name": "Father", "children": ["Albert"]},
		{"name": "Father", "children": ["Herbert"]},
		{"name": "Mother", "children": ["Albert", "Herbert"]}
	]`)

	assert.Equal(t, [][]string{{"3"}}, query(t, conn, `SELECT COUNT(*) FROM parents`))
	assert.Equal(t, [][]string{{"2"}}, query(t, conn, `SELECT COUNT(*) FROM children`))
	assert.Equal(t, [][]string{{"0"}, {"0"}, {"0"}, {"1"}},
		query(t, conn, `SELECT __index FROM "parents<-children" ORDER BY __index`))
}

func TestNumericCoordinateDedup(t *testing.T) {
	a := []string{"1.5", "2.5", "1.5", "3.0", "4.0", "2.5", "5.5", "6.0", "1.5", "7.25", "8.0", "9.0"}
	b := []string{"9.0", "8.0", "2.5", "2.5", "10.0", "11.5", "1.5", "12.0", "13.0", "14.0", "15.5", "16.0"}
	doc := `[{"name": "a", "coords": [` + strings.Join(a, ", ") + `]}, ` +
		`{"name": "b", "coords": [` + strings.Join(b, ", ") + `]}]`
	conn, _ := importDoc(t, "shapes", doc)

	distinct := map[string]bool{}
	for _, v := range append(append([]string{}, a...), b...) {
		distinct[v] = true
	}
	assert.Equal(t, [][]string{{strconv.Itoa(len(distinct))}}, query(t, conn, `SELECT COUNT(*) FROM coords`))
	assert.Equal(t, [][]string{{"24"}}, query(t, conn, `SELECT COUNT(*) FROM "shapes<-coords"`))

	for name, want := range map[string][]string{"a": a, "b": b} {
		rows := query(t, conn, `
			SELECT c.__value FROM shapes s
			JOIN "shapes<-coords" j ON j.shapes__id = s.__id
			JOIN coords c ON c.__id = j.coords__id
			WHERE s.name = ? ORDER BY j.__index`, name)
		var got []string
		for _, r := range rows {
			got = append(got, r[0])
		}
		assert.Equal(t, want, got, "shape %s", name)
	}
}

func TestNestedObjectArrays(t *testing.T) {
	conn, res := importDoc(t, "parents", `[
		{"id": 1, "name": "Kalle", "children": {
			"a": {"id": "a", "name": "Stina", "cars": ["Audi", "Volvo"]}}},
		{"id": 2, "name": "Karin", "children": {
			"a": {"id": "a", "name": "Stina", "cars": ["Audi", "Volvo"]},
			"b": {"id": "b", "name": "Stefan", "cars": ["Volvo", "Fiat"]}}},
		{"id": 3, "name": "Kasper", "children": {
			"b": {"id": "b", "name": "Stefan", "cars": ["Volvo", "Fiat"]}}}
	]`)

	assert.Equal(t, map[string]string{"a": "children", "b": "children"}, res.Folded)
	assert.Equal(t, [][]string{{"2"}}, query(t, conn, `SELECT COUNT(*) FROM children`))
	assert.Equal(t, [][]string{{"3"}}, query(t, conn, `SELECT COUNT(*) FROM cars`))
	assert.Equal(t, [][]string{{"8"}}, query(t, conn, `
		SELECT COUNT(*) FROM parents p
		JOIN "parents<-children" pc ON pc.parents__id = p.__id
		JOIN "children<-cars" cc ON cc.children__id = pc.children__id`))
}

func TestWrapperWithDistinctChildrenIsKept(t *testing.T) {
	conn, res := importDoc(t, "event", `[
		{"id": "1", "duel": {"outcome": {"id": 16, "name": "Success In Play"}}},
		{"id": "2", "duel": {"outcome": {"id": 12, "name": "From Kick Off"}}}
	]`)

	assert.Empty(t, res.Folded)
	assert.Equal(t, [][]string{{"2"}}, query(t, conn, `SELECT COUNT(*) FROM outcome`))
	assert.Equal(t, [][]string{{"2"}}, query(t, conn, `SELECT COUNT(*) FROM "duel<-outcome"`))
}

func TestSkipReduce(t *testing.T) {
	cfg := config.DefaultConfig()
	doc := `[{"pass": {"type": {"id": 30}}}, {"pass": {"type": {"id": 30}}}]`

	res, err := Document(context.Background(), strings.NewReader(doc), cfg, Options{Root: "event", SkipReduce: true})
	require.NoError(t, err)
	assert.Nil(t, res.Folded)
	_, ok := res.Model.Table("type")
	assert.True(t, ok)

	res, err = Document(context.Background(), strings.NewReader(doc), cfg, Options{Root: "event"})
	require.NoError(t, err)
	_, ok = res.Model.Table("type")
	assert.False(t, ok)
}

func TestDocumentMalformed(t *testing.T) {
	_, err := Document(context.Background(), strings.NewReader(`[{"a": }]`), config.DefaultConfig(), Options{})
	require.Error(t, err)
}

func TestFileUsesBaseNameAsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match-3788741.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"minute": 1}]`), 0o600))

	res, err := File(context.Background(), path, config.DefaultConfig(), Options{Root: "events"})
	require.NoError(t, err)
	assert.Equal(t, "match-3788741", res.Source)
	assert.Equal(t, "events", res.Model.Root)

	_, err = File(context.Background(), filepath.Join(t.TempDir(), "missing.json"), config.DefaultConfig(), Options{})
	require.Error(t, err)
}

func TestSource(t *testing.T) {
	tests := map[string]string{
		"data/events/3788741.json": "3788741",
		"lineup.tar.json":          "lineup.tar",
		"noext":                    "noext",
	}
	for in, want := range tests {
		assert.Equal(t, want, Source(in), in)
	}
}

type recorder struct {
	tables []string
}

func (r *recorder) TableDone(rep persister.TableReport) {
	r.tables = append(r.tables, rep.Target+"/"+rep.Table)
}

func TestPersistAll(t *testing.T) {
	cfg := config.DefaultConfig()
	res, err := Document(context.Background(), strings.NewReader(`[{"make": "Volvo"}, {"make": "Fiat"}]`), cfg, Options{Root: "cars"})
	require.NoError(t, err)

	one, two := openMemory(t), openMemory(t)
	rec1, rec2 := &recorder{}, &recorder{}
	sums, err := PersistAll(context.Background(), res.Model, "fleet", cfg, []Target{
		{Name: "one", Conn: one, Options: []persister.Option{persister.WithReporter(rec1)}},
		{Name: "two", Conn: two, Options: []persister.Option{persister.WithReporter(rec2)}},
	})
	require.NoError(t, err)
	require.Len(t, sums, 2)
	for _, conn := range []adapter.Connection{one, two} {
		assert.Equal(t, [][]string{{"2", "fleet"}}, query(t, conn, `SELECT COUNT(*), MAX(file) FROM cars`))
	}
	assert.Equal(t, []string{"one/cars"}, rec1.tables)
	assert.Equal(t, []string{"two/cars"}, rec2.tables)
}

type brokenConn struct{}

func (brokenConn) Begin(ctx context.Context, schemaName string) (adapter.Tx, error) {
	return nil, errors.New("connection refused")
}

func TestPersistAllReportsFailingTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persist.Retries = 0
	res, err := Document(context.Background(), strings.NewReader(`[{"make": "Volvo"}]`), cfg, Options{Root: "cars"})
	require.NoError(t, err)

	ok := openMemory(t)
	_, err = PersistAll(context.Background(), res.Model, "fleet", cfg, []Target{
		{Name: "good", Conn: ok},
		{Name: "bad", Conn: brokenConn{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target bad")
	assert.Contains(t, err.Error(), "connection refused")
}

// slowConn delays every transaction so a failing sibling target finishes
// first.
type slowConn struct {
	adapter.Connection
	delay time.Duration
}

func (c slowConn) Begin(ctx context.Context, schemaName string) (adapter.Tx, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}
	return c.Connection.Begin(ctx, schemaName)
}

func fleetDoc(extra string) string {
	return `[{"make": "Volvo", "tags": ["x", "y"]}, {"make": "` + extra + `", "tags": ["x"]}]`
}

func TestPersistAllFailingTargetDoesNotCancelOthers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persist.Retries = 0
	res, err := Document(context.Background(), strings.NewReader(fleetDoc("Fiat")), cfg, Options{Root: "cars"})
	require.NoError(t, err)

	good := openMemory(t)
	sums, err := PersistAll(context.Background(), res.Model, "fleet", cfg, []Target{
		{Name: "good", Conn: slowConn{Connection: good, delay: 50 * time.Millisecond}},
		{Name: "bad", Conn: brokenConn{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target bad")
	assert.NotContains(t, err.Error(), "target good")

	require.NotNil(t, sums[0])
	assert.Equal(t, 0, sums[0].Failed)
	assert.Len(t, sums[0].Tables, 3)
	assert.Equal(t, [][]string{{"2"}}, query(t, good, `SELECT COUNT(*) FROM cars`))
	assert.Equal(t, [][]string{{"3"}}, query(t, good, `SELECT COUNT(*) FROM "cars<-tags"`))
	assert.Equal(t, 1, sums[1].Failed)
}

func TestConcurrentWritersShareOneStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persist.Retries = 10
	cfg.Persist.Backoff = 10 * time.Millisecond
	path := filepath.Join(t.TempDir(), "fleet.db")
	a, err := adapter.Lookup("sqlite")
	require.NoError(t, err)

	const writers = 6
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			res, err := Document(ctx, strings.NewReader(fleetDoc("W"+strconv.Itoa(i))), cfg, Options{Root: "cars"})
			if err != nil {
				errs[i] = err
				return
			}
			conn, err := a.Connect(ctx, path)
			if err != nil {
				errs[i] = err
				return
			}
			defer conn.Close()
			_, errs[i] = persister.New(conn, cfg).Persist(ctx, res.Model, "w"+strconv.Itoa(i))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	conn, err := a.Connect(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, [][]string{{strconv.Itoa(writers + 1)}}, query(t, conn, `SELECT COUNT(*) FROM cars`))
	assert.Equal(t, [][]string{{"2"}}, query(t, conn, `SELECT COUNT(*) FROM tags`))
	assert.Equal(t, [][]string{{strconv.Itoa(writers + 2)}}, query(t, conn, `SELECT COUNT(*) FROM "cars<-tags"`))
	assert.Equal(t, [][]string{{"1"}}, query(t, conn, `SELECT COUNT(*) FROM cars WHERE make = 'Volvo'`))
}
