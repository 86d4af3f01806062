package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/jsonrel/internal/adapter"
	_ "github.com/sadopc/jsonrel/internal/adapter/sqlite"
	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/dedupe"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/parser"
	"github.com/sadopc/jsonrel/internal/persister"
	"github.com/sadopc/jsonrel/internal/theme"
)

const family = `[
	{"name": "Kalle", "children": ["Albert", "Herbert"]},
	{"name": "Karin", "children": ["Maja"]}
]`

func load(t *testing.T) (*model.Model, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	m, err := parser.Parse(context.Background(), strings.NewReader(family), cfg, "parents")
	require.NoError(t, err)
	require.NoError(t, dedupe.Dedupe(m, cfg))
	return m, cfg
}

func TestFilter(t *testing.T) {
	names := []string{"parents", "children", "cars", "parents<-children"}
	assert.Equal(t, names, Filter("", names))
	assert.Equal(t, "cars", Filter("cars", names)[0])
	assert.Empty(t, Filter("xyz", names))
	assert.Contains(t, Filter("CHLD", names), "children")
}

func TestHighlightPlain(t *testing.T) {
	th := theme.Plain()
	assert.Equal(t, "children", Highlight("chl", "children", th.Table, th))
	assert.Equal(t, "cars", Highlight("", "cars", th.Table, th))
}

func TestModelReport(t *testing.T) {
	m, _ := load(t)
	var buf bytes.Buffer
	require.NoError(t, Model(&buf, m, theme.Plain(), ""))

	out := buf.String()
	assert.Regexp(t, `parents with \d+ columns and 2 rows:`, out)
	assert.Contains(t, out, " Child tables: children.")
	assert.Regexp(t, `children with \d+ columns and 3 rows:`, out)
	assert.Contains(t, out, " Parent table is parents.")
	assert.Contains(t, out, "Relations:")
	assert.Contains(t, out, "parents<-children 3 links (indexed)")
}

func TestModelReportFiltered(t *testing.T) {
	m, _ := load(t)
	var buf bytes.Buffer
	require.NoError(t, Model(&buf, m, theme.Plain(), "chil"))

	out := buf.String()
	assert.Contains(t, out, "children with")
	assert.NotContains(t, out, "parents with")
}

func TestDatabaseReport(t *testing.T) {
	m, cfg := load(t)
	a, err := adapter.Lookup("sqlite")
	require.NoError(t, err)
	conn, err := a.Connect(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	_, err = persister.New(conn, cfg).Persist(context.Background(), m, "family")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Database(context.Background(), &buf, conn, "", theme.Plain(), ""))
	out := buf.String()
	assert.Contains(t, out, "sqlite · :memory:")
	for _, name := range []string{"parents", "children", "parents<-children"} {
		assert.Contains(t, out, name)
	}
	assert.Regexp(t, `parents<-children\s*│\s*3\s*│\s*5\s*│\s*5`, out)
}

func TestSummary(t *testing.T) {
	sum := &persister.Summary{
		Rows:   3,
		Failed: 1,
		Tables: []persister.TableReport{
			{Table: "cars", Kind: persister.KindEntity, Rows: 3, Attempts: 1, Duration: 1500 * time.Microsecond},
			{Table: "a<-b", Kind: persister.KindJunction, Attempts: 1, Err: errors.New("schema conflict")},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Summary(&buf, sum, theme.Plain()))
	out := buf.String()
	assert.Contains(t, out, "3 rows in 2 tables, 1 failed")
	assert.Contains(t, out, "schema conflict")
	assert.Contains(t, out, "2ms")
}

func TestPlanHighlight(t *testing.T) {
	var buf bytes.Buffer
	stmts := []string{`CREATE TABLE IF NOT EXISTS "cars" ("__id" TEXT NOT NULL, PRIMARY KEY ("__id"))`}
	require.NoError(t, Plan(&buf, stmts, "sqlite", theme.Plain()))
	assert.Equal(t, stmts[0]+";\n", buf.String())

	buf.Reset()
	require.NoError(t, Plan(&buf, stmts, "postgres", theme.Default()))
	assert.Contains(t, buf.String(), "cars")
}
