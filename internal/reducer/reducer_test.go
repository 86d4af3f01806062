package reducer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/parser"
)

const objectOfObjects = `[
	{"id": 1, "name": "Kalle", "children": {
		"a": {"id": "a", "name": "Stina", "school": "public", "cars": ["Audi", "Volvo"]}}},
	{"id": 2, "name": "Karin", "children": {
		"a": {"id": "a", "name": "Stina", "school": "public", "cars": ["Audi", "Volvo"]},
		"b": {"id": "b", "name": "Stefan", "school": "private", "cars": ["Volvo", "Fiat"]}}},
	{"id": 3, "name": "Kasper", "children": {
		"b": {"id": "b", "name": "Stefan", "school": "private", "cars": ["Volvo", "Fiat"]}}}
]`

func parse(t *testing.T, root, doc string) (*model.Model, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	m, err := parser.Parse(context.Background(), strings.NewReader(doc), cfg, root)
	require.NoError(t, err)
	return m, cfg
}

func column(t *testing.T, tbl *model.Table, col string) []string {
	t.Helper()
	var out []string
	for _, id := range tbl.RowIDs() {
		r, _ := tbl.Row(id)
		v, _ := r.Get(col)
		out = append(out, v.Text())
	}
	return out
}

func TestReduceFoldsObjectOfObjects(t *testing.T) {
	m, cfg := parse(t, "parents", objectOfObjects)

	res, err := Reduce(m, cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "children", "b": "children"}, res.Folded)
	assert.Equal(t, 4, res.Merged)

	assert.ElementsMatch(t, []string{"parents", "children", "cars"}, m.TableNames())
	children, _ := m.Table("children")
	assert.Equal(t, "parents", children.Parent)
	assert.Equal(t, []string{"cars"}, children.Children())
	assert.ElementsMatch(t, []string{"__id", "id", "name", "school"}, children.Columns())
	assert.Equal(t, []string{"a", "a", "b", "b"}, column(t, children, "id"))

	cars, _ := m.Table("cars")
	assert.Equal(t, "children", cars.Parent)

	pc, ok := m.Relation(model.IndexedRelation("parents", "children"))
	require.True(t, ok)
	require.Len(t, pc.Links, 4)
	byParent := map[string][]int{}
	for _, l := range pc.Links {
		_, ok := children.Row(l.ChildID)
		require.True(t, ok, "link points at merged row")
		byParent[l.ParentID] = append(byParent[l.ParentID], l.Position)
	}
	assert.Len(t, byParent, 3)
	for _, ps := range byParent {
		for i, p := range ps {
			assert.Equal(t, i, p)
		}
	}

	cc, ok := m.Relation(model.IndexedRelation("children", "cars"))
	require.True(t, ok)
	assert.Len(t, cc.Links, 8)
	for _, l := range cc.Links {
		_, ok := children.Row(l.ParentID)
		assert.True(t, ok)
	}

	for _, id := range []model.RelationID{
		model.IndexedRelation("children", "a"),
		model.IndexedRelation("children", "b"),
		model.IndexedRelation("a", "cars"),
	} {
		_, ok := m.Relation(id)
		assert.False(t, ok, id.String())
	}
}

func TestReduceKeepsWrapperWithDistinctChildren(t *testing.T) {
	m, cfg := parse(t, "event", `[
		{"id": "1", "duel": {"outcome": {"id": 16, "name": "Success In Play"}}},
		{"id": "2", "duel": {"outcome": {"id": 12, "name": "From Kick Off"}}}
	]`)

	res, err := Reduce(m, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Folded)
	assert.Equal(t, []string{"event", "duel", "outcome"}, m.TableNames())
}

func TestReduceKeepsWrapperWithDifferentShapes(t *testing.T) {
	m, cfg := parse(t, "root", `[
		{"box": {"left": {"x": 1}, "right": {"y": 1}}},
		{"box": {"left": {"x": 1}, "right": {"y": 1}}}
	]`)

	res, err := Reduce(m, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Folded)
}

func TestReduceFoldsSingleChildWrapper(t *testing.T) {
	m, cfg := parse(t, "event", `[
		{"id": "1", "pass": {"type": {"id": 30, "name": "Pass"}}},
		{"id": "2", "pass": {"type": {"id": 30, "name": "Pass"}}}
	]`)

	res, err := Reduce(m, cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "pass"}, res.Folded)

	pass, _ := m.Table("pass")
	assert.Equal(t, 2, pass.RowCount())
	assert.Equal(t, []string{"Pass", "Pass"}, column(t, pass, "name"))
	_, ok := m.Table("type")
	assert.False(t, ok)
}

func TestReduceIsIdempotent(t *testing.T) {
	m, cfg := parse(t, "parents", objectOfObjects)
	_, err := Reduce(m, cfg)
	require.NoError(t, err)

	tables := m.TableNames()
	rows := map[string][]string{}
	for _, tbl := range m.Tables() {
		rows[tbl.Name] = tbl.RowIDs()
	}

	res, err := Reduce(m, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Folded)
	assert.Equal(t, 0, res.Rounds)
	assert.Equal(t, tables, m.TableNames())
	for _, tbl := range m.Tables() {
		assert.Equal(t, rows[tbl.Name], tbl.RowIDs())
	}
}

func TestRenumber(t *testing.T) {
	links := []model.Link{
		{ParentID: "p", ChildID: "x", Position: 1},
		{ParentID: "p", ChildID: "y", Position: 0},
		{ParentID: "p", ChildID: "z", Position: 0},
		{ParentID: "q", ChildID: "x", Position: 0},
	}
	from := []origin{{pos: 1}, {pos: 0, sub: 1}, {pos: 0, sub: 0}, {pos: 0}}

	got := renumber(links, from)
	assert.Equal(t, []int{2, 1, 0, 0}, []int{got[0].Position, got[1].Position, got[2].Position, got[3].Position})
	assert.Equal(t, 1, links[0].Position, "input is not modified")
	assert.Equal(t, 0, links[1].Position)
}
