// Package reducer folds wrapper tables into their parent. A wrapper is a
// table that only exists because JSON nested an object one level deeper than
// the data needed, as in {"children": {"a": {...}, "b": {...}}}.
package reducer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/dedupe"
	"github.com/sadopc/jsonrel/internal/model"
)

// Result summarizes a reduction.
type Result struct {
	Folded map[string]string // folded child table -> wrapper it merged into
	Merged int               // rows created in wrappers
	Rounds int
}

// Reducer holds the state of one reduction.
type Reducer struct {
	m     *model.Model
	cfg   *config.Config
	log   *slog.Logger
	newID func() string
}

// Reduce folds every wrapper table of m until none is left.
func Reduce(m *model.Model, cfg *config.Config) (*Result, error) {
	r := &Reducer{m: m, cfg: cfg, log: cfg.Logger(), newID: uuid.NewString}
	return r.Run()
}

// Run repeats planning and folding until a round plans nothing.
func (r *Reducer) Run() (*Result, error) {
	res := &Result{Folded: make(map[string]string)}
	for limit := len(r.m.TableNames()); limit >= 0; limit-- {
		plan, err := r.plan()
		if err != nil {
			return res, err
		}
		if len(plan) == 0 {
			return res, nil
		}
		res.Rounds++
		for _, w := range plan {
			n, err := r.fold(w)
			if err != nil {
				return res, err
			}
			res.Merged += n
			for _, c := range w.children {
				res.Folded[c] = w.name
			}
			r.log.Debug("table folded", "wrapper", w.name, "children", w.children, "rows", n)
		}
	}
	return res, fmt.Errorf("%w: reduction did not converge", model.ErrInvariant)
}

type wrapper struct {
	name     string
	children []string
	rels     []*model.Relation // wrapper -> child, registration order
}

// plan returns the wrappers eligible this round. A wrapper whose child is
// itself a wrapper waits for the child to fold first.
func (r *Reducer) plan() ([]wrapper, error) {
	h, err := dedupe.NewHasher(r.m, r.cfg)
	if err != nil {
		return nil, err
	}
	var out []wrapper
	for _, name := range r.m.TableNames() {
		w, ok, err := r.eligible(h, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, w)
		}
	}
	planned := make(map[string]bool, len(out))
	for _, w := range out {
		planned[w.name] = true
	}
	kept := out[:0]
	for _, w := range out {
		nested := false
		for _, c := range w.children {
			nested = nested || planned[c]
		}
		if !nested {
			kept = append(kept, w)
		}
	}
	return kept, nil
}

func (r *Reducer) reserved(table string) []string {
	return []string{r.cfg.IDColumn(""), r.cfg.HashColumn(table)}
}

func (r *Reducer) eligible(h *dedupe.Hasher, name string) (wrapper, bool, error) {
	w := wrapper{name: name}
	t, _ := r.m.Table(name)
	if t.Parent == "" || len(t.ValueColumns(r.reserved(name)...)) > 0 {
		return w, false, nil
	}
	w.children = t.Children()
	if len(w.children) == 0 {
		return w, false, nil
	}

	var shape []string
	for i, c := range w.children {
		if c == name {
			return w, false, nil
		}
		ct, ok := r.m.Table(c)
		if !ok {
			return w, false, nil
		}
		// Every row of c must hang off the wrapper, once per wrapper row.
		for _, rel := range r.m.RelationsTo(c) {
			if rel.Parent != name {
				return w, false, nil
			}
			seen := make(map[string]bool, len(rel.Links))
			for _, l := range rel.Links {
				if seen[l.ParentID] {
					return w, false, nil
				}
				seen[l.ParentID] = true
			}
			w.rels = append(w.rels, rel)
		}
		n, err := h.UniqueCount(c)
		if err != nil {
			return w, false, err
		}
		if n != 1 {
			return w, false, nil
		}
		cols := ct.ValueColumns(r.reserved(c)...)
		if i == 0 {
			shape = cols
		} else if !equal(shape, cols) {
			return w, false, nil
		}
	}
	if len(w.rels) == 0 {
		return w, false, nil
	}
	sort.SliceStable(w.rels, func(i, j int) bool { return r.relIndex(w.rels[i]) < r.relIndex(w.rels[j]) })
	return w, true, nil
}

func (r *Reducer) relIndex(rel *model.Relation) int {
	for i, id := range r.m.RelationIDs() {
		if id == rel.ID {
			return i
		}
	}
	return -1
}

type origin struct {
	pos int
	sub int
}

// fold merges the child rows of w into w and rewrites every relation that
// touched either side.
func (r *Reducer) fold(w wrapper) (int, error) {
	wt, _ := r.m.Table(w.name)
	idCol := r.cfg.IDColumn("")
	hashCol := r.cfg.HashColumn(w.name)

	// expand maps an orphaned row to the merged rows replacing it.
	expand := make(map[rowRef][]string)
	orphans := make(map[string]bool)
	merged := 0
	for _, rel := range w.rels {
		ct, _ := r.m.Table(rel.Child)
		for _, l := range rel.Links {
			cr, ok := ct.Row(l.ChildID)
			if !ok {
				return merged, fmt.Errorf("%w: %s links missing row %q", model.ErrInvariant, rel.ID, l.ChildID)
			}
			nr := cr.Clone()
			nr.Delete(hashCol)
			id := r.newID()
			nr.Set(idCol, model.String(id))
			if err := wt.AddRow(id, nr); err != nil {
				return merged, err
			}
			wt.AddColumns(nr.Columns()...)
			pk := rowRef{table: w.name, id: l.ParentID}
			expand[pk] = append(expand[pk], id)
			expand[rowRef{table: rel.Child, id: l.ChildID}] = []string{id}
			orphans[l.ParentID] = true
			merged++
		}
		if err := r.m.DropRelation(rel.ID); err != nil {
			r.logRelationError(err)
			return merged, err
		}
	}

	folded := make(map[string]bool, len(w.children))
	for _, c := range w.children {
		folded[c] = true
	}
	rename := func(table string) string {
		if folded[table] {
			return w.name
		}
		return table
	}

	// Rebuild every remaining relation that has the wrapper or a folded child
	// on either side. Several old relations can land on one new id.
	type rebuilt struct {
		parent, child string
		links         []model.Link
		from          []origin
	}
	var order []model.RelationID
	next := make(map[model.RelationID]*rebuilt)
	for _, rel := range r.m.Relations() {
		if rel.Parent != w.name && rel.Child != w.name && !folded[rel.Parent] && !folded[rel.Child] {
			continue
		}
		p, c := rename(rel.Parent), rename(rel.Child)
		id := model.IndexedRelation(p, c)
		if rel.ID.Kind == model.Symmetric {
			id = model.SymmetricRelation(p, c)
		}
		nb, ok := next[id]
		if !ok {
			nb = &rebuilt{parent: p, child: c}
			next[id] = nb
			order = append(order, id)
		}
		for _, l := range rel.Links {
			pids := ids(expand, rel.Parent, l.ParentID)
			cids := ids(expand, rel.Child, l.ChildID)
			for pi, pid := range pids {
				for ci, cid := range cids {
					nb.links = append(nb.links, model.Link{ParentID: pid, ChildID: cid, Position: l.Position})
					nb.from = append(nb.from, origin{pos: l.Position, sub: pi*len(cids) + ci})
				}
			}
		}
		if err := r.m.DropRelation(rel.ID); err != nil {
			r.logRelationError(err)
			return merged, err
		}
	}
	for _, id := range order {
		nb := next[id]
		links := nb.links
		if id.Kind == model.Indexed {
			links = renumber(nb.links, nb.from)
		}
		r.m.SetLinks(id, nb.parent, nb.child, links)
	}

	for _, c := range w.children {
		ct, _ := r.m.Table(c)
		for _, gc := range ct.Children() {
			r.m.SetParent(gc, w.name)
		}
		r.m.DeleteTable(c)
	}
	wt.RemoveRows(orphans)
	return merged, nil
}

func (r *Reducer) logRelationError(err error) {
	var re *model.RelationError
	if errors.As(err, &re) {
		r.log.Error("relation not recorded", "op", re.Op, "relation", re.Key.String(), "known", len(re.Known))
	}
}

type rowRef struct {
	table, id string
}

func ids(expand map[rowRef][]string, table, id string) []string {
	if ns, ok := expand[rowRef{table: table, id: id}]; ok {
		return ns
	}
	return []string{id}
}

// renumber reassigns positions per parent so they stay 0-based and dense,
// ordered by the original position and then the fold order.
func renumber(links []model.Link, from []origin) []model.Link {
	idx := make([]int, len(links))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		fa, fb := from[idx[a]], from[idx[b]]
		if fa.pos != fb.pos {
			return fa.pos < fb.pos
		}
		return fa.sub < fb.sub
	})
	next := make(map[string]int)
	out := make([]model.Link, len(links))
	copy(out, links)
	for _, i := range idx {
		p := out[i].ParentID
		out[i].Position = next[p]
		next[p]++
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
