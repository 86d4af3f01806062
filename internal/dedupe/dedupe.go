// Package dedupe collapses rows with identical content. A row's content is its
// own values plus, recursively, the content of its children, so two subtrees
// unify only when they are equal all the way down.
package dedupe

import (
	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
)

// Dedupe replaces every row identity with the row's content hash, keeps the
// first row for each hash and rewrites relation links onto the survivors.
func Dedupe(m *model.Model, cfg *config.Config) error {
	h, err := NewHasher(m, cfg)
	if err != nil {
		return err
	}
	idCol := cfg.IDColumn("")

	// Hash everything before touching any identity.
	hashes := make(map[string]map[string]string)
	for _, t := range m.Tables() {
		byID := make(map[string]string, t.RowCount())
		for _, id := range t.RowIDs() {
			r, _ := t.Row(id)
			s, err := h.RowHash(t.Name, r)
			if err != nil {
				return err
			}
			byID[id] = s
		}
		hashes[t.Name] = byID
	}

	before, after := 0, 0
	for _, t := range m.Tables() {
		hashCol := cfg.HashColumn(t.Name)
		byID := hashes[t.Name]
		order := make([]string, 0, len(byID))
		rows := make(map[string]*model.Row, len(byID))
		for _, id := range t.RowIDs() {
			before++
			s := byID[id]
			if _, ok := rows[s]; ok {
				continue
			}
			r, _ := t.Row(id)
			r.Set(idCol, model.String(s))
			r.Set(hashCol, model.String(s))
			rows[s] = r
			order = append(order, s)
		}
		after += len(order)
		t.ReplaceRows(order, rows)
	}

	for _, rel := range m.Relations() {
		parents, children := hashes[rel.Parent], hashes[rel.Child]
		type key struct {
			p, c string
			pos  int
		}
		seen := make(map[key]struct{}, len(rel.Links))
		links := make([]model.Link, 0, len(rel.Links))
		for _, l := range rel.Links {
			nl := model.Link{ParentID: remap(parents, l.ParentID), ChildID: remap(children, l.ChildID), Position: l.Position}
			k := key{p: nl.ParentID, c: nl.ChildID, pos: nl.Position}
			if rel.ID.Kind == model.Symmetric {
				a, b := rel.Canonical(nl)
				k = key{p: a, c: b}
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			links = append(links, nl)
		}
		m.SetLinks(rel.ID, rel.Parent, rel.Child, links)
	}

	cfg.Logger().Debug("rows deduplicated", "root", m.Root, "before", before, "after", after)
	return nil
}

func remap(ids map[string]string, id string) string {
	if s, ok := ids[id]; ok {
		return s
	}
	return id
}
