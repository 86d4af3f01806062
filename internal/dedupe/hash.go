package dedupe

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"github.com/zeebo/blake3"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
)

// cycleSentinel stands in for a child table already on the recursion path.
const cycleSentinel = "."

// SumFunc digests a canonical basis into a hex string.
type SumFunc func([]byte) string

// Blake3Sum returns the 256-bit blake3 digest in hex.
func Blake3Sum(b []byte) string {
	s := blake3.Sum256(b)
	return hex.EncodeToString(s[:])
}

// XXH64Sum returns the 64-bit xxhash digest in hex.
func XXH64Sum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// SumFor resolves a configured algorithm name.
func SumFor(algorithm string) (SumFunc, error) {
	switch strings.ToLower(algorithm) {
	case "", "blake3":
		return Blake3Sum, nil
	case "xxh64":
		return XXH64Sum, nil
	}
	return nil, fmt.Errorf("dedupe: unknown hash algorithm %q", algorithm)
}

type childRef struct {
	rel   *model.Relation
	links map[string][]model.Link // parent row id -> links
}

type pathKey struct {
	row  *model.Row
	path string
}

// Hasher computes content hashes over a snapshot of a model. It never writes
// to rows; results are memoized per row when no cycle sentinel was involved.
type Hasher struct {
	m       *model.Model
	idCol   string
	hashCol string
	sum     SumFunc

	children map[string][]childRef
	pure     map[*model.Row]string
	dirty    map[pathKey]string
}

// NewHasher indexes the relations of m. Build a new Hasher after mutating m.
func NewHasher(m *model.Model, cfg *config.Config) (*Hasher, error) {
	sum, err := SumFor(cfg.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	h := &Hasher{
		m:        m,
		idCol:    cfg.IDColumn(""),
		hashCol:  cfg.HashColumn(""),
		sum:      sum,
		children: make(map[string][]childRef),
		pure:     make(map[*model.Row]string),
		dirty:    make(map[pathKey]string),
	}
	for _, rel := range m.Relations() {
		ref := childRef{rel: rel, links: make(map[string][]model.Link)}
		for _, l := range rel.Links {
			ref.links[l.ParentID] = append(ref.links[l.ParentID], l)
		}
		h.children[rel.Parent] = append(h.children[rel.Parent], ref)
	}
	for _, refs := range h.children {
		sort.SliceStable(refs, func(i, j int) bool {
			a, b := refs[i].rel, refs[j].rel
			if a.Child != b.Child {
				return a.Child < b.Child
			}
			return a.ID.Kind < b.ID.Kind
		})
	}
	return h, nil
}

// RowHash returns the content hash of row, which belongs to table.
func (h *Hasher) RowHash(table string, row *model.Row) (string, error) {
	s, _, err := h.hash(table, row, nil)
	return s, err
}

// UniqueCount returns the number of distinct content hashes in table.
func (h *Hasher) UniqueCount(table string) (int, error) {
	t, ok := h.m.Table(table)
	if !ok {
		return 0, nil
	}
	seen := make(map[string]struct{})
	for _, id := range t.RowIDs() {
		r, _ := t.Row(id)
		s, err := h.RowHash(table, r)
		if err != nil {
			return 0, err
		}
		seen[s] = struct{}{}
	}
	return len(seen), nil
}

type positioned struct {
	pos  int
	hash string
}

// hash returns the digest and whether it is independent of path.
func (h *Hasher) hash(table string, row *model.Row, path []string) (string, bool, error) {
	if s, ok := h.pure[row]; ok {
		return s, true, nil
	}
	key := pathKey{row: row, path: strings.Join(path, "\x00")}
	if s, ok := h.dirty[key]; ok {
		return s, false, nil
	}

	cols := make([]string, 0, row.Len())
	for _, c := range row.Columns() {
		if c != h.idCol && c != h.hashCol {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)

	basis := struct {
		Columns  [][2]any    `json:"c"`
		Children [][2]string `json:"t,omitempty"`
	}{Columns: make([][2]any, 0, len(cols))}
	for _, c := range cols {
		v, _ := row.Get(c)
		basis.Columns = append(basis.Columns, [2]any{c, v})
	}

	clean := true
	rowID := ""
	if v, ok := row.Get(h.idCol); ok {
		rowID = v.Text()
	}
	inner := append(append([]string(nil), path...), table)
	for _, ref := range h.children[table] {
		links := ref.links[rowID]
		if len(links) == 0 {
			continue
		}
		child := ref.rel.Child
		if onPath(inner, child) {
			basis.Children = append(basis.Children, [2]string{child, cycleSentinel})
			clean = false
			continue
		}
		ct, ok := h.m.Table(child)
		if !ok {
			return "", false, fmt.Errorf("%w: relation %s points at missing table %q", model.ErrInvariant, ref.rel.ID, child)
		}
		parts := make([]positioned, 0, len(links))
		for _, l := range links {
			cr, ok := ct.Row(l.ChildID)
			if !ok {
				return "", false, fmt.Errorf("%w: relation %s points at missing row %q", model.ErrInvariant, ref.rel.ID, l.ChildID)
			}
			s, c, err := h.hash(child, cr, inner)
			if err != nil {
				return "", false, err
			}
			clean = clean && c
			parts = append(parts, positioned{pos: l.Position, hash: s})
		}
		sort.Slice(parts, func(i, j int) bool {
			if parts[i].pos != parts[j].pos {
				return parts[i].pos < parts[j].pos
			}
			return parts[i].hash < parts[j].hash
		})
		joined := make([]string, len(parts))
		for i, p := range parts {
			joined[i] = p.hash
		}
		basis.Children = append(basis.Children, [2]string{child, h.sum([]byte(strings.Join(joined, ",")))})
	}

	enc, err := json.Marshal(basis)
	if err != nil {
		return "", false, fmt.Errorf("dedupe encode %s row: %w", table, err)
	}
	s := h.sum(enc)
	if clean {
		h.pure[row] = s
	} else {
		h.dirty[key] = s
	}
	return s, clean, nil
}

func onPath(path []string, table string) bool {
	for _, p := range path {
		if p == table {
			return true
		}
	}
	return false
}
