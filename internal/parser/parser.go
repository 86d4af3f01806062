// Package parser turns a streamed JSON document into a model of tables and
// relations. Every JSON key holding an object or array becomes a table, each
// object occurrence a row, and each scalar a column value.
package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
)

type frameKind uint8

const (
	tableFrame frameKind = iota
	arrayFrame
	objectFrame
)

func (k frameKind) String() string {
	switch k {
	case arrayFrame:
		return ":array"
	case objectFrame:
		return ":object"
	default:
		return "table"
	}
}

type frame struct {
	kind  frameKind
	name  string
	rows  []*model.Row
	fresh bool // the next write opens a new row occurrence
	array bool // the key's value was an array
}

// current returns the open row, opening a new one when none exists, when an
// object start requested one, or when col is already set on the open row.
func (f *frame) current(col string) *model.Row {
	n := len(f.rows)
	if n == 0 || f.fresh || (col != "" && f.rows[n-1].Has(col)) {
		f.fresh = false
		r := model.NewRow()
		f.rows = append(f.rows, r)
		return r
	}
	return f.rows[n-1]
}

type posKey struct {
	row   *model.Row
	child string
}

// Parser implements Handler and accumulates one document into a model.
type Parser struct {
	cfg    *config.Config
	log    *slog.Logger
	m      *model.Model
	stack  []*frame
	pos    map[posKey]int
	newID  func() string
	ctx    context.Context
	events int
}

// New returns a parser writing top-level rows into table root.
func New(ctx context.Context, cfg *config.Config, root string) *Parser {
	if root == "" {
		root = cfg.Naming.RootTable
	}
	return &Parser{
		cfg:   cfg,
		log:   cfg.Logger(),
		m:     model.New(root),
		pos:   make(map[posKey]int),
		newID: func() string { return uuid.NewString() },
		ctx:   ctx,
	}
}

// Model returns the model built so far.
func (p *Parser) Model() *model.Model { return p.m }

// Parse decodes r in the configured encoding and builds a model rooted at
// table root (the configured root table when empty).
func Parse(ctx context.Context, r io.Reader, cfg *config.Config, root string) (*model.Model, error) {
	dr, err := Decode(r, cfg.Parser.Encoding)
	if err != nil {
		return nil, err
	}
	p := New(ctx, cfg, root)
	if err := Tokenize(dr, p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.m.Root, err)
	}
	p.log.Debug("document parsed", "root", p.m.Root, "tables", len(p.m.TableNames()), "relations", len(p.m.Relations()))
	return p.m, nil
}

func (p *Parser) top() *frame {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// owner returns the nearest table frame at or below index i.
func (p *Parser) owner(i int) *frame {
	for ; i >= 0; i-- {
		if p.stack[i].kind == tableFrame {
			return p.stack[i]
		}
	}
	return nil
}

func (p *Parser) pop(want frameKind) (*frame, error) {
	f := p.top()
	if f == nil || f.kind != want {
		got := "empty stack"
		if f != nil {
			got = f.kind.String()
		}
		return nil, fmt.Errorf("%w: expected %s frame, found %s", model.ErrInvariant, want, got)
	}
	p.stack = p.stack[:len(p.stack)-1]
	return f, nil
}

// tick checks for cancellation every few thousand events.
func (p *Parser) tick() error {
	p.events++
	if p.events&0xfff == 0 {
		return p.ctx.Err()
	}
	return nil
}

func (p *Parser) DocStart() error {
	if len(p.stack) != 0 {
		return fmt.Errorf("%w: document start with %d open frames", model.ErrInvariant, len(p.stack))
	}
	p.m.EnsureTable(p.m.Root)
	p.stack = append(p.stack, &frame{kind: tableFrame, name: p.m.Root})
	return nil
}

func (p *Parser) DocEnd() error {
	if len(p.stack) != 1 {
		return fmt.Errorf("%w: document end with %d open frames", model.ErrInvariant, len(p.stack))
	}
	root, err := p.pop(tableFrame)
	if err != nil {
		return err
	}
	return p.flush(root)
}

func (p *Parser) Key(name string) error {
	if err := p.tick(); err != nil {
		return err
	}
	if f := p.top(); f == nil || f.kind != objectFrame {
		return fmt.Errorf("%w: key %q outside an object", model.ErrInvariant, name)
	}
	p.stack = append(p.stack, &frame{kind: tableFrame, name: name})
	return nil
}

func (p *Parser) Value(v model.Value) error {
	key, err := p.pop(tableFrame)
	if err != nil {
		return err
	}
	owner := p.owner(len(p.stack) - 1)
	if owner == nil {
		return fmt.Errorf("%w: value for %q has no enclosing table", model.ErrInvariant, key.name)
	}
	row := owner.current("")
	if row.Has(key.name) {
		return fmt.Errorf("%w: duplicate column %q in one %s row", model.ErrInvariant, key.name, owner.name)
	}
	row.Set(key.name, v)
	return nil
}

func (p *Parser) Element(v model.Value) error {
	if err := p.tick(); err != nil {
		return err
	}
	if f := p.top(); f == nil || f.kind != arrayFrame {
		return fmt.Errorf("%w: element outside an array", model.ErrInvariant)
	}
	owner := p.owner(len(p.stack) - 1)
	col := p.cfg.ValueColumn(owner.name)
	owner.current(col).Set(col, v)
	return nil
}

func (p *Parser) ArrayStart() error {
	if f := p.top(); f != nil && f.kind == tableFrame {
		f.array = true
	}
	p.stack = append(p.stack, &frame{kind: arrayFrame})
	return nil
}

func (p *Parser) ObjectStart() error {
	if owner := p.owner(len(p.stack) - 1); owner != nil {
		owner.fresh = true
	}
	p.stack = append(p.stack, &frame{kind: objectFrame})
	return nil
}

func (p *Parser) ArrayEnd() error {
	if _, err := p.pop(arrayFrame); err != nil {
		return err
	}
	return p.closeKey()
}

func (p *Parser) ObjectEnd() error {
	if _, err := p.pop(objectFrame); err != nil {
		return err
	}
	return p.closeKey()
}

// closeKey flushes the key frame whose structured value just ended. The root
// frame stays open until the document ends.
func (p *Parser) closeKey() error {
	if len(p.stack) <= 1 {
		return nil
	}
	if f := p.top(); f.kind != tableFrame {
		return nil
	}
	f, _ := p.pop(tableFrame)
	return p.flush(f)
}

// flush moves the buffered rows of f into the model and links each of them to
// the current row of the enclosing table.
func (p *Parser) flush(f *frame) error {
	var parent *frame
	if len(p.stack) > 0 {
		parent = p.owner(len(p.stack) - 1)
	}
	idCol := p.cfg.IDColumn("")

	kind := model.Indexed
	if p.cfg.Parser.SymmetricObjects && !f.array {
		kind = model.Symmetric
	}

	if len(f.rows) == 0 {
		return nil
	}
	if parent != nil {
		p.m.SetParent(f.name, parent.name)
	}
	table := p.m.EnsureTable(f.name)
	for _, row := range f.rows {
		if row.Len() == 0 {
			continue
		}
		id := p.ensureID(row, idCol)
		if parent != nil {
			prow := parent.current("")
			pid := p.ensureID(prow, idCol)
			k := posKey{row: prow, child: f.name}
			p.m.AddLink(kind, parent.name, f.name, pid, id, p.pos[k])
			p.pos[k]++
		}
		if err := table.AddRow(id, row); err != nil {
			return err
		}
		table.AddColumns(row.Columns()...)
	}
	return nil
}

func (p *Parser) ensureID(row *model.Row, idCol string) string {
	if v, ok := row.Get(idCol); ok && !v.IsNull() {
		return v.Text()
	}
	id := p.newID()
	row.Set(idCol, model.String(id))
	return id
}
