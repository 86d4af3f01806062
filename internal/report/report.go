// Package report renders human-readable views of a table model, of the
// tables in a database and of an import run.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sahilm/fuzzy"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/persister"
	"github.com/sadopc/jsonrel/internal/theme"
)

// Filter returns the names matching pattern case-insensitively, best match
// first. An empty pattern keeps every name in its original order.
func Filter(pattern string, names []string) []string {
	if pattern == "" {
		return names
	}
	matches := fuzzy.Find(pattern, names)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, names[m.Index])
	}
	return out
}

// Highlight renders name with the runes fuzzy-matched by pattern emphasised.
func Highlight(pattern, name string, base lipgloss.Style, th *theme.Theme) string {
	if pattern == "" {
		return base.Render(name)
	}
	matches := fuzzy.Find(pattern, []string{name})
	if len(matches) == 0 {
		return base.Render(name)
	}
	hit := make(map[int]bool, len(matches[0].MatchedIndexes))
	for _, i := range matches[0].MatchedIndexes {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range name {
		s := base
		if hit[i] {
			s = th.MatchedRune
		}
		b.WriteString(s.Render(string(r)))
	}
	return b.String()
}

// Model writes one paragraph per table of m: column and row counts, the
// column names, child tables and parent. Relations follow with their link
// counts. pattern fuzzy-filters the tables shown.
func Model(w io.Writer, m *model.Model, th *theme.Theme, pattern string) error {
	names := Filter(pattern, m.TableNames())
	var b strings.Builder
	for _, name := range names {
		t, ok := m.Table(name)
		if !ok {
			continue
		}
		cols := t.Columns()
		fmt.Fprintf(&b, "%s with %s columns and %s rows:\n",
			Highlight(pattern, name, th.Table, th),
			th.Count.Render(strconv.Itoa(len(cols))),
			th.Count.Render(strconv.Itoa(t.RowCount())))

		styled := make([]string, len(cols))
		for i, c := range cols {
			styled[i] = th.Column.Render(c)
		}
		fmt.Fprintf(&b, " Columns: %s\n", strings.Join(styled, ", "))

		if children := t.Children(); len(children) > 0 {
			for i, c := range children {
				children[i] = th.Table.Render(c)
			}
			fmt.Fprintf(&b, " Child tables: %s.\n", strings.Join(children, ", "))
		}
		if t.Parent != "" {
			fmt.Fprintf(&b, " Parent table is %s.\n", th.Table.Render(t.Parent))
		}
		b.WriteString("\n")
	}

	shown := make(map[string]bool, len(names))
	for _, n := range names {
		shown[n] = true
	}
	var rels []string
	for _, rel := range m.Relations() {
		if !shown[rel.ID.Parent] && !shown[rel.ID.Child] {
			continue
		}
		rels = append(rels, fmt.Sprintf(" %s %s links (%s)",
			th.Junction.Render(rel.ID.String()),
			th.Count.Render(strconv.Itoa(len(rel.Links))),
			th.MutedText.Render(rel.ID.Kind.String())))
	}
	if len(rels) > 0 {
		b.WriteString(th.Title.Render("Relations:") + "\n")
		b.WriteString(strings.Join(rels, "\n") + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Database writes a table of every table in schemaName with its row count,
// column count and secondary indexes. pattern fuzzy-filters the tables shown.
func Database(ctx context.Context, w io.Writer, conn adapter.Connection, schemaName string, th *theme.Theme, pattern string) error {
	tables, err := conn.Tables(ctx, schemaName)
	if err != nil {
		return fmt.Errorf("report tables: %w", err)
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}

	d := conn.Dialect()
	var rows [][]string
	for _, name := range Filter(pattern, names) {
		res, err := conn.Execute(ctx, "SELECT COUNT(*) FROM "+d.Qualify(schemaName, name))
		if err != nil {
			return fmt.Errorf("report count %s: %w", name, err)
		}
		count := "?"
		if len(res.Rows) == 1 && len(res.Rows[0]) == 1 {
			count = res.Rows[0][0]
		}
		cols, err := conn.Columns(ctx, schemaName, name)
		if err != nil {
			return fmt.Errorf("report columns %s: %w", name, err)
		}
		indexes, err := conn.Indexes(ctx, schemaName, name)
		if err != nil {
			return fmt.Errorf("report indexes %s: %w", name, err)
		}
		secondary := 0
		for _, ix := range indexes {
			if !ix.Primary {
				secondary++
			}
		}
		rows = append(rows, []string{name, count, strconv.Itoa(len(cols)), strconv.Itoa(secondary)})
	}

	title := th.Title.Render(fmt.Sprintf("%s · %s", conn.AdapterName(), conn.DatabaseName()))
	_, err = fmt.Fprintf(w, "%s\n%s\n", title, grid(th, []string{"Table", "Rows", "Columns", "Indexes"}, rows, -1))
	return err
}

// Summary writes one line per persisted table of an import run.
func Summary(w io.Writer, sum *persister.Summary, th *theme.Theme) error {
	rows := make([][]string, 0, len(sum.Tables))
	for _, r := range sum.Tables {
		status := th.SuccessText.Render("ok")
		if r.Err != nil {
			status = th.ErrorText.Render(r.Err.Error())
		}
		rows = append(rows, []string{
			r.Table,
			r.Kind,
			strconv.Itoa(r.Rows),
			strconv.Itoa(r.Attempts),
			r.Duration.Round(time.Millisecond).String(),
			status,
		})
	}
	head := th.Title.Render(fmt.Sprintf("%d rows in %d tables, %d failed", sum.Rows, len(sum.Tables), sum.Failed))
	_, err := fmt.Fprintf(w, "%s\n%s\n", head,
		grid(th, []string{"Table", "Kind", "Rows", "Attempts", "Duration", "Status"}, rows, 5))
	return err
}

// Plan writes each statement on its own line, highlighted for dialect.
func Plan(w io.Writer, stmts []string, dialect string, th *theme.Theme) error {
	h := NewHighlighter(dialect)
	for _, s := range stmts {
		if _, err := fmt.Fprintf(w, "%s;\n", h.Highlight(s, th)); err != nil {
			return err
		}
	}
	return nil
}

// grid renders a bordered table. Column raw holds pre-styled cells.
func grid(th *theme.Theme, headers []string, rows [][]string, raw int) string {
	border := th.Border.GetBorderStyle()
	t := table.New().
		Border(border).
		BorderStyle(lipgloss.NewStyle().Foreground(th.Border.GetBorderTopForeground())).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return th.Header.Padding(0, 1)
			case col == 0:
				return th.Table.Padding(0, 1)
			case col == raw:
				return lipgloss.NewStyle().Padding(0, 1)
			default:
				return th.Cell.Padding(0, 1)
			}
		})
	return t.Render()
}
