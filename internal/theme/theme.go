// Package theme holds the lipgloss styles reports and highlighted DDL are
// rendered with, so the look can be swapped from the command line.
package theme

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds lipgloss.Style values for every element of a report.
type Theme struct {
	Name string

	// Model and database reports
	Title       lipgloss.Style
	Table       lipgloss.Style
	Junction    lipgloss.Style
	Column      lipgloss.Style
	ColumnType  lipgloss.Style
	Key         lipgloss.Style
	Count       lipgloss.Style
	Border      lipgloss.Style
	Header      lipgloss.Style
	Cell        lipgloss.Style
	Null        lipgloss.Style
	MatchedRune lipgloss.Style

	// SQL Syntax highlighting
	SQLKeyword    lipgloss.Style
	SQLString     lipgloss.Style
	SQLNumber     lipgloss.Style
	SQLComment    lipgloss.Style
	SQLOperator   lipgloss.Style
	SQLFunction   lipgloss.Style
	SQLType       lipgloss.Style
	SQLIdentifier lipgloss.Style

	// General
	ErrorText   lipgloss.Style
	SuccessText lipgloss.Style
	WarningText lipgloss.Style
	MutedText   lipgloss.Style
}

// palette is the handful of colours a theme is built from.
type palette struct {
	name                                        string
	accent, table, junction, text, muted, dim   string
	keyword, str, number, comment, fn, typ, key string
	errc, ok, warn, selected                    string
}

func build(p palette) *Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return &Theme{
		Name: p.name,

		Title:       fg(p.accent).Bold(true),
		Table:       fg(p.table).Bold(true),
		Junction:    fg(p.junction).Bold(true),
		Column:      fg(p.text),
		ColumnType:  fg(p.muted).Italic(true),
		Key:         fg(p.key).Bold(true),
		Count:       fg(p.number),
		Border:      lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(p.dim)),
		Header:      fg(p.accent).Bold(true),
		Cell:        fg(p.text),
		Null:        fg(p.muted).Italic(true),
		MatchedRune: fg(p.selected).Bold(true).Underline(true),

		SQLKeyword:    fg(p.keyword).Bold(true),
		SQLString:     fg(p.str),
		SQLNumber:     fg(p.number),
		SQLComment:    fg(p.comment).Italic(true),
		SQLOperator:   fg(p.text),
		SQLFunction:   fg(p.fn),
		SQLType:       fg(p.typ),
		SQLIdentifier: fg(p.key),

		ErrorText:   fg(p.errc).Bold(true),
		SuccessText: fg(p.ok),
		WarningText: fg(p.warn),
		MutedText:   fg(p.muted),
	}
}

// ---------------------------------------------------------------------------
// Theme definitions
// ---------------------------------------------------------------------------

func newDefaultTheme() *Theme {
	return build(palette{
		name:     "default",
		accent:   "#569CD6",
		table:    "#4EC9B0",
		junction: "#C586C0",
		text:     "#D4D4D4",
		muted:    "#808080",
		dim:      "#3C3C3C",
		keyword:  "#569CD6",
		str:      "#CE9178",
		number:   "#B5CEA8",
		comment:  "#6A9955",
		fn:       "#DCDCAA",
		typ:      "#4EC9B0",
		key:      "#9CDCFE",
		errc:     "#F44747",
		ok:       "#6A9955",
		warn:     "#CCA700",
		selected: "#FFFFFF",
	})
}

func newLightTheme() *Theme {
	return build(palette{
		name:     "light",
		accent:   "#0000FF",
		table:    "#267F99",
		junction: "#AF00DB",
		text:     "#000000",
		muted:    "#6A6A6A",
		dim:      "#C8C8C8",
		keyword:  "#0000FF",
		str:      "#A31515",
		number:   "#098658",
		comment:  "#008000",
		fn:       "#795E26",
		typ:      "#267F99",
		key:      "#001080",
		errc:     "#CD3131",
		ok:       "#008000",
		warn:     "#BF8803",
		selected: "#000000",
	})
}

func newMonokaiTheme() *Theme {
	return build(palette{
		name:     "monokai",
		accent:   "#A6E22E",
		table:    "#66D9EF",
		junction: "#AE81FF",
		text:     "#F8F8F2",
		muted:    "#75715E",
		dim:      "#49483E",
		keyword:  "#F92672",
		str:      "#E6DB74",
		number:   "#AE81FF",
		comment:  "#75715E",
		fn:       "#A6E22E",
		typ:      "#66D9EF",
		key:      "#FD971F",
		errc:     "#F92672",
		ok:       "#A6E22E",
		warn:     "#E6DB74",
		selected: "#F8F8F2",
	})
}

// newPlainTheme renders text unchanged, for pipes and files.
func newPlainTheme() *Theme {
	s := lipgloss.NewStyle()
	return &Theme{
		Name:          "plain",
		Title:         s,
		Table:         s,
		Junction:      s,
		Column:        s,
		ColumnType:    s,
		Key:           s,
		Count:         s,
		Border:        s.BorderStyle(lipgloss.NormalBorder()),
		Header:        s,
		Cell:          s,
		Null:          s,
		MatchedRune:   s,
		SQLKeyword:    s,
		SQLString:     s,
		SQLNumber:     s,
		SQLComment:    s,
		SQLOperator:   s,
		SQLFunction:   s,
		SQLType:       s,
		SQLIdentifier: s,
		ErrorText:     s,
		SuccessText:   s,
		WarningText:   s,
		MutedText:     s,
	}
}

// ---------------------------------------------------------------------------
// Registry and accessors
// ---------------------------------------------------------------------------

// Themes maps theme names to their Theme definitions.
var Themes = map[string]*Theme{
	"default": newDefaultTheme(),
	"light":   newLightTheme(),
	"monokai": newMonokaiTheme(),
	"plain":   newPlainTheme(),
}

// Default returns the default dark theme.
func Default() *Theme {
	return Themes["default"]
}

// Plain returns the theme that adds no styling.
func Plain() *Theme {
	return Themes["plain"]
}

// Get returns the theme identified by name. If no theme with that name exists
// it falls back to the default theme.
func Get(name string) *Theme {
	if t, ok := Themes[name]; ok {
		return t
	}
	return Default()
}

// Names returns the registered theme names, sorted.
func Names() []string {
	out := make([]string, 0, len(Themes))
	for n := range Themes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
