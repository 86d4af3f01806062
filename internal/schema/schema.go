package schema

// Table represents a database table.
type Table struct {
	Name    string
	Columns []Column
	Indexes []Index
}

// Column represents a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
	IsPK     bool
}

// Index represents a table index. Primary marks indexes backing the primary
// key or another constraint; those are never dropped.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// PrimaryKey returns the names of the primary key columns in cols.
func PrimaryKey(cols []Column) []string {
	var out []string
	for _, c := range cols {
		if c.IsPK {
			out = append(out, c.Name)
		}
	}
	return out
}

// HasColumn reports whether cols contains name.
func HasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
