package model

// Row is an ordered mapping from column name to value.
type Row struct {
	cols []string
	vals map[string]Value
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{vals: make(map[string]Value)}
}

// Set assigns col, appending it to the column order on first use.
func (r *Row) Set(col string, v Value) {
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

func (r *Row) Get(col string) (Value, bool) {
	v, ok := r.vals[col]
	return v, ok
}

func (r *Row) Has(col string) bool {
	_, ok := r.vals[col]
	return ok
}

// Delete removes col if present.
func (r *Row) Delete(col string) {
	if _, ok := r.vals[col]; !ok {
		return
	}
	delete(r.vals, col)
	for i, c := range r.cols {
		if c == col {
			r.cols = append(r.cols[:i], r.cols[i+1:]...)
			break
		}
	}
}

// Columns returns the column names in insertion order.
func (r *Row) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

func (r *Row) Len() int { return len(r.cols) }

// Clone returns an independent copy of the row.
func (r *Row) Clone() *Row {
	c := &Row{
		cols: make([]string, len(r.cols)),
		vals: make(map[string]Value, len(r.vals)),
	}
	copy(c.cols, r.cols)
	for k, v := range r.vals {
		c.vals[k] = v
	}
	return c
}
