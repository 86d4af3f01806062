// Package export writes the tables of a model to CSV or JSON files without a
// database.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/model"
	"github.com/sadopc/jsonrel/internal/persister"
)

// Format selects the output encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// ParseFormat resolves a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, JSON:
		return f, nil
	}
	return "", fmt.Errorf("export: unknown format %q (want csv or json)", s)
}

var fileNames = strings.NewReplacer("<-", "__from__", "~", "__with__", "/", "_", "\\", "_")

// FileName returns the file a table is written to, free of characters some
// filesystems reject.
func FileName(table string, f Format) string {
	return fileNames.Replace(table) + "." + string(f)
}

// Dir writes every table of m into dir, one file per table, and returns the
// paths written.
func Dir(ctx context.Context, dir string, m *model.Model, cfg *config.Config, f Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	var paths []string
	for _, t := range persister.Tables(m, cfg) {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path := filepath.Join(dir, FileName(t.Spec.Name, f))
		if err := File(path, t, f); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// File writes one table to path.
func File(path string, t persister.Table, f Format) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	switch f {
	case JSON:
		err = WriteJSON(out, t)
	default:
		err = WriteCSV(out, t)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", t.Spec.Name, err)
	}
	return nil
}

func header(t persister.Table) []string {
	cols := t.ContentColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// WriteCSV writes a header row then one record per row. NULL is written as
// an empty field.
func WriteCSV(w io.Writer, t persister.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(t)); err != nil {
		return err
	}

	record := make([]string, len(t.ContentColumns()))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = text(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows as a JSON array of objects whose keys keep the
// table's column order.
func WriteJSON(w io.Writer, t persister.Table) error {
	names := header(t)
	keys := make([][]byte, len(names))
	for i, n := range names {
		k, err := json.Marshal(n)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteString("[")
	for r, row := range t.Rows {
		if r > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			var v any
			if i < len(row) {
				v = row[i]
			}
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteString(": ")
			buf.Write(data)
		}
		buf.WriteString("}")
		// Flush periodically to keep memory usage low.
		if buf.Len() > 64<<10 {
			if _, err := w.Write(buf.Bytes()); err != nil {
				return err
			}
			buf.Reset()
		}
	}
	if len(t.Rows) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
