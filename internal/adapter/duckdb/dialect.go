package duckdb

import (
	"strings"

	"github.com/sadopc/jsonrel/internal/adapter/sqlbase"
	"github.com/sadopc/jsonrel/internal/schema"
)

// dialect is available without the duckdb build tag so plans can be
// rendered for DuckDB anywhere.
var dialect = sqlbase.Standard{
	DialectName: "duckdb",
	Types: map[schema.Kind]string{
		schema.KindText:    "VARCHAR",
		schema.KindKey:     "VARCHAR",
		schema.KindReal:    "DOUBLE",
		schema.KindInteger: "BIGINT",
	},
	IfNotExistsColumn: true,
	Params:            65535,
	ImplicitSchema:    "main",
}

// parseIndexColumns extracts column names from a CREATE INDEX SQL statement.
// Example: `CREATE INDEX idx ON tbl ("col1", col2)` -> ["col1", "col2"]
func parseIndexColumns(sqlStr string) []string {
	if sqlStr == "" {
		return nil
	}
	start := strings.LastIndex(sqlStr, "(")
	end := strings.LastIndex(sqlStr, ")")
	if start < 0 || end <= start {
		return nil
	}
	var cols []string
	for _, p := range strings.Split(sqlStr[start+1:end], ",") {
		col := strings.TrimSpace(p)
		if len(col) >= 2 && col[0] == '"' && col[len(col)-1] == '"' {
			col = strings.ReplaceAll(col[1:len(col)-1], `""`, `"`)
		}
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}
