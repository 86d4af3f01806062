//go:build !duckdb

package duckdb

import (
	"context"
	"errors"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/schema"
)

var errDisabled = errors.New("DuckDB support not compiled in. Rebuild with -tags duckdb")

func init() {
	adapter.Register(&disabledAdapter{})
}

// disabledAdapter still renders DuckDB SQL for plans.
type disabledAdapter struct{}

func (d *disabledAdapter) Name() string            { return "duckdb" }
func (d *disabledAdapter) DefaultPort() int        { return 0 }
func (d *disabledAdapter) Dialect() schema.Dialect { return dialect }

func (d *disabledAdapter) Connect(_ context.Context, _ string) (adapter.Connection, error) {
	return nil, errDisabled
}
