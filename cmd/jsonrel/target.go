package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sadopc/jsonrel/internal/adapter"
	"github.com/sadopc/jsonrel/internal/config"
	"github.com/sadopc/jsonrel/internal/journal"
)

// connFlags describes the databases a command writes to or reads from:
// saved target names, DSNs, or one connection built from individual flags.
type connFlags struct {
	targets  []string
	adapter  string
	host     string
	port     int
	user     string
	password string
	database string
	file     string
	schema   string
}

func (f *connFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.targets, "target", "t", nil, "Saved target name or DSN (repeatable)")
	fl.StringVarP(&f.adapter, "adapter", "a", "", "Database adapter ("+strings.Join(adapter.Names(), ", ")+")")
	fl.StringVarP(&f.host, "host", "H", "localhost", "Database host")
	fl.IntVarP(&f.port, "port", "p", 0, "Database port")
	fl.StringVarP(&f.user, "user", "u", "", "Database user")
	fl.StringVarP(&f.password, "password", "P", "", "Database password")
	fl.StringVarP(&f.database, "database", "d", "", "Database name")
	fl.StringVarP(&f.file, "file", "f", "", "Database file (for SQLite/DuckDB)")
	fl.StringVar(&f.schema, "schema", "", "Schema to write to (overrides config)")
}

// resolve turns the flags into saved connections. Names found in the config
// win over DSN detection.
func (f *connFlags) resolve(cfg *config.Config) ([]config.SavedConnection, error) {
	var out []config.SavedConnection
	for _, t := range f.targets {
		if sc, ok := cfg.Target(t); ok {
			if f.schema != "" {
				sc.Schema = f.schema
			}
			out = append(out, sc)
			continue
		}
		name := detectAdapter(t)
		if f.adapter != "" {
			name = f.adapter
		}
		if name == "" {
			return nil, fmt.Errorf("cannot tell the adapter of %q: use --adapter or a saved target", journal.SanitizeDSN(t))
		}
		out = append(out, config.SavedConnection{
			Name:    journal.SanitizeDSN(t),
			Adapter: name,
			DSN:     t,
			Schema:  f.schema,
		})
	}

	if len(f.targets) == 0 && f.adapter != "" {
		dsn := buildDSN(f.adapter, f.host, f.port, f.user, f.password, f.database, f.file)
		if dsn == "" {
			return nil, fmt.Errorf("%w %q (available: %s)", adapter.ErrUnknownAdapter, f.adapter, availableAdapters())
		}
		sc := config.SavedConnection{
			Adapter:  f.adapter,
			DSN:      dsn,
			Host:     f.host,
			Port:     portOrDefault(f.adapter, f.port),
			User:     f.user,
			Database: f.database,
			File:     f.file,
			Schema:   f.schema,
		}
		sc.Name = sc.DisplayString()
		out = append(out, sc)
	}
	return out, nil
}

// connect opens sc through its registered adapter.
func connect(ctx context.Context, sc config.SavedConnection) (adapter.Connection, error) {
	a, err := adapter.Lookup(sc.Adapter)
	if err != nil {
		return nil, err
	}
	conn, err := a.Connect(ctx, sc.BuildDSN())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", sc.Name, err)
	}
	return conn, nil
}

func detectAdapter(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://") || strings.HasPrefix(lower, "file:"):
		return "sqlite"
	case strings.HasPrefix(lower, "duckdb://"):
		return "duckdb"
	case strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite"
	case strings.HasSuffix(lower, ".duckdb"):
		return "duckdb"
	case strings.Contains(lower, "@tcp("):
		return "mysql"
	case lower == ":memory:":
		return "sqlite"
	}
	// Default: try as PostgreSQL DSN
	if strings.Contains(dsn, "@") {
		return "postgres"
	}
	return ""
}

// portOrDefault returns port, or the adapter's default port when unset.
func portOrDefault(adapterName string, port int) int {
	if port > 0 {
		return port
	}
	if a, err := adapter.Lookup(adapterName); err == nil {
		return a.DefaultPort()
	}
	return 0
}

func buildDSN(adapterName, host string, port int, user, password, database, file string) string {
	port = portOrDefault(adapterName, port)
	switch adapterName {
	case "postgres":
		u := &url.URL{
			Scheme: "postgres",
			Host:   host,
		}
		if user != "" {
			if password != "" {
				u.User = url.UserPassword(user, password)
			} else {
				u.User = url.User(user)
			}
		}
		if port > 0 {
			u.Host = fmt.Sprintf("%s:%d", host, port)
		}
		if database != "" {
			u.Path = "/" + database
		}
		return u.String()

	case "mysql":
		// go-sql-driver format: user:pass@tcp(host:port)/db
		dsn := ""
		if user != "" {
			dsn += user
			if password != "" {
				dsn += ":" + url.PathEscape(password)
			}
			dsn += "@"
		}
		dsn += fmt.Sprintf("tcp(%s:%d)", host, port)
		if database != "" {
			dsn += "/" + database
		}
		return dsn

	case "sqlite", "duckdb":
		if file != "" {
			return file
		}
		if database != "" {
			return database
		}
		return ":memory:"
	}
	return ""
}

func availableAdapters() string {
	return strings.Join(adapter.Names(), ", ")
}
