package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Naming  NamingConfig      `yaml:"naming"`
	Parser  ParserConfig      `yaml:"parser"`
	Hash    HashConfig        `yaml:"hash"`
	Persist PersistConfig     `yaml:"persist"`
	Log     LogConfig         `yaml:"log"`
	Journal JournalConfig     `yaml:"journal"`
	Targets []SavedConnection `yaml:"targets"`

	logger *slog.Logger
}

// NamingConfig holds the reserved column names and the default root table.
type NamingConfig struct {
	RootTable    string            `yaml:"root_table"`
	IDColumn     string            `yaml:"id_column"`
	ValueColumn  string            `yaml:"value_column"`
	IndexColumn  string            `yaml:"index_column"`
	HashColumn   string            `yaml:"hash_column"`
	SourceColumn string            `yaml:"source_column"`
	TimeColumn   string            `yaml:"time_column"`
	ValueColumns map[string]string `yaml:"value_columns,omitempty"` // per-table override
}

// ParserConfig holds input decoding settings.
type ParserConfig struct {
	Encoding         string `yaml:"encoding"`
	SymmetricObjects bool   `yaml:"symmetric_objects"`
}

// HashConfig selects the content hash: "blake3" or "xxh64".
type HashConfig struct {
	Algorithm string `yaml:"algorithm"`
}

// PersistConfig holds database write settings.
type PersistConfig struct {
	Schema     string        `yaml:"schema,omitempty"`
	Retries    int           `yaml:"retries"`
	Backoff    time.Duration `yaml:"backoff"`
	BatchSize  int           `yaml:"batch_size"`
	IndexDepth int           `yaml:"index_depth"`
	Lock       bool          `yaml:"lock"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// JournalConfig holds import journal settings.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// SavedConnection holds parameters for a saved database target.
type SavedConnection struct {
	Name     string `yaml:"name"`
	Adapter  string `yaml:"adapter"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	File     string `yaml:"file,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Naming: NamingConfig{
			RootTable:    "root",
			IDColumn:     "__id",
			ValueColumn:  "__value",
			IndexColumn:  "__index",
			HashColumn:   "__hash",
			SourceColumn: "file",
			TimeColumn:   "__time",
		},
		Parser: ParserConfig{
			Encoding: "utf-8",
		},
		Hash: HashConfig{
			Algorithm: "blake3",
		},
		Persist: PersistConfig{
			Retries:    3,
			Backoff:    time.Second,
			BatchSize:  1000,
			IndexDepth: 1,
			Lock:       true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Journal: JournalConfig{
			MaxSizeMB: 50,
		},
	}
}

// Validate reports settings no pipeline stage can work with.
func (c *Config) Validate() error {
	var errs []error
	n := c.Naming
	for name, v := range map[string]string{
		"naming.id_column":     n.IDColumn,
		"naming.value_column":  n.ValueColumn,
		"naming.index_column":  n.IndexColumn,
		"naming.hash_column":   n.HashColumn,
		"naming.source_column": n.SourceColumn,
		"naming.time_column":   n.TimeColumn,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	switch strings.ToLower(c.Hash.Algorithm) {
	case "", "blake3", "xxh64":
	default:
		errs = append(errs, fmt.Errorf("hash.algorithm %q: want blake3 or xxh64", c.Hash.Algorithm))
	}
	if c.Persist.Retries < 0 {
		errs = append(errs, fmt.Errorf("persist.retries must be >= 0, got %d", c.Persist.Retries))
	}
	if c.Persist.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("persist.batch_size must be >= 1, got %d", c.Persist.BatchSize))
	}
	if c.Persist.IndexDepth < 0 || c.Persist.IndexDepth > 2 {
		errs = append(errs, fmt.Errorf("persist.index_depth must be 0, 1 or 2, got %d", c.Persist.IndexDepth))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IDColumn returns the identity column name. Inside a junction table the
// identity of each side is namespaced by its table: "{parent}__id".
func (c *Config) IDColumn(parent string) string {
	if parent == "" {
		return c.Naming.IDColumn
	}
	return parent + c.Naming.IDColumn
}

// ValueColumn returns the column bare array elements of table are stored in.
func (c *Config) ValueColumn(table string) string {
	if v, ok := c.Naming.ValueColumns[table]; ok && v != "" {
		return v
	}
	return c.Naming.ValueColumn
}

// IndexColumn returns the position column of the junction table for a
// relation whose parent is table.
func (c *Config) IndexColumn(table string) string { return c.Naming.IndexColumn }

// HashColumn returns the content hash column for table.
func (c *Config) HashColumn(table string) string { return c.Naming.HashColumn }

// Logger returns the logger attached with WithLogger, or slog.Default().
func (c *Config) Logger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// WithLogger attaches l to the config and returns the config.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.logger = l
	return c
}

// Target returns the saved target with the given name.
func (c *Config) Target(name string) (SavedConnection, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return SavedConnection{}, false
}

// ConfigDir returns the jsonrel configuration directory path, typically
// ~/.config/jsonrel/.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(base, "jsonrel"), nil
}

// Load reads a Config from the YAML file at path. If the file does not exist,
// it returns DefaultConfig without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from the default path
// (ConfigDir()/config.yaml).
func LoadDefault() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the Config to the YAML file at path, creating any necessary
// parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// BuildDSN constructs a connection string from the individual fields of a
// SavedConnection. If DSN is already set, it is returned as-is. For
// file-based adapters (sqlite, duckdb) it returns the File field. For
// network adapters it builds "user:password@host:port/database".
func (sc *SavedConnection) BuildDSN() string {
	if sc.DSN != "" {
		return sc.DSN
	}

	adapter := strings.ToLower(sc.Adapter)
	if adapter == "sqlite" || adapter == "duckdb" {
		return sc.File
	}

	var b strings.Builder
	if sc.User != "" {
		b.WriteString(sc.User)
		if sc.Password != "" {
			b.WriteByte(':')
			b.WriteString(sc.Password)
		}
		b.WriteByte('@')
	}

	host := sc.Host
	if host == "" {
		host = "localhost"
	}
	b.WriteString(host)

	if sc.Port > 0 {
		fmt.Fprintf(&b, ":%d", sc.Port)
	}
	if sc.Database != "" {
		b.WriteByte('/')
		b.WriteString(sc.Database)
	}
	return b.String()
}

// DisplayString returns "adapter://host:port/database" for network adapters
// or "adapter://file" for file-based ones. Credentials are never included.
func (sc *SavedConnection) DisplayString() string {
	adapter := strings.ToLower(sc.Adapter)
	if adapter == "sqlite" || adapter == "duckdb" {
		file := sc.File
		if file == "" {
			file = sc.DSN
		}
		return fmt.Sprintf("%s://%s", sc.Adapter, file)
	}

	host := sc.Host
	if host == "" {
		host = "localhost"
	}
	location := host
	if sc.Port > 0 {
		location = fmt.Sprintf("%s:%d", host, sc.Port)
	}
	if sc.Database != "" {
		return fmt.Sprintf("%s://%s/%s", sc.Adapter, location, sc.Database)
	}
	return fmt.Sprintf("%s://%s", sc.Adapter, location)
}
