package strata

import (
	"time"
)

// Dialect selects the backend family a store talks to.
type Dialect string

const (
	DialectPostgres    Dialect = "postgres"
	DialectMySQL       Dialect = "mysql"
	DialectSQLite      Dialect = "sqlite"
	DialectOracle      Dialect = "oracle"
	DialectTransactSQL Dialect = "tsql"
)

// Dialects lists the supported backends.
var Dialects = []Dialect{DialectPostgres, DialectMySQL, DialectSQLite, DialectOracle, DialectTransactSQL}

// Valid reports whether d names a supported backend.
func (d Dialect) Valid() bool {
	for _, known := range Dialects {
		if d == known {
			return true
		}
	}
	return false
}

// Config consolidates store settings
type Config struct {
	Database  DatabaseConfig  `json:"database" koanf:"database"`
	Store     StoreConfig     `json:"store" koanf:"store"`
	Bootstrap BootstrapConfig `json:"bootstrap" koanf:"bootstrap"`
	Resources ResourceConfig  `json:"resources" koanf:"resources"`
	Archive   ArchiveConfig   `json:"archive" koanf:"archive"`
	Logging   LoggingConfig   `json:"logging" koanf:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Dialect Dialect `json:"dialect" koanf:"dialect"`
	// DSN, when set, is used verbatim instead of the discrete connection fields.
	DSN        string            `json:"dsn" koanf:"dsn"`
	Host       string            `json:"host" koanf:"host"`
	Port       int               `json:"port" koanf:"port"`
	Database   string            `json:"database" koanf:"database"`
	Username   string            `json:"username" koanf:"username"`
	Password   string            `json:"password" koanf:"password"`
	SSLMode    string            `json:"sslMode" koanf:"ssl_mode"`
	Properties map[string]string `json:"properties" koanf:"properties"`

	MaxConnections  int           `json:"maxConnections" koanf:"max_connections"`
	MaxIdleConns    int           `json:"maxIdleConns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" koanf:"conn_max_idle_time"`
	Timeout         time.Duration `json:"timeout" koanf:"timeout"`

	// IAMAuth swaps the password for a generated DSQL auth token (postgres only).
	IAMAuth bool   `json:"iamAuth" koanf:"iam_auth"`
	Region  string `json:"region" koanf:"region"`
}

// StoreConfig contains save/load behaviour
type StoreConfig struct {
	// LogEdits appends the prior value of every overwritten attribute to the history table.
	LogEdits        bool   `json:"logEdits" koanf:"log_edits"`
	GuidStrategy    string `json:"guidStrategy" koanf:"guid_strategy"`
	SaveChunkSize   int    `json:"saveChunkSize" koanf:"save_chunk_size"`
	LoadConcurrency int    `json:"loadConcurrency" koanf:"load_concurrency"`
	// MaxStatementParams caps bind parameters per statement; zero uses the dialect limit.
	MaxStatementParams int `json:"maxStatementParams" koanf:"max_statement_params"`
	MaxObjectDepth     int `json:"maxObjectDepth" koanf:"max_object_depth"`
}

// BootstrapConfig contains schema bootstrap settings
type BootstrapConfig struct {
	// StrictProbes reports a failed existence probe as an object failure instead of "absent".
	StrictProbes   bool `json:"strictProbes" koanf:"strict_probes"`
	SkipExtras     bool `json:"skipExtras" koanf:"skip_extras"`
	MapDefinitions bool `json:"mapDefinitions" koanf:"map_definitions"`
}

// ResourceConfig points at optional definition overrides stored in S3.
type ResourceConfig struct {
	S3Bucket   string `json:"s3Bucket" koanf:"s3_bucket"`
	S3Prefix   string `json:"s3Prefix" koanf:"s3_prefix"`
	S3Region   string `json:"s3Region" koanf:"s3_region"`
	S3Endpoint string `json:"s3Endpoint" koanf:"s3_endpoint"`

	BreakerThreshold int           `json:"breakerThreshold" koanf:"breaker_threshold"`
	BreakerWindow    time.Duration `json:"breakerWindow" koanf:"breaker_window"`
	BreakerCooldown  time.Duration `json:"breakerCooldown" koanf:"breaker_cooldown"`
}

// ArchiveConfig contains history archival settings
type ArchiveConfig struct {
	DuckDBPath     string        `json:"duckdbPath" koanf:"duckdb_path"`
	DuckDBMemoryMB int           `json:"duckdbMemoryMB" koanf:"duckdb_memory_mb"`
	DuckDBThreads  int           `json:"duckdbThreads" koanf:"duckdb_threads"`
	S3Bucket       string        `json:"s3Bucket" koanf:"s3_bucket"`
	S3Prefix       string        `json:"s3Prefix" koanf:"s3_prefix"`
	S3Region       string        `json:"s3Region" koanf:"s3_region"`
	S3Endpoint     string        `json:"s3Endpoint" koanf:"s3_endpoint"`
	OlderThan      time.Duration `json:"olderThan" koanf:"older_than"`
	BatchSize      int           `json:"batchSize" koanf:"batch_size"`
	WorkDir        string        `json:"workDir" koanf:"work_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`
	Format string `json:"format" koanf:"format"`
}

// GUID strategies.
const (
	GuidStrategyUUIDv7 = "uuidv7"
	GuidStrategyULID   = "ulid"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect:         DialectPostgres,
			Host:            "localhost",
			Port:            5432,
			Database:        "strata",
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Store: StoreConfig{
			LogEdits:        false,
			GuidStrategy:    GuidStrategyUUIDv7,
			SaveChunkSize:   1024,
			LoadConcurrency: 4,
			MaxObjectDepth:  8,
		},
		Bootstrap: BootstrapConfig{
			StrictProbes:   false,
			SkipExtras:     false,
			MapDefinitions: true,
		},
		Resources: ResourceConfig{
			BreakerThreshold: 3,
			BreakerWindow:    time.Minute,
			BreakerCooldown:  5 * time.Minute,
		},
		Archive: ArchiveConfig{
			DuckDBMemoryMB: 512,
			DuckDBThreads:  2,
			OlderThan:      30 * 24 * time.Hour,
			BatchSize:      10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultPort returns the conventional port of a dialect's server.
func DefaultPort(d Dialect) int {
	switch d {
	case DialectPostgres:
		return 5432
	case DialectMySQL:
		return 3306
	case DialectOracle:
		return 1521
	case DialectTransactSQL:
		return 1433
	}
	return 0
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Database.Dialect.Valid() {
		return &ConfigError{Field: "database.dialect", Message: "must be one of postgres, mysql, sqlite, oracle, tsql"}
	}

	if c.Database.DSN == "" && c.Database.Database == "" {
		return &ConfigError{Field: "database.database", Message: "must be set when dsn is empty"}
	}

	if c.Database.Dialect != DialectSQLite && c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}

	if c.Database.IAMAuth && c.Database.Dialect != DialectPostgres {
		return &ConfigError{Field: "database.iamAuth", Message: "only supported for postgres"}
	}

	if c.Store.GuidStrategy != GuidStrategyUUIDv7 && c.Store.GuidStrategy != GuidStrategyULID {
		return &ConfigError{Field: "store.guidStrategy", Message: "must be uuidv7 or ulid"}
	}

	if c.Store.SaveChunkSize <= 0 {
		return &ConfigError{Field: "store.saveChunkSize", Message: "must be greater than 0"}
	}

	if c.Store.LoadConcurrency <= 0 {
		return &ConfigError{Field: "store.loadConcurrency", Message: "must be greater than 0"}
	}

	if c.Store.MaxStatementParams < 0 {
		return &ConfigError{Field: "store.maxStatementParams", Message: "must not be negative"}
	}

	if c.Store.MaxObjectDepth <= 0 {
		return &ConfigError{Field: "store.maxObjectDepth", Message: "must be greater than 0"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
