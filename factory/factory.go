package factory

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	_ "github.com/microsoft/go-mssqldb"
	go_ora "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// generateIAMTokenFn issues a DSQL connect token; tests replace it.
var generateIAMTokenFn = func(ctx context.Context, endpoint, region, user string, creds aws.CredentialsProvider) (string, error) {
	if user == "admin" {
		return auth.GenerateDBConnectAdminAuthToken(ctx, endpoint, region, creds)
	}
	return auth.GenerateDbConnectAuthToken(ctx, endpoint, region, creds)
}

// NewStore opens a connection for cfg.Database and binds registry to it.
// This is the primary way for external projects to create a Store.
//
// Usage:
//
//	cfg := strata.DefaultConfig()
//	cfg.Database.Dialect = strata.DialectSQLite
//	cfg.Database.Database = "app.db"
//	store, err := factory.NewStore(ctx, cfg, registry)
//	if err != nil {
//	    // handle error
//	}
//	defer store.Close()
//	report, err := store.Bootstrap(ctx)
//
// When cfg.Resources.S3Bucket is set, definition overrides are fetched from S3 at bootstrap.
func NewStore(ctx context.Context, cfg *strata.Config, registry *strata.Registry, opts ...internal.Option) (strata.Store, error) {
	if cfg == nil {
		cfg = strata.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, err.Error()).WithCause(err)
	}

	session, err := OpenSession(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Resources.S3Bucket != "" {
		client, err := NewS3Client(ctx, cfg.Resources.S3Region, cfg.Resources.S3Endpoint)
		if err != nil {
			session.Close()
			return nil, err
		}
		breaker := internal.NewCircuitBreaker(cfg.Resources.BreakerThreshold, cfg.Resources.BreakerWindow, cfg.Resources.BreakerCooldown)
		source := internal.NewS3DefinitionSource(client, cfg.Resources.S3Bucket, cfg.Resources.S3Prefix, breaker)
		opts = append([]internal.Option{internal.WithDefinitionSource(source)}, opts...)
	}

	store, err := internal.NewStore(cfg, registry, session, opts...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return store, nil
}

// OpenSession opens and pings a connection pool for the configured dialect.
func OpenSession(ctx context.Context, db strata.DatabaseConfig) (internal.Session, error) {
	password := ResolvePassword(ctx, db)
	dsn, err := DSN(db, password)
	if err != nil {
		return nil, err
	}

	if db.Dialect == strata.DialectPostgres {
		pool, err := createDatabasePool(ctx, db, dsn)
		if err != nil {
			return nil, err
		}
		return internal.NewPgxSession(pool), nil
	}

	conn, err := sql.Open(driverName(db.Dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", db.Dialect, err)
	}
	if db.Dialect == strata.DialectSQLite {
		// a single writer avoids SQLITE_BUSY between pooled connections
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(db.MaxConnections)
		conn.SetMaxIdleConns(db.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(db.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(db.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	zap.S().Infow("database connected", "dialect", db.Dialect, "host", db.Host, "database", db.Database)
	return internal.NewSQLSession(conn, internal.PlaceholderFor(db.Dialect)), nil
}

// createDatabasePool creates a PostgreSQL connection pool
func createDatabasePool(ctx context.Context, db strata.DatabaseConfig, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if db.MaxConnections > 0 {
		poolConfig.MaxConns = int32(db.MaxConnections)
	}
	poolConfig.MinConns = int32(db.MaxIdleConns)
	poolConfig.MaxConnLifetime = db.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = db.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = db.Timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	zap.S().Infow("database connected", "dialect", db.Dialect, "host", db.Host, "database", db.Database)
	return pool, nil
}

func driverName(d strata.Dialect) string {
	switch d {
	case strata.DialectTransactSQL:
		return "sqlserver"
	}
	return string(d)
}

// DSN renders the driver connection string of a dialect. A configured DSN is used verbatim.
func DSN(db strata.DatabaseConfig, password string) (string, error) {
	if db.DSN != "" {
		return db.DSN, nil
	}
	port := db.Port
	if port == 0 {
		port = strata.DefaultPort(db.Dialect)
	}
	hostPort := net.JoinHostPort(db.Host, strconv.Itoa(port))

	switch db.Dialect {
	case strata.DialectPostgres:
		q := url.Values{}
		if db.SSLMode != "" {
			q.Set("sslmode", db.SSLMode)
		}
		for k, v := range db.Properties {
			q.Set(k, v)
		}
		u := url.URL{Scheme: "postgres", User: url.UserPassword(db.Username, password), Host: hostPort, Path: "/" + db.Database, RawQuery: q.Encode()}
		return u.String(), nil

	case strata.DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = db.Username
		mc.Passwd = password
		mc.Net = "tcp"
		mc.Addr = hostPort
		mc.DBName = db.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Timeout = db.Timeout
		if len(db.Properties) > 0 {
			mc.Params = db.Properties
		}
		return mc.FormatDSN(), nil

	case strata.DialectSQLite:
		return "file:" + db.Database + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil

	case strata.DialectOracle:
		return go_ora.BuildUrl(db.Host, port, db.Database, db.Username, password, db.Properties), nil

	case strata.DialectTransactSQL:
		q := url.Values{}
		q.Set("database", db.Database)
		for k, v := range db.Properties {
			q.Set(k, v)
		}
		u := url.URL{Scheme: "sqlserver", User: url.UserPassword(db.Username, password), Host: hostPort, RawQuery: q.Encode()}
		return u.String(), nil
	}
	return "", strata.NewConfigurationError(strata.ErrCodeUnsupportedDialect, fmt.Sprintf("dialect %q is not supported", db.Dialect))
}

// ResolvePassword returns the configured password, or a DSQL auth token when IAM
// auth is enabled. Token failures fall back to the configured password.
func ResolvePassword(ctx context.Context, db strata.DatabaseConfig) string {
	if !db.IAMAuth {
		return db.Password
	}
	awsCfg, err := loadAWSConfig(ctx, db.Region)
	if err != nil {
		zap.S().Warnw("failed to load aws config; falling back to configured password", "error", err)
		return db.Password
	}
	endpoint := net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
	token, err := generateIAMTokenFn(ctx, endpoint, awsCfg.Region, db.Username, awsCfg.Credentials)
	if err != nil || token == "" {
		zap.S().Warnw("failed to generate IAM auth token; falling back to configured password", "endpoint", endpoint, "error", err)
		return db.Password
	}
	zap.S().Infow("generated IAM auth token for database connection", "endpoint", endpoint)
	return token
}

// NewS3Client builds an S3 client. A custom endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
	}
	return awsCfg, nil
}
