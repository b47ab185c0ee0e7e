// Package e2e_harness starts throwaway databases and object storage in containers
// for end-to-end store tests.
package e2e_harness

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	dbName     = "strata"
	dbUser     = "strata"
	dbPassword = "password"

	S3AccessKey = "minio"
	S3SecretKey = "minio123"
)

// TestHarness holds the containers of one test run.
type TestHarness struct {
	containers []testcontainers.Container
}

// StartPostgres starts a postgres container and returns its connection settings.
func (h *TestHarness) StartPostgres(ctx context.Context) (strata.DatabaseConfig, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_USER":     dbUser,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	host, port, err := h.start(ctx, req, "5432")
	if err != nil {
		return strata.DatabaseConfig{}, err
	}
	return databaseConfig(strata.DialectPostgres, host, port), nil
}

// StartMySQL starts a mysql container and returns its connection settings.
func (h *TestHarness) StartMySQL(ctx context.Context) (strata.DatabaseConfig, error) {
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.4",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": dbPassword,
			"MYSQL_USER":          dbUser,
			"MYSQL_PASSWORD":      dbPassword,
			"MYSQL_DATABASE":      dbName,
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(90 * time.Second),
	}
	host, port, err := h.start(ctx, req, "3306")
	if err != nil {
		return strata.DatabaseConfig{}, err
	}
	return databaseConfig(strata.DialectMySQL, host, port), nil
}

// StartS3 starts an S3-compatible object store and returns its endpoint.
func (h *TestHarness) StartS3(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": S3AccessKey,
			"RUSTFS_SECRET_KEY": S3SecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}
	host, port, err := h.start(ctx, req, "9000")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", host, port), nil
}

// Stop terminates every container started by the harness.
func (h *TestHarness) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(h.containers) - 1; i >= 0; i-- {
		if err := h.containers[i].Terminate(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.containers = nil
	return firstErr
}

func (h *TestHarness) start(ctx context.Context, req testcontainers.ContainerRequest, port string) (string, int, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("start %s: %w", req.Image, err)
	}
	h.containers = append(h.containers, container)

	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, err
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", 0, err
	}
	return host, mapped.Int(), nil
}

func databaseConfig(dialect strata.Dialect, host string, port int) strata.DatabaseConfig {
	db := strata.DefaultConfig().Database
	db.Dialect = dialect
	db.Host = host
	db.Port = port
	db.Database = dbName
	db.Username = dbUser
	db.Password = dbPassword
	db.SSLMode = "disable"
	return db
}
