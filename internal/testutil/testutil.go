// Package testutil holds fakes, fixtures and container helpers shared by the tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewMiniredisClient returns a client for a fresh miniredis server. Both are closed when the test
// completes; the server is returned for FastForward and direct inspection.
func NewMiniredisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, s
}

// NewPostgresDSN starts a PostgreSQL container and returns its DSN.
func NewPostgresDSN(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("indexer"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	return dsn
}

type ClickHouseConnection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (c ClickHouseConnection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClickHouseContainer starts a ClickHouse server for the telemetry integration tests.
func NewClickHouseContainer(t *testing.T) ClickHouseConnection {
	t.Helper()

	ctx := context.Background()

	c, err := tcclickhouse.Run(ctx, "clickhouse/clickhouse-server:latest",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
	)
	if err != nil {
		t.Fatalf("failed to start clickhouse container: %v", err)
	}

	testcontainers.CleanupContainer(t, c)

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get clickhouse host: %v", err)
	}

	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("failed to get clickhouse port: %v", err)
	}

	return ClickHouseConnection{
		Host:     host,
		Port:     port.Int(),
		Database: "default",
		Username: "default",
		Password: "",
	}
}
