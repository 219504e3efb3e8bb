package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/storage/memory"
)

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.Storage{Driver: DriverMemory}, true)
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, s)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Storage{Driver: "sqlite"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	root, err := filepath.Abs("../..")
	require.NoError(t, err)
	cfg := config.Storage{
		Driver:           DriverPostgres,
		ConnectionString: connStr,
		MigrationsPath:   filepath.Join(root, "migrations"),
	}

	readyRetries, readyDelay = 1, 10*time.Millisecond
	t.Cleanup(func() { readyRetries, readyDelay = 10, 3*time.Second })

	t.Run("schema missing without migrations", func(t *testing.T) {
		_, err := Open(ctx, cfg, false)
		require.Error(t, err)
	})

	t.Run("migrate then wait", func(t *testing.T) {
		s, err := Open(ctx, cfg, true)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = Open(ctx, cfg, false)
		require.NoError(t, err)
		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Close())
	})
}
