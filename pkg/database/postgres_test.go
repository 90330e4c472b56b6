package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrationConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("set INTEGRATION_TEST=true to run against postgres")
	}

	cfg := DefaultPostgresConfig()
	cfg.MaxRetries = 1
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v, err := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT")); err == nil {
		cfg.Port = v
	}
	if v := os.Getenv("TEST_POSTGRES_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("TEST_POSTGRES_DATABASE"); v != "" {
		cfg.Database = v
	}
	return cfg
}

func connect(t *testing.T) (*PostgresDB, *PostgresConfig) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, cfg.DSN()))
	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db, cfg
}

func TestPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()
	assert.Equal(t, "membership", cfg.Database)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, 3, cfg.MaxRetries)

	cfg.Host, cfg.User, cfg.Password = "db.internal", "gw", "secret"
	assert.Equal(t,
		"host=db.internal port=5432 user=gw password=secret dbname=membership sslmode=disable",
		cfg.DSN())
}

func TestNewPostgres_Unreachable(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "nobody",
		Database:       "none",
		SSLMode:        "disable",
		MaxRetries:     2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewPostgres_CancelledWhileRetrying(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		SSLMode:        "disable",
		MaxRetries:     5,
		RetryInterval:  time.Minute,
		ConnectTimeout: 200 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMigrations_Integration(t *testing.T) {
	db, cfg := connect(t)
	ctx := context.Background()

	version, err := MigrationVersion(ctx, cfg.DSN())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(2))

	require.NoError(t, db.Ping(ctx))

	tx, err := db.Pool().Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (id, slug, plan, status, features) VALUES ($1, $2, $3, $4, $5)`,
		"tenant-migrate-test", "migrate-test", "enterprise", "active", `{"biometric_auth": true}`)
	require.NoError(t, err)

	var biometric bool
	require.NoError(t, tx.QueryRow(ctx,
		`SELECT (features->>'biometric_auth')::boolean FROM tenants WHERE slug = $1`, "migrate-test",
	).Scan(&biometric))
	assert.True(t, biometric)

	_, err = tx.Exec(ctx, `SAVEPOINT bad_plan`)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO tenants (id, slug, plan) VALUES ($1, $2, $3)`, "t2", "t2", "platinum")
	assert.Error(t, err, "plan check constraint")
}

func TestSendBatch_Integration(t *testing.T) {
	db, _ := connect(t)
	ctx := context.Background()

	batch := &pgx.Batch{}
	batch.Queue("SELECT 1")
	batch.Queue("SELECT 2")

	results := db.SendBatch(ctx, batch)
	defer results.Close()

	for want := 1; want <= 2; want++ {
		var got int
		require.NoError(t, results.QueryRow().Scan(&got))
		assert.Equal(t, want, got)
	}
}

func TestClose_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)

	db.Close()
	assert.Error(t, db.Ping(ctx))
}
