package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testSchema creates two tenant schemas plus a shared column-scoped table.
const testSchema = `
	CREATE SCHEMA tn_acme;
	CREATE SCHEMA tn_globex;
	CREATE SCHEMA reporting;

	CREATE TABLE tn_acme.customers (id SERIAL PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE tn_globex.customers (id SERIAL PRIMARY KEY, name TEXT NOT NULL);
	INSERT INTO tn_acme.customers (name) VALUES ('alice'), ('bob');
	INSERT INTO tn_globex.customers (name) VALUES ('carol');

	CREATE TABLE public.orders (
		id        SERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		total     NUMERIC(10,2) NOT NULL DEFAULT 0
	);
	INSERT INTO public.orders (tenant_id, total)
	SELECT CASE WHEN i % 2 = 0 THEN 'acme' ELSE 'globex' END, i
	FROM generate_series(1, 10) AS i;
`

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return pool
}
