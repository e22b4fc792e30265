//go:build itest && test_db_postgres

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// pgContainer is shared by all tests, each test gets its own
	// database inside it.
	pgContainer *postgres.PostgresContainer

	pgContainerOnce sync.Once
	pgContainerErr  error

	// pgInitTimeout includes the time to pull the image.
	pgInitTimeout = 2 * time.Minute

	pgTerminateTimeout = 1 * time.Minute

	pgNameRegexp = regexp.MustCompile(`[^a-z0-9_]`)
)

// TestMain terminates the shared postgres container once the suite is done.
func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgTerminateTimeout,
		)
		defer cancel()

		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("failed to terminate postgres container: %v\n",
				err)
		}
	}

	os.Exit(code)
}

// getPostgresContainer starts the shared container on first use.
func getPostgresContainer(
	ctx context.Context) (*postgres.PostgresContainer, error) {

	pgContainerOnce.Do(func() {
		pgContainer, pgContainerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:18-alpine"),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout, wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgContainer, pgContainerErr
}

// pgDBName turns the test name into a valid database name.
func pgDBName(t *testing.T) string {
	name := pgNameRegexp.ReplaceAllString(strings.ToLower(t.Name()), "_")
	if len(name) > 63 {
		name = name[:63]
	}

	return name
}

// newPostgresStore creates a fresh database for the test and opens a
// migrated store on it.
func newPostgresStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := t.Context()

	container, err := getPostgresContainer(ctx)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	adminDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = adminDB.Close()
	})

	dbName := pgDBName(t)
	_, err = adminDB.ExecContext(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)

	s, err := OpenPostgres(
		strings.Replace(connStr, "/postgres?", "/"+dbName+"?", 1),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// TestPostgresStore runs the store checks against postgres.
func TestPostgresStore(t *testing.T) {
	t.Parallel()

	t.Run("wallets", func(t *testing.T) {
		t.Parallel()

		checkWallets(t, newPostgresStore(t))
	})

	t.Run("txs", func(t *testing.T) {
		t.Parallel()

		checkTxs(t, newPostgresStore(t))
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		t.Parallel()

		s := newPostgresStore(t)
		require.NoError(t, ApplyPostgresMigrations(s.db))
		require.Equal(t, BackendPostgres, s.Backend())
	})
}
