// Package sqltest opens migrated in-memory sqlite sessions for tests.
package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-oracle/migrations"
	sqlstore "github.com/goliatone/go-oracle/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// PostgresDSNEnv names a disposable postgres database for tests that need
// real row locking. Its webhooks table is truncated before each use.
const PostgresDSNEnv = "ORACLE_TEST_POSTGRES_DSN"

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-oracle-tests" }

// NewClient returns a persistence client over a fresh shared-cache memory
// database with every sqlite migration applied. The client is closed when
// the test ends.
func NewClient(t testing.TB) *persistence.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:oracle-test-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(persistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := migrations.Apply(context.Background(), client, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

// NewSession returns a store session over NewClient.
func NewSession(t testing.TB) *sqlstore.Session {
	t.Helper()
	session, err := sqlstore.NewSessionFromPersistence(NewClient(t))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}

// NewPostgresSession returns a store session over the database named by
// PostgresDSNEnv, migrated and with an empty webhooks table. The test is
// skipped when the variable is unset.
func NewPostgresSession(t testing.TB) *sqlstore.Session {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(PostgresDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", PostgresDSNEnv)
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres db: %v", err)
	}
	client, err := persistence.New(persistenceConfig{driver: "postgres", server: dsn}, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := migrations.Apply(ctx, client, "postgres"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := client.DB().NewRaw("TRUNCATE TABLE webhooks").Exec(ctx); err != nil {
		t.Fatalf("truncate webhooks: %v", err)
	}
	session, err := sqlstore.NewSessionFromPersistence(client)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}
