// Package migrations applies the embedded oracle schema. Postgres files sit
// at the root of data/sql/migrations and the sqlite variant in its sqlite
// subdirectory.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	oracle "github.com/goliatone/go-oracle"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const schemaRoot = "data/sql/migrations"

// DialectForDriver maps the configured database driver to a schema dialect.
// An empty driver means sqlite.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "pg", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Schema returns the migration files of one dialect, read from source or
// from the embedded tree when source is nil. Every up file must have a
// matching down file.
func Schema(dialect string, source fs.FS) (fs.FS, error) {
	if source == nil {
		source = oracle.GetMigrationsFS()
	}
	dir := schemaRoot
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir = path.Join(schemaRoot, "sqlite")
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	schema, err := fs.Sub(source, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	versions, err := Versions(schema)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s: %w", dialect, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return schema, nil
}

// Versions lists the migration names in schema in apply order, failing when
// one lacks its down file.
func Versions(schema fs.FS) ([]string, error) {
	ups, err := fs.Glob(schema, "*.up.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(ups)
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		name := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(schema, name+".down.sql"); err != nil {
			return nil, fmt.Errorf("migration %s has no down file", name)
		}
		versions = append(versions, name)
	}
	return versions, nil
}

// Apply registers the schema for driver with the persistence client and
// migrates up.
func Apply(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("migrations: client is required")
	}
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return err
	}
	schema, err := Schema(dialect, nil)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(schema)
	return client.Migrate(ctx)
}
