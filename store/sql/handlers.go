package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-oracle/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// identified is satisfied by every record pointer stored through a
// go-repository-bun repository.
type identified interface {
	recordID() string
	setRecordID(id string)
}

func recordHandlers[T identified](newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			return parseUUID(record.recordID())
		},
		SetID: func(record T, id uuid.UUID) {
			record.setRecordID(id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(record.recordID())
		},
	}
}

func newRepository[T identified](db *bun.DB, label string, newRecord func() T) (repository.Repository[T], error) {
	repo := repository.NewRepository[T](db, recordHandlers(newRecord))
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", label, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

// isMissing reports a missing row from bun or from the repository layer.
func isMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryNotFound
}

func notFound(entity, id string, err error) error {
	if isMissing(err) {
		return core.NewNotFoundError(fmt.Sprintf("%s %s not found", entity, strings.TrimSpace(id)))
	}
	return err
}

// lockForUpdate appends a row lock on postgres. sqlite serializes writers
// and has no row level locks.
func lockForUpdate(idb bun.IDB, q *bun.SelectQuery, skipLocked bool) *bun.SelectQuery {
	if idb.Dialect().Name() != dialect.PG {
		return q
	}
	if skipLocked {
		return q.For("UPDATE SKIP LOCKED")
	}
	return q.For("UPDATE")
}

func limitOrDefault(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
