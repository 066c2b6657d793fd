package sqlstore

import (
	"context"
	"fmt"

	"github.com/goliatone/go-oracle/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// Session binds the webhook and lifecycle stores to one database handle.
// The root session runs on the *bun.DB; RunInTx hands the callback a session
// bound to the transaction, and nesting opens a savepoint.
type Session struct {
	db        *bun.DB
	idb       bun.IDB
	webhooks  *WebhookStore
	lifecycle *LifecycleStore
}

func NewSessionFromPersistence(client *persistence.Client) (*Session, error) {
	return NewSession(client)
}

func NewSessionFromDB(db *bun.DB) (*Session, error) {
	return NewSession(db)
}

// NewSession accepts a *bun.DB or anything exposing DB() *bun.DB.
func NewSession(persistenceClient any) (*Session, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	webhooks, err := NewWebhookStore(db)
	if err != nil {
		return nil, err
	}
	lifecycle, err := NewLifecycleStore(db)
	if err != nil {
		return nil, err
	}
	return &Session{db: db, idb: db, webhooks: webhooks, lifecycle: lifecycle}, nil
}

func (s *Session) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Session) Webhooks() core.WebhookStore {
	if s == nil {
		return nil
	}
	return s.webhooks
}

func (s *Session) Lifecycle() core.LifecycleStore {
	if s == nil {
		return nil
	}
	return s.lifecycle
}

func (s *Session) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.Stores) error) error {
	if s == nil || s.idb == nil {
		return fmt.Errorf("sqlstore: session is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: transaction callback is required")
	}
	return s.idb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.bind(tx))
	})
}

func (s *Session) bind(tx bun.Tx) *Session {
	webhooks := *s.webhooks
	webhooks.idb = tx
	lifecycle := *s.lifecycle
	lifecycle.idb = tx
	return &Session{db: s.db, idb: tx, webhooks: &webhooks, lifecycle: &lifecycle}
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var _ core.Stores = (*Session)(nil)
