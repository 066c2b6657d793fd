package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-oracle/core"
	sqlstore "github.com/goliatone/go-oracle/store/sql"
	"github.com/goliatone/go-oracle/store/sql/sqltest"
)

const escrow = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

func inboundInput(signature string) core.CreateWebhookInput {
	return core.CreateWebhookInput{
		Direction:     core.DirectionInbound,
		Role:          core.RoleJobLauncher,
		EscrowAddress: escrow,
		ChainID:       80002,
		EventType:     "escrow_created",
		Payload:       map[string]any{},
		DedupKey:      signature,
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client := sqltest.NewClient(t)
	var tableName string
	err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"webhooks",
	).Scan(context.Background(), &tableName)
	if err != nil {
		t.Fatalf("lookup webhooks table: %v", err)
	}
	if tableName != "webhooks" {
		t.Fatalf("expected webhooks table, got %q", tableName)
	}
}

func TestWebhookStore_CreateIsIdempotentOnDedupKey(t *testing.T) {
	ctx := context.Background()
	store := sqltest.NewSession(t).Webhooks()

	first, created, err := store.Create(ctx, inboundInput("0xsig"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || first.Status != core.WebhookStatusPending || first.Attempts != 0 {
		t.Fatalf("unexpected first row %#v created=%v", first, created)
	}
	second, created, err := store.Create(ctx, inboundInput("0xsig"))
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate to resolve to the existing row")
	}
	if second.ID != first.ID {
		t.Fatalf("expected id %s, got %s", first.ID, second.ID)
	}
	_, total, err := store.List(ctx, core.WebhookListFilter{Direction: core.DirectionInbound})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one stored row, got %d", total)
	}
}

func TestWebhookStore_OutboundRowsIgnoreDedupKey(t *testing.T) {
	ctx := context.Background()
	store := sqltest.NewSession(t).Webhooks()
	for i := 0; i < 2; i++ {
		in := inboundInput("ignored")
		in.Direction = core.DirectionOutbound
		in.Role = core.RoleRecordingOracle
		in.EventType = "task_finished"
		row, created, err := store.Create(ctx, in)
		if err != nil {
			t.Fatalf("create outbound: %v", err)
		}
		if !created || row.DedupKey != "" {
			t.Fatalf("unexpected outbound row %#v", row)
		}
	}
}

func TestWebhookStore_ClaimPendingFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := sqltest.NewSession(t).Webhooks()

	for _, signature := range []string{"0x1", "0x2", "0x3"} {
		if _, _, err := store.Create(ctx, inboundInput(signature)); err != nil {
			t.Fatalf("create %s: %v", signature, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	other := inboundInput("0x4")
	other.Role = core.RoleRecordingOracle
	other.EventType = "task_completed"
	if _, _, err := store.Create(ctx, other); err != nil {
		t.Fatalf("create recording row: %v", err)
	}

	claimed, err := store.ClaimPending(ctx, core.ClaimFilter{
		Direction: core.DirectionInbound,
		Role:      core.RoleJobLauncher,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 || claimed[0].DedupKey != "0x1" || claimed[1].DedupKey != "0x2" {
		t.Fatalf("expected the two oldest job launcher rows, got %#v", claimed)
	}

	excluded, err := store.ClaimPending(ctx, core.ClaimFilter{
		Direction:         core.DirectionInbound,
		Role:              core.RoleRecordingOracle,
		Limit:             10,
		ExcludeEventTypes: []string{"task_completed"},
	})
	if err != nil {
		t.Fatalf("claim excluded: %v", err)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected excluded event types to be skipped, got %#v", excluded)
	}

	included, err := store.ClaimPending(ctx, core.ClaimFilter{
		Direction:  core.DirectionInbound,
		Role:       core.RoleRecordingOracle,
		Limit:      10,
		EventTypes: []string{"task_completed"},
	})
	if err != nil {
		t.Fatalf("claim included: %v", err)
	}
	if len(included) != 1 {
		t.Fatalf("expected one included row, got %d", len(included))
	}
}

func TestWebhookStore_MarkFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := sqltest.NewSession(t).Webhooks()
	row, _, err := store.Create(ctx, inboundInput("0xretry"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	delay := time.Minute
	for attempt := 1; attempt <= 3; attempt++ {
		before := time.Now().UTC()
		status, markErr := store.MarkFailure(ctx, row.ID, errors.New("boom"), delay, 3)
		if markErr != nil {
			t.Fatalf("mark failure %d: %v", attempt, markErr)
		}
		current, getErr := store.Get(ctx, row.ID)
		if getErr != nil {
			t.Fatalf("get: %v", getErr)
		}
		if current.Attempts != attempt {
			t.Fatalf("expected %d attempts, got %d", attempt, current.Attempts)
		}
		if attempt < 3 {
			if status != core.WebhookStatusPending {
				t.Fatalf("expected pending after attempt %d, got %s", attempt, status)
			}
			if current.NotBefore.Before(before.Add(delay)) {
				t.Fatalf("expected not_before to move at least %s forward", delay)
			}
			claimed, claimErr := store.ClaimPending(ctx, core.ClaimFilter{Direction: core.DirectionInbound, Limit: 10})
			if claimErr != nil {
				t.Fatalf("claim: %v", claimErr)
			}
			if len(claimed) != 0 {
				t.Fatalf("expected delayed row to be invisible to claims")
			}
			continue
		}
		if status != core.WebhookStatusFailed || current.Status != core.WebhookStatusFailed {
			t.Fatalf("expected failed after max attempts, got %s", current.Status)
		}
		if current.LastError != "boom" {
			t.Fatalf("expected last error to be stored, got %q", current.LastError)
		}
	}

	if _, err := store.MarkFailure(ctx, row.ID, errors.New("again"), delay, 3); !core.IsInvalidTransitionError(err) {
		t.Fatalf("expected failed rows to stay terminal, got %v", err)
	}
	if err := store.MarkSuccess(ctx, row.ID); !core.IsInvalidTransitionError(err) {
		t.Fatalf("expected failed rows to reject success, got %v", err)
	}
}

func TestWebhookStore_MarkSuccessCompletes(t *testing.T) {
	ctx := context.Background()
	store := sqltest.NewSession(t).Webhooks()
	row, _, err := store.Create(ctx, inboundInput("0xok"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSuccess(ctx, row.ID); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	current, err := store.Get(ctx, row.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != core.WebhookStatusCompleted || current.Attempts != 1 {
		t.Fatalf("unexpected row %#v", current)
	}
	if _, err := store.Get(ctx, "missing"); !core.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSession_NestedTransactionRollsBackOnlyInnerWork(t *testing.T) {
	ctx := context.Background()
	session := sqltest.NewSession(t)

	var kept core.Webhook
	err := session.RunInTx(ctx, func(ctx context.Context, tx core.Stores) error {
		var err error
		kept, _, err = tx.Webhooks().Create(ctx, inboundInput("0xkept"))
		if err != nil {
			return err
		}
		innerErr := tx.RunInTx(ctx, func(ctx context.Context, inner core.Stores) error {
			if _, _, err := inner.Webhooks().Create(ctx, inboundInput("0xdropped")); err != nil {
				return err
			}
			return errors.New("inner failure")
		})
		if innerErr == nil {
			t.Fatalf("expected inner failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer tx: %v", err)
	}

	rows, total, err := session.Webhooks().List(ctx, core.WebhookListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || rows[0].ID != kept.ID {
		t.Fatalf("expected only the outer row to survive, got %#v", rows)
	}
}

func TestSession_ResolvesPersistenceClient(t *testing.T) {
	if _, err := sqlstore.NewSession(nil); err == nil {
		t.Fatalf("expected nil client error")
	}
	if _, err := sqlstore.NewSession("not a db"); err == nil {
		t.Fatalf("expected unsupported client error")
	}
	client := sqltest.NewClient(t)
	session, err := sqlstore.NewSession(client)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if session.DB() != client.DB() {
		t.Fatalf("expected session to reuse the client db")
	}
}
