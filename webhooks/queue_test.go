package webhooks_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/identity"
	"github.com/goliatone/go-oracle/signing"
	"github.com/goliatone/go-oracle/store/sql/sqltest"
	"github.com/goliatone/go-oracle/transport"
	"github.com/goliatone/go-oracle/webhooks"
)

const (
	launcherKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	oracleKey   = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	escrow      = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	chainID     = int64(80002)
)

type fixture struct {
	queue    *webhooks.Queue
	launcher *signing.KeyIdentity
	oracle   *signing.KeyIdentity
	codec    signing.Codec
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	launcher, err := signing.NewKeyIdentity(launcherKey)
	if err != nil {
		t.Fatalf("launcher key: %v", err)
	}
	oracle, err := signing.NewKeyIdentity(oracleKey)
	if err != nil {
		t.Fatalf("oracle key: %v", err)
	}
	directory, err := identity.NewDirectory(core.ChainConfig{
		RoleAddresses: map[string]string{string(core.RoleJobLauncher): launcher.Address()},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	codec := signing.NewCodec()
	queue := webhooks.NewQueue(sqltest.NewSession(t), events.NewRegistry(), webhooks.NewSignatureVerifier(codec, directory))
	queue.Codec = codec
	queue.Identity = oracle
	queue.Client = transport.NewRESTAdapter(&http.Client{Timeout: 2 * time.Second})
	queue.RetryPolicy = webhooks.FixedDelayPolicy{}
	return fixture{queue: queue, launcher: launcher, oracle: oracle, codec: codec}
}

func (f fixture) signed(t *testing.T, signer core.SigningIdentity, msg core.OracleMessage) webhooks.InboundRequest {
	t.Helper()
	body, err := f.codec.Canonicalize(msg)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	signature, err := f.codec.Sign(signer, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return webhooks.InboundRequest{RawBody: body, Signature: signature, Message: msg}
}

func escrowCreated() core.OracleMessage {
	return core.OracleMessage{
		EscrowAddress: escrow,
		ChainID:       chainID,
		EventType:     events.TypeEscrowCreated,
		EventData:     map[string]any{},
	}
}

func staticURL(target string) core.URLResolver {
	directory, _ := identity.NewDirectory(core.ChainConfig{
		RoleURLs: map[string]string{string(core.RoleRecordingOracle): target},
	})
	return directory
}

func TestEnqueueInbound_RedeliveryReturnsOriginalRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.signed(t, f.launcher, escrowCreated())

	first, created, err := f.queue.EnqueueInbound(ctx, req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created || first.Role != core.RoleJobLauncher || first.Direction != core.DirectionInbound {
		t.Fatalf("unexpected row %#v created=%v", first, created)
	}
	second, created, err := f.queue.EnqueueInbound(ctx, req)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected redelivery to resolve to %s, got %s created=%v", first.ID, second.ID, created)
	}
	rows, total, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("expected a single stored row, got %d", total)
	}
}

func TestEnqueueInbound_ReencodedSignatureIsTheSameMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.signed(t, f.launcher, escrowCreated())

	first, created, err := f.queue.EnqueueInbound(ctx, req)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}

	raw, err := hexutil.Decode(req.Signature)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[64] -= 27
	again := req
	again.Signature = hexutil.Encode(raw)

	second, created, err := f.queue.EnqueueInbound(ctx, again)
	if err != nil {
		t.Fatalf("re-enqueue with zero based recovery id: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected %s to be returned, got %s created=%v", first.ID, second.ID, created)
	}
	if _, total, _ := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{}); total != 1 {
		t.Fatalf("expected one stored row, got %d", total)
	}
}

func TestEnqueueInbound_RejectsAtBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name  string
		req   func() webhooks.InboundRequest
		check func(error) bool
	}{
		{
			name: "unknown signer",
			req:  func() webhooks.InboundRequest { return f.signed(t, f.oracle, escrowCreated()) },
			check: core.IsAuthenticationError,
		},
		{
			name: "missing signature",
			req: func() webhooks.InboundRequest {
				req := f.signed(t, f.launcher, escrowCreated())
				req.Signature = ""
				return req
			},
			check: core.IsAuthenticationError,
		},
		{
			name: "tampered body",
			req: func() webhooks.InboundRequest {
				req := f.signed(t, f.launcher, escrowCreated())
				req.RawBody = append([]byte(nil), req.RawBody...)
				req.RawBody[len(req.RawBody)-2] = ' '
				return req
			},
			check: core.IsAuthenticationError,
		},
		{
			name: "event not allowed for sender",
			req: func() webhooks.InboundRequest {
				msg := escrowCreated()
				msg.EventType = events.TypeTaskCompleted
				return f.signed(t, f.launcher, msg)
			},
			check: core.IsValidationError,
		},
		{
			name: "extra payload field",
			req: func() webhooks.InboundRequest {
				msg := escrowCreated()
				msg.EventData = map[string]any{"unexpected": true}
				return f.signed(t, f.launcher, msg)
			},
			check: core.IsValidationError,
		},
		{
			name: "missing chain id",
			req: func() webhooks.InboundRequest {
				msg := escrowCreated()
				msg.ChainID = 0
				return f.signed(t, f.launcher, msg)
			},
			check: core.IsValidationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, created, err := f.queue.EnqueueInbound(ctx, tt.req())
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if created {
				t.Fatalf("rejected requests must not be stored")
			}
		})
	}
	_, total, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no stored rows, got %d", total)
	}
}

func TestProcessInbound_MarksCompletedAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := f.signed(t, f.launcher, escrowCreated())
	badMsg := escrowCreated()
	badMsg.EventType = events.TypeEscrowCanceled
	bad := f.signed(t, f.launcher, badMsg)
	for _, req := range []webhooks.InboundRequest{good, bad} {
		if _, _, err := f.queue.EnqueueInbound(ctx, req); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	handler := webhooks.HandlerFunc(func(ctx context.Context, tx core.Stores, webhook core.Webhook) error {
		if _, err := f.queue.EnqueueOutboundTx(ctx, tx, core.RoleRecordingOracle, webhook.EscrowAddress, webhook.ChainID, events.EscrowCleaned{}); err != nil {
			return err
		}
		if webhook.EventType == events.TypeEscrowCanceled {
			return errors.New("cannot cancel")
		}
		return nil
	})
	stats, err := f.queue.ProcessInbound(ctx, core.RoleJobLauncher, handler, webhooks.ProcessOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Claimed != 2 || stats.Completed != 1 || stats.Retried != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	outbound, total, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{Direction: core.DirectionOutbound})
	if err != nil {
		t.Fatalf("list outbound: %v", err)
	}
	if total != 1 || outbound[0].EventType != events.TypeEscrowCleaned {
		t.Fatalf("expected only the successful row's side effect to survive, got %#v", outbound)
	}
	pending, _, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{
		Direction: core.DirectionInbound,
		Status:    core.WebhookStatusPending,
	})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "cannot cancel" {
		t.Fatalf("expected the failing row to be pending with one attempt, got %#v", pending)
	}
}

func TestProcessInbound_RecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, _, err := f.queue.EnqueueInbound(ctx, f.signed(t, f.launcher, escrowCreated())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	handler := webhooks.HandlerFunc(func(context.Context, core.Stores, core.Webhook) error {
		panic("boom")
	})
	stats, err := f.queue.ProcessInbound(ctx, core.RoleJobLauncher, handler, webhooks.ProcessOptions{BatchSize: 1})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("expected the panicking row to be retried, got %#v", stats)
	}
}

func TestProcessInbound_FinalFailureHookRunsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.MaxAttempts = 2
	if _, _, err := f.queue.EnqueueInbound(ctx, f.signed(t, f.launcher, escrowCreated())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing := webhooks.HandlerFunc(func(context.Context, core.Stores, core.Webhook) error {
		return errors.New("cvat unavailable")
	})
	hookCalls := 0
	opts := webhooks.ProcessOptions{
		BatchSize: 5,
		OnFinalFailure: func(ctx context.Context, tx core.Stores, webhook core.Webhook, cause error) error {
			hookCalls++
			_, err := f.queue.EnqueueOutboundTx(ctx, tx, core.RoleJobLauncher, webhook.EscrowAddress, webhook.ChainID,
				events.TaskCreationFailed{Reason: cause.Error()})
			return err
		},
	}
	for i := 0; i < 3; i++ {
		if _, err := f.queue.ProcessInbound(ctx, core.RoleJobLauncher, failing, opts); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if hookCalls != 1 {
		t.Fatalf("expected the hook to run once, got %d", hookCalls)
	}
	failed, _, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{Status: core.WebhookStatusFailed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 2 {
		t.Fatalf("expected one failed row after two attempts, got %#v", failed)
	}
	outbound, _, err := f.queue.Stores.Webhooks().List(ctx, core.WebhookListFilter{
		Direction: core.DirectionOutbound,
		EventType: events.TypeTaskCreationFailed,
	})
	if err != nil {
		t.Fatalf("list outbound: %v", err)
	}
	if len(outbound) != 1 || outbound[0].Payload["reason"] != "cvat unavailable" {
		t.Fatalf("expected task_creation_failed to be enqueued, got %#v", outbound)
	}
}

func TestProcessOutbound_SignsAndDelivers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		mu        sync.Mutex
		body      []byte
		signature string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(webhooks.DefaultSignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	row, err := f.queue.EnqueueOutbound(ctx, core.RoleRecordingOracle, escrow, chainID, events.TaskFinished{})
	if err != nil {
		t.Fatalf("enqueue outbound: %v", err)
	}
	stats, err := f.queue.ProcessOutbound(ctx, core.RoleRecordingOracle, staticURL(server.URL), webhooks.ProcessOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("process outbound: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected one delivery, got %#v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	signer, err := f.codec.RecoverSigner(body, signature)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if signer != f.oracle.Address() {
		t.Fatalf("expected delivery signed by %s, got %s", f.oracle.Address(), signer)
	}
	current, err := f.queue.Stores.Webhooks().Get(ctx, row.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != core.WebhookStatusCompleted {
		t.Fatalf("expected completed, got %s", current.Status)
	}
}

func TestProcessOutbound_FailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		target func(t *testing.T) string
	}{
		{
			name: "unreachable",
			target: func(t *testing.T) string {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()
				return server.URL
			},
		},
		{
			name: "non 2xx",
			target: func(t *testing.T) string {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				}))
				t.Cleanup(server.Close)
				return server.URL
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.queue.MaxAttempts = 3
			row, err := f.queue.EnqueueOutbound(ctx, core.RoleRecordingOracle, escrow, chainID, events.TaskFinished{})
			if err != nil {
				t.Fatalf("enqueue outbound: %v", err)
			}
			resolver := staticURL(tt.target(t))
			for attempt := 1; attempt <= 4; attempt++ {
				if _, err := f.queue.ProcessOutbound(ctx, core.RoleRecordingOracle, resolver, webhooks.ProcessOptions{BatchSize: 1}); err != nil {
					t.Fatalf("process %d: %v", attempt, err)
				}
			}
			current, err := f.queue.Stores.Webhooks().Get(ctx, row.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if current.Status != core.WebhookStatusFailed || current.Attempts != 3 {
				t.Fatalf("expected failed after 3 attempts, got %s/%d", current.Status, current.Attempts)
			}
			if current.LastError == "" {
				t.Fatalf("expected the delivery error to be recorded")
			}
		})
	}
}

func TestEnqueueOutbound_ValidatesAgainstOwnRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.EnqueueOutbound(context.Background(), core.RoleRecordingOracle, escrow, chainID, events.TaskCompleted{})
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error for an event this oracle cannot emit, got %v", err)
	}
}
