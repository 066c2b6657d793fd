package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/transport"
)

const (
	DefaultMaxAttempts     = 5
	DefaultRetryDelay      = time.Minute
	DefaultSignatureHeader = "human-signature"
	DefaultRequestTimeout  = 10 * time.Second
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelayPolicy waits the same delay before every retry.
type FixedDelayPolicy struct {
	Delay time.Duration
}

func (p FixedDelayPolicy) NextDelay(int) time.Duration {
	if p.Delay < 0 {
		return 0
	}
	return p.Delay
}

// Registry validates and serializes oracle events.
type Registry interface {
	Validate(sender core.Role, eventType string, payload map[string]any) error
	Serialize(event events.Event) (map[string]any, error)
}

// InboundRequest is a signed oracle message as received over HTTP. RawBody
// is the exact request body the signature was produced over.
type InboundRequest struct {
	RawBody   []byte
	Signature string
	Message   core.OracleMessage
}

type Queue struct {
	Stores      core.Stores
	Registry    Registry
	Verifier    Verifier
	Codec       core.SignedMessageCodec
	Identity    core.SigningIdentity
	Client      *transport.RESTAdapter
	RetryPolicy RetryPolicy
	Observer    *core.Observer
	// Self is the role outbound events are validated against.
	Self            core.Role
	MaxAttempts     int
	SignatureHeader string
	RequestTimeout  time.Duration
}

func NewQueue(stores core.Stores, registry Registry, verifier Verifier) *Queue {
	return &Queue{
		Stores:          stores,
		Registry:        registry,
		Verifier:        verifier,
		RetryPolicy:     FixedDelayPolicy{Delay: DefaultRetryDelay},
		Self:            core.RoleExchangeOracle,
		MaxAttempts:     DefaultMaxAttempts,
		SignatureHeader: DefaultSignatureHeader,
		RequestTimeout:  DefaultRequestTimeout,
	}
}

// EnqueueInbound authenticates and validates req and stores it in the inbox.
// A signature seen before resolves to the stored row with created=false.
func (q *Queue) EnqueueInbound(ctx context.Context, req InboundRequest) (core.Webhook, bool, error) {
	startedAt := time.Now()
	webhook, created, err := q.enqueueInbound(ctx, req)
	q.observer().ObserveOperation(ctx, startedAt, "webhooks.enqueue_inbound", err, map[string]any{
		"direction":      core.DirectionInbound,
		"role":           webhook.Role,
		"event_type":     req.Message.EventType,
		"escrow_address": req.Message.EscrowAddress,
		"chain_id":       req.Message.ChainID,
		"created":        created,
	})
	return webhook, created, err
}

func (q *Queue) enqueueInbound(ctx context.Context, req InboundRequest) (core.Webhook, bool, error) {
	if q == nil || q.Stores == nil || q.Registry == nil || q.Verifier == nil {
		return core.Webhook{}, false, fmt.Errorf("webhooks: queue requires stores, registry and verifier")
	}
	sender, err := q.Verifier.Verify(ctx, req.RawBody, req.Signature)
	if err != nil {
		return core.Webhook{}, false, err
	}
	msg := req.Message
	if fields := messageFieldErrors(msg); len(fields) > 0 {
		return core.Webhook{}, false, core.NewValidationError("invalid oracle message", fields...)
	}
	if err := q.Registry.Validate(sender.Role, msg.EventType, msg.EventData); err != nil {
		return core.Webhook{}, false, err
	}
	return q.Stores.Webhooks().Create(ctx, core.CreateWebhookInput{
		Direction:     core.DirectionInbound,
		Role:          sender.Role,
		EscrowAddress: msg.EscrowAddress,
		ChainID:       msg.ChainID,
		EventType:     msg.EventType,
		Payload:       msg.EventData,
		DedupKey:      sender.Signature,
	})
}

// EnqueueOutbound stores event in the outbox for destination.
func (q *Queue) EnqueueOutbound(
	ctx context.Context,
	destination core.Role,
	escrowAddress string,
	chainID int64,
	event events.Event,
) (core.Webhook, error) {
	if q == nil || q.Stores == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: queue requires stores")
	}
	return q.EnqueueOutboundTx(ctx, q.Stores, destination, escrowAddress, chainID, event)
}

// EnqueueOutboundTx is EnqueueOutbound on the stores of a running
// transaction, so the row commits or rolls back with the caller's work.
func (q *Queue) EnqueueOutboundTx(
	ctx context.Context,
	stores core.Stores,
	destination core.Role,
	escrowAddress string,
	chainID int64,
	event events.Event,
) (core.Webhook, error) {
	if q == nil || q.Registry == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: queue requires a registry")
	}
	if stores == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: stores are required")
	}
	if event == nil {
		return core.Webhook{}, fmt.Errorf("webhooks: event is required")
	}
	if !destination.Valid() {
		return core.Webhook{}, fmt.Errorf("webhooks: invalid destination role %q", destination)
	}
	payload, err := q.Registry.Serialize(event)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := q.Registry.Validate(q.self(), event.EventType(), payload); err != nil {
		return core.Webhook{}, err
	}
	webhook, _, err := stores.Webhooks().Create(ctx, core.CreateWebhookInput{
		Direction:     core.DirectionOutbound,
		Role:          destination,
		EscrowAddress: escrowAddress,
		ChainID:       chainID,
		EventType:     event.EventType(),
		Payload:       payload,
	})
	if err != nil {
		return core.Webhook{}, err
	}
	q.observer().Info(ctx, "webhooks outbound enqueued", map[string]any{
		"webhook_id":     webhook.ID,
		"role":           destination,
		"event_type":     webhook.EventType,
		"escrow_address": escrowAddress,
		"chain_id":       chainID,
	})
	return webhook, nil
}

func messageFieldErrors(msg core.OracleMessage) []goerrors.FieldError {
	var fields []goerrors.FieldError
	if strings.TrimSpace(msg.EscrowAddress) == "" {
		fields = append(fields, goerrors.FieldError{Field: "escrow_address", Message: "is required"})
	}
	if msg.ChainID <= 0 {
		fields = append(fields, goerrors.FieldError{Field: "chain_id", Message: "must be positive", Value: msg.ChainID})
	}
	if strings.TrimSpace(msg.EventType) == "" {
		fields = append(fields, goerrors.FieldError{Field: "event_type", Message: "is required"})
	}
	return fields
}

func (q *Queue) self() core.Role {
	if q.Self == "" {
		return core.RoleExchangeOracle
	}
	return q.Self
}

// observer may return nil; a nil Observer discards everything.
func (q *Queue) observer() *core.Observer {
	if q == nil {
		return nil
	}
	return q.Observer
}

func (q *Queue) maxAttempts() int {
	if q.MaxAttempts > 0 {
		return q.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (q *Queue) retryDelay(attempt int) time.Duration {
	if q.RetryPolicy != nil {
		return q.RetryPolicy.NextDelay(attempt)
	}
	return DefaultRetryDelay
}

func (q *Queue) signatureHeader() string {
	if header := strings.TrimSpace(q.SignatureHeader); header != "" {
		return header
	}
	return DefaultSignatureHeader
}

func (q *Queue) requestTimeout() time.Duration {
	if q.RequestTimeout > 0 {
		return q.RequestTimeout
	}
	return DefaultRequestTimeout
}
