package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/transport"
)

// Handler consumes one inbound row. tx is bound to the row's savepoint: any
// error rolls back everything written through it.
type Handler interface {
	Handle(ctx context.Context, tx core.Stores, webhook core.Webhook) error
}

type HandlerFunc func(ctx context.Context, tx core.Stores, webhook core.Webhook) error

func (f HandlerFunc) Handle(ctx context.Context, tx core.Stores, webhook core.Webhook) error {
	return f(ctx, tx, webhook)
}

// FinalFailureHook runs after a row moved to failed, in a savepoint of the
// batch transaction.
type FinalFailureHook func(ctx context.Context, tx core.Stores, webhook core.Webhook, cause error) error

type ProcessOptions struct {
	BatchSize         int
	EventTypes        []string
	ExcludeEventTypes []string
	OnFinalFailure    FinalFailureHook
}

type ProcessStats struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
}

func (s ProcessStats) fields() map[string]any {
	return map[string]any{
		"claimed":   s.Claimed,
		"completed": s.Completed,
		"retried":   s.Retried,
		"failed":    s.Failed,
	}
}

type rowFunc func(ctx context.Context, tx core.Stores, webhook core.Webhook) error

// ProcessInbound hands pending inbox rows from sender to handler.
func (q *Queue) ProcessInbound(ctx context.Context, sender core.Role, handler Handler, opts ProcessOptions) (ProcessStats, error) {
	if handler == nil {
		return ProcessStats{}, fmt.Errorf("webhooks: inbound handler is required")
	}
	filter := core.ClaimFilter{
		Direction:         core.DirectionInbound,
		Role:              sender,
		Limit:             opts.BatchSize,
		EventTypes:        opts.EventTypes,
		ExcludeEventTypes: opts.ExcludeEventTypes,
	}
	return q.process(ctx, "webhooks.process_inbound", filter, opts.OnFinalFailure, handler.Handle)
}

// ProcessOutbound signs and posts pending outbox rows for destination to the
// URL resolved at delivery time.
func (q *Queue) ProcessOutbound(
	ctx context.Context,
	destination core.Role,
	resolver core.URLResolver,
	opts ProcessOptions,
) (ProcessStats, error) {
	if resolver == nil {
		return ProcessStats{}, fmt.Errorf("webhooks: url resolver is required")
	}
	if q == nil || q.Codec == nil || q.Identity == nil {
		return ProcessStats{}, fmt.Errorf("webhooks: outbound delivery requires codec and signing identity")
	}
	filter := core.ClaimFilter{
		Direction:         core.DirectionOutbound,
		Role:              destination,
		Limit:             opts.BatchSize,
		EventTypes:        opts.EventTypes,
		ExcludeEventTypes: opts.ExcludeEventTypes,
	}
	deliver := func(ctx context.Context, _ core.Stores, webhook core.Webhook) error {
		return q.deliver(ctx, resolver, webhook)
	}
	return q.process(ctx, "webhooks.process_outbound", filter, opts.OnFinalFailure, deliver)
}

func (q *Queue) process(
	ctx context.Context,
	operation string,
	filter core.ClaimFilter,
	onFinalFailure FinalFailureHook,
	handle rowFunc,
) (ProcessStats, error) {
	if q == nil || q.Stores == nil {
		return ProcessStats{}, fmt.Errorf("webhooks: queue requires stores")
	}
	if filter.Limit <= 0 {
		filter.Limit = 1
	}
	startedAt := time.Now()
	var stats ProcessStats
	err := q.Stores.RunInTx(ctx, func(ctx context.Context, tx core.Stores) error {
		rows, err := tx.Webhooks().ClaimPending(ctx, filter)
		if err != nil {
			return err
		}
		for _, row := range rows {
			stats.Claimed++
			if err := q.processRow(ctx, tx, row, onFinalFailure, handle, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		q.observer().ObserveOperation(ctx, startedAt, operation, err, map[string]any{
			"direction": filter.Direction,
			"role":      filter.Role,
		})
		return ProcessStats{}, err
	}
	if stats.Claimed > 0 {
		fields := stats.fields()
		fields["direction"] = filter.Direction
		fields["role"] = filter.Role
		q.observer().ObserveOperation(ctx, startedAt, operation, nil, fields)
	}
	return stats, nil
}

// processRow returns an error only when the bookkeeping itself fails.
func (q *Queue) processRow(
	ctx context.Context,
	tx core.Stores,
	row core.Webhook,
	onFinalFailure FinalFailureHook,
	handle rowFunc,
	stats *ProcessStats,
) error {
	handleErr := tx.RunInTx(ctx, func(ctx context.Context, savepoint core.Stores) error {
		return guard(func() error { return handle(ctx, savepoint, row) })
	})
	fields := rowFields(row)
	if handleErr == nil {
		if err := tx.Webhooks().MarkSuccess(ctx, row.ID); err != nil {
			return err
		}
		stats.Completed++
		q.observer().Debug(ctx, "webhooks row completed", fields)
		return nil
	}

	status, err := tx.Webhooks().MarkFailure(ctx, row.ID, handleErr, q.retryDelay(row.Attempts+1), q.maxAttempts())
	if err != nil {
		return err
	}
	fields["error"] = handleErr.Error()
	fields["attempts"] = row.Attempts + 1
	if status != core.WebhookStatusFailed {
		stats.Retried++
		q.observer().Warn(ctx, "webhooks row scheduled for retry", fields)
		return nil
	}
	stats.Failed++
	q.observer().Error(ctx, "webhooks row failed", fields)
	if onFinalFailure == nil {
		return nil
	}
	hookErr := tx.RunInTx(ctx, func(ctx context.Context, savepoint core.Stores) error {
		return guard(func() error { return onFinalFailure(ctx, savepoint, row, handleErr) })
	})
	if hookErr != nil {
		fields["hook_error"] = hookErr.Error()
		q.observer().Error(ctx, "webhooks final failure hook failed", fields)
	}
	return nil
}

func (q *Queue) deliver(ctx context.Context, resolver core.URLResolver, row core.Webhook) error {
	target, err := resolver.ResolveURL(ctx, row.Role, row.ChainID, row.EscrowAddress)
	if err != nil {
		return err
	}
	body, signature, err := q.SignMessage(core.OracleMessage{
		EscrowAddress: row.EscrowAddress,
		ChainID:       row.ChainID,
		EventType:     row.EventType,
		EventData:     row.Payload,
		Timestamp:     row.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	client := q.Client
	if client == nil {
		client = transport.NewRESTAdapter(nil)
	}
	res, err := client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    target,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			q.signatureHeader(): signature,
		},
		Body:    body,
		Timeout: q.requestTimeout(),
	})
	if err != nil {
		return core.NewDeliveryError(fmt.Sprintf("post %s to %s", row.EventType, target), err)
	}
	if !res.Success() {
		return core.NewDeliveryError(fmt.Sprintf("post %s to %s returned %d", row.EventType, target, res.StatusCode), nil)
	}
	return nil
}

// SignMessage canonicalizes msg and signs the exact bytes that are sent.
func (q *Queue) SignMessage(msg core.OracleMessage) ([]byte, string, error) {
	if q == nil || q.Codec == nil || q.Identity == nil {
		return nil, "", fmt.Errorf("webhooks: signing requires codec and identity")
	}
	body, err := q.Codec.Canonicalize(msg)
	if err != nil {
		return nil, "", err
	}
	signature, err := q.Codec.Sign(q.Identity, body)
	if err != nil {
		return nil, "", err
	}
	return body, signature, nil
}

func guard(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewInternalError(fmt.Sprintf("webhooks: handler panic: %v", recovered), nil)
		}
	}()
	return fn()
}

func rowFields(row core.Webhook) map[string]any {
	return map[string]any{
		"webhook_id":     row.ID,
		"direction":      row.Direction,
		"role":           row.Role,
		"event_type":     row.EventType,
		"escrow_address": row.EscrowAddress,
		"chain_id":       row.ChainID,
	}
}
