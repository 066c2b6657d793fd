// Package lifecycle drives escrows through the project, task, job and
// assignment state machines. Inbound oracle events are consumed through the
// webhook queue handlers returned here; the Track* passes reconcile local
// state with CVAT and are run by the scheduler.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/webhooks"
)

const defaultBatchSize = 10

// Outbox stores outbound events inside the caller's transaction.
type Outbox interface {
	EnqueueOutboundTx(
		ctx context.Context,
		stores core.Stores,
		destination core.Role,
		escrowAddress string,
		chainID int64,
		event events.Event,
	) (core.Webhook, error)
}

// EventParser decodes a stored payload into its typed event.
type EventParser interface {
	Parse(eventType string, payload map[string]any) (events.Event, error)
}

type Engine struct {
	Stores   core.Stores
	Outbox   Outbox
	Events   EventParser
	CVAT     core.CVATClient
	Escrows  core.EscrowReader
	Storage  core.ResultsStorage
	Config   core.CVATConfig
	Observer *core.Observer
	Now      func() time.Time
}

type Option func(*Engine)

func WithObserver(observer *core.Observer) Option {
	return func(e *Engine) { e.Observer = observer }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.Now = now
		}
	}
}

func WithCVATConfig(cfg core.CVATConfig) Option {
	return func(e *Engine) { e.Config = cfg }
}

func NewEngine(
	stores core.Stores,
	outbox Outbox,
	parser EventParser,
	cvat core.CVATClient,
	escrows core.EscrowReader,
	storage core.ResultsStorage,
	opts ...Option,
) (*Engine, error) {
	if stores == nil {
		return nil, fmt.Errorf("lifecycle: stores are required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("lifecycle: outbox is required")
	}
	if parser == nil {
		return nil, fmt.Errorf("lifecycle: event parser is required")
	}
	if cvat == nil {
		return nil, fmt.Errorf("lifecycle: cvat client is required")
	}
	engine := &Engine{
		Stores:  stores,
		Outbox:  outbox,
		Events:  parser,
		CVAT:    cvat,
		Escrows: escrows,
		Storage: storage,
		Config:  core.DefaultConfig().CVAT,
		Now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// JobLauncherHandler consumes escrow_created and escrow_canceled.
func (e *Engine) JobLauncherHandler() webhooks.Handler {
	return webhooks.HandlerFunc(func(ctx context.Context, tx core.Stores, webhook core.Webhook) error {
		event, err := e.Events.Parse(webhook.EventType, webhook.Payload)
		if err != nil {
			return err
		}
		switch event.(type) {
		case events.EscrowCreated:
			return e.createEscrowProjects(ctx, tx, webhook.EscrowAddress, webhook.ChainID)
		case events.EscrowCanceled:
			return e.cancelEscrow(ctx, tx, webhook.EscrowAddress, webhook.ChainID)
		default:
			return unexpectedEvent(core.RoleJobLauncher, webhook.EventType)
		}
	})
}

// RecordingOracleHandler consumes task_completed and task_rejected.
func (e *Engine) RecordingOracleHandler() webhooks.Handler {
	return webhooks.HandlerFunc(func(ctx context.Context, tx core.Stores, webhook core.Webhook) error {
		event, err := e.Events.Parse(webhook.EventType, webhook.Payload)
		if err != nil {
			return err
		}
		switch typed := event.(type) {
		case events.TaskCompleted:
			e.observer().Info(ctx, "lifecycle escrow results accepted", escrowFields(webhook.EscrowAddress, webhook.ChainID))
			return nil
		case events.TaskRejected:
			return e.rejectJobs(ctx, tx, webhook.EscrowAddress, webhook.ChainID, typed.RejectedJobIDs)
		default:
			return unexpectedEvent(core.RoleRecordingOracle, webhook.EventType)
		}
	})
}

// ReputationOracleHandler consumes escrow_completed.
func (e *Engine) ReputationOracleHandler() webhooks.Handler {
	return webhooks.HandlerFunc(func(ctx context.Context, tx core.Stores, webhook core.Webhook) error {
		event, err := e.Events.Parse(webhook.EventType, webhook.Payload)
		if err != nil {
			return err
		}
		if _, ok := event.(events.EscrowCompleted); !ok {
			return unexpectedEvent(core.RoleReputationOracle, webhook.EventType)
		}
		return e.cleanupEscrow(ctx, tx, webhook.EscrowAddress, webhook.ChainID, core.ProjectStatusDeleted)
	})
}

// JobLauncherFinalFailure reports an escrow_created row that ran out of
// attempts back to the job launcher as task_creation_failed.
func (e *Engine) JobLauncherFinalFailure() webhooks.FinalFailureHook {
	return func(ctx context.Context, tx core.Stores, webhook core.Webhook, cause error) error {
		if webhook.EventType != events.TypeEscrowCreated {
			return nil
		}
		reason := "task creation failed"
		if cause != nil && strings.TrimSpace(cause.Error()) != "" {
			reason = cause.Error()
		}
		_, err := e.Outbox.EnqueueOutboundTx(ctx, tx, core.RoleJobLauncher, webhook.EscrowAddress, webhook.ChainID,
			events.TaskCreationFailed{Reason: reason})
		return err
	}
}

func (e *Engine) observer() *core.Observer {
	if e == nil {
		return nil
	}
	return e.Observer
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// each runs fn for every item in its own savepoint and logs failures, so one
// bad entity never blocks the rest of a pass.
func each[T any](
	ctx context.Context,
	e *Engine,
	tx core.Stores,
	operation string,
	items []T,
	fields func(T) map[string]any,
	fn func(ctx context.Context, tx core.Stores, item T) error,
) int {
	failed := 0
	for _, item := range items {
		err := tx.RunInTx(ctx, func(ctx context.Context, savepoint core.Stores) error {
			return fn(ctx, savepoint, item)
		})
		if err != nil {
			failed++
			logFields := fields(item)
			logFields["error"] = err.Error()
			e.observer().Error(ctx, operation+" failed", logFields)
		}
	}
	return failed
}

func limitOrDefault(limit int) int {
	if limit > 0 {
		return limit
	}
	return defaultBatchSize
}

func unexpectedEvent(sender core.Role, eventType string) error {
	return core.NewUnknownEventTypeError(fmt.Sprintf("%s/%s", sender, eventType))
}

func escrowFields(escrowAddress string, chainID int64) map[string]any {
	return map[string]any{
		"escrow_address": escrowAddress,
		"chain_id":       chainID,
	}
}

func projectFields(project core.Project) map[string]any {
	fields := escrowFields(project.EscrowAddress, project.ChainID)
	fields["project_id"] = project.ID
	fields["external_project_id"] = project.ExternalProjectID
	fields["status"] = project.Status
	return fields
}

func taskFields(task core.Task) map[string]any {
	return map[string]any{
		"task_id":          task.ID,
		"external_task_id": task.ExternalTaskID,
		"project_id":       task.ProjectID,
		"status":           task.Status,
	}
}

func assignmentFields(assignment core.Assignment) map[string]any {
	return map[string]any{
		"assignment_id": assignment.ID,
		"job_id":        assignment.JobID,
		"wallet":        assignment.WorkerWalletAddress,
		"status":        assignment.Status,
	}
}
