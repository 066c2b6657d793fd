package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-oracle/core"
)

// Parameter keys a task run travels with inside a go-job message.
const (
	ParamAttempt     = "attempt"
	ParamScheduledAt = "scheduled_at"
)

// EncodeRun packs a task run into a go-job message keyed by task name.
func EncodeRun(run core.TaskRun) *job.ExecutionMessage {
	task := strings.TrimSpace(run.Task)
	params := map[string]any{ParamAttempt: max(run.Attempt, 1)}
	if !run.ScheduledAt.IsZero() {
		params[ParamScheduledAt] = run.ScheduledAt.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          task,
		ScriptPath:     task,
		Parameters:     params,
		IdempotencyKey: task,
		DedupPolicy:    job.DeduplicationPolicy(DedupDrop),
	}
}

// DecodeRun reads a task run back out of a go-job message. Messages that
// crossed a JSON backend carry numbers as float64.
func DecodeRun(msg *job.ExecutionMessage) core.TaskRun {
	if msg == nil {
		return core.TaskRun{Attempt: 1}
	}
	run := core.TaskRun{Task: strings.TrimSpace(msg.JobID), Attempt: 1}
	switch value := msg.Parameters[ParamAttempt].(type) {
	case int:
		run.Attempt = max(value, 1)
	case int64:
		run.Attempt = max(int(value), 1)
	case float64:
		run.Attempt = max(int(value), 1)
	}
	if raw, ok := msg.Parameters[ParamScheduledAt].(string); ok {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			run.ScheduledAt = at
		}
	}
	return run
}

// RetryPolicy bounds how often and how late a failed run goes back on the
// queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Decide turns a worker's decision into what the queue should do for the
// given attempt. A run at MaxAttempts is never retried: it dead-letters when
// DeadLetterOnMax is set and fails otherwise.
func (p RetryPolicy) Decide(decision core.RetryDecision, attempt int) queue.NackOptions {
	opts := queue.NackOptions{
		Disposition: queue.NackDispositionFailed,
		Delay:       max(decision.Delay, 0),
		Reason:      strings.TrimSpace(decision.Reason),
	}
	switch {
	case decision.DeadLetter:
		opts.Disposition = queue.NackDispositionDeadLetter
	case decision.Requeue:
		opts.Disposition = queue.NackDispositionRetry
	}
	if p.MaxDelay > 0 {
		opts.Delay = min(opts.Delay, p.MaxDelay)
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts && opts.Disposition == queue.NackDispositionRetry {
		opts.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			opts.Disposition = queue.NackDispositionDeadLetter
		}
	}
	return opts
}

// RunQueue pushes task runs onto a go-job enqueuer.
type RunQueue struct {
	enqueuer queue.Enqueuer
}

func NewRunQueue(enqueuer queue.Enqueuer) *RunQueue {
	return &RunQueue{enqueuer: enqueuer}
}

func (q *RunQueue) Push(ctx context.Context, run core.TaskRun) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(run.Task) == "" {
		return fmt.Errorf("gojob: task run needs a task name")
	}
	_, err := q.enqueuer.Enqueue(ctx, EncodeRun(run))
	return err
}

// RunSource hands out queued task runs from a go-job dequeuer.
type RunSource struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewRunSource(dequeuer queue.Dequeuer, policy RetryPolicy) *RunSource {
	return &RunSource{dequeuer: dequeuer, policy: policy}
}

func (s *RunSource) Next(ctx context.Context) (core.TaskDelivery, error) {
	if s == nil || s.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := s.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &runDelivery{delivery: delivery, policy: s.policy}, nil
}

type runDelivery struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func (d *runDelivery) Run() core.TaskRun {
	return DecodeRun(d.delivery.Message())
}

func (d *runDelivery) Done(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

func (d *runDelivery) Retry(ctx context.Context, decision core.RetryDecision) error {
	return d.delivery.Nack(ctx, d.policy.Decide(decision, d.Run().Attempt))
}

// HookAdapter reports go-job worker events into a task hook.
type HookAdapter struct {
	hook core.TaskHook
}

func NewHookAdapter(hook core.TaskHook) *HookAdapter {
	return &HookAdapter{hook: hook}
}

func (a *HookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnStart(ctx, taskEvent(event))
	}
}

func (a *HookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnSuccess(ctx, taskEvent(event))
	}
}

func (a *HookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnFailure(ctx, taskEvent(event))
	}
}

func (a *HookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnRetry(ctx, taskEvent(event))
	}
}

func taskEvent(event worker.Event) core.TaskEvent {
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	run := DecodeRun(msg)
	if event.Attempt > 0 {
		run.Attempt = event.Attempt
	}
	return core.TaskEvent{
		Run:       run,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

var (
	_ core.TaskQueue    = (*RunQueue)(nil)
	_ core.TaskSource   = (*RunSource)(nil)
	_ core.TaskDelivery = (*runDelivery)(nil)
	_ worker.Hook       = (*HookAdapter)(nil)
)
