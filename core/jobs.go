package core

import (
	"context"
	"strings"
	"time"
)

// TaskRun is one queued execution of a scheduled pass. Runs of the same task
// share the task name as their dedup key, so a slow pass is never queued
// behind itself.
type TaskRun struct {
	Task        string
	ScheduledAt time.Time
	Attempt     int
}

func NewTaskRun(task string, scheduledAt time.Time) TaskRun {
	return TaskRun{Task: strings.TrimSpace(task), ScheduledAt: scheduledAt.UTC(), Attempt: 1}
}

// RetryDecision says what happens to a run whose pass failed.
type RetryDecision struct {
	Requeue    bool
	DeadLetter bool
	Delay      time.Duration
	Reason     string
}

type TaskQueue interface {
	Push(ctx context.Context, run TaskRun) error
}

type TaskDelivery interface {
	Run() TaskRun
	Done(ctx context.Context) error
	Retry(ctx context.Context, decision RetryDecision) error
}

type TaskSource interface {
	Next(ctx context.Context) (TaskDelivery, error)
}

// TaskHook observes queued runs as a worker executes them.
type TaskHook interface {
	OnStart(ctx context.Context, event TaskEvent)
	OnSuccess(ctx context.Context, event TaskEvent)
	OnFailure(ctx context.Context, event TaskEvent)
	OnRetry(ctx context.Context, event TaskEvent)
}

type TaskEvent struct {
	Run       TaskRun
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
