// Package scheduler runs the oracle's periodic passes. Each task is a plain
// func(ctx) error fired on a fixed interval; failures and panics are logged
// per tick and never stop the scheduler. In queued mode ticks are enqueued as
// go-job messages and executed by Work instead of inline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-oracle/core"
)

type TaskFunc func(ctx context.Context) error

type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
}

type Scheduler struct {
	observer *core.Observer
	queue    core.TaskQueue
	hook     core.TaskHook
	idle     time.Duration

	mu      sync.RWMutex
	tasks   map[string]Task
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
}

type Option func(*Scheduler)

func WithObserver(observer *core.Observer) Option {
	return func(s *Scheduler) { s.observer = observer }
}

// WithQueue switches ticks to queued mode: each tick pushes a run and Work
// executes it.
func WithQueue(queue core.TaskQueue) Option {
	return func(s *Scheduler) { s.queue = queue }
}

// WithTaskHook replaces the observer backed hook Work reports to.
func WithTaskHook(hook core.TaskHook) Option {
	return func(s *Scheduler) { s.hook = hook }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{tasks: map[string]Task{}, idle: time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.hook == nil {
		s.hook = ObserverHook{Observer: s.observer}
	}
	return s
}

func (s *Scheduler) Register(task Task) error {
	task.Name = strings.TrimSpace(task.Name)
	switch {
	case task.Name == "":
		return fmt.Errorf("scheduler: task name is required")
	case task.Run == nil:
		return fmt.Errorf("scheduler: task %s has no run function", task.Name)
	case task.Interval <= 0:
		return fmt.Errorf("scheduler: task %s needs a positive interval", task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: cannot register %s after start", task.Name)
	}
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("scheduler: task %s already registered", task.Name)
	}
	s.tasks[task.Name] = task
	return nil
}

// Tasks lists the registered task names in order.
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Queued reports whether ticks go through the job queue.
func (s *Scheduler) Queued() bool {
	return s.queue != nil
}

// RunTask runs one task now. A panic is returned as an internal error.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	s.mu.RLock()
	task, ok := s.tasks[strings.TrimSpace(name)]
	s.mu.RUnlock()
	if !ok {
		return core.NewNotFoundError(fmt.Sprintf("scheduler: task %q is not registered", name))
	}
	return s.run(ctx, task)
}

// Start schedules every task with an "@every" spec. Ticks stop when ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, task := range s.tasks {
		if _, err := c.AddFunc("@every "+task.Interval.String(), func() { s.tick(runCtx, task) }); err != nil {
			cancel()
			return fmt.Errorf("scheduler: schedule %s: %w", task.Name, err)
		}
	}
	c.Start()
	s.cron, s.cancel, s.started = c, cancel, true
	s.observer.Info(ctx, "scheduler started", map[string]any{"tasks": len(s.tasks), "queued": s.Queued()})
	return nil
}

// Stop halts the ticker and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.started = nil, nil, false
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

func (s *Scheduler) tick(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	if s.queue == nil {
		_ = s.run(ctx, task)
		return
	}
	if err := s.queue.Push(ctx, core.NewTaskRun(task.Name, time.Now())); err != nil {
		s.observer.Error(ctx, "scheduler enqueue failed", map[string]any{"task": task.Name, "error": err.Error()})
	}
}

// Work consumes queued task runs until ctx is done. A failed run is nacked
// for redelivery after the task's interval.
func (s *Scheduler) Work(ctx context.Context, source core.TaskSource) error {
	if source == nil {
		return fmt.Errorf("scheduler: task source is required")
	}
	for {
		delivery, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.observer.Error(ctx, "scheduler dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.idle):
			}
			continue
		}
		s.execute(ctx, delivery)
	}
}

func (s *Scheduler) execute(ctx context.Context, delivery core.TaskDelivery) {
	run := delivery.Run()
	if run.Task == "" {
		_ = delivery.Done(ctx)
		return
	}
	event := core.TaskEvent{Run: run, StartedAt: time.Now()}
	s.hook.OnStart(ctx, event)
	err := s.RunTask(ctx, run.Task)
	event.Duration = time.Since(event.StartedAt)
	event.Err = err
	if err == nil {
		s.hook.OnSuccess(ctx, event)
		if doneErr := delivery.Done(ctx); doneErr != nil {
			s.observer.Error(ctx, "scheduler ack failed", map[string]any{"task": run.Task, "error": doneErr.Error()})
		}
		return
	}
	if core.IsNotFoundError(err) {
		s.hook.OnFailure(ctx, event)
		_ = delivery.Retry(ctx, core.RetryDecision{DeadLetter: true, Reason: err.Error()})
		return
	}
	event.Delay = s.interval(run.Task)
	s.hook.OnRetry(ctx, event)
	if retryErr := delivery.Retry(ctx, core.RetryDecision{Requeue: true, Delay: event.Delay, Reason: err.Error()}); retryErr != nil {
		s.observer.Error(ctx, "scheduler nack failed", map[string]any{"task": run.Task, "error": retryErr.Error()})
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) (err error) {
	startedAt := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewInternalError(fmt.Sprintf("scheduler: task %s panicked: %v", task.Name, recovered), nil)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.observer.ObserveOperation(ctx, startedAt, "scheduler."+task.Name, err, map[string]any{"task": task.Name})
	}()
	return task.Run(ctx)
}

func (s *Scheduler) interval(name string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[name].Interval
}

// ObserverHook reports queued task runs through an Observer.
type ObserverHook struct {
	Observer *core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event core.TaskEvent) {
	h.Observer.Debug(ctx, "scheduler task started", hookFields(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event core.TaskEvent) {
	h.Observer.Debug(ctx, "scheduler task finished", hookFields(event))
}

func (h ObserverHook) OnFailure(ctx context.Context, event core.TaskEvent) {
	h.Observer.Error(ctx, "scheduler task dropped", hookFields(event))
}

func (h ObserverHook) OnRetry(ctx context.Context, event core.TaskEvent) {
	h.Observer.Warn(ctx, "scheduler task requeued", hookFields(event))
}

func hookFields(event core.TaskEvent) map[string]any {
	fields := map[string]any{
		"task":        event.Run.Task,
		"attempt":     event.Run.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var _ core.TaskHook = ObserverHook{}
