package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// DedupDrop drops a message while another one with the same idempotency key
// is queued or running.
const DedupDrop = "drop"

// MemoryQueue is an in-process go-job queue. It serves a single oracle
// process; deployments that run workers elsewhere plug a shared backend into
// the same adapters instead.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    chan *job.ExecutionMessage
	inflight map[string]struct{}
	dead     []*job.ExecutionMessage
	logger   job.Logger
}

func NewMemoryQueue(capacity int, logger job.Logger) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		ready:    make(chan *job.ExecutionMessage, capacity),
		inflight: map[string]struct{}{},
		logger:   logger,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	receipt := queue.EnqueueReceipt{DispatchID: msg.JobID, EnqueuedAt: time.Now().UTC()}
	q.mu.Lock()
	if key != "" && string(msg.DedupPolicy) == DedupDrop {
		if _, busy := q.inflight[key]; busy {
			q.mu.Unlock()
			q.log("gojob dropped duplicate message", "job_id", msg.JobID, "idempotency_key", key)
			return receipt, nil
		}
	}
	if key != "" {
		q.inflight[key] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.ready <- msg:
		return receipt, nil
	case <-ctx.Done():
		q.release(key)
		return queue.EnqueueReceipt{}, ctx.Err()
	default:
		q.release(key)
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg := <-q.ready:
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of messages waiting for a worker.
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

// DeadLetters returns the messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	next := *msg
	next.Parameters = maps.Clone(msg.Parameters)
	if next.Parameters == nil {
		next.Parameters = map[string]any{}
	}
	next.Parameters[ParamAttempt] = DecodeRun(msg).Attempt + 1
	push := func() {
		select {
		case q.ready <- &next:
		default:
			q.release(strings.TrimSpace(next.IdempotencyKey))
			q.log("gojob dropped retry on a full queue", "job_id", next.JobID)
		}
	}
	if delay <= 0 {
		push()
		return
	}
	time.AfterFunc(delay, push)
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) log(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Info(msg, args...)
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return err
	}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		d.queue.requeue(d.msg, opts.Delay)
		return nil
	case queue.NackDispositionDeadLetter:
		d.queue.mu.Lock()
		d.queue.dead = append(d.queue.dead, d.msg)
		d.queue.mu.Unlock()
		d.queue.log("gojob dead lettered message", "job_id", d.msg.JobID, "reason", opts.Reason)
	default:
		d.queue.log("gojob discarded message", "job_id", d.msg.JobID, "disposition", string(opts.Disposition), "reason", opts.Reason)
	}
	d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
