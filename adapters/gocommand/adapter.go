// Package gocommand registers oracle commands and queries with go-command.
package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

const queueResolverKey = "queue"

// CheckMessage requires a non-empty Type() and runs Validate() when the
// message has one.
func CheckMessage(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T does not implement Type() string", msg)
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: %T has an empty message type", msg)
	}
	return command.ValidateMessage(msg)
}

// Bus holds a go-command registry and the global dispatcher subscriptions
// made for it. Close releases the subscriptions, so a second Bus can take
// over the same message types.
type Bus struct {
	registry *command.Registry

	mu   sync.Mutex
	subs []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

// MirrorToQueue copies every command handled after Seal into queueRegistry
// so go-job workers can run it.
func (b *Bus) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.registry.AddResolver(queueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

// Seal runs the registry resolvers over every registered handler.
func (b *Bus) Seal() error {
	return b.registry.Initialize()
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (b *Bus) add(handler any, sub commanddispatcher.Subscription) error {
	if err := b.registry.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	if sub != nil {
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}
	return nil
}

func HandleCommand[T any](b *Bus, cmd command.Commander[T], opts ...runner.Option) error {
	if b == nil || cmd == nil {
		return fmt.Errorf("gocommand: bus and command are required")
	}
	return b.add(cmd, commanddispatcher.SubscribeCommand(cmd, opts...))
}

func HandleQuery[T any, R any](b *Bus, qry command.Querier[T, R], opts ...runner.Option) error {
	if b == nil || qry == nil {
		return fmt.Errorf("gocommand: bus and query are required")
	}
	return b.add(qry, commanddispatcher.SubscribeQuery(qry, opts...))
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

// DispatchResult dispatches msg and returns what the command stored in its
// result collector.
func DispatchResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	if value, ok := collector.Load(); ok {
		return value, nil
	}
	return zero, fmt.Errorf("gocommand: %T stored no result", msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}
