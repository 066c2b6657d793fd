package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/webhooks"
)

type WebhookRegistrar interface {
	EnqueueInbound(ctx context.Context, req webhooks.InboundRequest) (core.Webhook, bool, error)
}

type AssignmentService interface {
	CreateAssignment(ctx context.Context, wallet string, projectID string) (core.Assignment, bool, error)
	CompleteAssignment(ctx context.Context, externalJobID int64, wallet string) (bool, error)
}

type TaskRunner interface {
	RunTask(ctx context.Context, name string) error
}

type RegisterWebhookCommand struct {
	registrar WebhookRegistrar
}

func NewRegisterWebhookCommand(registrar WebhookRegistrar) *RegisterWebhookCommand {
	return &RegisterWebhookCommand{registrar: registrar}
}

func (c *RegisterWebhookCommand) Execute(ctx context.Context, msg RegisterWebhookMessage) error {
	if c == nil || c.registrar == nil {
		return core.NewInternalError("command: webhook registrar is required", nil)
	}
	webhook, created, err := c.registrar.EnqueueInbound(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, RegisterWebhookResult{Webhook: webhook, Created: created})
	return nil
}

type CreateAssignmentCommand struct {
	service AssignmentService
}

func NewCreateAssignmentCommand(service AssignmentService) *CreateAssignmentCommand {
	return &CreateAssignmentCommand{service: service}
}

func (c *CreateAssignmentCommand) Execute(ctx context.Context, msg CreateAssignmentMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: assignment service is required", nil)
	}
	assignment, found, err := c.service.CreateAssignment(ctx, msg.WalletAddress, msg.ProjectID)
	if err != nil {
		return err
	}
	storeResult(ctx, CreateAssignmentResult{Assignment: assignment, Found: found})
	return nil
}

type CompleteAssignmentCommand struct {
	service AssignmentService
}

func NewCompleteAssignmentCommand(service AssignmentService) *CompleteAssignmentCommand {
	return &CompleteAssignmentCommand{service: service}
}

func (c *CompleteAssignmentCommand) Execute(ctx context.Context, msg CompleteAssignmentMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: assignment service is required", nil)
	}
	completed, err := c.service.CompleteAssignment(ctx, msg.ExternalJobID, msg.WalletAddress)
	if err != nil {
		return err
	}
	storeResult(ctx, CompleteAssignmentResult{Completed: completed})
	return nil
}

type RunTaskCommand struct {
	runner TaskRunner
}

func NewRunTaskCommand(runner TaskRunner) *RunTaskCommand {
	return &RunTaskCommand{runner: runner}
}

func (c *RunTaskCommand) Execute(ctx context.Context, msg RunTaskMessage) error {
	if c == nil || c.runner == nil {
		return core.NewInternalError("command: task runner is required", nil)
	}
	return c.runner.RunTask(ctx, msg.Name)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
