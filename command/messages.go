package command

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/webhooks"
)

const (
	TypeRegisterWebhook    = "oracle.command.webhook.register"
	TypeCreateAssignment   = "oracle.command.assignment.create"
	TypeCompleteAssignment = "oracle.command.assignment.complete"
	TypeRunTask            = "oracle.command.task.run"
)

// RegisterWebhookMessage stores a signed inbound oracle message.
type RegisterWebhookMessage struct {
	Request webhooks.InboundRequest
}

func (RegisterWebhookMessage) Type() string { return TypeRegisterWebhook }

func (m RegisterWebhookMessage) Validate() error {
	if len(m.Request.RawBody) == 0 {
		return invalidField("body", "is required")
	}
	return nil
}

type RegisterWebhookResult struct {
	Webhook core.Webhook
	Created bool
}

// CreateAssignmentMessage hands a free job to a worker. An empty ProjectID
// searches every annotating project.
type CreateAssignmentMessage struct {
	WalletAddress string
	ProjectID     string
}

func (CreateAssignmentMessage) Type() string { return TypeCreateAssignment }

func (m CreateAssignmentMessage) Validate() error {
	if strings.TrimSpace(m.WalletAddress) == "" {
		return invalidField("wallet_address", "is required")
	}
	return nil
}

type CreateAssignmentResult struct {
	Assignment core.Assignment
	Found      bool
}

// CompleteAssignmentMessage reports a CVAT job as finished by a worker.
type CompleteAssignmentMessage struct {
	ExternalJobID int64
	WalletAddress string
}

func (CompleteAssignmentMessage) Type() string { return TypeCompleteAssignment }

func (m CompleteAssignmentMessage) Validate() error {
	if m.ExternalJobID <= 0 {
		return invalidField("job_id", "must be positive")
	}
	return nil
}

type CompleteAssignmentResult struct {
	Completed bool
}

// RunTaskMessage runs one scheduler pass out of band.
type RunTaskMessage struct {
	Name string
}

func (RunTaskMessage) Type() string { return TypeRunTask }

func (m RunTaskMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return invalidField("name", "is required")
	}
	return nil
}

func invalidField(field, message string) error {
	return core.NewValidationError("command: "+field+" "+message, goerrors.FieldError{Field: field, Message: message})
}
