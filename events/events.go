// Package events defines the typed oracle webhook events and the registry
// that maps (sender role, event type) pairs to strict payload schemas.
package events

import (
	"fmt"
	"strings"
)

const (
	TypeEscrowCreated      = "escrow_created"
	TypeEscrowCanceled     = "escrow_canceled"
	TypeTaskCreationFailed = "task_creation_failed"
	TypeEscrowCleaned      = "escrow_cleaned"
	TypeTaskFinished       = "task_finished"
	TypeTaskCompleted      = "task_completed"
	TypeTaskRejected       = "task_rejected"
	TypeEscrowCompleted    = "escrow_completed"
)

// Event is a typed webhook payload.
type Event interface {
	EventType() string
}

// validatable events enforce required fields after strict decoding.
type validatable interface {
	validate() error
}

type EscrowCreated struct{}

func (EscrowCreated) EventType() string { return TypeEscrowCreated }

type EscrowCanceled struct{}

func (EscrowCanceled) EventType() string { return TypeEscrowCanceled }

type TaskCreationFailed struct {
	Reason string `json:"reason"`
}

func (TaskCreationFailed) EventType() string { return TypeTaskCreationFailed }

func (e TaskCreationFailed) validate() error {
	if strings.TrimSpace(e.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}

type EscrowCleaned struct{}

func (EscrowCleaned) EventType() string { return TypeEscrowCleaned }

type TaskFinished struct{}

func (TaskFinished) EventType() string { return TypeTaskFinished }

type TaskCompleted struct{}

func (TaskCompleted) EventType() string { return TypeTaskCompleted }

type TaskRejected struct {
	RejectedJobIDs []int64 `json:"rejected_job_ids"`
}

func (TaskRejected) EventType() string { return TypeTaskRejected }

func (e TaskRejected) validate() error {
	if e.RejectedJobIDs == nil {
		return fmt.Errorf("rejected_job_ids is required")
	}
	for _, id := range e.RejectedJobIDs {
		if id <= 0 {
			return fmt.Errorf("rejected_job_ids must hold positive ids")
		}
	}
	return nil
}

type EscrowCompleted struct{}

func (EscrowCompleted) EventType() string { return TypeEscrowCompleted }
