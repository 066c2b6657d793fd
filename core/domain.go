package core

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleJobLauncher      Role = "job_launcher"
	RoleExchangeOracle   Role = "exchange_oracle"
	RoleRecordingOracle  Role = "recording_oracle"
	RoleReputationOracle Role = "reputation_oracle"
)

func ParseRole(value string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(value)))
	switch role {
	case RoleJobLauncher, RoleExchangeOracle, RoleRecordingOracle, RoleReputationOracle:
		return role, nil
	default:
		return "", fmt.Errorf("core: unknown role %q", value)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound:
		return true
	default:
		return false
	}
}

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusCompleted WebhookStatus = "completed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// TransitionTo reports whether a webhook row may move from s to next.
// pending -> pending is the retry edge; completed and failed are terminal.
func (s WebhookStatus) TransitionTo(next WebhookStatus) error {
	if s == WebhookStatusPending {
		switch next {
		case WebhookStatusPending, WebhookStatusCompleted, WebhookStatusFailed:
			return nil
		}
	}
	return NewInvalidTransitionError("webhook", string(s), string(next))
}

// Webhook is a single inbox or outbox row. Role holds the sender for inbound
// rows and the destination for outbound rows.
type Webhook struct {
	ID            string
	Direction     Direction
	Role          Role
	EscrowAddress string
	ChainID       int64
	EventType     string
	Payload       map[string]any
	DedupKey      string
	Status        WebhookStatus
	Attempts      int
	NotBefore     time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ProjectStatus string

const (
	ProjectStatusCreation   ProjectStatus = "creation"
	ProjectStatusAnnotation ProjectStatus = "annotation"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusValidation ProjectStatus = "validation"
	ProjectStatusRecorded   ProjectStatus = "recorded"
	ProjectStatusCanceled   ProjectStatus = "canceled"
	ProjectStatusDeleted    ProjectStatus = "deleted"
)

func (s ProjectStatus) TransitionTo(next ProjectStatus) error {
	if s == next {
		return nil
	}
	allowed := false
	switch s {
	case ProjectStatusCreation:
		allowed = next == ProjectStatusAnnotation ||
			next == ProjectStatusCanceled ||
			next == ProjectStatusDeleted
	case ProjectStatusAnnotation:
		allowed = next == ProjectStatusCompleted ||
			next == ProjectStatusCanceled ||
			next == ProjectStatusDeleted
	case ProjectStatusCompleted:
		allowed = next == ProjectStatusAnnotation ||
			next == ProjectStatusValidation ||
			next == ProjectStatusRecorded ||
			next == ProjectStatusCanceled ||
			next == ProjectStatusDeleted
	case ProjectStatusValidation:
		allowed = next == ProjectStatusAnnotation ||
			next == ProjectStatusCompleted ||
			next == ProjectStatusRecorded ||
			next == ProjectStatusCanceled ||
			next == ProjectStatusDeleted
	case ProjectStatusRecorded:
		allowed = next == ProjectStatusAnnotation ||
			next == ProjectStatusDeleted
	case ProjectStatusCanceled:
		allowed = next == ProjectStatusDeleted
	case ProjectStatusDeleted:
		allowed = false
	default:
		allowed = false
	}
	if !allowed {
		return NewInvalidTransitionError("project", string(s), string(next))
	}
	return nil
}

type TaskStatus string

const (
	TaskStatusAnnotation TaskStatus = "annotation"
	TaskStatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) TransitionTo(next TaskStatus) error {
	switch s {
	case TaskStatusAnnotation:
		if next == TaskStatusAnnotation || next == TaskStatusCompleted {
			return nil
		}
	case TaskStatusCompleted:
		if next == TaskStatusCompleted || next == TaskStatusAnnotation {
			return nil
		}
	}
	return NewInvalidTransitionError("task", string(s), string(next))
}

type JobStatus string

const (
	JobStatusNew        JobStatus = "new"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusRejected   JobStatus = "rejected"
	JobStatusCompleted  JobStatus = "completed"
)

func (s JobStatus) TransitionTo(next JobStatus) error {
	if s == next {
		return nil
	}
	allowed := false
	switch s {
	case JobStatusNew:
		allowed = next == JobStatusInProgress || next == JobStatusCompleted
	case JobStatusInProgress:
		allowed = next == JobStatusNew || next == JobStatusCompleted || next == JobStatusRejected
	case JobStatusCompleted:
		allowed = next == JobStatusRejected
	case JobStatusRejected:
		allowed = next == JobStatusInProgress || next == JobStatusNew || next == JobStatusCompleted
	}
	if !allowed {
		return NewInvalidTransitionError("job", string(s), string(next))
	}
	return nil
}

// Free reports whether a job in this status can be handed to a worker.
func (s JobStatus) Free() bool {
	return s == JobStatusNew || s == JobStatusRejected
}

type AssignmentStatus string

const (
	AssignmentStatusCreated   AssignmentStatus = "created"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusExpired   AssignmentStatus = "expired"
	AssignmentStatusRejected  AssignmentStatus = "rejected"
	AssignmentStatusCanceled  AssignmentStatus = "canceled"
)

func (s AssignmentStatus) TransitionTo(next AssignmentStatus) error {
	allowed := false
	switch s {
	case AssignmentStatusCreated:
		allowed = next == AssignmentStatusCompleted ||
			next == AssignmentStatusExpired ||
			next == AssignmentStatusRejected ||
			next == AssignmentStatusCanceled
	case AssignmentStatusCompleted:
		allowed = next == AssignmentStatusRejected
	case AssignmentStatusExpired, AssignmentStatusRejected, AssignmentStatusCanceled:
		allowed = false
	}
	if !allowed {
		return NewInvalidTransitionError("assignment", string(s), string(next))
	}
	return nil
}

type Project struct {
	ID                     string
	EscrowAddress          string
	ChainID                int64
	ExternalProjectID      int64
	ExternalCloudStorageID int64
	JobType                string
	BucketURL              string
	Status                 ProjectStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Task struct {
	ID             string
	ExternalTaskID int64
	ProjectID      string
	Status         TaskStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Job struct {
	ID            string
	ExternalJobID int64
	TaskID        string
	ProjectID     string
	Status        JobStatus
	Assignee      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Assignment struct {
	ID                  string
	JobID               string
	WorkerWalletAddress string
	Status              AssignmentStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	CompletedAt         *time.Time
}

// OracleMessage is the signed body exchanged between oracles.
type OracleMessage struct {
	EscrowAddress string         `json:"escrow_address"`
	ChainID       int64          `json:"chain_id"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
}

type EscrowStatus string

const (
	EscrowStatusLaunched  EscrowStatus = "Launched"
	EscrowStatusPending   EscrowStatus = "Pending"
	EscrowStatusPartial   EscrowStatus = "Partial"
	EscrowStatusPaid      EscrowStatus = "Paid"
	EscrowStatusComplete  EscrowStatus = "Complete"
	EscrowStatusCancelled EscrowStatus = "Cancelled"
)

type Escrow struct {
	Address         string
	ChainID         int64
	Status          EscrowStatus
	Balance         string
	ManifestURL     string
	JobLauncher     string
	RecordingOracle string
	ExchangeOracle  string
}

// Manifest is the subset of the job manifest the lifecycle engine consumes.
type Manifest struct {
	JobType        string
	DataURL        string
	Labels         []string
	JobSize        int
	AssignmentTime time.Duration
}
