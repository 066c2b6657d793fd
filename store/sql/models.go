package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-oracle/core"
	"github.com/uptrace/bun"
)

type webhookRecord struct {
	bun.BaseModel `bun:"table:webhooks,alias:wh"`

	ID            string         `bun:"id,pk"`
	Direction     string         `bun:"direction,notnull"`
	Role          string         `bun:"role,notnull"`
	EscrowAddress string         `bun:"escrow_address,notnull"`
	ChainID       int64          `bun:"chain_id,notnull"`
	EventType     string         `bun:"event_type,notnull"`
	Payload       map[string]any `bun:"event_payload,type:jsonb"`
	DedupKey      *string        `bun:"dedup_key"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NotBefore     time.Time      `bun:"not_before,notnull"`
	LastError     string         `bun:"last_error,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *webhookRecord) recordID() string      { return r.ID }
func (r *webhookRecord) setRecordID(id string) { r.ID = id }

func (r *webhookRecord) toDomain() core.Webhook {
	webhook := core.Webhook{
		ID:            r.ID,
		Direction:     core.Direction(r.Direction),
		Role:          core.Role(r.Role),
		EscrowAddress: r.EscrowAddress,
		ChainID:       r.ChainID,
		EventType:     r.EventType,
		Payload:       copyAnyMap(r.Payload),
		Status:        core.WebhookStatus(r.Status),
		Attempts:      r.Attempts,
		NotBefore:     r.NotBefore.UTC(),
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.DedupKey != nil {
		webhook.DedupKey = *r.DedupKey
	}
	return webhook
}

type projectRecord struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID                     string    `bun:"id,pk"`
	EscrowAddress          string    `bun:"escrow_address,notnull"`
	ChainID                int64     `bun:"chain_id,notnull"`
	ExternalProjectID      int64     `bun:"external_project_id,notnull"`
	ExternalCloudStorageID int64     `bun:"external_cloudstorage_id,notnull"`
	JobType                string    `bun:"job_type,notnull"`
	BucketURL              string    `bun:"bucket_url,notnull"`
	Status                 string    `bun:"status,notnull"`
	CreatedAt              time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *projectRecord) recordID() string      { return r.ID }
func (r *projectRecord) setRecordID(id string) { r.ID = id }

func newProjectRecord(project core.Project, now time.Time) *projectRecord {
	status := project.Status
	if status == "" {
		status = core.ProjectStatusCreation
	}
	return &projectRecord{
		ID:                     strings.TrimSpace(project.ID),
		EscrowAddress:          strings.TrimSpace(project.EscrowAddress),
		ChainID:                project.ChainID,
		ExternalProjectID:      project.ExternalProjectID,
		ExternalCloudStorageID: project.ExternalCloudStorageID,
		JobType:                strings.TrimSpace(project.JobType),
		BucketURL:              strings.TrimSpace(project.BucketURL),
		Status:                 string(status),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func (r *projectRecord) toDomain() core.Project {
	return core.Project{
		ID:                     r.ID,
		EscrowAddress:          r.EscrowAddress,
		ChainID:                r.ChainID,
		ExternalProjectID:      r.ExternalProjectID,
		ExternalCloudStorageID: r.ExternalCloudStorageID,
		JobType:                r.JobType,
		BucketURL:              r.BucketURL,
		Status:                 core.ProjectStatus(r.Status),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
}

type taskRecord struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID             string    `bun:"id,pk"`
	ExternalTaskID int64     `bun:"external_task_id,notnull"`
	ProjectID      string    `bun:"project_id,notnull"`
	Status         string    `bun:"status,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *taskRecord) toDomain() core.Task {
	return core.Task{
		ID:             r.ID,
		ExternalTaskID: r.ExternalTaskID,
		ProjectID:      r.ProjectID,
		Status:         core.TaskStatus(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type jobRecord struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID            string    `bun:"id,pk"`
	ExternalJobID int64     `bun:"external_job_id,notnull"`
	TaskID        string    `bun:"task_id,notnull"`
	ProjectID     string    `bun:"project_id,notnull"`
	Status        string    `bun:"status,notnull"`
	Assignee      *string   `bun:"assignee"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *jobRecord) toDomain() core.Job {
	job := core.Job{
		ID:            r.ID,
		ExternalJobID: r.ExternalJobID,
		TaskID:        r.TaskID,
		ProjectID:     r.ProjectID,
		Status:        core.JobStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.Assignee != nil {
		job.Assignee = *r.Assignee
	}
	return job
}

type assignmentRecord struct {
	bun.BaseModel `bun:"table:assignments,alias:a"`

	ID                  string     `bun:"id,pk"`
	JobID               string     `bun:"job_id,notnull"`
	WorkerWalletAddress string     `bun:"worker_wallet_address,notnull"`
	Status              string     `bun:"status,notnull"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt           time.Time  `bun:"expires_at,notnull"`
	CompletedAt         *time.Time `bun:"completed_at"`
}

func (r *assignmentRecord) recordID() string      { return r.ID }
func (r *assignmentRecord) setRecordID(id string) { r.ID = id }

func (r *assignmentRecord) toDomain() core.Assignment {
	assignment := core.Assignment{
		ID:                  r.ID,
		JobID:               r.JobID,
		WorkerWalletAddress: r.WorkerWalletAddress,
		Status:              core.AssignmentStatus(r.Status),
		CreatedAt:           r.CreatedAt.UTC(),
		ExpiresAt:           r.ExpiresAt.UTC(),
	}
	if r.CompletedAt != nil {
		completed := r.CompletedAt.UTC()
		assignment.CompletedAt = &completed
	}
	return assignment
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
