package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type CreateWebhookInput struct {
	Direction     Direction
	Role          Role
	EscrowAddress string
	ChainID       int64
	EventType     string
	Payload       map[string]any
	DedupKey      string
}

// ClaimFilter selects pending rows for one direction and role. EventTypes
// restricts the claim to the listed types; ExcludeEventTypes removes types.
type ClaimFilter struct {
	Direction         Direction
	Role              Role
	Limit             int
	EventTypes        []string
	ExcludeEventTypes []string
}

type WebhookListFilter struct {
	Direction     Direction
	Role          Role
	Status        WebhookStatus
	EscrowAddress string
	ChainID       int64
	EventType     string
	Limit         int
	Offset        int
}

type WebhookStore interface {
	// Create inserts a row. When DedupKey matches an existing row the
	// existing row is returned with created=false.
	Create(ctx context.Context, in CreateWebhookInput) (webhook Webhook, created bool, err error)
	ClaimPending(ctx context.Context, filter ClaimFilter) ([]Webhook, error)
	MarkSuccess(ctx context.Context, id string) error
	MarkFailure(ctx context.Context, id string, cause error, baseDelay time.Duration, maxAttempts int) (WebhookStatus, error)
	Get(ctx context.Context, id string) (Webhook, error)
	List(ctx context.Context, filter WebhookListFilter) ([]Webhook, int, error)
}

// PayloadValidator checks an event payload against its registered shape.
type PayloadValidator interface {
	ValidatePayload(eventType string, payload map[string]any) error
}

type ProjectFilter struct {
	EscrowAddress string
	ChainID       int64
	Status        ProjectStatus
	Limit         int
	Offset        int
}

type ProjectStore interface {
	CreateProject(ctx context.Context, project Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	// LockProject reads the row with a row lock where the dialect supports it.
	LockProject(ctx context.Context, id string) (Project, error)
	ListProjectsByEscrow(ctx context.Context, escrowAddress string, chainID int64) ([]Project, error)
	ListProjectsByStatus(ctx context.Context, status ProjectStatus, limit int) ([]Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, int, error)
	TransitionProject(ctx context.Context, id string, next ProjectStatus) (Project, error)
	DeleteProjectsByEscrow(ctx context.Context, escrowAddress string, chainID int64) (int, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]Task, error)
	ListTasksByStatus(ctx context.Context, status TaskStatus, limit int) ([]Task, error)
	TransitionTask(ctx context.Context, id string, next TaskStatus) (Task, error)
}

type JobStore interface {
	// CreateJob is idempotent on ExternalJobID.
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	GetJobByExternalID(ctx context.Context, externalJobID int64) (Job, error)
	ListJobsByTask(ctx context.Context, taskID string) ([]Job, error)
	ListJobsByProject(ctx context.Context, projectID string) ([]Job, error)
	// FindFreeJob returns the free job with the lowest external id that has no
	// live assignment and was never assigned to wallet.
	FindFreeJob(ctx context.Context, projectID string, wallet string) (Job, bool, error)
	TransitionJob(ctx context.Context, id string, next JobStatus) (Job, error)
	SetJobAssignee(ctx context.Context, id string, assignee string) error
}

type AssignmentFilter struct {
	WorkerWalletAddress string
	JobID               string
	ProjectID           string
	Status              AssignmentStatus
	Limit               int
	Offset              int
}

type AssignmentStore interface {
	CreateAssignment(ctx context.Context, assignment Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	LatestAssignment(ctx context.Context, jobID string) (Assignment, bool, error)
	HasLiveAssignment(ctx context.Context, wallet string, projectID string) (bool, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, int, error)
	ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]Assignment, error)
	// ListStaleAssignments returns live assignments whose project left annotation.
	ListStaleAssignments(ctx context.Context, limit int) ([]Assignment, error)
	TransitionAssignment(ctx context.Context, id string, next AssignmentStatus, at time.Time) (Assignment, error)
}

type LifecycleStore interface {
	ProjectStore
	TaskStore
	JobStore
	AssignmentStore
}

// Stores exposes the repositories bound to one database handle. RunInTx
// opens a transaction, or a savepoint when already inside one.
type Stores interface {
	Webhooks() WebhookStore
	Lifecycle() LifecycleStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// SigningIdentity is the key this oracle signs outbound messages with.
type SigningIdentity interface {
	Address() string
	SignMessage(payload []byte) (string, error)
}

type SignedMessageCodec interface {
	Canonicalize(msg OracleMessage) ([]byte, error)
	Sign(identity SigningIdentity, payload []byte) (string, error)
	RecoverSigner(payload []byte, signature string) (string, error)
	CanonicalSignature(signature string) (string, error)
}

type RoleResolver interface {
	ResolveRole(ctx context.Context, address string) (Role, error)
}

type URLResolver interface {
	ResolveURL(ctx context.Context, role Role, chainID int64, escrowAddress string) (string, error)
}

type EscrowReader interface {
	GetEscrow(ctx context.Context, chainID int64, address string) (Escrow, error)
	GetManifest(ctx context.Context, escrow Escrow) (Manifest, error)
}

type CVATJob struct {
	ID     int64
	TaskID int64
	State  string
}

type CreateCVATProjectInput struct {
	Name           string
	Labels         []string
	CloudStorageID int64
}

type CreateCVATTaskInput struct {
	ProjectID      int64
	Name           string
	CloudStorageID int64
	DataURL        string
	JobSize        int
}

type CVATClient interface {
	CreateCloudStorage(ctx context.Context, bucketURL string) (int64, error)
	DeleteCloudStorage(ctx context.Context, id int64) error
	CreateProject(ctx context.Context, in CreateCVATProjectInput) (int64, error)
	DeleteProject(ctx context.Context, id int64) error
	CreateTask(ctx context.Context, in CreateCVATTaskInput) (int64, error)
	ListTaskJobs(ctx context.Context, taskID int64) ([]CVATJob, error)
	AssignJob(ctx context.Context, jobID int64, wallet string) error
	UnassignJob(ctx context.Context, jobID int64) error
	DownloadJobAnnotations(ctx context.Context, jobID int64) ([]byte, error)
}

type ResultsStorage interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	RemoveObjects(ctx context.Context, prefix string) error
}
