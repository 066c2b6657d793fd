package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-oracle/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var liveAssignment = string(core.AssignmentStatusCreated)

// LifecycleStore persists projects, tasks, jobs and assignments.
type LifecycleStore struct {
	idb         bun.IDB
	projects    repository.Repository[*projectRecord]
	assignments repository.Repository[*assignmentRecord]
	now         func() time.Time
}

func NewLifecycleStore(db *bun.DB) (*LifecycleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	projects, err := newRepository(db, "project", func() *projectRecord { return &projectRecord{} })
	if err != nil {
		return nil, err
	}
	assignments, err := newRepository(db, "assignment", func() *assignmentRecord { return &assignmentRecord{} })
	if err != nil {
		return nil, err
	}
	return &LifecycleStore{
		idb:         db,
		projects:    projects,
		assignments: assignments,
		now:         utcNow,
	}, nil
}

func (s *LifecycleStore) ready() error {
	if s == nil || s.idb == nil {
		return fmt.Errorf("sqlstore: lifecycle store is not configured")
	}
	return nil
}

// Projects

func (s *LifecycleStore) CreateProject(ctx context.Context, project core.Project) (core.Project, error) {
	if err := s.ready(); err != nil {
		return core.Project{}, err
	}
	if strings.TrimSpace(project.EscrowAddress) == "" {
		return core.Project{}, fmt.Errorf("sqlstore: project escrow address is required")
	}
	record := newProjectRecord(project, s.now())
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.projects.CreateTx(ctx, s.idb, record)
	if err != nil {
		return core.Project{}, err
	}
	return created.toDomain(), nil
}

func (s *LifecycleStore) GetProject(ctx context.Context, id string) (core.Project, error) {
	record, err := s.loadProject(ctx, id, false)
	if err != nil {
		return core.Project{}, err
	}
	return record.toDomain(), nil
}

func (s *LifecycleStore) LockProject(ctx context.Context, id string) (core.Project, error) {
	record, err := s.loadProject(ctx, id, true)
	if err != nil {
		return core.Project{}, err
	}
	return record.toDomain(), nil
}

func (s *LifecycleStore) ListProjectsByEscrow(ctx context.Context, escrowAddress string, chainID int64) ([]core.Project, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []projectRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("lower(?TableAlias.escrow_address) = lower(?)", strings.TrimSpace(escrowAddress)).
		Where("?TableAlias.chain_id = ?", chainID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return projectsToDomain(records), nil
}

func (s *LifecycleStore) ListProjectsByStatus(ctx context.Context, status core.ProjectStatus, limit int) ([]core.Project, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []projectRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(limitOrDefault(limit, 100)).
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return projectsToDomain(records), nil
}

func (s *LifecycleStore) ListProjects(ctx context.Context, filter core.ProjectFilter) ([]core.Project, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limitOrDefault(filter.Limit, 25), max(filter.Offset, 0)),
	}
	if escrow := strings.TrimSpace(filter.EscrowAddress); escrow != "" {
		selectors = append(selectors, repository.SelectBy("escrow_address", "=", escrow))
	}
	if filter.ChainID != 0 {
		selectors = append(selectors, repository.SelectBy("chain_id", "=", strconv.FormatInt(filter.ChainID, 10)))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	records, total, err := s.projects.ListTx(ctx, s.idb, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.Project, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

func (s *LifecycleStore) TransitionProject(ctx context.Context, id string, next core.ProjectStatus) (core.Project, error) {
	record, err := s.loadProject(ctx, id, true)
	if err != nil {
		return core.Project{}, err
	}
	if err := core.ProjectStatus(record.Status).TransitionTo(next); err != nil {
		return core.Project{}, err
	}
	if record.Status == string(next) {
		return record.toDomain(), nil
	}
	now := s.now()
	_, err = s.idb.NewUpdate().
		Model((*projectRecord)(nil)).
		Set("status = ?", string(next)).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.Project{}, err
	}
	record.Status = string(next)
	record.UpdatedAt = now
	return record.toDomain(), nil
}

// DeleteProjectsByEscrow removes the projects of one escrow together with
// their tasks, jobs and assignments.
func (s *LifecycleStore) DeleteProjectsByEscrow(ctx context.Context, escrowAddress string, chainID int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	escrowAddress = strings.TrimSpace(escrowAddress)
	projectIDs := s.idb.NewSelect().
		Model((*projectRecord)(nil)).
		Column("id").
		Where("lower(escrow_address) = lower(?)", escrowAddress).
		Where("chain_id = ?", chainID)
	jobIDs := s.idb.NewSelect().
		Model((*jobRecord)(nil)).
		Column("id").
		Where("project_id IN (?)", projectIDs)

	if _, err := s.idb.NewDelete().Model((*assignmentRecord)(nil)).Where("job_id IN (?)", jobIDs).Exec(ctx); err != nil {
		return 0, err
	}
	if _, err := s.idb.NewDelete().Model((*jobRecord)(nil)).Where("project_id IN (?)", projectIDs).Exec(ctx); err != nil {
		return 0, err
	}
	if _, err := s.idb.NewDelete().Model((*taskRecord)(nil)).Where("project_id IN (?)", projectIDs).Exec(ctx); err != nil {
		return 0, err
	}
	result, err := s.idb.NewDelete().
		Model((*projectRecord)(nil)).
		Where("lower(escrow_address) = lower(?)", escrowAddress).
		Where("chain_id = ?", chainID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *LifecycleStore) loadProject(ctx context.Context, id string, lock bool) (*projectRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("sqlstore: project id is required")
	}
	record := &projectRecord{}
	query := s.idb.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1)
	if lock {
		query = lockForUpdate(s.idb, query, false)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, notFound("project", id, err)
	}
	return record, nil
}

func projectsToDomain(records []projectRecord) []core.Project {
	out := make([]core.Project, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out
}

// Tasks

// CreateTask is idempotent on ExternalTaskID.
func (s *LifecycleStore) CreateTask(ctx context.Context, task core.Task) (core.Task, error) {
	if err := s.ready(); err != nil {
		return core.Task{}, err
	}
	if strings.TrimSpace(task.ProjectID) == "" {
		return core.Task{}, fmt.Errorf("sqlstore: task project id is required")
	}
	status := task.Status
	if status == "" {
		status = core.TaskStatusAnnotation
	}
	now := s.now()
	record := &taskRecord{
		ID:             strings.TrimSpace(task.ID),
		ExternalTaskID: task.ExternalTaskID,
		ProjectID:      strings.TrimSpace(task.ProjectID),
		Status:         string(status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	result, err := s.idb.NewInsert().
		Model(record).
		On("CONFLICT (external_task_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.Task{}, err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected > 0 {
		return record.toDomain(), nil
	}
	existing := &taskRecord{}
	err = s.idb.NewSelect().
		Model(existing).
		Where("?TableAlias.external_task_id = ?", task.ExternalTaskID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Task{}, notFound("task", fmt.Sprint(task.ExternalTaskID), err)
	}
	return existing.toDomain(), nil
}

func (s *LifecycleStore) ListTasksByProject(ctx context.Context, projectID string) ([]core.Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []taskRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.project_id = ?", strings.TrimSpace(projectID)).
		OrderExpr("?TableAlias.external_task_id ASC").
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return tasksToDomain(records), nil
}

func (s *LifecycleStore) ListTasksByStatus(ctx context.Context, status core.TaskStatus, limit int) ([]core.Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []taskRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(limitOrDefault(limit, 100)).
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return tasksToDomain(records), nil
}

func (s *LifecycleStore) TransitionTask(ctx context.Context, id string, next core.TaskStatus) (core.Task, error) {
	if err := s.ready(); err != nil {
		return core.Task{}, err
	}
	record := &taskRecord{}
	if err := s.idb.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx); err != nil {
		return core.Task{}, notFound("task", id, err)
	}
	if err := core.TaskStatus(record.Status).TransitionTo(next); err != nil {
		return core.Task{}, err
	}
	if record.Status == string(next) {
		return record.toDomain(), nil
	}
	now := s.now()
	_, err := s.idb.NewUpdate().
		Model((*taskRecord)(nil)).
		Set("status = ?", string(next)).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.Task{}, err
	}
	record.Status = string(next)
	record.UpdatedAt = now
	return record.toDomain(), nil
}

func tasksToDomain(records []taskRecord) []core.Task {
	out := make([]core.Task, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out
}

// Jobs

func (s *LifecycleStore) CreateJob(ctx context.Context, job core.Job) (core.Job, error) {
	if err := s.ready(); err != nil {
		return core.Job{}, err
	}
	if strings.TrimSpace(job.TaskID) == "" || strings.TrimSpace(job.ProjectID) == "" {
		return core.Job{}, fmt.Errorf("sqlstore: job task id and project id are required")
	}
	status := job.Status
	if status == "" {
		status = core.JobStatusNew
	}
	now := s.now()
	record := &jobRecord{
		ID:            strings.TrimSpace(job.ID),
		ExternalJobID: job.ExternalJobID,
		TaskID:        strings.TrimSpace(job.TaskID),
		ProjectID:     strings.TrimSpace(job.ProjectID),
		Status:        string(status),
		Assignee:      optionalString(job.Assignee),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	result, err := s.idb.NewInsert().
		Model(record).
		On("CONFLICT (external_job_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.Job{}, err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected > 0 {
		return record.toDomain(), nil
	}
	return s.GetJobByExternalID(ctx, job.ExternalJobID)
}

func (s *LifecycleStore) GetJob(ctx context.Context, id string) (core.Job, error) {
	record, err := s.loadJob(ctx, "id", strings.TrimSpace(id))
	if err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *LifecycleStore) GetJobByExternalID(ctx context.Context, externalJobID int64) (core.Job, error) {
	record, err := s.loadJob(ctx, "external_job_id", externalJobID)
	if err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *LifecycleStore) ListJobsByTask(ctx context.Context, taskID string) ([]core.Job, error) {
	return s.listJobs(ctx, "task_id", strings.TrimSpace(taskID))
}

func (s *LifecycleStore) ListJobsByProject(ctx context.Context, projectID string) ([]core.Job, error) {
	return s.listJobs(ctx, "project_id", strings.TrimSpace(projectID))
}

// FindFreeJob picks the lowest external id among new or rejected jobs with no
// live assignment that the wallet never held before.
func (s *LifecycleStore) FindFreeJob(ctx context.Context, projectID string, wallet string) (core.Job, bool, error) {
	if err := s.ready(); err != nil {
		return core.Job{}, false, err
	}
	live := s.idb.NewSelect().
		Model((*assignmentRecord)(nil)).
		ColumnExpr("1").
		Where("a.job_id = j.id").
		Where("a.status = ?", liveAssignment).
		Where("a.expires_at > ?", s.now())
	held := s.idb.NewSelect().
		TableExpr("assignments AS held").
		ColumnExpr("1").
		Where("held.job_id = j.id").
		Where("lower(held.worker_wallet_address) = lower(?)", strings.TrimSpace(wallet))

	record := &jobRecord{}
	err := s.idb.NewSelect().
		Model(record).
		Where("?TableAlias.project_id = ?", strings.TrimSpace(projectID)).
		Where("?TableAlias.status IN (?)", bun.In([]string{string(core.JobStatusNew), string(core.JobStatusRejected)})).
		Where("NOT EXISTS (?)", live).
		Where("NOT EXISTS (?)", held).
		OrderExpr("?TableAlias.external_job_id ASC").
		Limit(1).
		Scan(ctx)
	if isMissing(err) {
		return core.Job{}, false, nil
	}
	if err != nil {
		return core.Job{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *LifecycleStore) TransitionJob(ctx context.Context, id string, next core.JobStatus) (core.Job, error) {
	record, err := s.loadJob(ctx, "id", strings.TrimSpace(id))
	if err != nil {
		return core.Job{}, err
	}
	if err := core.JobStatus(record.Status).TransitionTo(next); err != nil {
		return core.Job{}, err
	}
	if record.Status == string(next) {
		return record.toDomain(), nil
	}
	now := s.now()
	_, err = s.idb.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(next)).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.Job{}, err
	}
	record.Status = string(next)
	record.UpdatedAt = now
	return record.toDomain(), nil
}

// SetJobAssignee stores the wallet; an empty assignee clears it.
func (s *LifecycleStore) SetJobAssignee(ctx context.Context, id string, assignee string) error {
	if err := s.ready(); err != nil {
		return err
	}
	result, err := s.idb.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("assignee = ?", optionalString(assignee)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.NewNotFoundError(fmt.Sprintf("job %s not found", strings.TrimSpace(id)))
	}
	return nil
}

func (s *LifecycleStore) loadJob(ctx context.Context, column string, value any) (*jobRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	record := &jobRecord{}
	err := s.idb.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound("job", fmt.Sprint(value), err)
	}
	return record, nil
}

func (s *LifecycleStore) listJobs(ctx context.Context, column string, value string) ([]core.Job, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []jobRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		OrderExpr("?TableAlias.external_job_id ASC").
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	out := make([]core.Job, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// Assignments

func (s *LifecycleStore) CreateAssignment(ctx context.Context, assignment core.Assignment) (core.Assignment, error) {
	if err := s.ready(); err != nil {
		return core.Assignment{}, err
	}
	if strings.TrimSpace(assignment.JobID) == "" {
		return core.Assignment{}, fmt.Errorf("sqlstore: assignment job id is required")
	}
	if strings.TrimSpace(assignment.WorkerWalletAddress) == "" {
		return core.Assignment{}, fmt.Errorf("sqlstore: assignment worker wallet is required")
	}
	now := s.now()
	createdAt := assignment.CreatedAt.UTC()
	if assignment.CreatedAt.IsZero() {
		createdAt = now
	}
	status := assignment.Status
	if status == "" {
		status = core.AssignmentStatusCreated
	}
	record := &assignmentRecord{
		ID:                  strings.TrimSpace(assignment.ID),
		JobID:               strings.TrimSpace(assignment.JobID),
		WorkerWalletAddress: strings.TrimSpace(assignment.WorkerWalletAddress),
		Status:              string(status),
		CreatedAt:           createdAt,
		ExpiresAt:           assignment.ExpiresAt.UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.assignments.CreateTx(ctx, s.idb, record)
	if err != nil {
		return core.Assignment{}, err
	}
	return created.toDomain(), nil
}

func (s *LifecycleStore) GetAssignment(ctx context.Context, id string) (core.Assignment, error) {
	record, err := s.loadAssignment(ctx, id)
	if err != nil {
		return core.Assignment{}, err
	}
	return record.toDomain(), nil
}

func (s *LifecycleStore) LatestAssignment(ctx context.Context, jobID string) (core.Assignment, bool, error) {
	if err := s.ready(); err != nil {
		return core.Assignment{}, false, err
	}
	record := &assignmentRecord{}
	err := s.idb.NewSelect().
		Model(record).
		Where("?TableAlias.job_id = ?", strings.TrimSpace(jobID)).
		OrderExpr("?TableAlias.created_at DESC").
		OrderExpr("?TableAlias.id DESC").
		Limit(1).
		Scan(ctx)
	if isMissing(err) {
		return core.Assignment{}, false, nil
	}
	if err != nil {
		return core.Assignment{}, false, err
	}
	return record.toDomain(), true, nil
}

// HasLiveAssignment reports an unexpired created assignment of the wallet on
// any job of the project.
func (s *LifecycleStore) HasLiveAssignment(ctx context.Context, wallet string, projectID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	count, err := s.idb.NewSelect().
		Model((*assignmentRecord)(nil)).
		Join("JOIN jobs AS j ON j.id = a.job_id").
		Where("j.project_id = ?", strings.TrimSpace(projectID)).
		Where("lower(a.worker_wallet_address) = lower(?)", strings.TrimSpace(wallet)).
		Where("a.status = ?", liveAssignment).
		Where("a.expires_at > ?", s.now()).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *LifecycleStore) ListAssignments(ctx context.Context, filter core.AssignmentFilter) ([]core.Assignment, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limitOrDefault(filter.Limit, 25), max(filter.Offset, 0)),
	}
	if wallet := strings.TrimSpace(filter.WorkerWalletAddress); wallet != "" {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("lower(?TableAlias.worker_wallet_address) = lower(?)", wallet)
		}))
	}
	if jobID := strings.TrimSpace(filter.JobID); jobID != "" {
		selectors = append(selectors, repository.SelectBy("job_id", "=", jobID))
	}
	if projectID := strings.TrimSpace(filter.ProjectID); projectID != "" {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.job_id IN (SELECT id FROM jobs WHERE project_id = ?)", projectID)
		}))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	records, total, err := s.assignments.ListTx(ctx, s.idb, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.Assignment, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

func (s *LifecycleStore) ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]core.Assignment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []assignmentRecord
	err := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", liveAssignment).
		Where("?TableAlias.expires_at <= ?", now.UTC()).
		OrderExpr("?TableAlias.expires_at ASC").
		Limit(limitOrDefault(limit, 100)).
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return assignmentsToDomain(records), nil
}

func (s *LifecycleStore) ListStaleAssignments(ctx context.Context, limit int) ([]core.Assignment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []assignmentRecord
	err := s.idb.NewSelect().
		Model(&records).
		Join("JOIN jobs AS j ON j.id = a.job_id").
		Join("JOIN projects AS p ON p.id = j.project_id").
		Where("a.status = ?", liveAssignment).
		Where("p.status <> ?", string(core.ProjectStatusAnnotation)).
		OrderExpr("a.created_at ASC").
		Limit(limitOrDefault(limit, 100)).
		Scan(ctx)
	if err != nil && !isMissing(err) {
		return nil, err
	}
	return assignmentsToDomain(records), nil
}

// TransitionAssignment moves the assignment to next. at is stored as the
// completion time when next is completed.
func (s *LifecycleStore) TransitionAssignment(
	ctx context.Context,
	id string,
	next core.AssignmentStatus,
	at time.Time,
) (core.Assignment, error) {
	record, err := s.loadAssignment(ctx, id)
	if err != nil {
		return core.Assignment{}, err
	}
	if record.Status == string(next) {
		return record.toDomain(), nil
	}
	if err := core.AssignmentStatus(record.Status).TransitionTo(next); err != nil {
		return core.Assignment{}, err
	}
	query := s.idb.NewUpdate().
		Model((*assignmentRecord)(nil)).
		Set("status = ?", string(next)).
		Where("id = ?", record.ID)
	if next == core.AssignmentStatusCompleted {
		if at.IsZero() {
			at = s.now()
		}
		completedAt := at.UTC()
		query = query.Set("completed_at = ?", completedAt)
		record.CompletedAt = &completedAt
	}
	if _, err := query.Exec(ctx); err != nil {
		return core.Assignment{}, err
	}
	record.Status = string(next)
	return record.toDomain(), nil
}

func (s *LifecycleStore) loadAssignment(ctx context.Context, id string) (*assignmentRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	record := &assignmentRecord{}
	err := s.idb.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound("assignment", id, err)
	}
	return record, nil
}

func assignmentsToDomain(records []assignmentRecord) []core.Assignment {
	out := make([]core.Assignment, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out
}

var _ core.LifecycleStore = (*LifecycleStore)(nil)
