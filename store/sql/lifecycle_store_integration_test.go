package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/store/sql/sqltest"
)

const (
	workerA = "0x1111111111111111111111111111111111111111"
	workerB = "0x2222222222222222222222222222222222222222"
)

type lifecycleFixture struct {
	store   core.LifecycleStore
	project core.Project
	task    core.Task
	jobs    []core.Job
}

func newLifecycleFixture(t *testing.T, externalJobIDs ...int64) lifecycleFixture {
	t.Helper()
	ctx := context.Background()
	store := sqltest.NewSession(t).Lifecycle()

	project, err := store.CreateProject(ctx, core.Project{
		EscrowAddress:     escrow,
		ChainID:           80002,
		ExternalProjectID: 10,
		JobType:           "image_label_binary",
		BucketURL:         "https://bucket.example.com/data",
		Status:            core.ProjectStatusAnnotation,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := store.CreateTask(ctx, core.Task{ExternalTaskID: 20, ProjectID: project.ID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	jobs := make([]core.Job, 0, len(externalJobIDs))
	for _, externalID := range externalJobIDs {
		job, err := store.CreateJob(ctx, core.Job{ExternalJobID: externalID, TaskID: task.ID, ProjectID: project.ID})
		if err != nil {
			t.Fatalf("create job %d: %v", externalID, err)
		}
		jobs = append(jobs, job)
	}
	return lifecycleFixture{store: store, project: project, task: task, jobs: jobs}
}

func TestLifecycleStore_CreateJobAndTaskAreIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 31)

	again, err := fx.store.CreateJob(ctx, core.Job{ExternalJobID: 31, TaskID: fx.task.ID, ProjectID: fx.project.ID})
	if err != nil {
		t.Fatalf("create job again: %v", err)
	}
	if again.ID != fx.jobs[0].ID {
		t.Fatalf("expected existing job id %s, got %s", fx.jobs[0].ID, again.ID)
	}
	task, err := fx.store.CreateTask(ctx, core.Task{ExternalTaskID: 20, ProjectID: fx.project.ID})
	if err != nil {
		t.Fatalf("create task again: %v", err)
	}
	if task.ID != fx.task.ID {
		t.Fatalf("expected existing task id %s, got %s", fx.task.ID, task.ID)
	}
	jobs, err := fx.store.ListJobsByProject(ctx, fx.project.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != core.JobStatusNew {
		t.Fatalf("unexpected jobs %#v", jobs)
	}
}

func TestLifecycleStore_FindFreeJobPicksLowestExternalID(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 7, 3, 5)

	job, ok, err := fx.store.FindFreeJob(ctx, fx.project.ID, workerA)
	if err != nil || !ok {
		t.Fatalf("find free job: ok=%v err=%v", ok, err)
	}
	if job.ExternalJobID != 3 {
		t.Fatalf("expected external job 3, got %d", job.ExternalJobID)
	}

	if _, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               job.ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	next, ok, err := fx.store.FindFreeJob(ctx, fx.project.ID, workerB)
	if err != nil || !ok {
		t.Fatalf("find next job: ok=%v err=%v", ok, err)
	}
	if next.ExternalJobID != 5 {
		t.Fatalf("expected live assignment to hide job 3, got %d", next.ExternalJobID)
	}
}

func TestLifecycleStore_FindFreeJobSkipsJobsPreviouslyHeldByWorker(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 1, 2)

	assignment, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[0].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if _, err := fx.store.TransitionAssignment(ctx, assignment.ID, core.AssignmentStatusExpired, time.Time{}); err != nil {
		t.Fatalf("expire assignment: %v", err)
	}

	job, ok, err := fx.store.FindFreeJob(ctx, fx.project.ID, workerA)
	if err != nil || !ok {
		t.Fatalf("find free job: ok=%v err=%v", ok, err)
	}
	if job.ExternalJobID != 2 {
		t.Fatalf("expected worker to skip previously held job, got %d", job.ExternalJobID)
	}
	other, ok, err := fx.store.FindFreeJob(ctx, fx.project.ID, workerB)
	if err != nil || !ok || other.ExternalJobID != 1 {
		t.Fatalf("expected another worker to get job 1, got %#v ok=%v err=%v", other, ok, err)
	}

	for _, job := range fx.jobs {
		if _, err := fx.store.TransitionJob(ctx, job.ID, core.JobStatusCompleted); err != nil {
			t.Fatalf("complete job: %v", err)
		}
	}
	if _, ok, err := fx.store.FindFreeJob(ctx, fx.project.ID, workerB); err != nil || ok {
		t.Fatalf("expected no free job, got ok=%v err=%v", ok, err)
	}
}

func TestLifecycleStore_HasLiveAssignmentIgnoresExpiredRows(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 1, 2)

	if _, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[0].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create expired assignment: %v", err)
	}
	live, err := fx.store.HasLiveAssignment(ctx, workerA, fx.project.ID)
	if err != nil {
		t.Fatalf("has live: %v", err)
	}
	if live {
		t.Fatalf("expected timed out assignment not to count as live")
	}

	expired, err := fx.store.ListExpiredAssignments(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected one expired assignment, got %d", len(expired))
	}

	if _, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[1].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create live assignment: %v", err)
	}
	live, err = fx.store.HasLiveAssignment(ctx, "0X1111111111111111111111111111111111111111", fx.project.ID)
	if err != nil {
		t.Fatalf("has live: %v", err)
	}
	if !live {
		t.Fatalf("expected wallet comparison to be case insensitive")
	}
}

func TestLifecycleStore_StaleAssignmentsFollowProjectStatus(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 1)
	if _, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[0].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	stale, err := fx.store.ListStaleAssignments(ctx, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale assignments while annotating")
	}
	if _, err := fx.store.TransitionProject(ctx, fx.project.ID, core.ProjectStatusCanceled); err != nil {
		t.Fatalf("cancel project: %v", err)
	}
	stale, err = fx.store.ListStaleAssignments(ctx, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected one stale assignment, got %d", len(stale))
	}
}

func TestLifecycleStore_TransitionsRejectInvalidMoves(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 1)

	if _, err := fx.store.TransitionProject(ctx, fx.project.ID, core.ProjectStatusCreation); !core.IsInvalidTransitionError(err) {
		t.Fatalf("expected invalid project transition, got %v", err)
	}
	if _, err := fx.store.TransitionTask(ctx, fx.task.ID, core.TaskStatusCompleted); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if _, err := fx.store.TransitionJob(ctx, fx.jobs[0].ID, core.JobStatusCompleted); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if _, err := fx.store.TransitionJob(ctx, fx.jobs[0].ID, core.JobStatusNew); !core.IsInvalidTransitionError(err) {
		t.Fatalf("expected completed job not to return to new, got %v", err)
	}

	assignment, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[0].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	completedAt := time.Now().UTC().Truncate(time.Second)
	done, err := fx.store.TransitionAssignment(ctx, assignment.ID, core.AssignmentStatusCompleted, completedAt)
	if err != nil {
		t.Fatalf("complete assignment: %v", err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(completedAt) {
		t.Fatalf("expected completed_at %s, got %v", completedAt, done.CompletedAt)
	}
	if _, err := fx.store.TransitionAssignment(ctx, assignment.ID, core.AssignmentStatusExpired, time.Time{}); !core.IsInvalidTransitionError(err) {
		t.Fatalf("expected completed assignment not to expire, got %v", err)
	}
}

func TestLifecycleStore_DeleteProjectsByEscrowRemovesChildren(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t, 1, 2)
	if _, err := fx.store.CreateAssignment(ctx, core.Assignment{
		JobID:               fx.jobs[0].ID,
		WorkerWalletAddress: workerA,
		ExpiresAt:           time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	deleted, err := fx.store.DeleteProjectsByEscrow(ctx, escrow, 80002)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one deleted project, got %d", deleted)
	}
	if _, err := fx.store.GetProject(ctx, fx.project.ID); !core.IsNotFoundError(err) {
		t.Fatalf("expected project to be gone, got %v", err)
	}
	jobs, err := fx.store.ListJobsByProject(ctx, fx.project.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected jobs to be removed, got %d", len(jobs))
	}
	_, total, err := fx.store.ListAssignments(ctx, core.AssignmentFilter{WorkerWalletAddress: workerA})
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected assignments to be removed, got %d", total)
	}
}

func TestLifecycleStore_ListProjectsFilters(t *testing.T) {
	ctx := context.Background()
	fx := newLifecycleFixture(t)
	if _, err := fx.store.CreateProject(ctx, core.Project{EscrowAddress: "0xother", ChainID: 1}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	projects, total, err := fx.store.ListProjects(ctx, core.ProjectFilter{Status: core.ProjectStatusAnnotation})
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if total != 1 || projects[0].ID != fx.project.ID {
		t.Fatalf("unexpected projects %#v total=%d", projects, total)
	}
	byEscrow, err := fx.store.ListProjectsByEscrow(ctx, "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", 80002)
	if err != nil {
		t.Fatalf("list by escrow: %v", err)
	}
	if len(byEscrow) != 1 {
		t.Fatalf("expected escrow lookup to ignore address case, got %d", len(byEscrow))
	}
	creating, err := fx.store.ListProjectsByStatus(ctx, core.ProjectStatusCreation, 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(creating) != 1 || creating[0].EscrowAddress != "0xother" {
		t.Fatalf("expected the default status to be creation, got %#v", creating)
	}
}
