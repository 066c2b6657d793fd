package lifecycle

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/goliatone/go-oracle/core"
)

// TrackEscrowCreation persists the CVAT jobs of projects still in creation
// and moves a project to annotation once every task reports jobs.
func (e *Engine) TrackEscrowCreation(ctx context.Context, batchSize int) (int, error) {
	advanced := 0
	err := e.pass(ctx, "lifecycle.track_escrow_creation", func(ctx context.Context, tx core.Stores) error {
		projects, err := tx.Lifecycle().ListProjectsByStatus(ctx, core.ProjectStatusCreation, limitOrDefault(batchSize))
		if err != nil {
			return err
		}
		each(ctx, e, tx, "lifecycle track escrow creation", projects, projectFields,
			func(ctx context.Context, tx core.Stores, project core.Project) error {
				ready, err := e.syncProjectJobs(ctx, tx, project)
				if err != nil || !ready {
					return err
				}
				if _, err := tx.Lifecycle().TransitionProject(ctx, project.ID, core.ProjectStatusAnnotation); err != nil {
					return err
				}
				advanced++
				e.observer().Info(ctx, "lifecycle project ready for annotation", projectFields(project))
				return nil
			})
		return nil
	})
	return advanced, err
}

func (e *Engine) syncProjectJobs(ctx context.Context, tx core.Stores, project core.Project) (bool, error) {
	tasks, err := tx.Lifecycle().ListTasksByProject(ctx, project.ID)
	if err != nil || len(tasks) == 0 {
		return false, err
	}
	for _, task := range tasks {
		jobs, err := e.CVAT.ListTaskJobs(ctx, task.ExternalTaskID)
		if err != nil {
			return false, err
		}
		if len(jobs) == 0 {
			return false, nil
		}
		for _, job := range jobs {
			if _, err := tx.Lifecycle().CreateJob(ctx, core.Job{
				ExternalJobID: job.ID,
				TaskID:        task.ID,
				ProjectID:     project.ID,
				Status:        core.JobStatusNew,
			}); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// TrackCompletedTasks completes annotation tasks whose jobs are all completed
// and reopens completed tasks that regained an unfinished job.
func (e *Engine) TrackCompletedTasks(ctx context.Context, batchSize int) (int, error) {
	changed := 0
	err := e.pass(ctx, "lifecycle.track_completed_tasks", func(ctx context.Context, tx core.Stores) error {
		for _, current := range []core.TaskStatus{core.TaskStatusAnnotation, core.TaskStatusCompleted} {
			tasks, err := tx.Lifecycle().ListTasksByStatus(ctx, current, limitOrDefault(batchSize))
			if err != nil {
				return err
			}
			each(ctx, e, tx, "lifecycle track completed tasks", tasks, taskFields,
				func(ctx context.Context, tx core.Stores, task core.Task) error {
					jobs, err := tx.Lifecycle().ListJobsByTask(ctx, task.ID)
					if err != nil || len(jobs) == 0 {
						return err
					}
					next := nextTaskStatus(task.Status, jobs)
					if next == task.Status {
						return nil
					}
					if _, err := tx.Lifecycle().TransitionTask(ctx, task.ID, next); err != nil {
						return err
					}
					changed++
					return nil
				})
		}
		return nil
	})
	return changed, err
}

func nextTaskStatus(current core.TaskStatus, jobs []core.Job) core.TaskStatus {
	done := lo.EveryBy(jobs, func(job core.Job) bool { return job.Status == core.JobStatusCompleted })
	switch {
	case current == core.TaskStatusAnnotation && done:
		return core.TaskStatusCompleted
	case current == core.TaskStatusCompleted && !done:
		return core.TaskStatusAnnotation
	default:
		return current
	}
}

// TrackCompletedProjects completes annotation projects whose tasks are all
// completed and reopens completed projects that regained an open task.
func (e *Engine) TrackCompletedProjects(ctx context.Context, batchSize int) (int, error) {
	changed := 0
	err := e.pass(ctx, "lifecycle.track_completed_projects", func(ctx context.Context, tx core.Stores) error {
		for _, current := range []core.ProjectStatus{core.ProjectStatusAnnotation, core.ProjectStatusCompleted} {
			projects, err := tx.Lifecycle().ListProjectsByStatus(ctx, current, limitOrDefault(batchSize))
			if err != nil {
				return err
			}
			each(ctx, e, tx, "lifecycle track completed projects", projects, projectFields,
				func(ctx context.Context, tx core.Stores, project core.Project) error {
					tasks, err := tx.Lifecycle().ListTasksByProject(ctx, project.ID)
					if err != nil || len(tasks) == 0 {
						return err
					}
					next := nextProjectStatus(project.Status, tasks)
					if next == project.Status {
						return nil
					}
					if _, err := tx.Lifecycle().TransitionProject(ctx, project.ID, next); err != nil {
						return err
					}
					changed++
					return nil
				})
		}
		return nil
	})
	return changed, err
}

func nextProjectStatus(current core.ProjectStatus, tasks []core.Task) core.ProjectStatus {
	done := lo.EveryBy(tasks, func(task core.Task) bool { return task.Status == core.TaskStatusCompleted })
	switch {
	case current == core.ProjectStatusAnnotation && done:
		return core.ProjectStatusCompleted
	case current == core.ProjectStatusCompleted && !done:
		return core.ProjectStatusAnnotation
	default:
		return current
	}
}

// TrackAssignments expires timed out assignments and cancels live ones whose
// project left annotation.
func (e *Engine) TrackAssignments(ctx context.Context, batchSize int) (int, error) {
	released := 0
	err := e.pass(ctx, "lifecycle.track_assignments", func(ctx context.Context, tx core.Stores) error {
		now := e.now()
		expired, err := tx.Lifecycle().ListExpiredAssignments(ctx, now, limitOrDefault(batchSize))
		if err != nil {
			return err
		}
		stale, err := tx.Lifecycle().ListStaleAssignments(ctx, limitOrDefault(batchSize))
		if err != nil {
			return err
		}
		release := func(status core.AssignmentStatus) func(context.Context, core.Stores, core.Assignment) error {
			return func(ctx context.Context, tx core.Stores, assignment core.Assignment) error {
				if err := e.releaseAssignment(ctx, tx, assignment, status, now); err != nil {
					return err
				}
				released++
				return nil
			}
		}
		each(ctx, e, tx, "lifecycle expire assignment", expired, assignmentFields, release(core.AssignmentStatusExpired))
		stale = lo.Reject(stale, func(assignment core.Assignment, _ int) bool {
			return lo.ContainsBy(expired, func(candidate core.Assignment) bool { return candidate.ID == assignment.ID })
		})
		each(ctx, e, tx, "lifecycle cancel assignment", stale, assignmentFields, release(core.AssignmentStatusCanceled))
		return nil
	})
	return released, err
}

// releaseAssignment ends a live assignment. The CVAT job is unassigned and
// freed only when the assignment is still the job's latest one.
func (e *Engine) releaseAssignment(
	ctx context.Context,
	tx core.Stores,
	assignment core.Assignment,
	status core.AssignmentStatus,
	at time.Time,
) error {
	store := tx.Lifecycle()
	latest, ok, err := store.LatestAssignment(ctx, assignment.JobID)
	if err != nil {
		return err
	}
	if ok && latest.ID == assignment.ID {
		job, err := store.GetJob(ctx, assignment.JobID)
		if err != nil {
			return err
		}
		if err := e.CVAT.UnassignJob(ctx, job.ExternalJobID); err != nil && !core.IsNotFoundError(err) {
			return err
		}
		if err := store.SetJobAssignee(ctx, job.ID, ""); err != nil {
			return err
		}
		if job.Status == core.JobStatusInProgress {
			if _, err := store.TransitionJob(ctx, job.ID, core.JobStatusNew); err != nil {
				return err
			}
		}
	}
	if _, err := store.TransitionAssignment(ctx, assignment.ID, status, at); err != nil {
		return err
	}
	fields := assignmentFields(assignment)
	fields["next_status"] = status
	e.observer().Info(ctx, "lifecycle assignment released", fields)
	return nil
}

// pass runs fn in one transaction and reports it as a single operation.
func (e *Engine) pass(ctx context.Context, operation string, fn func(ctx context.Context, tx core.Stores) error) error {
	startedAt := time.Now()
	err := e.Stores.RunInTx(ctx, fn)
	e.observer().ObserveOperation(ctx, startedAt, operation, err, nil)
	return err
}
