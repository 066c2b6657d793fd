package lifecycle

import (
	"context"

	"github.com/samber/lo"

	"github.com/goliatone/go-oracle/core"
)

// rejectJobs reopens the listed CVAT jobs after the recording oracle refused
// their annotations. Jobs become rejected, their latest assignments are
// rejected, and the owning tasks and projects return to annotation.
func (e *Engine) rejectJobs(
	ctx context.Context,
	tx core.Stores,
	escrowAddress string,
	chainID int64,
	externalJobIDs []int64,
) error {
	store := tx.Lifecycle()
	projects, err := store.ListProjectsByEscrow(ctx, escrowAddress, chainID)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(projects, func(project core.Project) string { return project.ID })

	reopenedTasks := map[string]struct{}{}
	reopenedProjects := map[string]struct{}{}
	for _, externalJobID := range lo.Uniq(externalJobIDs) {
		fields := escrowFields(escrowAddress, chainID)
		fields["external_job_id"] = externalJobID
		job, err := store.GetJobByExternalID(ctx, externalJobID)
		if err != nil {
			if core.IsNotFoundError(err) {
				e.observer().Warn(ctx, "lifecycle rejected job is unknown", fields)
				continue
			}
			return err
		}
		if _, ok := byID[job.ProjectID]; !ok {
			e.observer().Warn(ctx, "lifecycle rejected job belongs to another escrow", fields)
			continue
		}
		if job.Status != core.JobStatusRejected {
			if _, err := store.TransitionJob(ctx, job.ID, core.JobStatusRejected); err != nil {
				return err
			}
		}
		if err := store.SetJobAssignee(ctx, job.ID, ""); err != nil {
			return err
		}
		latest, ok, err := store.LatestAssignment(ctx, job.ID)
		if err != nil {
			return err
		}
		if ok && latest.Status.TransitionTo(core.AssignmentStatusRejected) == nil {
			if _, err := store.TransitionAssignment(ctx, latest.ID, core.AssignmentStatusRejected, e.now()); err != nil {
				return err
			}
		}
		reopenedTasks[job.TaskID] = struct{}{}
		reopenedProjects[job.ProjectID] = struct{}{}
	}

	for taskID := range reopenedTasks {
		if _, err := store.TransitionTask(ctx, taskID, core.TaskStatusAnnotation); err != nil {
			return err
		}
	}
	for projectID := range reopenedProjects {
		project := byID[projectID]
		if project.Status == core.ProjectStatusAnnotation {
			continue
		}
		if _, err := store.TransitionProject(ctx, projectID, core.ProjectStatusAnnotation); err != nil {
			return err
		}
		e.observer().Info(ctx, "lifecycle project reopened for annotation", projectFields(project))
	}
	return nil
}
