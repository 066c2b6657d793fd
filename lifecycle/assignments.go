package lifecycle

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
)

const assignmentProjectScan = 100

// CreateAssignment hands wallet the free job with the lowest CVAT id. When
// projectID is empty every project in annotation is tried in turn. found is
// false when no job is available; that is not an error.
func (e *Engine) CreateAssignment(ctx context.Context, wallet string, projectID string) (assignment core.Assignment, found bool, err error) {
	startedAt := time.Now()
	wallet = strings.TrimSpace(wallet)
	projectID = strings.TrimSpace(projectID)
	defer func() {
		e.observer().ObserveOperation(ctx, startedAt, "lifecycle.create_assignment", err, map[string]any{
			"wallet":     wallet,
			"project_id": projectID,
			"found":      found,
		})
	}()
	if wallet == "" {
		return core.Assignment{}, false, core.NewValidationError("wallet address is required",
			goerrors.FieldError{Field: "wallet_address", Message: "is required"})
	}

	err = e.Stores.RunInTx(ctx, func(ctx context.Context, tx core.Stores) error {
		candidates := []string{projectID}
		if projectID == "" {
			projects, err := tx.Lifecycle().ListProjectsByStatus(ctx, core.ProjectStatusAnnotation, assignmentProjectScan)
			if err != nil {
				return err
			}
			candidates = candidates[:0]
			for _, project := range projects {
				candidates = append(candidates, project.ID)
			}
		}
		for _, candidate := range candidates {
			created, ok, err := e.assignInProject(ctx, tx, candidate, wallet)
			if err != nil {
				return err
			}
			if ok {
				assignment, found = created, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return core.Assignment{}, false, err
	}
	return assignment, found, nil
}

// assignInProject runs under the project row lock so two workers cannot pass
// the unfinished check for the same job concurrently.
func (e *Engine) assignInProject(ctx context.Context, tx core.Stores, projectID string, wallet string) (core.Assignment, bool, error) {
	store := tx.Lifecycle()
	project, err := store.LockProject(ctx, projectID)
	if err != nil {
		return core.Assignment{}, false, err
	}
	if project.Status != core.ProjectStatusAnnotation {
		return core.Assignment{}, false, nil
	}
	live, err := store.HasLiveAssignment(ctx, wallet, project.ID)
	if err != nil {
		return core.Assignment{}, false, err
	}
	if live {
		return core.Assignment{}, false, core.NewUnfinishedAssignmentError(wallet)
	}
	job, ok, err := store.FindFreeJob(ctx, project.ID, wallet)
	if err != nil || !ok {
		return core.Assignment{}, false, err
	}

	now := e.now()
	assignment, err := store.CreateAssignment(ctx, core.Assignment{
		JobID:               job.ID,
		WorkerWalletAddress: wallet,
		Status:              core.AssignmentStatusCreated,
		CreatedAt:           now,
		ExpiresAt:           now.Add(e.Config.AssignmentTime(project.JobType)),
	})
	if err != nil {
		return core.Assignment{}, false, err
	}
	if _, err := store.TransitionJob(ctx, job.ID, core.JobStatusInProgress); err != nil {
		return core.Assignment{}, false, err
	}
	if err := store.SetJobAssignee(ctx, job.ID, wallet); err != nil {
		return core.Assignment{}, false, err
	}
	if err := e.CVAT.AssignJob(ctx, job.ExternalJobID, wallet); err != nil {
		return core.Assignment{}, false, err
	}
	fields := assignmentFields(assignment)
	fields["external_job_id"] = job.ExternalJobID
	fields["expires_at"] = assignment.ExpiresAt
	e.observer().Info(ctx, "lifecycle assignment created", fields)
	return assignment, true, nil
}

// CompleteAssignment applies a CVAT "job finished" update. Updates for
// unknown jobs, other workers or already finished assignments are ignored;
// an update arriving after expiry expires the assignment instead.
func (e *Engine) CompleteAssignment(ctx context.Context, externalJobID int64, wallet string) (completed bool, err error) {
	startedAt := time.Now()
	wallet = strings.TrimSpace(wallet)
	fields := map[string]any{"external_job_id": externalJobID, "wallet": wallet}
	defer func() {
		fields["completed"] = completed
		e.observer().ObserveOperation(ctx, startedAt, "lifecycle.complete_assignment", err, fields)
	}()

	err = e.Stores.RunInTx(ctx, func(ctx context.Context, tx core.Stores) error {
		store := tx.Lifecycle()
		job, err := store.GetJobByExternalID(ctx, externalJobID)
		if err != nil {
			if core.IsNotFoundError(err) {
				fields["ignored"] = "unknown job"
				return nil
			}
			return err
		}
		latest, ok, err := store.LatestAssignment(ctx, job.ID)
		if err != nil {
			return err
		}
		switch {
		case !ok:
			fields["ignored"] = "no assignment"
			return nil
		case wallet != "" && !strings.EqualFold(latest.WorkerWalletAddress, wallet):
			fields["ignored"] = "assignee mismatch"
			return nil
		case latest.Status != core.AssignmentStatusCreated:
			fields["ignored"] = "assignment already finished"
			return nil
		}

		now := e.now()
		if !latest.ExpiresAt.After(now) {
			fields["ignored"] = "assignment expired"
			return e.releaseAssignment(ctx, tx, latest, core.AssignmentStatusExpired, now)
		}
		if _, err := store.TransitionAssignment(ctx, latest.ID, core.AssignmentStatusCompleted, now); err != nil {
			return err
		}
		if _, err := store.TransitionJob(ctx, job.ID, core.JobStatusCompleted); err != nil {
			return err
		}
		if err := store.SetJobAssignee(ctx, job.ID, ""); err != nil {
			return err
		}
		if err := e.CVAT.UnassignJob(ctx, job.ExternalJobID); err != nil && !core.IsNotFoundError(err) {
			return err
		}
		completed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return completed, nil
}
