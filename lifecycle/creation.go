package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/escrow"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/storage"
)

// provisioned tracks the CVAT resources created so far for one escrow.
type provisioned struct {
	cloudStorageID int64
	projectID      int64
}

// createEscrowProjects provisions CVAT for a newly funded escrow. A project
// already stored for the escrow makes this a no-op.
func (e *Engine) createEscrowProjects(ctx context.Context, tx core.Stores, escrowAddress string, chainID int64) error {
	fields := escrowFields(escrowAddress, chainID)
	existing, err := tx.Lifecycle().ListProjectsByEscrow(ctx, escrowAddress, chainID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		e.observer().Info(ctx, "lifecycle escrow already has projects", fields)
		return nil
	}
	if e.Escrows == nil {
		return fmt.Errorf("lifecycle: escrow reader is not configured")
	}
	info, err := e.Escrows.GetEscrow(ctx, chainID, escrowAddress)
	if err != nil {
		return err
	}
	if err := escrow.Validate(info, escrow.ValidateOptions{}); err != nil {
		return err
	}
	manifest, err := e.Escrows.GetManifest(ctx, info)
	if err != nil {
		return err
	}

	var created provisioned
	project, err := e.provision(ctx, tx, escrowAddress, chainID, manifest, &created)
	if err != nil {
		e.teardown(ctx, tx, escrowAddress, chainID, created)
		return err
	}
	fields = projectFields(project)
	fields["job_type"] = manifest.JobType
	e.observer().Info(ctx, "lifecycle escrow provisioned", fields)
	return nil
}

func (e *Engine) provision(
	ctx context.Context,
	tx core.Stores,
	escrowAddress string,
	chainID int64,
	manifest core.Manifest,
	created *provisioned,
) (core.Project, error) {
	cloudStorageID, err := e.CVAT.CreateCloudStorage(ctx, manifest.DataURL)
	if err != nil {
		return core.Project{}, err
	}
	created.cloudStorageID = cloudStorageID

	projectID, err := e.CVAT.CreateProject(ctx, core.CreateCVATProjectInput{
		Name:           escrowAddress,
		Labels:         manifest.Labels,
		CloudStorageID: cloudStorageID,
	})
	if err != nil {
		return core.Project{}, err
	}
	created.projectID = projectID

	taskID, err := e.CVAT.CreateTask(ctx, core.CreateCVATTaskInput{
		ProjectID:      projectID,
		Name:           escrowAddress,
		CloudStorageID: cloudStorageID,
		DataURL:        manifest.DataURL,
		JobSize:        manifest.JobSize,
	})
	if err != nil {
		return core.Project{}, err
	}

	project, err := tx.Lifecycle().CreateProject(ctx, core.Project{
		EscrowAddress:          escrowAddress,
		ChainID:                chainID,
		ExternalProjectID:      projectID,
		ExternalCloudStorageID: cloudStorageID,
		JobType:                manifest.JobType,
		BucketURL:              manifest.DataURL,
		Status:                 core.ProjectStatusCreation,
	})
	if err != nil {
		return core.Project{}, err
	}
	if _, err := tx.Lifecycle().CreateTask(ctx, core.Task{
		ExternalTaskID: taskID,
		ProjectID:      project.ID,
		Status:         core.TaskStatusAnnotation,
	}); err != nil {
		return core.Project{}, err
	}
	return project, nil
}

// teardown removes what provision managed to create. Failures are logged;
// the provisioning error is the one reported.
func (e *Engine) teardown(ctx context.Context, tx core.Stores, escrowAddress string, chainID int64, created provisioned) {
	fields := escrowFields(escrowAddress, chainID)
	if created.projectID > 0 {
		if err := e.CVAT.DeleteProject(ctx, created.projectID); err != nil && !core.IsNotFoundError(err) {
			fields["cvat_project_error"] = err.Error()
		}
	}
	if created.cloudStorageID > 0 {
		if err := e.CVAT.DeleteCloudStorage(ctx, created.cloudStorageID); err != nil && !core.IsNotFoundError(err) {
			fields["cvat_cloudstorage_error"] = err.Error()
		}
	}
	if _, err := tx.Lifecycle().DeleteProjectsByEscrow(ctx, escrowAddress, chainID); err != nil {
		fields["store_error"] = err.Error()
	}
	e.observer().Warn(ctx, "lifecycle escrow provisioning rolled back", fields)
}

// cancelEscrow stops work on a canceled escrow and tells the recording
// oracle the escrow was cleaned.
func (e *Engine) cancelEscrow(ctx context.Context, tx core.Stores, escrowAddress string, chainID int64) error {
	if err := e.cleanupEscrow(ctx, tx, escrowAddress, chainID, core.ProjectStatusCanceled); err != nil {
		return err
	}
	_, err := e.Outbox.EnqueueOutboundTx(ctx, tx, core.RoleRecordingOracle, escrowAddress, chainID, events.EscrowCleaned{})
	return err
}

// cleanupEscrow deletes the CVAT resources of every project under the escrow
// and moves the projects to final. Stored results are always removed, even
// when a CVAT deletion failed.
func (e *Engine) cleanupEscrow(
	ctx context.Context,
	tx core.Stores,
	escrowAddress string,
	chainID int64,
	final core.ProjectStatus,
) (err error) {
	defer func() {
		if e.Storage == nil {
			return
		}
		if removeErr := e.Storage.RemoveObjects(ctx, storage.ResultsPrefix(escrowAddress, chainID)); removeErr != nil {
			err = errors.Join(err, removeErr)
		}
	}()

	projects, err := tx.Lifecycle().ListProjectsByEscrow(ctx, escrowAddress, chainID)
	if err != nil {
		return err
	}
	for _, project := range projects {
		if project.Status == core.ProjectStatusDeleted {
			continue
		}
		fields := projectFields(project)
		if err := e.deleteCVATResources(ctx, project); err != nil {
			return err
		}
		if project.Status.TransitionTo(final) != nil {
			fields["target_status"] = final
			e.observer().Warn(ctx, "lifecycle project kept its status during cleanup", fields)
			continue
		}
		if _, err := tx.Lifecycle().TransitionProject(ctx, project.ID, final); err != nil {
			return err
		}
	}
	fields := escrowFields(escrowAddress, chainID)
	fields["projects"] = len(projects)
	fields["status"] = final
	e.observer().Info(ctx, "lifecycle escrow cleaned", fields)
	return nil
}

func (e *Engine) deleteCVATResources(ctx context.Context, project core.Project) error {
	fields := projectFields(project)
	if project.ExternalProjectID > 0 {
		if err := e.CVAT.DeleteProject(ctx, project.ExternalProjectID); err != nil {
			if !core.IsNotFoundError(err) {
				return err
			}
			e.observer().Warn(ctx, "lifecycle cvat project already removed", fields)
		}
	}
	if project.ExternalCloudStorageID > 0 {
		if err := e.CVAT.DeleteCloudStorage(ctx, project.ExternalCloudStorageID); err != nil {
			if !core.IsNotFoundError(err) {
				return err
			}
			e.observer().Warn(ctx, "lifecycle cvat cloud storage already removed", fields)
		}
	}
	return nil
}
