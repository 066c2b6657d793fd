package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/storage"
)

const AnnotationMetaFile = "annotation_meta.json"

type JobMeta struct {
	JobID                  int64  `json:"job_id"`
	TaskID                 int64  `json:"task_id"`
	ProjectID              int64  `json:"project_id"`
	AnnotationFilename     string `json:"annotation_filename"`
	AnnotatorWalletAddress string `json:"annotator_wallet_address"`
	AssignmentID           string `json:"assignment_id"`
}

// AnnotationMeta describes every archive uploaded for one escrow.
type AnnotationMeta struct {
	Jobs []JobMeta `json:"jobs"`
}

// ResultFilename names the annotation archive of one job.
func ResultFilename(externalProjectID, externalTaskID, externalJobID int64, wallet, assignmentID string) string {
	return fmt.Sprintf("project_%d-task_%d-job_%d-user_%s-assignment_%s.zip",
		externalProjectID, externalTaskID, externalJobID, wallet, assignmentID)
}

// TrackCompletedEscrows exports the annotations of escrows whose live
// projects are all completed to the results bucket, marks those projects
// recorded and notifies the recording oracle once per escrow. Canceled and
// deleted projects do not hold an escrow back; recorded ones are exported
// again so the metafile always covers the whole escrow.
func (e *Engine) TrackCompletedEscrows(ctx context.Context, batchSize int) (int, error) {
	if e.Storage == nil {
		return 0, fmt.Errorf("lifecycle: results storage is not configured")
	}
	recorded := 0
	err := e.pass(ctx, "lifecycle.track_completed_escrows", func(ctx context.Context, tx core.Stores) error {
		completed, err := tx.Lifecycle().ListProjectsByStatus(ctx, core.ProjectStatusCompleted, limitOrDefault(batchSize))
		if err != nil {
			return err
		}
		escrows := lo.UniqBy(completed, func(project core.Project) string {
			return storage.ResultsPrefix(project.EscrowAddress, project.ChainID)
		})
		sort.Slice(escrows, func(i, j int) bool {
			return storage.ResultsPrefix(escrows[i].EscrowAddress, escrows[i].ChainID) <
				storage.ResultsPrefix(escrows[j].EscrowAddress, escrows[j].ChainID)
		})

		each(ctx, e, tx, "lifecycle record escrow", escrows,
			func(project core.Project) map[string]any {
				return escrowFields(project.EscrowAddress, project.ChainID)
			},
			func(ctx context.Context, tx core.Stores, project core.Project) error {
				n, err := e.recordEscrow(ctx, tx, project.EscrowAddress, project.ChainID)
				recorded += n
				return err
			})
		return nil
	})
	return recorded, err
}

// escrowExport returns the projects to export for an escrow, or false while
// any live project is still in progress.
func escrowExport(projects []core.Project) ([]core.Project, bool) {
	export := make([]core.Project, 0, len(projects))
	for _, project := range projects {
		switch project.Status {
		case core.ProjectStatusCanceled, core.ProjectStatusDeleted:
		case core.ProjectStatusCompleted, core.ProjectStatusRecorded:
			export = append(export, project)
		default:
			return nil, false
		}
	}
	return export, lo.SomeBy(export, func(project core.Project) bool {
		return project.Status == core.ProjectStatusCompleted
	})
}

func (e *Engine) recordEscrow(ctx context.Context, tx core.Stores, escrowAddress string, chainID int64) (int, error) {
	all, err := tx.Lifecycle().ListProjectsByEscrow(ctx, escrowAddress, chainID)
	if err != nil {
		return 0, err
	}
	projects, ready := escrowExport(all)
	fields := escrowFields(escrowAddress, chainID)
	if !ready {
		fields["projects"] = len(all)
		e.observer().Debug(ctx, "lifecycle escrow still has projects in progress", fields)
		return 0, nil
	}

	meta := AnnotationMeta{Jobs: []JobMeta{}}
	for _, project := range projects {
		jobs, err := e.exportProject(ctx, tx, project)
		if err != nil {
			return 0, err
		}
		meta.Jobs = append(meta.Jobs, jobs...)
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: encode annotation meta: %w", err)
	}
	if err := e.Storage.PutObject(ctx, storage.ResultsKey(escrowAddress, chainID, AnnotationMetaFile), encoded, "application/json"); err != nil {
		return 0, err
	}
	transitioned := 0
	for _, project := range projects {
		if project.Status != core.ProjectStatusCompleted {
			continue
		}
		if _, err := tx.Lifecycle().TransitionProject(ctx, project.ID, core.ProjectStatusRecorded); err != nil {
			return 0, err
		}
		transitioned++
	}
	if _, err := e.Outbox.EnqueueOutboundTx(ctx, tx, core.RoleRecordingOracle, escrowAddress, chainID, events.TaskFinished{}); err != nil {
		return 0, err
	}
	fields["projects"] = transitioned
	fields["jobs"] = len(meta.Jobs)
	e.observer().Info(ctx, "lifecycle escrow results recorded", fields)
	return transitioned, nil
}

func (e *Engine) exportProject(ctx context.Context, tx core.Stores, project core.Project) ([]JobMeta, error) {
	store := tx.Lifecycle()
	tasks, err := store.ListTasksByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	tasksByID := lo.KeyBy(tasks, func(task core.Task) string { return task.ID })
	jobs, err := store.ListJobsByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ExternalJobID < jobs[j].ExternalJobID })

	out := make([]JobMeta, 0, len(jobs))
	for _, job := range jobs {
		fields := projectFields(project)
		fields["external_job_id"] = job.ExternalJobID
		if job.Status != core.JobStatusCompleted {
			e.observer().Warn(ctx, "lifecycle skipped unfinished job during export", fields)
			continue
		}
		latest, ok, err := store.LatestAssignment(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !ok || latest.Status != core.AssignmentStatusCompleted {
			e.observer().Warn(ctx, "lifecycle skipped job without a completed assignment", fields)
			continue
		}
		archive, err := e.CVAT.DownloadJobAnnotations(ctx, job.ExternalJobID)
		if err != nil {
			return nil, err
		}
		task := tasksByID[job.TaskID]
		filename := ResultFilename(project.ExternalProjectID, task.ExternalTaskID, job.ExternalJobID, latest.WorkerWalletAddress, latest.ID)
		if err := e.Storage.PutObject(ctx, storage.ResultsKey(project.EscrowAddress, project.ChainID, filename), archive, "application/zip"); err != nil {
			return nil, err
		}
		out = append(out, JobMeta{
			JobID:                  job.ExternalJobID,
			TaskID:                 task.ExternalTaskID,
			ProjectID:              project.ExternalProjectID,
			AnnotationFilename:     filename,
			AnnotatorWalletAddress: latest.WorkerWalletAddress,
			AssignmentID:           latest.ID,
		})
	}
	return out, nil
}
