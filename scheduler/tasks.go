package scheduler

import (
	"context"
	"errors"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/events"
	"github.com/goliatone/go-oracle/webhooks"
)

const (
	TaskProcessJobLauncherWebhooks       = "process_job_launcher_webhooks"
	TaskProcessRecordingOracleWebhooks   = "process_recording_oracle_webhooks"
	TaskProcessRecordingOracleCompletion = "process_recording_oracle_completion"
	TaskProcessReputationOracleWebhooks  = "process_reputation_oracle_webhooks"
	TaskProcessOutgoingWebhooks          = "process_outgoing_webhooks"
	TaskTrackEscrowCreation              = "track_escrow_creation"
	TaskTrackCompletedTasks              = "track_completed_tasks"
	TaskTrackCompletedProjects           = "track_completed_projects"
	TaskTrackCompletedEscrows            = "track_completed_escrows"
	TaskTrackAssignments                 = "track_assignments"
)

// OutboundDestinations are the roles this oracle delivers events to.
var OutboundDestinations = []core.Role{core.RoleJobLauncher, core.RoleRecordingOracle}

type Inbox interface {
	ProcessInbound(ctx context.Context, sender core.Role, handler webhooks.Handler, opts webhooks.ProcessOptions) (webhooks.ProcessStats, error)
	ProcessOutbound(ctx context.Context, destination core.Role, resolver core.URLResolver, opts webhooks.ProcessOptions) (webhooks.ProcessStats, error)
}

type Lifecycle interface {
	JobLauncherHandler() webhooks.Handler
	JobLauncherFinalFailure() webhooks.FinalFailureHook
	RecordingOracleHandler() webhooks.Handler
	ReputationOracleHandler() webhooks.Handler
	TrackEscrowCreation(ctx context.Context, batchSize int) (int, error)
	TrackCompletedTasks(ctx context.Context, batchSize int) (int, error)
	TrackCompletedProjects(ctx context.Context, batchSize int) (int, error)
	TrackCompletedEscrows(ctx context.Context, batchSize int) (int, error)
	TrackAssignments(ctx context.Context, batchSize int) (int, error)
}

// OracleTasks builds the exchange oracle's periodic passes from cfg. The
// recording oracle inbox is split so task_completed acknowledgements never
// wait behind rejections.
func OracleTasks(cfg core.CronConfig, inbox Inbox, engine Lifecycle, urls core.URLResolver) []Task {
	completion := []string{events.TypeTaskCompleted}
	return []Task{
		inboundTask(TaskProcessJobLauncherWebhooks, cfg.ProcessJobLauncherWebhooks, inbox, core.RoleJobLauncher,
			engine.JobLauncherHandler(), webhooks.ProcessOptions{OnFinalFailure: engine.JobLauncherFinalFailure()}),
		inboundTask(TaskProcessRecordingOracleWebhooks, cfg.ProcessRecordingOracleWebhooks, inbox, core.RoleRecordingOracle,
			engine.RecordingOracleHandler(), webhooks.ProcessOptions{ExcludeEventTypes: completion}),
		inboundTask(TaskProcessRecordingOracleCompletion, cfg.ProcessRecordingOracleCompletion, inbox, core.RoleRecordingOracle,
			engine.RecordingOracleHandler(), webhooks.ProcessOptions{EventTypes: completion}),
		inboundTask(TaskProcessReputationOracleWebhooks, cfg.ProcessReputationOracleWebhooks, inbox, core.RoleReputationOracle,
			engine.ReputationOracleHandler(), webhooks.ProcessOptions{}),
		{
			Name:     TaskProcessOutgoingWebhooks,
			Interval: cfg.ProcessOutgoingWebhooks.Interval,
			Run: func(ctx context.Context) error {
				var errs []error
				for _, destination := range OutboundDestinations {
					_, err := inbox.ProcessOutbound(ctx, destination, urls, webhooks.ProcessOptions{
						BatchSize: cfg.ProcessOutgoingWebhooks.BatchSize,
					})
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
		passTask(TaskTrackEscrowCreation, cfg.TrackEscrowCreation, engine.TrackEscrowCreation),
		passTask(TaskTrackCompletedTasks, cfg.TrackCompletedTasks, engine.TrackCompletedTasks),
		passTask(TaskTrackCompletedProjects, cfg.TrackCompletedProjects, engine.TrackCompletedProjects),
		passTask(TaskTrackCompletedEscrows, cfg.TrackCompletedEscrows, engine.TrackCompletedEscrows),
		passTask(TaskTrackAssignments, cfg.TrackAssignments, engine.TrackAssignments),
	}
}

// RegisterAll registers tasks, skipping those with a zero interval.
func (s *Scheduler) RegisterAll(tasks []Task) error {
	for _, task := range tasks {
		if task.Interval <= 0 {
			continue
		}
		if err := s.Register(task); err != nil {
			return err
		}
	}
	return nil
}

func inboundTask(
	name string,
	cfg core.CronTaskConfig,
	inbox Inbox,
	sender core.Role,
	handler webhooks.Handler,
	opts webhooks.ProcessOptions,
) Task {
	opts.BatchSize = cfg.BatchSize
	return Task{
		Name:     name,
		Interval: cfg.Interval,
		Run: func(ctx context.Context) error {
			_, err := inbox.ProcessInbound(ctx, sender, handler, opts)
			return err
		},
	}
}

func passTask(name string, cfg core.CronTaskConfig, pass func(context.Context, int) (int, error)) Task {
	return Task{
		Name:     name,
		Interval: cfg.Interval,
		Run: func(ctx context.Context) error {
			_, err := pass(ctx, cfg.BatchSize)
			return err
		},
	}
}
