package oracle

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-oracle/adapters/gocommand"
	oraclecommand "github.com/goliatone/go-oracle/command"
	"github.com/goliatone/go-oracle/core"
	oraclequery "github.com/goliatone/go-oracle/query"
	"github.com/goliatone/go-oracle/webhooks"
)

type Commands struct {
	RegisterWebhook    *oraclecommand.RegisterWebhookCommand
	CreateAssignment   *oraclecommand.CreateAssignmentCommand
	CompleteAssignment *oraclecommand.CompleteAssignmentCommand
	RunTask            *oraclecommand.RunTaskCommand
}

type Queries struct {
	GetWebhook      *oraclequery.GetWebhookQuery
	ListWebhooks    *oraclequery.ListWebhooksQuery
	GetProject      *oraclequery.GetProjectQuery
	ListProjects    *oraclequery.ListProjectsQuery
	ListAssignments *oraclequery.ListAssignmentsQuery
}

// FacadeDependencies are the services behind each command and query.
type FacadeDependencies struct {
	Webhooks    oraclecommand.WebhookRegistrar
	Assignments oraclecommand.AssignmentService
	Tasks       oraclecommand.TaskRunner
	Stores      core.Stores
}

// Facade registers the oracle commands and queries with go-command so they
// can be dispatched by message type. Close releases the dispatcher
// subscriptions.
type Facade struct {
	commands Commands
	queries  Queries
	bus      *gocommand.Bus
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	queueRegistry *jobqueuecommand.Registry
}

// WithQueueRegistry mirrors every command into a go-job queue registry.
func WithQueueRegistry(registry *jobqueuecommand.Registry) FacadeOption {
	return func(options *facadeOptions) {
		options.queueRegistry = registry
	}
}

func NewFacade(deps FacadeDependencies, opts ...FacadeOption) (*Facade, error) {
	if deps.Webhooks == nil || deps.Assignments == nil || deps.Tasks == nil {
		return nil, fmt.Errorf("oracle: webhook, assignment and task services are required")
	}
	if deps.Stores == nil {
		return nil, fmt.Errorf("oracle: stores are required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	lifecycleStore := deps.Stores.Lifecycle()
	facade := &Facade{bus: gocommand.NewBus(nil)}
	facade.commands = Commands{
		RegisterWebhook:    oraclecommand.NewRegisterWebhookCommand(deps.Webhooks),
		CreateAssignment:   oraclecommand.NewCreateAssignmentCommand(deps.Assignments),
		CompleteAssignment: oraclecommand.NewCompleteAssignmentCommand(deps.Assignments),
		RunTask:            oraclecommand.NewRunTaskCommand(deps.Tasks),
	}
	facade.queries = Queries{
		GetWebhook:      oraclequery.NewGetWebhookQuery(deps.Stores.Webhooks()),
		ListWebhooks:    oraclequery.NewListWebhooksQuery(deps.Stores.Webhooks()),
		GetProject:      oraclequery.NewGetProjectQuery(lifecycleStore),
		ListProjects:    oraclequery.NewListProjectsQuery(lifecycleStore),
		ListAssignments: oraclequery.NewListAssignmentsQuery(lifecycleStore),
	}

	if cfg.queueRegistry != nil {
		if err := facade.bus.MirrorToQueue(cfg.queueRegistry); err != nil {
			return nil, err
		}
	}
	if err := facade.register(); err != nil {
		facade.Close()
		return nil, err
	}
	return facade, nil
}

func (f *Facade) register() error {
	b := f.bus
	c, q := f.commands, f.queries
	steps := []func() error{
		func() error { return gocommand.HandleCommand(b, c.RegisterWebhook) },
		func() error { return gocommand.HandleCommand(b, c.CreateAssignment) },
		func() error { return gocommand.HandleCommand(b, c.CompleteAssignment) },
		func() error { return gocommand.HandleCommand(b, c.RunTask) },
		func() error { return gocommand.HandleQuery(b, q.GetWebhook) },
		func() error { return gocommand.HandleQuery(b, q.ListWebhooks) },
		func() error { return gocommand.HandleQuery(b, q.GetProject) },
		func() error { return gocommand.HandleQuery(b, q.ListProjects) },
		func() error { return gocommand.HandleQuery(b, q.ListAssignments) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return b.Seal()
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Close() {
	if f == nil {
		return
	}
	f.bus.Close()
}

func (f *Facade) RegisterWebhook(ctx context.Context, req webhooks.InboundRequest) (core.Webhook, bool, error) {
	result, err := execute[oraclecommand.RegisterWebhookMessage, oraclecommand.RegisterWebhookResult](
		ctx, f.commands.RegisterWebhook, oraclecommand.RegisterWebhookMessage{Request: req},
	)
	return result.Webhook, result.Created, err
}

func (f *Facade) CreateAssignment(ctx context.Context, wallet string, projectID string) (core.Assignment, bool, error) {
	result, err := execute[oraclecommand.CreateAssignmentMessage, oraclecommand.CreateAssignmentResult](
		ctx, f.commands.CreateAssignment, oraclecommand.CreateAssignmentMessage{WalletAddress: wallet, ProjectID: projectID},
	)
	return result.Assignment, result.Found, err
}

func (f *Facade) CompleteAssignment(ctx context.Context, externalJobID int64, wallet string) (bool, error) {
	result, err := execute[oraclecommand.CompleteAssignmentMessage, oraclecommand.CompleteAssignmentResult](
		ctx, f.commands.CompleteAssignment, oraclecommand.CompleteAssignmentMessage{ExternalJobID: externalJobID, WalletAddress: wallet},
	)
	return result.Completed, err
}

func (f *Facade) RunTask(ctx context.Context, name string) error {
	msg := oraclecommand.RunTaskMessage{Name: name}
	if err := gocommand.CheckMessage(msg); err != nil {
		return err
	}
	return f.commands.RunTask.Execute(ctx, msg)
}

func (f *Facade) GetWebhook(ctx context.Context, id string) (core.Webhook, error) {
	return ask[oraclequery.GetWebhookMessage, core.Webhook](ctx, f.queries.GetWebhook, oraclequery.GetWebhookMessage{ID: id})
}

func (f *Facade) ListWebhooks(ctx context.Context, filter core.WebhookListFilter) (oraclequery.WebhookPage, error) {
	return ask[oraclequery.ListWebhooksMessage, oraclequery.WebhookPage](ctx, f.queries.ListWebhooks, oraclequery.ListWebhooksMessage{Filter: filter})
}

func (f *Facade) GetProject(ctx context.Context, id string) (core.Project, error) {
	return ask[oraclequery.GetProjectMessage, core.Project](ctx, f.queries.GetProject, oraclequery.GetProjectMessage{ID: id})
}

func (f *Facade) ListProjects(ctx context.Context, filter core.ProjectFilter) (oraclequery.ProjectPage, error) {
	return ask[oraclequery.ListProjectsMessage, oraclequery.ProjectPage](ctx, f.queries.ListProjects, oraclequery.ListProjectsMessage{Filter: filter})
}

func (f *Facade) ListAssignments(ctx context.Context, filter core.AssignmentFilter) ([]core.Assignment, int, error) {
	page, err := ask[oraclequery.ListAssignmentsMessage, oraclequery.AssignmentPage](
		ctx, f.queries.ListAssignments, oraclequery.ListAssignmentsMessage{Filter: filter},
	)
	return page.Items, page.Total, err
}

// execute runs cmd in process with a result collector so handler errors keep
// their envelope. Dispatch through go-command is for external callers.
func execute[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := gocommand.CheckMessage(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, _ := collector.Load()
	return value, nil
}

func ask[T any, R any](ctx context.Context, qry gocmd.Querier[T, R], msg T) (R, error) {
	if err := gocommand.CheckMessage(msg); err != nil {
		var zero R
		return zero, err
	}
	return qry.Query(ctx, msg)
}
