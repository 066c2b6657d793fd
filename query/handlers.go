package query

import (
	"context"

	"github.com/goliatone/go-oracle/core"
)

type WebhookReader interface {
	Get(ctx context.Context, id string) (core.Webhook, error)
	List(ctx context.Context, filter core.WebhookListFilter) ([]core.Webhook, int, error)
}

type ProjectReader interface {
	GetProject(ctx context.Context, id string) (core.Project, error)
	ListProjects(ctx context.Context, filter core.ProjectFilter) ([]core.Project, int, error)
}

type AssignmentReader interface {
	ListAssignments(ctx context.Context, filter core.AssignmentFilter) ([]core.Assignment, int, error)
}

type GetWebhookQuery struct {
	reader WebhookReader
}

func NewGetWebhookQuery(reader WebhookReader) *GetWebhookQuery {
	return &GetWebhookQuery{reader: reader}
}

func (q *GetWebhookQuery) Query(ctx context.Context, msg GetWebhookMessage) (core.Webhook, error) {
	if q == nil || q.reader == nil {
		return core.Webhook{}, core.NewInternalError("query: webhook reader is required", nil)
	}
	return q.reader.Get(ctx, msg.ID)
}

type ListWebhooksQuery struct {
	reader WebhookReader
}

func NewListWebhooksQuery(reader WebhookReader) *ListWebhooksQuery {
	return &ListWebhooksQuery{reader: reader}
}

func (q *ListWebhooksQuery) Query(ctx context.Context, msg ListWebhooksMessage) (WebhookPage, error) {
	if q == nil || q.reader == nil {
		return WebhookPage{}, core.NewInternalError("query: webhook reader is required", nil)
	}
	items, total, err := q.reader.List(ctx, msg.Filter)
	if err != nil {
		return WebhookPage{}, err
	}
	return WebhookPage{Items: items, Total: total}, nil
}

type GetProjectQuery struct {
	reader ProjectReader
}

func NewGetProjectQuery(reader ProjectReader) *GetProjectQuery {
	return &GetProjectQuery{reader: reader}
}

func (q *GetProjectQuery) Query(ctx context.Context, msg GetProjectMessage) (core.Project, error) {
	if q == nil || q.reader == nil {
		return core.Project{}, core.NewInternalError("query: project reader is required", nil)
	}
	return q.reader.GetProject(ctx, msg.ID)
}

type ListProjectsQuery struct {
	reader ProjectReader
}

func NewListProjectsQuery(reader ProjectReader) *ListProjectsQuery {
	return &ListProjectsQuery{reader: reader}
}

func (q *ListProjectsQuery) Query(ctx context.Context, msg ListProjectsMessage) (ProjectPage, error) {
	if q == nil || q.reader == nil {
		return ProjectPage{}, core.NewInternalError("query: project reader is required", nil)
	}
	items, total, err := q.reader.ListProjects(ctx, msg.Filter)
	if err != nil {
		return ProjectPage{}, err
	}
	return ProjectPage{Items: items, Total: total}, nil
}

type ListAssignmentsQuery struct {
	reader AssignmentReader
}

func NewListAssignmentsQuery(reader AssignmentReader) *ListAssignmentsQuery {
	return &ListAssignmentsQuery{reader: reader}
}

func (q *ListAssignmentsQuery) Query(ctx context.Context, msg ListAssignmentsMessage) (AssignmentPage, error) {
	if q == nil || q.reader == nil {
		return AssignmentPage{}, core.NewInternalError("query: assignment reader is required", nil)
	}
	items, total, err := q.reader.ListAssignments(ctx, msg.Filter)
	if err != nil {
		return AssignmentPage{}, err
	}
	return AssignmentPage{Items: items, Total: total}, nil
}
