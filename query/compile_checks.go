package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-oracle/core"
)

var (
	_ gocmd.Querier[GetWebhookMessage, core.Webhook]        = (*GetWebhookQuery)(nil)
	_ gocmd.Querier[ListWebhooksMessage, WebhookPage]       = (*ListWebhooksQuery)(nil)
	_ gocmd.Querier[GetProjectMessage, core.Project]        = (*GetProjectQuery)(nil)
	_ gocmd.Querier[ListProjectsMessage, ProjectPage]       = (*ListProjectsQuery)(nil)
	_ gocmd.Querier[ListAssignmentsMessage, AssignmentPage] = (*ListAssignmentsQuery)(nil)
)
