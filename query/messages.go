package query

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
)

const (
	TypeGetWebhook      = "oracle.query.webhook.get"
	TypeListWebhooks    = "oracle.query.webhook.list"
	TypeGetProject      = "oracle.query.project.get"
	TypeListProjects    = "oracle.query.project.list"
	TypeListAssignments = "oracle.query.assignment.list"
)

type GetWebhookMessage struct {
	ID string
}

func (GetWebhookMessage) Type() string { return TypeGetWebhook }

func (m GetWebhookMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalidField("id", "is required")
	}
	return nil
}

type ListWebhooksMessage struct {
	Filter core.WebhookListFilter
}

func (ListWebhooksMessage) Type() string { return TypeListWebhooks }

func (m ListWebhooksMessage) Validate() error {
	if m.Filter.Direction != "" && !m.Filter.Direction.Valid() {
		return invalidField("direction", "must be inbound or outbound")
	}
	if m.Filter.Role != "" && !m.Filter.Role.Valid() {
		return invalidField("role", "is not a known oracle role")
	}
	return validatePage(m.Filter.Limit, m.Filter.Offset)
}

type GetProjectMessage struct {
	ID string
}

func (GetProjectMessage) Type() string { return TypeGetProject }

func (m GetProjectMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalidField("id", "is required")
	}
	return nil
}

type ListProjectsMessage struct {
	Filter core.ProjectFilter
}

func (ListProjectsMessage) Type() string { return TypeListProjects }

func (m ListProjectsMessage) Validate() error {
	return validatePage(m.Filter.Limit, m.Filter.Offset)
}

type ListAssignmentsMessage struct {
	Filter core.AssignmentFilter
}

func (ListAssignmentsMessage) Type() string { return TypeListAssignments }

func (m ListAssignmentsMessage) Validate() error {
	return validatePage(m.Filter.Limit, m.Filter.Offset)
}

type WebhookPage struct {
	Items []core.Webhook
	Total int
}

type ProjectPage struct {
	Items []core.Project
	Total int
}

type AssignmentPage struct {
	Items []core.Assignment
	Total int
}

func validatePage(limit, offset int) error {
	if limit < 0 {
		return invalidField("limit", "must be >= 0")
	}
	if offset < 0 {
		return invalidField("offset", "must be >= 0")
	}
	return nil
}

func invalidField(field, message string) error {
	return core.NewValidationError("query: "+field+" "+message, goerrors.FieldError{Field: field, Message: message})
}
