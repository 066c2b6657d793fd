package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RegisterWebhookMessage]    = (*RegisterWebhookCommand)(nil)
	_ gocmd.Commander[CreateAssignmentMessage]   = (*CreateAssignmentCommand)(nil)
	_ gocmd.Commander[CompleteAssignmentMessage] = (*CompleteAssignmentCommand)(nil)
	_ gocmd.Commander[RunTaskMessage]            = (*RunTaskCommand)(nil)
)
