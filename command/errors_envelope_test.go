package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/webhooks"
)

func TestMessages_ValidateNamesTheBadField(t *testing.T) {
	tests := []struct {
		name  string
		msg   interface{ Validate() error }
		field string
	}{
		{name: "empty webhook body", msg: RegisterWebhookMessage{}, field: "body"},
		{name: "assignment without wallet", msg: CreateAssignmentMessage{WalletAddress: " ", ProjectID: "p1"}, field: "wallet_address"},
		{name: "completion without job", msg: CompleteAssignmentMessage{WalletAddress: "0xabc"}, field: "job_id"},
		{name: "task without name", msg: RunTaskMessage{}, field: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tt.msg.Validate(), &rich) {
				t.Fatalf("expected go-errors envelope")
			}
			if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
				t.Fatalf("expected validation/%s, got %s/%s", core.ErrorBadInput, rich.Category, rich.TextCode)
			}
			if rich.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rich.Code)
			}
			if fields := rich.AllValidationErrors(); len(fields) != 1 || fields[0].Field != tt.field {
				t.Fatalf("expected field %q, got %#v", tt.field, fields)
			}
		})
	}

	ok := RegisterWebhookMessage{Request: webhooks.InboundRequest{RawBody: []byte(`{}`)}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected a body to validate, got %v", err)
	}
}

func TestCommands_MissingDependencyIsInternal(t *testing.T) {
	ctx := context.Background()
	errs := map[string]error{
		"register webhook":    (*RegisterWebhookCommand)(nil).Execute(ctx, RegisterWebhookMessage{}),
		"create assignment":   NewCreateAssignmentCommand(nil).Execute(ctx, CreateAssignmentMessage{WalletAddress: "0xabc"}),
		"complete assignment": NewCompleteAssignmentCommand(nil).Execute(ctx, CompleteAssignmentMessage{ExternalJobID: 1}),
		"run task":            NewRunTaskCommand(nil).Execute(ctx, RunTaskMessage{Name: "track_assignments"}),
	}
	for name, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %v", name, err)
		}
		if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
			t.Fatalf("%s: expected internal error, got %s/%s", name, rich.Category, rich.TextCode)
		}
	}
}
