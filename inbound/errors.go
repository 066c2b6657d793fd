package inbound

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationBody struct {
	Errors []fieldError `json:"errors"`
}

type messageBody struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code,omitempty"`
}

func badRequest(field string, message string) error {
	return core.NewValidationError("invalid request", goerrors.FieldError{Field: field, Message: message})
}

// writeError renders err with the status its envelope carries.
func writeError(w http.ResponseWriter, err error) int {
	mapped := core.MapError(err)
	switch {
	case mapped.Category == goerrors.CategoryAuth:
		writeJSON(w, http.StatusUnauthorized, messageBody{Message: "Unauthorized"})
		return http.StatusUnauthorized
	case mapped.Code == http.StatusBadRequest:
		body := validationBody{Errors: []fieldError{}}
		for _, field := range mapped.AllValidationErrors() {
			body.Errors = append(body.Errors, fieldError{Field: field.Field, Message: field.Message})
		}
		if len(body.Errors) == 0 {
			body.Errors = append(body.Errors, fieldError{Message: mapped.Message})
		}
		writeJSON(w, http.StatusBadRequest, body)
		return http.StatusBadRequest
	case mapped.Category == goerrors.CategoryInternal:
		writeJSON(w, mapped.Code, messageBody{Message: "An unexpected error occurred", TextCode: mapped.TextCode})
		return mapped.Code
	default:
		writeJSON(w, mapped.Code, messageBody{Message: mapped.Message, TextCode: mapped.TextCode})
		return mapped.Code
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
