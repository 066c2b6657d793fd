package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput             = "ORACLE_BAD_INPUT"
	ErrorUnauthorized         = "ORACLE_UNAUTHORIZED"
	ErrorSchemaInvalid        = "ORACLE_SCHEMA_INVALID"
	ErrorUnknownEventType     = "ORACLE_UNKNOWN_EVENT_TYPE"
	ErrorEscrowState          = "ORACLE_ESCROW_STATE"
	ErrorDeliveryFailed       = "ORACLE_DELIVERY_FAILED"
	ErrorExternalResource     = "ORACLE_EXTERNAL_RESOURCE"
	ErrorInvalidTransition    = "ORACLE_INVALID_TRANSITION"
	ErrorUnfinishedAssignment = "ORACLE_UNFINISHED_ASSIGNMENT"
	ErrorNotFound             = "ORACLE_NOT_FOUND"
	ErrorInternal             = "ORACLE_INTERNAL_ERROR"
)

func NewAuthenticationError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "Unauthorized"
	}
	return newOracleError(message, goerrors.CategoryAuth, ErrorUnauthorized)
}

// NewValidationError builds a 400 error carrying per-field details.
func NewValidationError(message string, fields ...goerrors.FieldError) *goerrors.Error {
	err := goerrors.NewValidation(message, fields...)
	err.TextCode = ErrorBadInput
	return ensureErrorEnvelope(err)
}

func NewSchemaError(eventType string, fields ...goerrors.FieldError) *goerrors.Error {
	err := goerrors.NewValidation(fmt.Sprintf("event payload does not match %q schema", eventType), fields...)
	err.TextCode = ErrorSchemaInvalid
	return ensureErrorEnvelope(err.WithMetadata(map[string]any{"event_type": eventType}))
}

func NewUnknownEventTypeError(eventType string) *goerrors.Error {
	err := goerrors.NewValidation(
		fmt.Sprintf("unknown event type %q", eventType),
		goerrors.FieldError{Field: "event_type", Message: "unknown event type", Value: eventType},
	)
	err.TextCode = ErrorUnknownEventType
	return ensureErrorEnvelope(err)
}

func NewEscrowStateError(message string) *goerrors.Error {
	err := newOracleError(message, goerrors.CategoryOperation, ErrorEscrowState)
	err.Code = http.StatusUnprocessableEntity
	return err
}

func NewDeliveryError(message string, cause error) *goerrors.Error {
	if cause == nil {
		return newOracleError(message, goerrors.CategoryExternal, ErrorDeliveryFailed)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithCode(http.StatusBadGateway).
			WithTextCode(ErrorDeliveryFailed),
	)
}

func NewExternalResourceError(resource string, cause error) *goerrors.Error {
	message := fmt.Sprintf("external resource %s failed", resource)
	if cause == nil {
		return newOracleError(message, goerrors.CategoryExternal, ErrorExternalResource)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithCode(http.StatusBadGateway).
			WithTextCode(ErrorExternalResource),
	)
}

func NewInvalidTransitionError(entity, from, to string) *goerrors.Error {
	err := newOracleError(
		fmt.Sprintf("%s: invalid transition from %q to %q", entity, from, to),
		goerrors.CategoryConflict,
		ErrorInvalidTransition,
	)
	return err.WithMetadata(map[string]any{"entity": entity, "from": from, "to": to})
}

func NewUnfinishedAssignmentError(wallet string) *goerrors.Error {
	err := newOracleError(
		"worker already has an unfinished assignment",
		goerrors.CategoryConflict,
		ErrorUnfinishedAssignment,
	)
	return err.WithMetadata(map[string]any{"wallet_address": wallet})
}

func NewNotFoundError(message string) *goerrors.Error {
	return newOracleError(message, goerrors.CategoryNotFound, ErrorNotFound)
}

func NewInternalError(message string, cause error) *goerrors.Error {
	if cause == nil {
		return newOracleError(message, goerrors.CategoryInternal, ErrorInternal)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryInternal, message).WithTextCode(ErrorInternal),
	)
}

func IsAuthenticationError(err error) bool { return hasTextCode(err, ErrorUnauthorized) }

// IsValidationError matches every 400 kind, including schema and unknown event errors.
func IsValidationError(err error) bool {
	return hasTextCode(err, ErrorBadInput) ||
		hasTextCode(err, ErrorSchemaInvalid) ||
		hasTextCode(err, ErrorUnknownEventType)
}

func IsSchemaError(err error) bool           { return hasTextCode(err, ErrorSchemaInvalid) }
func IsUnknownEventTypeError(err error) bool { return hasTextCode(err, ErrorUnknownEventType) }
func IsEscrowStateError(err error) bool      { return hasTextCode(err, ErrorEscrowState) }
func IsDeliveryError(err error) bool         { return hasTextCode(err, ErrorDeliveryFailed) }
func IsExternalResourceError(err error) bool { return hasTextCode(err, ErrorExternalResource) }
func IsInvalidTransitionError(err error) bool {
	return hasTextCode(err, ErrorInvalidTransition)
}
func IsUnfinishedAssignmentError(err error) bool {
	return hasTextCode(err, ErrorUnfinishedAssignment)
}
func IsNotFoundError(err error) bool { return hasTextCode(err, ErrorNotFound) }

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// MapError normalizes any error into the oracle error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid transition"):
		return newOracleError(err.Error(), goerrors.CategoryConflict, ErrorInvalidTransition)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no rows"):
		return newOracleError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newOracleError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newOracleError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorInvalidTransition
	case goerrors.CategoryExternal:
		return ErrorExternalResource
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
