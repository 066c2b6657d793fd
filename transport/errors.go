package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-oracle/core"
)

func misconfigured(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func invalidRequest(target string, reason string, cause error) error {
	message := "transport: " + reason
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryBadInput, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryBadInput)
	}
	return err.WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput).
		WithMetadata(map[string]any{"url": target})
}

// exchangeFailed reports a request that left the process but produced no
// usable response. Callers count it as a delivery failure.
func exchangeFailed(req *http.Request, reason string, cause error) error {
	message := "transport: " + reason
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	return err.WithCode(http.StatusBadGateway).
		WithTextCode(core.ErrorExternalResource).
		WithMetadata(map[string]any{"method": req.Method, "host": req.URL.Host})
}
