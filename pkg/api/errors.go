package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// Error kinds carried in the {ok:false} envelope. Each maps to one HTTP
// status.
const (
	KindValidation = "validation" // 400
	KindPolicy     = "policy"     // 403
	KindNotFound   = "not_found"  // 404
	KindConflict   = "conflict"   // 409
	KindInternal   = "internal"   // 500
)

// APIError is the error half of the response envelope.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`

	status int
}

func (e *APIError) Error() string { return e.Message }

func newAPIError(status int, kind, message string) *APIError {
	return &APIError{Kind: kind, Message: message, status: status}
}

// mapServiceError maps service-layer errors to envelope errors.
func mapServiceError(err error) *APIError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return newAPIError(http.StatusBadRequest, KindValidation, validErr.Error())
	}
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, KindValidation, err.Error())
	case errors.Is(err, services.ErrTerminalSession),
		errors.Is(err, services.ErrNotSteppable):
		return newAPIError(http.StatusForbidden, KindPolicy, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return newAPIError(http.StatusNotFound, KindNotFound, "resource not found")
	case errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, KindConflict, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return newAPIError(http.StatusInternalServerError, KindInternal, "internal server error")
}

// asAPIError normalizes any handler error: APIErrors pass through,
// echo.HTTPErrors keep their status, everything else becomes internal.
func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return newAPIError(httpErr.Code, kindForStatus(httpErr.Code), fmt.Sprintf("%v", httpErr.Message))
	}
	return newAPIError(http.StatusInternalServerError, KindInternal, "internal server error")
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return KindValidation
	case http.StatusForbidden:
		return KindPolicy
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindInternal
	}
}
