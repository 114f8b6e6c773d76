package server

import (
	"net/http"

	"github.com/causalai/gpu-scheduler/api/pkg/scheduler"
)

// HTTPError carries a status code alongside the message so handlers can
// return typed failures through the generic wrapper.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError400(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusBadRequest, Message: message}
}

func NewHTTPError401(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusUnauthorized, Message: message}
}

func NewHTTPError403(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusForbidden, Message: message}
}

func NewHTTPError404(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusNotFound, Message: message}
}

func NewHTTPError500(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusInternalServerError, Message: message}
}

// httpError maps a scheduler error kind to its transport status.
func httpError(err *scheduler.Error) *HTTPError {
	if err == nil {
		return nil
	}
	switch err.Kind {
	case scheduler.KindAuthRequired, scheduler.KindAuthInvalid:
		return NewHTTPError401(err.Message)
	case scheduler.KindForbidden:
		return NewHTTPError403(err.Message)
	case scheduler.KindNotFound:
		return NewHTTPError404(err.Message)
	case scheduler.KindInternal:
		return NewHTTPError500(err.Message)
	default:
		// Domain rejections (day-not-open, reserved, insufficient-credit,
		// not-owner, too-late-to-release, conflict) are client errors.
		return NewHTTPError400(err.Message)
	}
}
