package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrInternalServer  = errors.New("internal server error")
	ErrInvalidToken    = errors.New("invalid token")
	ErrCourseNotFound  = errors.New("course not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMember       = errors.New("not a member of this course")
	ErrNotLecturer     = errors.New("only the course lecturer can do this")
	ErrInvalidParent   = errors.New("invalid parent message")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnavailable     = errors.New("service unavailable")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// Is reports whether err matches target. Re-exported so callers importing
// this package under its default name still reach the standard helpers.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCourseNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotMember), errors.Is(err, ErrNotLecturer):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrInvalidParent),
		errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that is safe to show to API clients.
// Domain errors carry their own wording; anything else collapses to a
// generic message so storage internals never leak.
func PublicMessage(err error) string {
	switch HTTPStatusFromError(err) {
	case http.StatusInternalServerError:
		return ErrInternalServer.Error()
	case http.StatusServiceUnavailable:
		return ErrUnavailable.Error()
	default:
		return err.Error()
	}
}
