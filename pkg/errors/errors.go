package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrQueryTooExpensive   = errors.New("query cost exceeds limit")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrTooManyRequests     = errors.New("too many concurrent upstream queries")
	ErrUpstream            = errors.New("upstream error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// UpstreamError is returned when the internal API answers with a non-2xx
// status or a body that is not valid JSON.
type UpstreamError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d", e.Path, e.StatusCode)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstream, e.Err}
	}
	return []error{ErrUpstream}
}

// NotFoundf returns an AppError for a well-formed request whose entity does
// not exist.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// Invalidf returns an AppError for user input that failed validation.
func Invalidf(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, http.StatusBadRequest, format, args...)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQueryTooExpensive):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code reported to API clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrQueryTooExpensive):
		return "QUERY_TOO_EXPENSIVE"
	case errors.Is(err, ErrInvalidInput):
		return "BAD_USER_INPUT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrTooManyRequests):
		return "TOO_MANY_REQUESTS"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL"
	}
}

// PublicMessage returns the message safe to show to API clients. Validation
// and not-found messages are passed through; infrastructure failures are
// reported generically.
func PublicMessage(err error) string {
	var appErr *AppError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQueryTooExpensive):
		if errors.As(err, &appErr) {
			return appErr.Message
		}
		return err.Error()
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded"
	case errors.Is(err, ErrTooManyRequests):
		return "Too many requests in progress, try again later"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "Upstream service unavailable"
	case errors.Is(err, ErrUpstream):
		return "Unable to retrieve data"
	default:
		return "Internal server error"
	}
}
