package broker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoPosition is returned by GetPosition when nothing is held.
	ErrNoPosition = errors.New("no position")
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
)

// APIError is a non-2xx brokerage response.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: http %d (code %d): %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Message)
}

// Retryable reports rate limits and server errors.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Rejected reports that the brokerage refused the request itself
// (insufficient funds, blocked account, invalid quantity). Such requests
// are never retried.
func (e *APIError) Rejected() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsRejected reports whether err carries a brokerage rejection.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Rejected()
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// Reason returns the brokerage's message for rejections and the error text
// otherwise.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
