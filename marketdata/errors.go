package marketdata

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoData marks a response that parsed but carried nothing usable. The
// engine treats it as "signal unavailable".
var ErrNoData = errors.New("no market data")

// HTTPError is a non-2xx market data response.
type HTTPError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("market data %s: http %d: %s", e.URL, e.Status, e.Body)
}

// Retryable reports rate limits and server errors.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
