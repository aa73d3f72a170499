package vast

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCreateRejected means the marketplace declined the ask, usually
// because the offer went stale between query and create.
var ErrCreateRejected = errors.New("marketplace rejected instance creation")

// APIError is a non-2xx response from the marketplace.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API error: %s (status: %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
