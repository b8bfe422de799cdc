// Package client is the guest device's view of the shared row store: an
// HTTP/JSON implementation of store.RowStore plus the staff console calls,
// and an SSE change-feed subscriber for devices that cannot reach NATS.
package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/store"
)

var _ store.RowStore = (*HTTPClient)(nil)

// APIError represents an error response from the server. It unwraps to the
// model sentinel matching its status code, so callers can test it with
// errors.Is the same way they test a local store error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return model.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return model.ErrConflict
	case e.StatusCode == http.StatusBadRequest:
		return model.ErrInvalidInput
	case e.StatusCode >= 500, e.StatusCode == http.StatusTooManyRequests:
		return model.ErrTransient
	}
	return nil
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrTransient)
}
