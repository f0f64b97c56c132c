package apiclient

import (
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the POS API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("pos api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("pos api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Unauthorized reports whether the API rejected the session.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
