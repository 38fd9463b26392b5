package client

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError represents a network failure or a non-success HTTP status
type TransportError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s failed with status %d", e.Method, e.URL, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP-like status carried by err, or 500 when err
// is not a transport error.
func StatusCode(err error) int {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.StatusCode
	}
	return http.StatusInternalServerError
}
