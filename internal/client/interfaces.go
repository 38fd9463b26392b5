package client

import (
	"context"
	"net/http"
)

// Request is one outbound call to a backend API
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is JSON encoded when non-nil
	Body interface{}
}

// Response is a successful (2xx) backend response
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Sender performs HTTP requests against backend APIs. Failures, including
// non-2xx responses, are returned as *TransportError.
type Sender interface {
	SendRequest(ctx context.Context, req Request) (*Response, error)
}
