package handler

import (
	"context"
	"net/http"

	"issuelinks/internal/issue"
	"issuelinks/internal/service"
)

// WebhookHandler accepts webhook deliveries from every backend
type WebhookHandler interface {
	// HandleWebhook processes HTTP requests to the /webhook endpoint
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// WebhookDispatcher routes a delivery to the backend that sent it
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, req *service.WebhookRequest) service.RequestResult
}

// ServiceLocator returns the service of a backend
type ServiceLocator interface {
	Get(backend issue.Backend) (service.Service, error)
}

// BulkImporter imports every page of a project
type BulkImporter interface {
	Import(ctx context.Context, svc service.Service, project string, progress func(*service.ImportPage)) (*service.ImportResult, error)
}

// ResponseWriter wraps HTTP response writing functionality
type ResponseWriter interface {
	// WriteJSON writes payload as JSON with the given status code
	WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) error

	// WriteText writes a plain text message with the given status code
	WriteText(w http.ResponseWriter, statusCode int, message string) error

	// WriteError writes an error response with appropriate status code
	WriteError(w http.ResponseWriter, message string, statusCode int) error
}
