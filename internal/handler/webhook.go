package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"issuelinks/internal/service"
)

// MaxWebhookBodyBytes bounds the size of an accepted delivery
const MaxWebhookBodyBytes = 5 << 20

// WebhookHandlerImpl implements WebhookHandler interface
type WebhookHandlerImpl struct {
	dispatcher WebhookDispatcher
	writer     ResponseWriter
}

// NewWebhookHandler creates a new webhook handler instance
func NewWebhookHandler(dispatcher WebhookDispatcher, writer ResponseWriter) *WebhookHandlerImpl {
	return &WebhookHandlerImpl{
		dispatcher: dispatcher,
		writer:     writer,
	}
}

// HandleWebhook processes HTTP requests to the /webhook endpoint
func (h *WebhookHandlerImpl) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = h.writer.WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	defer func() { _ = r.Body.Close() }()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Webhook body too large", "limit", tooLarge.Limit, "remote_addr", r.RemoteAddr)
			_ = h.writer.WriteError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		_ = h.writer.WriteError(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), &service.WebhookRequest{
		Header: r.Header.Clone(),
		Body:   body,
	})

	if err := h.writer.WriteText(w, result.StatusCode, result.Message); err != nil {
		slog.Error("Failed to write webhook response", "error", err)
	}
}
