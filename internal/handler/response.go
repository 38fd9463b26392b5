package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ResponseWriterImpl implements ResponseWriter interface
type ResponseWriterImpl struct{}

// NewResponseWriter creates a new response writer instance
func NewResponseWriter() *ResponseWriterImpl {
	return &ResponseWriterImpl{}
}

// WriteJSON writes payload as JSON with the given status code
func (r *ResponseWriterImpl) WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return fmt.Errorf("failed to encode response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, err = w.Write(append(body, '\n'))
	return err
}

// WriteText writes a plain text message with the given status code
func (r *ResponseWriterImpl) WriteText(w http.ResponseWriter, statusCode int, message string) error {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	_, err := fmt.Fprint(w, message)
	return err
}

// WriteError writes an error response with appropriate status code
func (r *ResponseWriterImpl) WriteError(w http.ResponseWriter, message string, statusCode int) error {
	http.Error(w, message, statusCode)
	return nil
}
