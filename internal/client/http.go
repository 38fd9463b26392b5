package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"issuelinks/internal/config"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 10 << 20

// HTTPClient implements Sender on top of net/http
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client instance with the configured timeout
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	slog.Debug("Initializing HTTP client",
		"timeout", cfg.HTTPTimeout(),
		"skip_tls", cfg.SkipTLSVerify,
	)

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout(),
	}

	if cfg.SkipTLSVerify {
		slog.Warn("TLS verification disabled for outbound requests")
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return &HTTPClient{httpClient: httpClient}
}

// NewHTTPClientWith wraps an existing *http.Client
func NewHTTPClientWith(httpClient *http.Client) *HTTPClient {
	return &HTTPClient{httpClient: httpClient}
}

// SendRequest sends the request and returns the response of a 2xx reply
func (c *HTTPClient) SendRequest(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			slog.Error("Failed to marshal request body", "error", err, "url", r.URL)
			return nil, &TransportError{StatusCode: http.StatusBadRequest, Method: method, URL: r.URL, Message: "error marshaling request", Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		slog.Error("Failed to create HTTP request", "error", err, "url", r.URL)
		return nil, &TransportError{StatusCode: http.StatusBadRequest, Method: method, URL: r.URL, Message: "error creating request", Err: err}
	}

	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	slog.Debug("Sending HTTP request", "method", method, "url", r.URL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		slog.Error("Failed to send HTTP request", "error", err, "method", method, "url", r.URL)
		return nil, &TransportError{StatusCode: status, Method: method, URL: r.URL, Message: "error sending request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slog.Error("Failed to read response body", "error", err, "url", r.URL)
		return nil, &TransportError{StatusCode: http.StatusBadGateway, Method: method, URL: r.URL, Message: "error reading response", Err: err}
	}

	slog.Debug("Received HTTP response", "status_code", resp.StatusCode, "url", r.URL)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Remote API returned error status",
			"status_code", resp.StatusCode,
			"method", method,
			"url", r.URL,
		)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        r.URL,
			Message:    errorMessage(respBody),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Header:     resp.Header,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorMessage extracts the message field most APIs put in error bodies
func errorMessage(body []byte) string {
	var payload struct {
		Message       interface{} `json:"message"`
		Error         string      `json:"error"`
		ErrorMessages []string    `json:"errorMessages"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != nil:
			return fmt.Sprint(payload.Message)
		case payload.Error != "":
			return payload.Error
		case len(payload.ErrorMessages) > 0:
			return strings.Join(payload.ErrorMessages, "; ")
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
