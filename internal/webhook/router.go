// Package webhook dispatches inbound deliveries to the backend that sent them.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"issuelinks/internal/metrics"
	"issuelinks/internal/service"
)

// Router picks the first service that claims a delivery
type Router struct {
	services []service.Service
}

// NewRouter creates a router over services, scanned in the given order
func NewRouter(services ...service.Service) *Router {
	return &Router{services: services}
}

// Dispatch validates and handles a delivery. Deliveries no service claims
// are answered 400 without being inspected further.
func (r *Router) Dispatch(ctx context.Context, req *service.WebhookRequest) service.RequestResult {
	svc := r.claimant(req)
	if svc == nil {
		slog.Warn("Unrecognized webhook delivery", "content_length", len(req.Body))
		metrics.WebhooksTotal.WithLabelValues("unknown", strconv.Itoa(http.StatusBadRequest)).Inc()
		return service.NewRequestResult(http.StatusBadRequest, "unrecognized webhook")
	}

	backend := string(svc.Backend())
	result := r.deliver(ctx, svc, req)
	metrics.WebhooksTotal.WithLabelValues(backend, strconv.Itoa(result.StatusCode)).Inc()

	slog.Info("Webhook processed", "service", backend, "status", result.StatusCode, "message", result.Message)
	return result
}

func (r *Router) claimant(req *service.WebhookRequest) service.Service {
	for _, svc := range r.services {
		if svc.IsOurWebhook(req) {
			return svc
		}
	}
	return nil
}

func (r *Router) deliver(ctx context.Context, svc service.Service, req *service.WebhookRequest) service.RequestResult {
	if rejected := svc.ValidateWebhook(ctx, req); rejected != nil {
		slog.Warn("Webhook rejected", "service", svc.Backend(), "status", rejected.StatusCode, "message", rejected.Message)
		return *rejected
	}
	return svc.HandleWebhook(ctx, req)
}
