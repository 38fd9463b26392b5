// Package metrics exposes the Prometheus counters of the engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "issuelinks_webhooks_total", Help: "Webhook deliveries by backend and answered status"},
		[]string{"backend", "status"},
	)
	IssuesImportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "issuelinks_issues_imported_total", Help: "Issues and merge requests saved by bulk import"},
		[]string{"backend"},
	)
	MappingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "issuelinks_mapping_failures_total", Help: "Remote records rejected during normalization"},
		[]string{"backend"},
	)
	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "issuelinks_transport_errors_total", Help: "Failed outbound API calls by status"},
		[]string{"backend", "status"},
	)
)

func init() {
	prometheus.MustRegister(WebhooksTotal, IssuesImportedTotal, MappingFailuresTotal, TransportErrorsTotal)
}
