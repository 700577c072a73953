// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrohub_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrohub_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	invitationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrohub_invitation_events_total",
		Help: "Invitation lifecycle transitions by event",
	}, []string{"event"})

	quotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrohub_quota_rejections_total",
		Help: "Usage increments refused because the tenant is at its plan limit",
	}, []string{"counter"})

	tenantsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrohub_tenants_created_total",
		Help: "Tenants created",
	})

	auditPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrohub_audit_events_purged_total",
		Help: "Audit events deleted by the retention purger",
	})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveInvitation counts an invitation event: issued, accepted, revoked or expired.
func ObserveInvitation(event string) {
	invitationEvents.WithLabelValues(event).Inc()
}

// ObserveQuotaRejection counts a refused usage increment.
func ObserveQuotaRejection(counter string) {
	quotaRejections.WithLabelValues(counter).Inc()
}

// ObserveTenantCreated counts a new tenant.
func ObserveTenantCreated() {
	tenantsCreated.Inc()
}

// ObserveAuditPurge adds the number of purged audit events.
func ObserveAuditPurge(n int64) {
	if n > 0 {
		auditPurged.Add(float64(n))
	}
}
