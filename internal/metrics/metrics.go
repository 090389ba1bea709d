// Package metrics registers the Prometheus collectors gatewayd exposes,
// grounded on the teacher's metrics.go package-local promauto struct.
// The core never binds its own metrics listener (that is an admin-surface
// concern, §6); it only exposes a Handler for the admin collaborator to
// mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatewayd"

// Metrics is the set of collectors components increment directly.
type Metrics struct {
	ProxiedRequests *prometheus.CounterVec
	CertIssuances   *prometheus.CounterVec
	Restarts        *prometheus.CounterVec
	RunningChildren prometheus.Gauge
}

// New registers and returns a fresh Metrics. Call once per process; a
// second call on the default registerer would panic on duplicate
// registration, the same caveat the teacher's init()-time registration
// carries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProxiedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_requests_total",
			Help:      "Count of requests forwarded to an app's upstream or static directory.",
		}, []string{"host", "code"}),
		CertIssuances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cert_issuances_total",
			Help:      "Count of certificate issuances by method and outcome.",
		}, []string{"method", "outcome"}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Count of automatic child process restarts.",
		}, []string{"host"}),
		RunningChildren: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_children",
			Help:      "Number of supervised child processes currently running.",
		}),
	}
}

// Handler returns the promhttp handler for the admin collaborator to
// mount (§6 "Metrics surface").
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
