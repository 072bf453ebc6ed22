// Package metrics provides Prometheus metrics for the local proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tunnel duration buckets, in seconds. Tunnels are long-lived compared
// to request/response exchanges.
var durationBuckets = []float64{.1, .5, 1, 5, 15, 60, 300, 1800, 7200}

// Metrics holds all Prometheus collectors for the proxy, registered on
// a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	TunnelsTotal   *prometheus.CounterVec
	TunnelsOpen    prometheus.Gauge
	TunnelDuration prometheus.Histogram
	TunnelBytes    *prometheus.CounterVec
	RateLimited    prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all
// collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		TunnelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "local_proxy_tunnels_total",
			Help: "Total CONNECT tunnel attempts by outcome.",
		}, []string{"outcome"}),

		TunnelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "local_proxy_tunnels_open",
			Help: "Number of tunnels currently relaying bytes.",
		}),

		TunnelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "local_proxy_tunnel_duration_seconds",
			Help:    "Tunnel lifetime in seconds.",
			Buckets: durationBuckets,
		}),

		TunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "local_proxy_tunnel_bytes_total",
			Help: "Bytes relayed through tunnels by direction.",
		}, []string{"direction"}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "local_proxy_rate_limited_total",
			Help: "CONNECT requests rejected by the per-client rate limit.",
		}),
	}

	reg.MustRegister(
		m.TunnelsTotal,
		m.TunnelsOpen,
		m.TunnelDuration,
		m.TunnelBytes,
		m.RateLimited,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
