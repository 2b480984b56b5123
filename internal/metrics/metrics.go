// Package metrics exposes Prometheus counters/histograms for auction
// throughput, latency, and outcomes, grounded on the mediation exchange's
// metrics.Metrics (one struct field per series, NewMetrics registers all
// of them, Record* methods as the only write path).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every series the worker records.
type Metrics struct {
	AuctionsTotal    *prometheus.CounterVec
	AuctionDuration  *prometheus.HistogramVec
	ParticipantCount *prometheus.HistogramVec

	PingRequests *prometheus.CounterVec
	PingLatency  *prometheus.HistogramVec

	PostRequests *prometheus.CounterVec
	PostLatency  *prometheus.HistogramVec

	CircuitState *prometheus.GaugeVec

	ContractorDeliveries *prometheus.CounterVec
	NotificationAttempts *prometheus.CounterVec
}

// New builds and registers every series under namespace (typically
// "leadauction").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "leadauction"
	}

	m := &Metrics{
		AuctionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "auctions_total", Help: "Total auctions run, by terminal status.",
		}, []string{"status"}),
		AuctionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "auction_duration_seconds", Help: "End-to-end RunAuction duration.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		ParticipantCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "auction_participants", Help: "Eligible buyer count per auction.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}, []string{"service_type_id"}),
		PingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ping_requests_total", Help: "PING requests, by buyer and outcome.",
		}, []string{"buyer_id", "status"}),
		PingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ping_latency_seconds", Help: "PING round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"buyer_id"}),
		PostRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "post_requests_total", Help: "POST requests, by buyer and outcome.",
		}, []string{"buyer_id", "status"}),
		PostLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "post_latency_seconds", Help: "POST round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"buyer_id"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state", Help: "0=closed, 1=half_open, 2=open.",
		}, []string{"buyer_id"}),
		ContractorDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "contractor_deliveries_total", Help: "Contractor delivery attempts, by outcome.",
		}, []string{"buyer_id", "delivered"}),
		NotificationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_attempts_total", Help: "Notification attempts, by channel and outcome.",
		}, []string{"channel", "success"}),
	}

	prometheus.MustRegister(
		m.AuctionsTotal, m.AuctionDuration, m.ParticipantCount,
		m.PingRequests, m.PingLatency, m.PostRequests, m.PostLatency,
		m.CircuitState, m.ContractorDeliveries, m.NotificationAttempts,
	)
	return m
}

// Handler exposes the Prometheus text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
