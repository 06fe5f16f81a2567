package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/hubspoke/internal/provisioning"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hubspoke",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hubspoke",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	provisioning.Registry.MustRegister(requestsTotal, requestDuration)
}

func recordRequestMetric(route string, code int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(route, statusLabel(code)).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
