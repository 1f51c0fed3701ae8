package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Relay metrics
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_requests_total",
		Help: "Total number of chat relay requests by outcome",
	}, []string{"outcome"})

	chatLanguages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_languages_total",
		Help: "Resolved reply language of chat relay requests",
	}, []string{"language"})

	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_provider_request_duration_seconds",
		Help:    "Duration of provider chat completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_provider_requests_total",
		Help: "Total number of provider chat completion requests",
	}, []string{"model", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	// Realtime metrics
	realtimeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_relay_realtime_subscriptions",
		Help: "Number of open realtime websocket subscriptions",
	}, []string{"table"})

	realtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_realtime_events_total",
		Help: "Total number of change events delivered to websocket subscribers",
	}, []string{"table"})
)

// Relay outcomes
const (
	OutcomeSuccess       = "success"
	OutcomeMissingKey    = "missing_key"
	OutcomeInvalid       = "invalid_request"
	OutcomeProviderError = "provider_error"
	OutcomeFailure       = "failure"
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordChatRequest records the terminal outcome of a relay request
func (m *Metrics) RecordChatRequest(outcome string) {
	chatRequests.WithLabelValues(outcome).Inc()
}

// RecordLanguage records the resolved reply language
func (m *Metrics) RecordLanguage(lang string) {
	chatLanguages.WithLabelValues(lang).Inc()
}

// RecordProviderRequest records a provider request
func (m *Metrics) RecordProviderRequest(model, status string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// SubscriptionOpened increments the open subscription gauge
func (m *Metrics) SubscriptionOpened(table string) {
	realtimeSubscriptions.WithLabelValues(table).Inc()
}

// SubscriptionClosed decrements the open subscription gauge
func (m *Metrics) SubscriptionClosed(table string) {
	realtimeSubscriptions.WithLabelValues(table).Dec()
}

// RecordRealtimeEvent records a delivered change event
func (m *Metrics) RecordRealtimeEvent(table string) {
	realtimeEvents.WithLabelValues(table).Inc()
}

// NewMetricsRouter returns the router served on the metrics port
func NewMetricsRouter(path string) http.Handler {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return router
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
