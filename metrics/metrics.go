// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the pipeline's Prometheus collectors.
// A nil *Set is valid and records nothing, so callers don't need to guard.
type Set struct {
	llmRequests     *prometheus.CounterVec
	llmRetries      prometheus.Counter
	llmTokens       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	iterations      prometheus.Counter
	verdicts        *prometheus.CounterVec
}

// New creates a metric set and registers it with the given registerer.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperforge",
			Name:      "llm_requests_total",
			Help:      "LLM completion requests by capability, provider and outcome.",
		}, []string{"capability", "provider", "outcome"}),
		llmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperforge",
			Name:      "llm_retries_total",
			Help:      "Retried LLM requests.",
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperforge",
			Name:      "llm_tokens_total",
			Help:      "Token consumption by kind (prompt, completion).",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperforge",
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency by capability.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"capability"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperforge",
			Name:      "reflection_iterations_total",
			Help:      "Completed reflection loop iterations.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperforge",
			Name:      "signal_verdicts_total",
			Help:      "Signal evaluation verdicts.",
		}, []string{"verdict"}),
	}

	reg.MustRegister(s.llmRequests, s.llmRetries, s.llmTokens, s.requestDuration, s.iterations, s.verdicts)
	return s
}

// NewDefault creates a metric set on the default Prometheus registry.
func NewDefault() *Set {
	return New(prometheus.DefaultRegisterer)
}

// ObserveLLMRequest records one completed (or failed) LLM request.
func (s *Set) ObserveLLMRequest(capability, provider, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	if s == nil {
		return
	}
	s.llmRequests.WithLabelValues(capability, provider, outcome).Inc()
	s.requestDuration.WithLabelValues(capability).Observe(duration.Seconds())
	if promptTokens > 0 {
		s.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		s.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// ObserveRetry records a retried LLM request.
func (s *Set) ObserveRetry() {
	if s == nil {
		return
	}
	s.llmRetries.Inc()
}

// ObserveIteration records a completed reflection iteration.
func (s *Set) ObserveIteration() {
	if s == nil {
		return
	}
	s.iterations.Inc()
}

// ObserveVerdict records a signal evaluation verdict.
func (s *Set) ObserveVerdict(verdict string) {
	if s == nil {
		return
	}
	s.verdicts.WithLabelValues(verdict).Inc()
}

// Serve exposes /metrics on addr in a background goroutine.
// Returns the server so callers can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		// ErrServerClosed on shutdown is expected; anything else is lost
		// on purpose since metrics are best-effort.
		_ = srv.ListenAndServe()
	}()
	return srv
}
