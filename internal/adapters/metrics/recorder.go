package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements ports.Metrics and the HTTP request metrics on one
// registry, so tests and the /metrics route see the same collectors.
type Recorder struct {
	registry *prometheus.Registry

	operations         *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	nonceConsumptions  *prometheus.CounterVec
	profileDefaults    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_operations_total",
			Help: "Identity use-case outcomes by operation",
		}, []string{"operation", "outcome"}),
		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_session_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"to"}),
		nonceConsumptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_nonce_consumptions_total",
			Help: "Wallet challenge consume attempts by result",
		}, []string{"result"}),
		profileDefaults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_profile_defaults_total",
			Help: "Account profile fields that were missing or unknown and got defaulted",
		}, []string{"field"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (r *Recorder) ObserveOperation(operation, outcome string) {
	r.operations.WithLabelValues(operation, outcome).Inc()
}

func (r *Recorder) ObserveSessionTransition(to string) {
	r.sessionTransitions.WithLabelValues(to).Inc()
}

func (r *Recorder) ObserveNonceConsumption(result string) {
	r.nonceConsumptions.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveProfileDefault(field string) {
	r.profileDefaults.WithLabelValues(field).Inc()
}

func (r *Recorder) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
