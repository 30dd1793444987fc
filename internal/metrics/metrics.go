package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Charge outcome labels.
const (
	OutcomeAuthorized = "authorized"
	OutcomeDeclined   = "declined"
	OutcomeEmpty      = "empty"
	OutcomeError      = "error"
)

// Recorder holds the service collectors on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	charges       *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	casRetries    prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_charges_total",
			Help: "Charge requests by outcome.",
		}, []string{"outcome"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credits_store_duration_seconds",
			Help:    "Latency of store round trips by operation.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credits_cas_retries_total",
			Help: "Compare-and-swap charge attempts that lost a race and retried.",
		}),
	}
	r.registry.MustRegister(r.charges, r.storeDuration, r.casRetries)
	return r
}

// ObserveCharge counts one charge outcome.
func (r *Recorder) ObserveCharge(outcome string) {
	if r == nil {
		return
	}
	r.charges.WithLabelValues(outcome).Inc()
}

// ObserveStore records how long a store operation took.
func (r *Recorder) ObserveStore(op string, started time.Time) {
	if r == nil {
		return
	}
	r.storeDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// CASRetry counts a lost compare-and-swap race.
func (r *Recorder) CASRetry() {
	if r == nil {
		return
	}
	r.casRetries.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
