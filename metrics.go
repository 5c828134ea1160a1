package indieauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records handshake outcomes and the latency of each network leg. A
// nil *Metrics records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indieauth_outcomes_total",
			Help: "Handshake invocations by outcome.",
		}, []string{"outcome"}),

		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indieauth_request_duration_seconds",
			Help:    "Latency of discovery and code exchange requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}

	for _, c := range []prometheus.Collector{m.outcomes, m.requests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil || o == nil {
		return
	}

	m.outcomes.WithLabelValues(o.Kind()).Inc()
}

func (m *Metrics) observeRequest(operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.requests.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
