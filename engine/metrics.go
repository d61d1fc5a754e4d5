package engine

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "guarantee_message_engine"

// Metrics bundles the engine's counters.
type Metrics struct {
	Incoming         prometheus.Counter
	InvalidEnvelopes prometheus.Counter
	Processed        prometheus.Counter
	Responses        prometheus.Counter
	Retries          prometheus.Counter
	Failures         *prometheus.CounterVec
}

// NewMetrics builds and registers the engine counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Incoming: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "incoming_messages_total",
			Help:      "The total number of messages received.",
		}),
		InvalidEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalid_envelopes_total",
			Help:      "The total number of queue envelopes rejected before ingestion.",
		}),
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "processed_messages_total",
			Help:      "The total number of messages that reached PROCESSED.",
		}),
		Responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generated_responses_total",
			Help:      "The total number of acknowledgement messages generated.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduled_retries_total",
			Help:      "The total number of automatic retry resubmissions.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failed_messages_total",
			Help:      "The total number of failure transitions by error state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.Incoming, m.InvalidEnvelopes, m.Processed, m.Responses, m.Retries, m.Failures)
	return m
}
