/*
Package metrics registers the Prometheus collectors that instrument
the SMTP session engine: submissions sent, responses received, and
expectation failures by kind, plus a response-latency histogram.

The collector registration style (a struct of prometheus.Counter /
*prometheus.CounterVec / prometheus.Histogram fields, constructed once and registered
against a caller-supplied registry) mirrors the rest of this module's
collaborators, each holding its own collectors rather than relying on
the global default registry.
*/
package metrics

import "github.com/prometheus/client_golang/prometheus"

// FailureKind labels why a submission's expectation failed, matching
// the session engine's sentinel error taxonomy.
type FailureKind string

const (
	FailureProgrammerError FailureKind = "programmer_error"
	FailureTransportError  FailureKind = "transport_error"
	FailureChannelClosed   FailureKind = "channel_closed"
	FailureReadTimeout     FailureKind = "read_timeout"
)

// SessionMetrics is the set of collectors registered for one or more
// smtpsession.Session instances sharing a registry.
type SessionMetrics struct {
	SubmissionsSent   prometheus.Counter
	ResponsesReceived prometheus.Counter
	Failures          *prometheus.CounterVec
	ResponseLatency   prometheus.Histogram
}

// NewSessionMetrics constructs collectors under the given Prometheus
// namespace (e.g. "niosmtpclient") but does not register them; call
// MustRegister to do so.
func NewSessionMetrics(namespace string) *SessionMetrics {
	return &SessionMetrics{
		SubmissionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_sent_total",
			Help:      "Total number of SMTP submissions written to the wire (commands, content, or pipelined batches).",
		}),
		ResponsesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_received_total",
			Help:      "Total number of SMTP responses correlated with a pending expectation.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expectation_failures_total",
			Help:      "Total number of expectations that failed, labeled by failure kind.",
		}, []string{"kind"}),
		ResponseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time between writing a submission and its expectation completing.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector in m against reg, panicking on
// a registration conflict.
func (m *SessionMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.SubmissionsSent, m.ResponsesReceived, m.Failures, m.ResponseLatency)
}

// CountFailure increments the Failures counter for kind.
func (m *SessionMetrics) CountFailure(kind FailureKind) {
	m.Failures.WithLabelValues(string(kind)).Inc()
}
