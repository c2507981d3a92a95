package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boredparty"

// drop reasons for FramesDropped
const (
	ReasonOutdated     = "outdated"
	ReasonWrongSeq     = "wrong_sequence"
	ReasonReadError    = "read_error"
	ReasonIllFormatted = "ill_formatted"
	ReasonUnknown      = "unknown"
	ReasonRejected     = "rejected"
)

type Metrics struct {
	FramesReceived   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	SendFailures     prometheus.Counter
	ClientsConnected prometheus.Gauge
	ClientsAccepted  prometheus.Counter
	QueueLength      prometheus.Gauge
	MessagesEvicted  prometheus.Counter
}

// New registers server metrics with reg. a nil reg gives working but
// unregistered collectors, handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from clients and decoded.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to clients.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames (or reception attempts) discarded, by reason.",
		}, []string{"reason"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Frames that could not be written.",
		}),
		ClientsConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_connected",
			Help:      "Clients currently connected.",
		}),
		ClientsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_accepted_total",
			Help:      "Connections accepted and seeded with the world state.",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "queue_length",
			Help:      "Messages waiting in the broadcast queue.",
		}),
		MessagesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_evicted_total",
			Help:      "Messages removed after every connected client read them.",
		}),
	}
}
