package metrics_test

import (
	"testing"

	"github.com/blukai/boredparty/internal/metrics"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegisters(t *testing.T) {
	is := is.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.FramesDropped.WithLabelValues(metrics.ReasonOutdated).Inc()
	m.FramesDropped.WithLabelValues(metrics.ReasonOutdated).Inc()
	m.FramesDropped.WithLabelValues(metrics.ReasonUnknown).Inc()
	m.QueueLength.Set(3)

	is.Equal(testutil.ToFloat64(m.FramesDropped.WithLabelValues(metrics.ReasonOutdated)), float64(2))

	n, err := testutil.GatherAndCount(reg, "boredparty_frames_dropped_total", "boredparty_broadcast_queue_length")
	is.NoErr(err)
	is.Equal(n, 3) // two reasons and one gauge
}

func TestNewUnregistered(t *testing.T) {
	is := is.New(t)

	// would panic on duplicate registration if nil meant the default registry
	a := metrics.New(nil)
	b := metrics.New(nil)

	a.FramesSent.Inc()
	is.Equal(testutil.ToFloat64(a.FramesSent), float64(1))
	is.Equal(testutil.ToFloat64(b.FramesSent), float64(0))
}
