package jls

import "github.com/prometheus/client_golang/prometheus"

// writerMetrics instruments the threaded writer. A nil receiver disables
// every update, so the hot path never branches on configuration.
type writerMetrics struct {
	messages   prometheus.Counter
	samples    prometheus.Counter
	flushes    prometheus.Counter
	queueDepth prometheus.Gauge
}

func newWriterMetrics(r prometheus.Registerer) *writerMetrics {
	if r == nil {
		return nil
	}
	m := &writerMetrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jls_writer_messages_total",
			Help: "Messages accepted by the threaded writer queue.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jls_writer_samples_total",
			Help: "Samples appended across all signals.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jls_writer_flushes_total",
			Help: "Flush barriers completed.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jls_writer_queue_depth",
			Help: "Messages waiting in the threaded writer queue.",
		}),
	}
	r.MustRegister(m.messages, m.samples, m.flushes, m.queueDepth)
	return m
}

func (m *writerMetrics) message() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *writerMetrics) addSamples(n int64) {
	if m != nil {
		m.samples.Add(float64(n))
	}
}

func (m *writerMetrics) flush() {
	if m != nil {
		m.flushes.Inc()
	}
}

func (m *writerMetrics) depth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
