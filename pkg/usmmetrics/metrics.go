// Package usmmetrics provides optional Prometheus instrumentation for
// a Demuxer or Muxer. A nil *Metrics is safe to use everywhere: every
// method is a no-op on a nil receiver, so instrumentation is opt-in.
package usmmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histograms a Demuxer/Muxer report to
// during a scan or pack. Register it with a prometheus.Registerer
// before use.
type Metrics struct {
	ChunksRead      *prometheus.CounterVec
	ChunksWritten   *prometheus.CounterVec
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter
	PacketSize      *prometheus.HistogramVec
	DemuxErrors     *prometheus.CounterVec
	ActiveOperation *prometheus.GaugeVec
}

// New builds a Metrics set with the given namespace and registers it
// with reg. Passing a nil reg skips registration, useful for tests.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_read_total",
			Help:      "Chunks decoded by kind during a demux scan.",
		}, []string{"kind"}),
		ChunksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks encoded by kind during a mux pack.",
		}, []string{"kind"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Raw bytes read from the source container.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Raw bytes written to the destination container.",
		}),
		PacketSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_size_bytes",
			Help:      "Size of individual STREAM packets by channel kind.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 16),
		}, []string{"kind"}),
		DemuxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors encountered during demux or mux, by stage.",
		}, []string{"stage"}),
		ActiveOperation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_operations",
			Help:      "In-flight demux/mux operations.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ChunksRead,
			m.ChunksWritten,
			m.BytesRead,
			m.BytesWritten,
			m.PacketSize,
			m.DemuxErrors,
			m.ActiveOperation,
		)
	}
	return m
}

func (m *Metrics) chunkRead(kind string) {
	if m == nil {
		return
	}
	m.ChunksRead.WithLabelValues(kind).Inc()
}

func (m *Metrics) chunkWritten(kind string) {
	if m == nil {
		return
	}
	m.ChunksWritten.WithLabelValues(kind).Inc()
}

// ObserveChunkRead records one decoded chunk of the given kind and its
// total encoded size (header, payload, and padding).
func (m *Metrics) ObserveChunkRead(kind string, size int) {
	if m == nil {
		return
	}
	m.chunkRead(kind)
	m.BytesRead.Add(float64(size))
}

// ObserveChunkWritten records one encoded chunk of the given kind and
// its total encoded size.
func (m *Metrics) ObserveChunkWritten(kind string, size int) {
	if m == nil {
		return
	}
	m.chunkWritten(kind)
	m.BytesWritten.Add(float64(size))
}

// ObservePacketSize records a single STREAM payload's size for the
// given channel kind ("video" or "audio").
func (m *Metrics) ObservePacketSize(kind string, size int) {
	if m == nil {
		return
	}
	m.PacketSize.WithLabelValues(kind).Observe(float64(size))
}

// ObserveError records a non-fatal or fatal error encountered during
// the named stage ("demux", "pack", "header", "metadata").
func (m *Metrics) ObserveError(stage string) {
	if m == nil {
		return
	}
	m.DemuxErrors.WithLabelValues(stage).Inc()
}

// OperationStarted marks one more in-flight operation of the given
// kind ("demux" or "mux"). Callers should defer OperationFinished.
func (m *Metrics) OperationStarted(op string) {
	if m == nil {
		return
	}
	m.ActiveOperation.WithLabelValues(op).Inc()
}

// OperationFinished marks an in-flight operation as complete.
func (m *Metrics) OperationFinished(op string) {
	if m == nil {
		return
	}
	m.ActiveOperation.WithLabelValues(op).Dec()
}
