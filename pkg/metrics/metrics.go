// Package metrics exposes encoder counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the encoder metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Work item counters
	ItemsQueued    atomic.Uint64
	ItemsCompleted atomic.Uint64
	ItemsAborted   atomic.Uint64

	// Bitstream counters
	FramesEncoded atomic.Uint64
	KeyFrames     atomic.Uint64
	BytesEncoded  atomic.Uint64

	// Control path
	Drains  atomic.Uint64
	Flushes atomic.Uint64
	Errors  atomic.Uint64

	// Current occupancy
	PendingItems  atomic.Int64
	InFlightItems atomic.Int64

	encodeLatency prometheus.Histogram
	frameSize     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	gauge := func(name, help string, v *atomic.Int64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("hwencode_items_queued_total", "Work items accepted by the encoder", &m.ItemsQueued)
	counter("hwencode_items_completed_total", "Work items reported as done", &m.ItemsCompleted)
	counter("hwencode_items_aborted_total", "Work items returned by a flush or reset", &m.ItemsAborted)

	counter("hwencode_frames_encoded_total", "Encoded frames received from the device", &m.FramesEncoded)
	counter("hwencode_key_frames_total", "Encoded key frames", &m.KeyFrames)
	counter("hwencode_bytes_encoded_total", "Bitstream bytes produced", &m.BytesEncoded)

	counter("hwencode_drains_total", "Completed drains", &m.Drains)
	counter("hwencode_flushes_total", "Flush operations", &m.Flushes)
	counter("hwencode_errors_total", "Errors reported to the client", &m.Errors)

	gauge("hwencode_pending_items", "Work items waiting for the device", &m.PendingItems)
	gauge("hwencode_inflight_items", "Work items submitted to the device", &m.InFlightItems)

	factory := promauto.With(m.registry)
	m.encodeLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "hwencode_encode_latency_seconds",
		Help:    "Time from submitting an item to the device until it is done",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
	m.frameSize = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "hwencode_frame_size_bytes",
		Help:    "Size of encoded frames",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B to 4MB
	})
}

// ItemQueued records a work item accepted by Queue.
func (m *Metrics) ItemQueued() {
	if m == nil {
		return
	}
	m.ItemsQueued.Add(1)
}

// ItemsDone records n completed work items.
func (m *Metrics) ItemsDone(n int) {
	if m == nil {
		return
	}
	m.ItemsCompleted.Add(uint64(n))
}

// ItemsReturned records n work items returned without encoding.
func (m *Metrics) ItemsReturned(n int) {
	if m == nil {
		return
	}
	m.ItemsAborted.Add(uint64(n))
}

// FrameEncoded records one encoded buffer.
func (m *Metrics) FrameEncoded(size int, keyFrame bool) {
	if m == nil {
		return
	}
	m.FramesEncoded.Add(1)
	m.BytesEncoded.Add(uint64(size))
	if keyFrame {
		m.KeyFrames.Add(1)
	}
	m.frameSize.Observe(float64(size))
}

// ObserveLatency records the device time of one work item.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.encodeLatency.Observe(d.Seconds())
}

// DrainDone records a completed drain.
func (m *Metrics) DrainDone() {
	if m == nil {
		return
	}
	m.Drains.Add(1)
}

// Flushed records a flush.
func (m *Metrics) Flushed() {
	if m == nil {
		return
	}
	m.Flushes.Add(1)
}

// ErrorReported records an error sent to the client.
func (m *Metrics) ErrorReported() {
	if m == nil {
		return
	}
	m.Errors.Add(1)
}

// SetQueueDepth updates the occupancy gauges.
func (m *Metrics) SetQueueDepth(pending, inFlight int) {
	if m == nil {
		return
	}
	m.PendingItems.Store(int64(pending))
	m.InFlightItems.Store(int64(inFlight))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ItemsQueued    uint64 `json:"itemsQueued"`
	ItemsCompleted uint64 `json:"itemsCompleted"`
	ItemsAborted   uint64 `json:"itemsAborted"`
	FramesEncoded  uint64 `json:"framesEncoded"`
	KeyFrames      uint64 `json:"keyFrames"`
	BytesEncoded   uint64 `json:"bytesEncoded"`
	Drains         uint64 `json:"drains"`
	Flushes        uint64 `json:"flushes"`
	Errors         uint64 `json:"errors"`
	PendingItems   int64  `json:"pendingItems"`
	InFlightItems  int64  `json:"inFlightItems"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		ItemsQueued:    m.ItemsQueued.Load(),
		ItemsCompleted: m.ItemsCompleted.Load(),
		ItemsAborted:   m.ItemsAborted.Load(),
		FramesEncoded:  m.FramesEncoded.Load(),
		KeyFrames:      m.KeyFrames.Load(),
		BytesEncoded:   m.BytesEncoded.Load(),
		Drains:         m.Drains.Load(),
		Flushes:        m.Flushes.Load(),
		Errors:         m.Errors.Load(),
		PendingItems:   m.PendingItems.Load(),
		InFlightItems:  m.InFlightItems.Load(),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
