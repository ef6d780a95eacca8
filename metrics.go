package animacore

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shimmerlabs/animacore/internal/interfaces"
)

// Metrics is the hot-path bookkeeping struct: every component increments
// plain atomics, never a prometheus client type, so C2/C3/C5's actual
// request path never pays an exporter's allocation or lock cost. Atomic
// counters plus a latency histogram bucket array and a derived Snapshot,
// generalized from block-device read/write/discard/flush counters to this
// core's submit/complete/retry/batch lifecycle.
type Metrics struct {
	SubmitCount   atomic.Uint64
	CompleteCount atomic.Uint64
	ErrorCount    atomic.Uint64
	RetryCount    atomic.Uint64
	BatchCount    atomic.Uint64
	BatchedOps    atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	LatencyOpCount atomic.Uint64
	// LatencyBuckets counts completions under 1, 2, 4, 8, ... 128ms, the
	// last bucket catching everything slower.
	LatencyBuckets [8]atomic.Uint64

	StartTime time.Time
}

var latencyBucketBoundsNs = [8]int64{
	1_000_000, 2_000_000, 4_000_000, 8_000_000,
	16_000_000, 32_000_000, 64_000_000, 128_000_000,
}

// NewMetrics returns a Metrics ready to record from process start.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordSubmit is called by the scheduler (C2) when a request is accepted
// into its queue.
func (m *Metrics) RecordSubmit(queueDepth int) {
	m.SubmitCount.Add(1)
	m.QueueDepthTotal.Add(uint64(queueDepth))
	m.QueueDepthCount.Add(1)
	for {
		cur := m.MaxQueueDepth.Load()
		if uint32(queueDepth) <= cur {
			return
		}
		if m.MaxQueueDepth.CompareAndSwap(cur, uint32(queueDepth)) {
			return
		}
	}
}

// RecordComplete is called by the scheduler when a request finishes,
// successfully or not.
func (m *Metrics) RecordComplete(latency time.Duration, success bool) {
	m.CompleteCount.Add(1)
	if !success {
		m.ErrorCount.Add(1)
	}
	m.recordLatency(latency)
}

// RecordRetry is called each time the scheduler retries a failed write.
func (m *Metrics) RecordRetry() {
	m.RetryCount.Add(1)
}

// RecordBatch is called once per coalesced wire write, with the number of
// logical requests it carried.
func (m *Metrics) RecordBatch(size int) {
	m.BatchCount.Add(1)
	m.BatchedOps.Add(uint64(size))
}

func (m *Metrics) recordLatency(latency time.Duration) {
	ns := latency.Nanoseconds()
	m.TotalLatencyNs.Add(uint64(ns))
	m.LatencyOpCount.Add(1)
	for i, bound := range latencyBucketBoundsNs {
		if ns < bound {
			m.LatencyBuckets[i].Add(1)
			return
		}
	}
	m.LatencyBuckets[len(m.LatencyBuckets)-1].Add(1)
}

// Snapshot is a point-in-time read of every derived metric.
type Snapshot struct {
	SubmitCount     uint64
	CompleteCount   uint64
	ErrorCount      uint64
	RetryCount      uint64
	BatchCount      uint64
	BatchedOps      uint64
	AvgQueueDepth   float64
	MaxQueueDepth   uint32
	AvgLatencyMs    float64
	ErrorRate       float64
	Uptime          time.Duration
}

// Snapshot derives a Snapshot from the current atomic counters.
func (m *Metrics) Snapshot() Snapshot {
	completes := m.CompleteCount.Load()
	errs := m.ErrorCount.Load()
	depthCount := m.QueueDepthCount.Load()
	latOps := m.LatencyOpCount.Load()

	s := Snapshot{
		SubmitCount:   m.SubmitCount.Load(),
		CompleteCount: completes,
		ErrorCount:    errs,
		RetryCount:    m.RetryCount.Load(),
		BatchCount:    m.BatchCount.Load(),
		BatchedOps:    m.BatchedOps.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
		Uptime:        time.Since(m.StartTime),
	}
	if depthCount > 0 {
		s.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(depthCount)
	}
	if latOps > 0 {
		s.AvgLatencyMs = float64(m.TotalLatencyNs.Load()) / float64(latOps) / 1e6
	}
	if completes > 0 {
		s.ErrorRate = float64(errs) / float64(completes)
	}
	return s
}

// Collector adapts Metrics to prometheus.Collector, so the exporter reads
// the hot-path atomics only on scrape rather than the hot path touching a
// prometheus client type itself.
type Collector struct {
	metrics *Metrics

	submitTotal   *prometheus.Desc
	completeTotal *prometheus.Desc
	errorTotal    *prometheus.Desc
	retryTotal    *prometheus.Desc
	batchTotal    *prometheus.Desc
	queueDepthMax *prometheus.Desc
	latencyAvgMs  *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewCollector wraps metrics for registration with a prometheus.Registry.
func NewCollector(metrics *Metrics) *Collector {
	return &Collector{
		metrics:       metrics,
		submitTotal:   prometheus.NewDesc("animacore_submit_total", "Total scheduler submissions.", nil, nil),
		completeTotal: prometheus.NewDesc("animacore_complete_total", "Total scheduler completions.", nil, nil),
		errorTotal:    prometheus.NewDesc("animacore_error_total", "Total failed completions.", nil, nil),
		retryTotal:    prometheus.NewDesc("animacore_retry_total", "Total retried writes.", nil, nil),
		batchTotal:    prometheus.NewDesc("animacore_batch_total", "Total coalesced wire writes.", nil, nil),
		queueDepthMax: prometheus.NewDesc("animacore_queue_depth_max", "Highest observed queue depth.", nil, nil),
		latencyAvgMs:  prometheus.NewDesc("animacore_latency_avg_ms", "Average request completion latency in milliseconds.", nil, nil),
		uptimeSeconds: prometheus.NewDesc("animacore_uptime_seconds", "Seconds since the metrics were reset.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitTotal
	ch <- c.completeTotal
	ch <- c.errorTotal
	ch <- c.retryTotal
	ch <- c.batchTotal
	ch <- c.queueDepthMax
	ch <- c.latencyAvgMs
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.submitTotal, prometheus.CounterValue, float64(s.SubmitCount))
	ch <- prometheus.MustNewConstMetric(c.completeTotal, prometheus.CounterValue, float64(s.CompleteCount))
	ch <- prometheus.MustNewConstMetric(c.errorTotal, prometheus.CounterValue, float64(s.ErrorCount))
	ch <- prometheus.MustNewConstMetric(c.retryTotal, prometheus.CounterValue, float64(s.RetryCount))
	ch <- prometheus.MustNewConstMetric(c.batchTotal, prometheus.CounterValue, float64(s.BatchCount))
	ch <- prometheus.MustNewConstMetric(c.queueDepthMax, prometheus.GaugeValue, float64(s.MaxQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.latencyAvgMs, prometheus.GaugeValue, s.AvgLatencyMs)
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, s.Uptime.Seconds())
}

var _ prometheus.Collector = (*Collector)(nil)

// MetricsObserver adapts Metrics to interfaces.Observer, the scheduler's
// telemetry sink. Each device's events are folded into the same process-
// wide counters; per-device breakdowns are left to the per-device labels a
// future Desc could add, not needed for the current dashboard.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps metrics as an interfaces.Observer.
func NewMetricsObserver(metrics *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

func (o *MetricsObserver) ObserveSubmit(deviceID uint8, priority uint8, queueDepth int) {
	o.metrics.RecordSubmit(queueDepth)
}

func (o *MetricsObserver) ObserveComplete(deviceID uint8, latencyNs uint64, success bool) {
	o.metrics.RecordComplete(time.Duration(latencyNs), success)
}

func (o *MetricsObserver) ObserveRetry(deviceID uint8, attempt int) {
	o.metrics.RecordRetry()
}

func (o *MetricsObserver) ObserveBatch(deviceID uint8, size int) {
	o.metrics.RecordBatch(size)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
