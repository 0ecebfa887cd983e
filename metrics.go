package rdmarpc

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/rdma-rpc/internal/interfaces"
)

// LatencyBuckets are the call-latency histogram boundaries in nanoseconds,
// covering the range a Call is expected to span: a sub-microsecond
// same-host loopback round trip up to a multi-second stall under
// contention.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks caller- and handler-side statistics for an RDMA RPC
// client or server. All fields are updated from hot-path goroutines (the
// poller, the worker pool, caller goroutines) and must only ever be touched
// through atomics.
type Metrics struct {
	CallOps      atomic.Uint64
	DispatchOps  atomic.Uint64
	CallErrors   atomic.Uint64
	DispatchErrors atomic.Uint64

	BytesSent atomic.Uint64
	BytesRecv atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCall records one caller-side Call outcome.
func (m *Metrics) RecordCall(bytesSent, bytesRecv uint64, latencyNs uint64, success bool) {
	m.CallOps.Add(1)
	m.BytesSent.Add(bytesSent)
	m.BytesRecv.Add(bytesRecv)
	if !success {
		m.CallErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDispatch records one handler-side dispatch outcome.
func (m *Metrics) RecordDispatch(bytesIn, bytesOut uint64, latencyNs uint64, success bool) {
	m.DispatchOps.Add(1)
	m.BytesRecv.Add(bytesIn)
	m.BytesSent.Add(bytesOut)
	if !success {
		m.DispatchErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records a context-pool occupancy sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks StopTime, freezing Snapshot's uptime calculation.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics plus its
// derived statistics.
type MetricsSnapshot struct {
	CallOps        uint64
	DispatchOps    uint64
	CallErrors     uint64
	DispatchErrors uint64

	BytesSent uint64
	BytesRecv uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	CallsPerSec    float64
	DispatchesPerSec float64
	Throughput     float64 // bytes/sec, sent+recv
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot computes a point-in-time MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CallOps:        m.CallOps.Load(),
		DispatchOps:    m.DispatchOps.Load(),
		CallErrors:     m.CallErrors.Load(),
		DispatchErrors: m.DispatchErrors.Load(),
		BytesSent:      m.BytesSent.Load(),
		BytesRecv:      m.BytesRecv.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.CallOps + snap.DispatchOps
	snap.TotalBytes = snap.BytesSent + snap.BytesRecv

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CallsPerSec = float64(snap.CallOps) / uptimeSeconds
		snap.DispatchesPerSec = float64(snap.DispatchOps) / uptimeSeconds
		snap.Throughput = float64(snap.TotalBytes) / uptimeSeconds
	}

	totalErrors := snap.CallErrors + snap.DispatchErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile via
// linear interpolation across the cumulative histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters and restarts StartTime, for reuse across tests.
func (m *Metrics) Reset() {
	m.CallOps.Store(0)
	m.DispatchOps.Store(0)
	m.CallErrors.Store(0)
	m.DispatchErrors.Store(0)
	m.BytesSent.Store(0)
	m.BytesRecv.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver discards every observation; it is the default when a
// Client/Server is built without WithClientObserver/WithServerObserver.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCall(uint32, uint64, uint64, uint64, bool)     {}
func (NoOpObserver) ObserveDispatch(uint32, uint64, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint16, uint32)                     {}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance, discarding the rpc_id/conn_id dimensions that Metrics
// itself doesn't break out.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver builds an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCall(rpcID uint32, bytesSent, bytesRecv uint64, latencyNs uint64, success bool) {
	o.metrics.RecordCall(bytesSent, bytesRecv, latencyNs, success)
}

func (o *MetricsObserver) ObserveDispatch(rpcID uint32, bytesIn, bytesOut uint64, latencyNs uint64, success bool) {
	o.metrics.RecordDispatch(bytesIn, bytesOut, latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(connID uint16, depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
