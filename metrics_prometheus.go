package rdmarpc

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector adapts a *Metrics into a prometheus.Collector,
// grounded on the rdma_exporter collector's pattern of a Desc per metric
// with Collect computing gauges from a live snapshot on every scrape.
type PrometheusCollector struct {
	metrics *Metrics

	callOpsDesc       *prometheus.Desc
	dispatchOpsDesc   *prometheus.Desc
	callErrorsDesc    *prometheus.Desc
	dispatchErrorsDesc *prometheus.Desc
	bytesSentDesc     *prometheus.Desc
	bytesRecvDesc     *prometheus.Desc
	avgQueueDepthDesc *prometheus.Desc
	maxQueueDepthDesc *prometheus.Desc
	latencyP50Desc    *prometheus.Desc
	latencyP99Desc    *prometheus.Desc
	latencyP999Desc   *prometheus.Desc
	errorRateDesc     *prometheus.Desc
}

// NewPrometheusCollector builds a collector for m, namespaced under
// "rdmarpc".
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	const ns = "rdmarpc"
	return &PrometheusCollector{
		metrics:            m,
		callOpsDesc:        prometheus.NewDesc(ns+"_call_ops_total", "Total Call invocations.", nil, nil),
		dispatchOpsDesc:    prometheus.NewDesc(ns+"_dispatch_ops_total", "Total handler dispatches.", nil, nil),
		callErrorsDesc:     prometheus.NewDesc(ns+"_call_errors_total", "Total Call failures.", nil, nil),
		dispatchErrorsDesc: prometheus.NewDesc(ns+"_dispatch_errors_total", "Total dispatch failures.", nil, nil),
		bytesSentDesc:      prometheus.NewDesc(ns+"_bytes_sent_total", "Total bytes sent.", nil, nil),
		bytesRecvDesc:      prometheus.NewDesc(ns+"_bytes_recv_total", "Total bytes received.", nil, nil),
		avgQueueDepthDesc:  prometheus.NewDesc(ns+"_avg_queue_depth", "Average observed context-pool occupancy.", nil, nil),
		maxQueueDepthDesc:  prometheus.NewDesc(ns+"_max_queue_depth", "Maximum observed context-pool occupancy.", nil, nil),
		latencyP50Desc:     prometheus.NewDesc(ns+"_latency_seconds_p50", "50th percentile operation latency.", nil, nil),
		latencyP99Desc:     prometheus.NewDesc(ns+"_latency_seconds_p99", "99th percentile operation latency.", nil, nil),
		latencyP999Desc:    prometheus.NewDesc(ns+"_latency_seconds_p999", "99.9th percentile operation latency.", nil, nil),
		errorRateDesc:      prometheus.NewDesc(ns+"_error_rate_percent", "Percentage of operations that failed.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callOpsDesc
	ch <- c.dispatchOpsDesc
	ch <- c.callErrorsDesc
	ch <- c.dispatchErrorsDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesRecvDesc
	ch <- c.avgQueueDepthDesc
	ch <- c.maxQueueDepthDesc
	ch <- c.latencyP50Desc
	ch <- c.latencyP99Desc
	ch <- c.latencyP999Desc
	ch <- c.errorRateDesc
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.callOpsDesc, prometheus.CounterValue, float64(snap.CallOps))
	ch <- prometheus.MustNewConstMetric(c.dispatchOpsDesc, prometheus.CounterValue, float64(snap.DispatchOps))
	ch <- prometheus.MustNewConstMetric(c.callErrorsDesc, prometheus.CounterValue, float64(snap.CallErrors))
	ch <- prometheus.MustNewConstMetric(c.dispatchErrorsDesc, prometheus.CounterValue, float64(snap.DispatchErrors))
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(snap.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(snap.BytesRecv))
	ch <- prometheus.MustNewConstMetric(c.avgQueueDepthDesc, prometheus.GaugeValue, snap.AvgQueueDepth)
	ch <- prometheus.MustNewConstMetric(c.maxQueueDepthDesc, prometheus.GaugeValue, float64(snap.MaxQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.latencyP50Desc, prometheus.GaugeValue, float64(snap.LatencyP50Ns)/1e9)
	ch <- prometheus.MustNewConstMetric(c.latencyP99Desc, prometheus.GaugeValue, float64(snap.LatencyP99Ns)/1e9)
	ch <- prometheus.MustNewConstMetric(c.latencyP999Desc, prometheus.GaugeValue, float64(snap.LatencyP999Ns)/1e9)
	ch <- prometheus.MustNewConstMetric(c.errorRateDesc, prometheus.GaugeValue, snap.ErrorRate)
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
