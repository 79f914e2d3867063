// Package telemetry holds the Prometheus instruments shared by the core
// components. A nil *Metrics is valid and records nothing, so packages can be
// used without a registry in tests and one-shot CLI runs.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oci_cost_sync"

// Metrics groups every counter and histogram the core records into
type Metrics struct {
	gatewayCalls    *prometheus.CounterVec
	gatewayRetries  *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec

	cacheRequests  *prometheus.CounterVec
	upstreamLoads  *prometheus.CounterVec
	rollovers      *prometheus.CounterVec
	resourceWrites *prometheus.CounterVec
	familyErrors   *prometheus.CounterVec
	samplesWritten *prometheus.CounterVec
	sampleFailures *prometheus.CounterVec
	samplesPurged  prometheus.Counter
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Provider calls by endpoint and final outcome (ok or error kind)",
		}, []string{"endpoint", "outcome"}),
		gatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Provider call attempts that were retried after a retryable error",
		}, []string{"endpoint", "kind"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Wall time of a provider call including rate limiting and retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_cache_requests_total",
			Help:      "Open-period cost reads by hot cache result (hit or miss)",
		}, []string{"result"}),
		upstreamLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_upstream_loads_total",
			Help:      "Upstream usage fetches issued on cache miss, by result",
		}, []string{"result"}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Period rollovers per user by outcome",
		}, []string{"outcome"}),
		resourceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_writes_total",
			Help:      "Inventory rows written by family and action (new, updated, soft_deleted)",
		}, []string{"family", "action"}),
		familyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_family_errors_total",
			Help:      "Resource family syncs that finished with an error",
		}, []string{"family"}),
		samplesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_samples_written_total",
			Help:      "Utilization samples upserted by resource family",
		}, []string{"family"}),
		sampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_fetch_failures_total",
			Help:      "Per-resource utilization fetches that failed and were skipped",
		}, []string{"family"}),
		samplesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_samples_purged_total",
			Help:      "Utilization samples deleted by the retention sweep",
		}),
	}

	collectors := []prometheus.Collector{
		m.gatewayCalls, m.gatewayRetries, m.gatewayDuration,
		m.cacheRequests, m.upstreamLoads, m.rollovers,
		m.resourceWrites, m.familyErrors,
		m.samplesWritten, m.sampleFailures, m.samplesPurged,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GatewayCall records the final outcome of one provider call
func (m *Metrics) GatewayCall(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(endpoint, outcome).Inc()
	m.gatewayDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// GatewayRetry records one retried attempt
func (m *Metrics) GatewayRetry(endpoint, kind string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(endpoint, kind).Inc()
}

// CacheLookup records a hot cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// UpstreamLoad records one coalesced upstream usage fetch
func (m *Metrics) UpstreamLoad(err error) {
	if m == nil {
		return
	}
	m.upstreamLoads.WithLabelValues(result(err)).Inc()
}

// Rollover records a per-user rollover outcome
func (m *Metrics) Rollover(outcome string) {
	if m == nil {
		return
	}
	m.rollovers.WithLabelValues(outcome).Inc()
}

// InventoryWrites records the row counts of one family reconciliation
func (m *Metrics) InventoryWrites(family string, created, updated, softDeleted int, err error) {
	if m == nil {
		return
	}
	m.resourceWrites.WithLabelValues(family, "new").Add(float64(created))
	m.resourceWrites.WithLabelValues(family, "updated").Add(float64(updated))
	m.resourceWrites.WithLabelValues(family, "soft_deleted").Add(float64(softDeleted))
	if err != nil {
		m.familyErrors.WithLabelValues(family).Inc()
	}
}

// SamplesWritten records upserted utilization samples
func (m *Metrics) SamplesWritten(family string, n int) {
	if m == nil {
		return
	}
	m.samplesWritten.WithLabelValues(family).Add(float64(n))
}

// SampleFailure records a skipped resource
func (m *Metrics) SampleFailure(family string) {
	if m == nil {
		return
	}
	m.sampleFailures.WithLabelValues(family).Inc()
}

// SamplesPurged records rows removed by the retention sweep
func (m *Metrics) SamplesPurged(n int64) {
	if m == nil {
		return
	}
	m.samplesPurged.Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
