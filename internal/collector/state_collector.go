package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/scheduler"
	"github.com/zgpcy/oci-cost-sync/internal/store"
	"github.com/zgpcy/oci-cost-sync/internal/version"
)

const namespace = "oci_cost_sync"

// DefaultRefreshInterval is how often the store snapshot is refreshed
const DefaultRefreshInterval = time.Minute

// Source supplies the durable counts exported as gauges
type Source interface {
	CountResources(ctx context.Context) ([]store.ResourceCount, error)
	CountPeriodsByState(ctx context.Context) (map[provider.PeriodState]int, error)
	CountSamples(ctx context.Context) (int64, error)
}

// snapshot is one read of the durable counts
type snapshot struct {
	resources []store.ResourceCount
	periods   map[provider.PeriodState]int
	samples   int64
}

// jobState is the last known outcome of a job
type jobState struct {
	lastRun     time.Time
	lastSuccess time.Time
	duration    time.Duration
	status      scheduler.Status
}

// StateCollector implements prometheus.Collector for the synced state: the
// inventory size, period states, sample count and job outcomes
type StateCollector struct {
	source   Source
	interval time.Duration
	logger   *logger.Logger
	clock    clock.Clock // Time provider for testing

	// Metrics
	upMetric              *prometheus.Desc
	resourcesMetric       *prometheus.Desc
	periodsMetric         *prometheus.Desc
	samplesMetric         *prometheus.Desc
	refreshDurationMetric *prometheus.Desc
	lastRefreshMetric     *prometheus.Desc
	jobLastRunMetric      *prometheus.Desc
	jobLastSuccessMetric  *prometheus.Desc
	jobDurationMetric     *prometheus.Desc
	jobRunsTotal          *prometheus.CounterVec
	refreshErrorsTotal    prometheus.Counter
	buildInfo             *prometheus.GaugeVec

	// State
	mu                  sync.RWMutex
	last                snapshot
	lastError           error
	lastRefresh         time.Time
	lastRefreshDuration time.Duration
	jobs                map[scheduler.JobName]jobState
	refreshStarted      atomic.Bool // Prevent multiple refresh goroutines
	isReady             bool
}

// NewStateCollector creates a StateCollector. A zero interval uses DefaultRefreshInterval.
func NewStateCollector(source Source, interval time.Duration, log *logger.Logger) *StateCollector {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)
	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	return &StateCollector{
		source:   source,
		interval: interval,
		logger:   log.Component("collector"),
		clock:    clock.RealClock{},
		upMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Was the last state refresh successful (1 = success, 0 = failure)",
			nil, nil,
		),
		resourcesMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "resources"),
			"Inventory rows by user, family and deletion state",
			[]string{"user", "family", "state"}, nil,
		),
		periodsMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "periods"),
			"Recorded (user, period) units by rollover state",
			[]string{"state"}, nil,
		),
		samplesMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric_samples"),
			"Utilization samples currently retained",
			nil, nil,
		),
		refreshDurationMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "state_refresh_duration_seconds"),
			"Duration of the last state refresh in seconds",
			nil, nil,
		),
		lastRefreshMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "state_last_refresh_timestamp_seconds"),
			"Unix timestamp of the last state refresh",
			nil, nil,
		),
		jobLastRunMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "job_last_run_timestamp_seconds"),
			"Unix timestamp of the last finished run of a job",
			[]string{"job", "status"}, nil,
		),
		jobLastSuccessMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "job_last_success_timestamp_seconds"),
			"Unix timestamp of the last successful run of a job",
			[]string{"job"}, nil,
		),
		jobDurationMetric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "job_last_duration_seconds"),
			"Duration of the last finished run of a job",
			[]string{"job"}, nil,
		),
		jobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job executions by job and final status",
		}, []string{"job", "status"}),
		refreshErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_refresh_errors_total",
			Help:      "Total number of failed state refreshes since startup",
		}),
		buildInfo: buildInfo,
		jobs:      make(map[scheduler.JobName]jobState),
	}
}

// Describe implements prometheus.Collector
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.upMetric
	ch <- c.resourcesMetric
	ch <- c.periodsMetric
	ch <- c.samplesMetric
	ch <- c.refreshDurationMetric
	ch <- c.lastRefreshMetric
	ch <- c.jobLastRunMetric
	ch <- c.jobLastSuccessMetric
	ch <- c.jobDurationMetric
	c.jobRunsTotal.Describe(ch)
	c.refreshErrorsTotal.Describe(ch)
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	upValue := 0.0
	if c.isReady && c.lastError == nil {
		upValue = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.upMetric, prometheus.GaugeValue, upValue)

	for _, rc := range c.last.resources {
		ch <- prometheus.MustNewConstMetric(c.resourcesMetric, prometheus.GaugeValue,
			float64(rc.Active), rc.User, string(rc.Family), "active")
		ch <- prometheus.MustNewConstMetric(c.resourcesMetric, prometheus.GaugeValue,
			float64(rc.Deleted), rc.User, string(rc.Family), "deleted")
	}

	for _, state := range []provider.PeriodState{provider.PeriodOpen, provider.PeriodClosing, provider.PeriodClosed} {
		ch <- prometheus.MustNewConstMetric(c.periodsMetric, prometheus.GaugeValue,
			float64(c.last.periods[state]), string(state))
	}

	ch <- prometheus.MustNewConstMetric(c.samplesMetric, prometheus.GaugeValue, float64(c.last.samples))
	ch <- prometheus.MustNewConstMetric(c.refreshDurationMetric, prometheus.GaugeValue, c.lastRefreshDuration.Seconds())

	if !c.lastRefresh.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastRefreshMetric, prometheus.GaugeValue, float64(c.lastRefresh.Unix()))
	}

	for job, js := range c.jobs {
		ch <- prometheus.MustNewConstMetric(c.jobLastRunMetric, prometheus.GaugeValue,
			float64(js.lastRun.Unix()), string(job), string(js.status))
		ch <- prometheus.MustNewConstMetric(c.jobDurationMetric, prometheus.GaugeValue,
			js.duration.Seconds(), string(job))
		if !js.lastSuccess.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.jobLastSuccessMetric, prometheus.GaugeValue,
				float64(js.lastSuccess.Unix()), string(job))
		}
	}

	c.jobRunsTotal.Collect(ch)
	c.refreshErrorsTotal.Collect(ch)
	c.buildInfo.Collect(ch)
}

// Observe records a finished or skipped execution. It is registered as a
// scheduler OnFinish hook.
func (c *StateCollector) Observe(e scheduler.Execution) {
	c.jobRunsTotal.WithLabelValues(string(e.Job), string(e.Status)).Inc()
	if e.Status == scheduler.StatusSkipped {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	js := c.jobs[e.Job]
	js.lastRun = e.StartedAt.Add(e.Duration)
	js.duration = e.Duration
	js.status = e.Status
	if e.Status == scheduler.StatusSuccess {
		js.lastSuccess = js.lastRun
	}
	c.jobs[e.Job] = js
}

// StartBackgroundRefresh refreshes the snapshot now and then every interval
// until ctx ends. Uses an atomic flag to prevent multiple refresh goroutines.
func (c *StateCollector) StartBackgroundRefresh(ctx context.Context) {
	if !c.refreshStarted.CompareAndSwap(false, true) {
		c.logger.Warn("Background refresh already started, skipping")
		return
	}

	// Initial fetch
	c.Refresh(ctx)

	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		defer c.refreshStarted.Store(false) // Reset on exit
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping background refresh")
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Refresh reads the durable counts and replaces the snapshot
func (c *StateCollector) Refresh(ctx context.Context) {
	start := time.Now()

	snap, err := c.read(ctx)
	duration := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRefresh = c.clock.Now()
	c.lastRefreshDuration = duration
	c.lastError = err

	if err != nil {
		c.refreshErrorsTotal.Inc()
		c.logger.Error("Failed to refresh state metrics", "error", err)
		c.isReady = false
		return
	}

	c.last = snap
	c.isReady = true
	c.logger.Debug("Refreshed state metrics",
		"resource_rows", len(snap.resources),
		"samples", snap.samples,
		"duration_seconds", duration.Seconds())
}

func (c *StateCollector) read(ctx context.Context) (snapshot, error) {
	var (
		snap snapshot
		err  error
	)
	if snap.resources, err = c.source.CountResources(ctx); err != nil {
		return snapshot{}, err
	}
	if snap.periods, err = c.source.CountPeriodsByState(ctx); err != nil {
		return snapshot{}, err
	}
	if snap.samples, err = c.source.CountSamples(ctx); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// IsReady returns true if the last refresh succeeded
func (c *StateCollector) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isReady
}

// LastError returns the last error encountered during refresh
func (c *StateCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// LastRefreshTime returns the time of the last refresh attempt
func (c *StateCollector) LastRefreshTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
