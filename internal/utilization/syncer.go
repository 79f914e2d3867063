package utilization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Defaults and limits
const (
	DefaultLookbackDays = 7
	MaxLookbackDays     = 90
	DefaultConcurrency  = 4

	// resolution of every query; one datapoint is one UTC day
	resolution = "1d"
	day        = 24 * time.Hour
)

// ErrInvalidLookback is returned for a lookback outside 1..MaxLookbackDays
var ErrInvalidLookback = fmt.Errorf("lookback must be between 1 and %d days", MaxLookbackDays)

// monitored describes which resources of a family are sampled and how
type monitored struct {
	family    provider.Family
	namespace string
	metrics   []string
	state     provider.LifecycleState
}

var monitoredFamilies = []monitored{
	{
		family:    provider.FamilyComputeInstance,
		namespace: "oci_computeagent",
		metrics:   []string{"CpuUtilization", "MemoryUtilization"},
		state:     provider.StateRunning,
	},
	{
		family:    provider.FamilyLoadBalancer,
		namespace: "oci_lbaas",
		metrics:   []string{"PeakBandwidth"},
		state:     provider.StateActive,
	},
}

// Store reads the inventory and writes samples
type Store interface {
	ListResources(ctx context.Context, user string, family provider.Family, includeDeleted bool) ([]provider.Resource, error)
	UpsertSample(ctx context.Context, m provider.MetricSample) error
}

// UserSource lists the users to sync
type UserSource interface {
	Users(ctx context.Context) ([]string, error)
}

// Options select the window and statistic of one pass
type Options struct {
	LookbackDays int
	Aggregation  provider.Aggregation
}

// Config sets pass defaults
type Config struct {
	LookbackDays int
	Aggregation  provider.Aggregation
	Concurrency  int
}

// Failure is one skipped (resource, metric)
type Failure struct {
	ResourceID string `json:"resource_id"`
	MetricName string `json:"metric_name"`
	Error      string `json:"error"`
}

// Report summarizes one user's pass
type Report struct {
	User         string               `json:"user"`
	LookbackDays int                  `json:"lookback_days"`
	Aggregation  provider.Aggregation `json:"aggregation"`
	Resources    int                  `json:"resources"`
	Samples      int                  `json:"samples"`
	Failures     []Failure            `json:"failures,omitempty"`
	Duration     time.Duration        `json:"duration"`
}

// Syncer runs utilization passes
type Syncer struct {
	store    Store
	gateways provider.Gateways
	users    UserSource
	cfg      Config
	clock    clock.Clock
	logger   *logger.Logger
	metrics  *telemetry.Metrics
}

// New creates a Syncer. clk may be nil for the real clock.
func New(st Store, gateways provider.Gateways, users UserSource, cfg Config, clk clock.Clock, log *logger.Logger, metrics *telemetry.Metrics) *Syncer {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.Aggregation == "" {
		cfg.Aggregation = provider.AggregationMean
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Syncer{
		store:    st,
		gateways: gateways,
		users:    users,
		cfg:      cfg,
		clock:    clk,
		logger:   log.Component("utilization"),
		metrics:  metrics,
	}
}

// Query builds the monitoring query of one metric for one resource
func Query(metric, resourceID string, agg provider.Aggregation) string {
	return fmt.Sprintf("%s[%s]{resourceId = %q}.%s()", metric, resolution, resourceID, agg)
}

// SyncUser samples every monitored resource of user over the lookback window.
// A failing resource is recorded in the report and skipped.
func (s *Syncer) SyncUser(ctx context.Context, user string, opts Options) (*Report, error) {
	opts, err := s.options(opts)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	report := &Report{User: user, LookbackDays: opts.LookbackDays, Aggregation: opts.Aggregation}

	gw, err := s.gateways.Gateway(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("gateway for %s: %w", user, err)
	}

	windowEnd := start
	windowStart := dayOf(start).AddDate(0, 0, -opts.LookbackDays)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, mon := range monitoredFamilies {
		resources, err := s.store.ListResources(ctx, user, mon.family, false)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("list %s: %w", mon.family, err)
		}

		for _, r := range resources {
			if r.LifecycleState != mon.state {
				continue
			}
			report.Resources++

			for _, metric := range mon.metrics {
				g.Go(func() error {
					n, err := s.sample(ctx, gw, r, mon, metric, opts.Aggregation, windowStart, windowEnd)

					mu.Lock()
					defer mu.Unlock()
					report.Samples += n
					if err != nil {
						provider.InvalidateOnAuthError(s.gateways, user, err)
						s.metrics.SampleFailure(string(mon.family))
						report.Failures = append(report.Failures, Failure{
							ResourceID: r.ID,
							MetricName: metric,
							Error:      err.Error(),
						})
					}
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		if report.Failures[i].ResourceID != report.Failures[j].ResourceID {
			return report.Failures[i].ResourceID < report.Failures[j].ResourceID
		}
		return report.Failures[i].MetricName < report.Failures[j].MetricName
	})
	report.Duration = s.clock.Now().Sub(start)

	s.logger.Info("Metrics sync finished",
		"user", user,
		"resources", report.Resources,
		"samples", report.Samples,
		"failures", len(report.Failures),
		"lookback_days", opts.LookbackDays,
		"aggregation", opts.Aggregation)
	return report, nil
}

// SyncAll runs SyncUser for every user. A failing user never stops the others.
func (s *Syncer) SyncAll(ctx context.Context, opts Options) ([]*Report, error) {
	users, err := s.users.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, u := range users {
		report, err := s.SyncUser(ctx, u, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// sample fetches one metric of one resource and upserts its datapoints
func (s *Syncer) sample(ctx context.Context, gw *provider.Gateway, r provider.Resource, mon monitored, metric string, agg provider.Aggregation, from, to time.Time) (int, error) {
	points, err := gw.SummarizeMetrics(ctx, provider.MetricQuery{
		CompartmentID: r.CompartmentID,
		Namespace:     mon.namespace,
		Query:         Query(metric, r.ID, agg),
		Resolution:    resolution,
		Start:         from,
		End:           to,
	})
	if err != nil {
		return 0, err
	}

	fetchedAt := s.clock.Now()
	written := 0
	for _, p := range points {
		periodStart := dayOf(p.Timestamp)
		err := s.store.UpsertSample(ctx, provider.MetricSample{
			Owner:        r.Owner,
			ResourceID:   r.ID,
			ResourceType: mon.family,
			MetricName:   metric,
			Aggregation:  agg,
			PeriodStart:  periodStart,
			PeriodEnd:    periodStart.Add(day),
			Value:        p.Value,
			FetchedAt:    fetchedAt,
		})
		if err != nil {
			s.metrics.SamplesWritten(string(mon.family), written)
			return written, err
		}
		written++
	}
	s.metrics.SamplesWritten(string(mon.family), written)
	return written, nil
}

func (s *Syncer) options(opts Options) (Options, error) {
	if opts.LookbackDays == 0 {
		opts.LookbackDays = s.cfg.LookbackDays
	}
	if opts.LookbackDays < 1 || opts.LookbackDays > MaxLookbackDays {
		return opts, ErrInvalidLookback
	}
	if opts.Aggregation == "" {
		opts.Aggregation = s.cfg.Aggregation
	}
	agg, err := provider.ParseAggregation(string(opts.Aggregation))
	if err != nil {
		return opts, err
	}
	opts.Aggregation = agg
	return opts, nil
}

// dayOf returns UTC midnight of the day containing t
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
