package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/costcache"
	"github.com/zgpcy/oci-cost-sync/internal/inventory"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/utilization"
)

// Defaults
const (
	DefaultRolloverInterval = time.Hour
	DefaultResourceInterval = 12 * time.Hour
	DefaultStartupDelay     = 30 * time.Second
	DefaultMetricsInterval  = 24 * time.Hour
	DefaultSweepInterval    = 24 * time.Hour
	DefaultHistorySize      = 200
)

// ErrJobRunning is returned when a job is triggered while it runs
var ErrJobRunning = errors.New("job is already running")

// Trigger sources recorded on executions
const (
	triggerSchedule = "schedule"
	triggerManual   = "manual"
)

// CostManager is the part of the cost cache the scheduler drives
type CostManager interface {
	CurrentPeriod() provider.Period
	RolloverPeriod(ctx context.Context, period provider.Period) (costcache.RolloverSummary, error)
	RolloverPending(ctx context.Context) (int, error)
	RolloverStale(ctx context.Context) (int, error)
	WarmCache(ctx context.Context, user string)
}

// ResourceSyncer runs inventory passes
type ResourceSyncer interface {
	SyncUser(ctx context.Context, user string) (*inventory.Report, error)
	SyncAll(ctx context.Context) ([]*inventory.Report, error)
}

// MetricsSyncer runs utilization passes
type MetricsSyncer interface {
	SyncUser(ctx context.Context, user string, opts utilization.Options) (*utilization.Report, error)
	SyncAll(ctx context.Context, opts utilization.Options) ([]*utilization.Report, error)
}

// Sweeper enforces sample retention
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// UserSource lists the users the periodic jobs cover
type UserSource interface {
	Users(ctx context.Context) ([]string, error)
}

// Config sets job intervals
type Config struct {
	RolloverInterval time.Duration
	ResourceInterval time.Duration
	StartupDelay     time.Duration
	MetricsInterval  time.Duration
	SweepInterval    time.Duration
	HistorySize      int
}

func (c Config) withDefaults() Config {
	if c.RolloverInterval <= 0 {
		c.RolloverInterval = DefaultRolloverInterval
	}
	if c.ResourceInterval <= 0 {
		c.ResourceInterval = DefaultResourceInterval
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = DefaultStartupDelay
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Scheduler runs the periodic jobs and on-demand triggers
type Scheduler struct {
	costs     CostManager
	resources ResourceSyncer
	metrics   MetricsSyncer
	sweeper   Sweeper
	users     UserSource
	cfg       Config
	clock     clock.Clock
	logger    *logger.Logger

	running map[JobName]*atomic.Bool

	mu       sync.Mutex
	history  *history
	onFinish []func(Execution)

	// base is the context of background work; cancelled by Stop
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. clk may be nil for the real clock.
func New(costs CostManager, resources ResourceSyncer, metrics MetricsSyncer, sweeper Sweeper, users UserSource, cfg Config, clk clock.Clock, log *logger.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	cfg = cfg.withDefaults()

	running := make(map[JobName]*atomic.Bool, len(Jobs))
	for _, j := range Jobs {
		running[j] = new(atomic.Bool)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		costs:     costs,
		resources: resources,
		metrics:   metrics,
		sweeper:   sweeper,
		users:     users,
		cfg:       cfg,
		clock:     clk,
		logger:    log.Component("scheduler"),
		running:   running,
		history:   newHistory(cfg.HistorySize),
		base:      base,
		cancel:    cancel,
	}
}

// OnFinish registers fn to be called with every finished or skipped execution
func (s *Scheduler) OnFinish(fn func(Execution)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinish = append(s.onFinish, fn)
}

// Start launches the periodic loops. They stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.base.Done():
		}
	}()

	s.loop(JobRollover, 0, s.cfg.RolloverInterval, s.rolloverJob)
	s.loop(JobResourceSync, s.cfg.StartupDelay, s.cfg.ResourceInterval, s.resourceSyncJob)
	s.loop(JobMetricsSync, s.cfg.MetricsInterval, s.cfg.MetricsInterval, s.metricsSyncJob(utilization.Options{}))
	s.loop(JobRetentionSweep, s.cfg.SweepInterval, s.cfg.SweepInterval, s.sweepJob)

	s.logger.Info("Scheduler started",
		"rollover_interval", s.cfg.RolloverInterval,
		"resource_interval", s.cfg.ResourceInterval,
		"startup_delay", s.cfg.StartupDelay,
		"metrics_interval", s.cfg.MetricsInterval,
		"sweep_interval", s.cfg.SweepInterval)
}

// Stop cancels running jobs and waits for every goroutine to return
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// loop runs fn after first and then every interval until the scheduler stops
func (s *Scheduler) loop(job JobName, first, interval time.Duration, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(first)
		defer timer.Stop()

		for {
			select {
			case <-s.base.Done():
				return
			case <-timer.C:
				if exec, ok := s.begin(job, triggerSchedule); ok {
					s.complete(exec, fn(s.base))
					if job == JobResourceSync {
						s.warmAfterSync()
					}
				}
				timer.Reset(interval)
			}
		}
	}()
}

// Run executes job synchronously with the scheduled arguments. It returns
// ErrJobRunning when the job is already running.
func (s *Scheduler) Run(ctx context.Context, job JobName) (Execution, error) {
	var fn func(context.Context) error
	switch job {
	case JobRollover:
		fn = s.rolloverJob
	case JobResourceSync:
		fn = s.resourceSyncJob
	case JobMetricsSync:
		fn = s.metricsSyncJob(utilization.Options{})
	case JobRetentionSweep:
		fn = s.sweepJob
	case JobWarmCache:
		fn = s.warmCacheJob
	default:
		return Execution{}, fmt.Errorf("unknown job %q", job)
	}

	exec, ok := s.begin(job, triggerManual)
	if !ok {
		return exec, ErrJobRunning
	}
	err := fn(ctx)
	return s.complete(exec, err), err
}

// TriggerResourceSync starts a resource sync for user in the background, or
// for every user when user is empty. It returns the execution id.
func (s *Scheduler) TriggerResourceSync(user string) (string, error) {
	fn := s.resourceSyncJob
	if user != "" {
		fn = func(ctx context.Context) error {
			report, err := s.resources.SyncUser(ctx, user)
			if err != nil {
				return err
			}
			if err := report.Err(); err != nil {
				return err
			}
			s.costs.WarmCache(ctx, user)
			return nil
		}
	}
	return s.trigger(JobResourceSync, fn)
}

// TriggerMetricsSync starts a metrics sync for user over days in the
// background, or for every user when user is empty. Zero days uses the
// configured lookback.
func (s *Scheduler) TriggerMetricsSync(user string, days int) (string, error) {
	if days < 0 || days > utilization.MaxLookbackDays {
		return "", utilization.ErrInvalidLookback
	}
	opts := utilization.Options{LookbackDays: days}

	fn := s.metricsSyncJob(opts)
	if user != "" {
		fn = func(ctx context.Context) error {
			report, err := s.metrics.SyncUser(ctx, user, opts)
			if err != nil {
				return err
			}
			if n := len(report.Failures); n > 0 {
				return fmt.Errorf("%d of %d resources had failures", n, report.Resources)
			}
			return nil
		}
	}
	return s.trigger(JobMetricsSync, fn)
}

// TriggerRollover starts a rollover of period for every user in the background
func (s *Scheduler) TriggerRollover(period provider.Period) (string, error) {
	if period.End().After(s.clock.Now()) {
		return "", costcache.ErrPeriodOpen
	}
	return s.trigger(JobRollover, func(ctx context.Context) error {
		_, err := s.costs.RolloverPeriod(ctx, period)
		return err
	})
}

// trigger acquires the job guard synchronously and runs fn in the background
func (s *Scheduler) trigger(job JobName, fn func(context.Context) error) (string, error) {
	exec, ok := s.begin(job, triggerManual)
	if !ok {
		return exec.ID, ErrJobRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.complete(exec, fn(s.base))
	}()
	return exec.ID, nil
}

// Execution returns one execution by id
func (s *Scheduler) Execution(id string) (Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.get(id)
}

// Executions returns recent executions newest first. An empty job lists all.
func (s *Scheduler) Executions(job JobName) []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.list(job)
}

// Running reports whether job is running now
func (s *Scheduler) Running(job JobName) bool {
	g, ok := s.running[job]
	return ok && g.Load()
}

// begin takes the job guard. When the job is already running it records a
// skipped execution and returns false.
func (s *Scheduler) begin(job JobName, trigger string) (Execution, bool) {
	exec := Execution{
		ID:        uuid.NewString(),
		Job:       job,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: s.clock.Now(),
	}

	if !s.running[job].CompareAndSwap(false, true) {
		exec.Status = StatusSkipped
		exec.Error = ErrJobRunning.Error()
		s.logger.Warn("Job skipped, previous run still in progress", "job", job, "trigger", trigger)
		s.record(exec, true)
		return exec, false
	}

	s.logger.Info("Job started", "job", job, "trigger", trigger, "execution_id", exec.ID)
	s.record(exec, false)
	return exec, true
}

// complete releases the job guard and records the result
func (s *Scheduler) complete(exec Execution, err error) Execution {
	exec.Duration = s.clock.Now().Sub(exec.StartedAt)
	exec.Status = StatusSuccess
	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
	}
	s.running[exec.Job].Store(false)

	if err != nil {
		s.logger.Error("Job failed", "job", exec.Job, "execution_id", exec.ID, "duration", exec.Duration, "error", err)
	} else {
		s.logger.Info("Job finished", "job", exec.Job, "execution_id", exec.ID, "duration", exec.Duration)
	}
	s.record(exec, true)
	return exec
}

func (s *Scheduler) record(exec Execution, final bool) {
	s.mu.Lock()
	s.history.put(exec)
	hooks := append([]func(Execution){}, s.onFinish...)
	s.mu.Unlock()

	if !final {
		return
	}
	for _, fn := range hooks {
		fn(exec)
	}
}

// rolloverJob closes the previous period for every user, closes older
// periods still left open, and retries rollovers left CLOSING by earlier
// failures
func (s *Scheduler) rolloverJob(ctx context.Context) error {
	prev := s.costs.CurrentPeriod().Prev()

	_, rollErr := s.costs.RolloverPeriod(ctx, prev)
	_, staleErr := s.costs.RolloverStale(ctx)
	_, pendingErr := s.costs.RolloverPending(ctx)
	return errors.Join(rollErr, staleErr, pendingErr)
}

func (s *Scheduler) resourceSyncJob(ctx context.Context) error {
	_, err := s.resources.SyncAll(ctx)
	return err
}

func (s *Scheduler) metricsSyncJob(opts utilization.Options) func(context.Context) error {
	return func(ctx context.Context) error {
		reports, err := s.metrics.SyncAll(ctx, opts)
		if err != nil {
			return err
		}
		failures := 0
		for _, r := range reports {
			failures += len(r.Failures)
		}
		if failures > 0 {
			s.logger.Warn("Metrics sync finished with skipped resources", "failures", failures)
		}
		return nil
	}
}

func (s *Scheduler) sweepJob(ctx context.Context) error {
	_, err := s.sweeper.Sweep(ctx)
	return err
}

// warmCacheJob warms the current period for every user. Warming failures
// are logged by the cost cache and never fail the job.
func (s *Scheduler) warmCacheJob(ctx context.Context) error {
	users, err := s.users.Users(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		s.costs.WarmCache(ctx, u)
	}
	return nil
}

func (s *Scheduler) warmAfterSync() {
	if exec, ok := s.begin(JobWarmCache, triggerSchedule); ok {
		s.complete(exec, s.warmCacheJob(s.base))
	}
}
