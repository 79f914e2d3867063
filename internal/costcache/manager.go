package costcache

import (
	"context"
	"errors"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/store"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Defaults
const (
	// DefaultFetchTimeout bounds one coalesced upstream cost fetch
	DefaultFetchTimeout = 2 * time.Minute

	// DefaultRolloverConcurrency bounds the users rolled over at once
	DefaultRolloverConcurrency = 4

	// DefaultRolloverTimeout bounds one coalesced (user, period) rollover
	DefaultRolloverTimeout = 10 * time.Minute
)

// Sentinel errors. They reach callers wrapped in a *provider.Error of kind Permanent.
var (
	// ErrPeriodClosed is returned when a write targets a CLOSING or CLOSED period
	ErrPeriodClosed = errors.New("period is closed")

	// ErrPeriodOpen is returned when a rollover targets a period that has not ended
	ErrPeriodOpen = errors.New("period has not ended")

	// ErrFuturePeriod is returned when costs are requested for a period after the current one
	ErrFuturePeriod = errors.New("period is in the future")
)

// Store is the durable tier
type Store interface {
	UpsertCosts(ctx context.Context, user string, records []provider.CostRecord) error
	CostsForPeriod(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, error)
	CostSummary(ctx context.Context, user string) ([]store.PeriodSummary, error)
	PeriodState(ctx context.Context, user string, period provider.Period) (provider.PeriodState, error)
	SetPeriodState(ctx context.Context, user string, period provider.Period, state provider.PeriodState, at time.Time) error
	PeriodsInState(ctx context.Context, state provider.PeriodState) ([]store.UserPeriod, error)
}

// Cache is the hot tier
type Cache interface {
	Get(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, bool, error)
	Put(ctx context.Context, user string, period provider.Period, records []provider.CostRecord) error
	Evict(ctx context.Context, user string, period provider.Period) error
	Exists(ctx context.Context, user string, period provider.Period) (bool, error)
	Users(ctx context.Context, period provider.Period) ([]string, error)
	Periods(ctx context.Context) ([]provider.Period, error)
}

// UserSource lists the users known to the credential store
type UserSource interface {
	Users(ctx context.Context) ([]string, error)
}

// Config tunes the manager
type Config struct {
	FetchTimeout        time.Duration
	RolloverConcurrency int
	RolloverTimeout     time.Duration
}

// Manager is the cost cache manager
type Manager struct {
	store    Store
	cache    Cache
	gateways provider.Gateways
	users    UserSource
	cfg      Config
	clock    clock.Clock
	logger   *logger.Logger
	metrics  *telemetry.Metrics

	// loads coalesces upstream fetches per {user}:{period}
	loads singleflight.Group
	// rollovers coalesces concurrent rollovers of one unit
	rollovers singleflight.Group
}

// New creates a Manager. clk may be nil for the real clock.
func New(st Store, cache Cache, gateways provider.Gateways, users UserSource, cfg Config, clk clock.Clock, log *logger.Logger, metrics *telemetry.Metrics) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RolloverConcurrency <= 0 {
		cfg.RolloverConcurrency = DefaultRolloverConcurrency
	}
	if cfg.RolloverTimeout <= 0 {
		cfg.RolloverTimeout = DefaultRolloverTimeout
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{
		store:    st,
		cache:    cache,
		gateways: gateways,
		users:    users,
		cfg:      cfg,
		clock:    clk,
		logger:   log.Component("costcache"),
		metrics:  metrics,
	}
}

// CurrentPeriod returns the open period at the manager's clock
func (m *Manager) CurrentPeriod() provider.Period {
	return provider.PeriodOf(m.clock.Now())
}

// Stats describes one user's cost data across both tiers
type Stats struct {
	User          string                `json:"user"`
	CurrentPeriod provider.Period       `json:"current_period"`
	CurrentCached bool                  `json:"current_cached"`
	Periods       []store.PeriodSummary `json:"periods"`
}

// Stats summarizes the durable periods of user and whether the current period is cached
func (m *Manager) Stats(ctx context.Context, user string) (*Stats, error) {
	current := m.CurrentPeriod()

	periods, err := m.store.CostSummary(ctx, user)
	if err != nil {
		return nil, err
	}

	cached, err := m.cache.Exists(ctx, user, current)
	if err != nil {
		m.logger.Warn("Hot cache unavailable for stats", "user", user, "error", err)
	}

	return &Stats{
		User:          user,
		CurrentPeriod: current,
		CurrentCached: cached,
		Periods:       periods,
	}, nil
}

// PutCosts replaces the cached records of an open period. Periods that are
// CLOSING or CLOSED reject the write with ErrPeriodClosed.
func (m *Manager) PutCosts(ctx context.Context, user string, period provider.Period, records []provider.CostRecord) error {
	const op = "costcache.PutCosts"

	if m.CurrentPeriod().Before(period) {
		return provider.NewError(provider.Permanent, op, ErrFuturePeriod)
	}
	state, err := m.store.PeriodState(ctx, user, period)
	if err != nil {
		return provider.NewError(provider.Transient, op, err)
	}
	if state != provider.PeriodOpen {
		return provider.NewError(provider.Permanent, op, ErrPeriodClosed)
	}

	now := m.clock.Now()
	open := make([]provider.CostRecord, len(records))
	for i, r := range records {
		r.Period = period
		r.Complete = false
		if r.LastUpdated.IsZero() {
			r.LastUpdated = now
		}
		open[i] = r
	}
	if err := m.cache.Put(ctx, user, period, open); err != nil {
		return provider.NewError(provider.Transient, op, err)
	}
	return nil
}

// WarmCache loads the current period of user into the hot cache when it is
// not cached yet. Failures are logged and never returned.
func (m *Manager) WarmCache(ctx context.Context, user string) {
	period := m.CurrentPeriod()

	cached, err := m.cache.Exists(ctx, user, period)
	if err != nil {
		m.logger.Warn("Cache warm skipped, hot cache unavailable", "user", user, "error", err)
		return
	}
	if cached {
		m.logger.Debug("Cache already warm", "user", user, "period", period)
		return
	}

	records, err := m.load(ctx, user, period)
	if err != nil {
		m.logger.Warn("Cache warm failed", "user", user, "period", period, "error", err)
		return
	}
	m.logger.Info("Cache warmed", "user", user, "period", period, "records", len(records))
}
