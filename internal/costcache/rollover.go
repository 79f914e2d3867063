package costcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/store"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one (user, period) rollover
type Outcome string

// Rollover outcomes
const (
	// OutcomeClosed means records were persisted and the period is now CLOSED
	OutcomeClosed Outcome = "closed"
	// OutcomeAlreadyClosed means the period was CLOSED before the call
	OutcomeAlreadyClosed Outcome = "already_closed"
	// OutcomeEmpty means the period closed without any records
	OutcomeEmpty Outcome = "empty"
)

// RolloverSummary reports a rollover across users
type RolloverSummary struct {
	Period    provider.Period   `json:"period"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Rollover moves (user, period) from the hot cache into the durable store:
// mark CLOSING, persist every record with Complete set, evict, mark CLOSED.
// Each step runs only after the previous one succeeded. A failure leaves the
// period CLOSING with its cache entry intact and returns an Inconsistent error;
// running Rollover again resumes it. Rolling over a CLOSED period only retries
// eviction of leftovers.
func (m *Manager) Rollover(ctx context.Context, user string, period provider.Period) (Outcome, error) {
	// concurrent callers share one run, detached from whichever caller started it
	ch := m.rollovers.DoChan(user+":"+string(period), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RolloverTimeout)
		defer cancel()
		return m.rollover(runCtx, user, period)
	})

	var (
		outcome Outcome
		err     error
	)
	select {
	case <-ctx.Done():
		err = provider.NewError(provider.Transient, "costcache.Rollover", ctx.Err())
	case res := <-ch:
		outcome, _ = res.Val.(Outcome)
		err = res.Err
	}

	if err != nil {
		m.metrics.Rollover(provider.KindOf(err).String())
		return "", err
	}
	m.metrics.Rollover(string(outcome))
	return outcome, nil
}

func (m *Manager) rollover(ctx context.Context, user string, period provider.Period) (Outcome, error) {
	const op = "costcache.Rollover"
	log := m.logger.WithFields("user", user, "period", period)

	state, err := m.store.PeriodState(ctx, user, period)
	if err != nil {
		return "", provider.NewError(provider.Transient, op, err)
	}
	if state == provider.PeriodClosed {
		if err := m.cache.Evict(ctx, user, period); err != nil {
			log.Warn("Leftover eviction failed", "error", err)
		}
		return OutcomeAlreadyClosed, nil
	}

	now := m.clock.Now()
	if period.End().After(now) {
		return "", provider.NewError(provider.Permanent, op, ErrPeriodOpen)
	}

	if state != provider.PeriodClosing {
		if err := m.store.SetPeriodState(ctx, user, period, provider.PeriodClosing, now); err != nil {
			return "", provider.NewError(provider.Transient, op, err)
		}
	}

	records, cached, err := m.cache.Get(ctx, user, period)
	if err != nil {
		return "", provider.NewError(provider.Transient, op, fmt.Errorf("read hot cache: %w", err))
	}

	persisted := false
	if !cached {
		durable, err := m.store.CostsForPeriod(ctx, user, period)
		if err != nil {
			return "", provider.NewError(provider.Transient, op, err)
		}
		if len(durable) > 0 && allComplete(durable) {
			persisted = true
			log.Info("Resuming rollover from durable rows", "records", len(durable))
		} else {
			log.Info("Nothing cached, fetching final figures upstream")
			if records, err = m.fetch(ctx, user, period); err != nil {
				return "", err
			}
		}
	}

	if len(records) > 0 {
		final := make([]provider.CostRecord, len(records))
		for i, r := range records {
			r.Period = period
			r.Complete = true
			r.LastUpdated = now
			final[i] = r
		}
		if err := m.store.UpsertCosts(ctx, user, final); err != nil {
			log.Error("Durable write failed, period stays CLOSING", "records", len(final), "error", err)
			return "", provider.NewError(provider.Inconsistent, op, err)
		}
		persisted = true
	}

	if err := m.cache.Evict(ctx, user, period); err != nil {
		log.Error("Eviction failed, period stays CLOSING", "error", err)
		return "", provider.NewError(provider.Inconsistent, op, fmt.Errorf("evict: %w", err))
	}

	if err := m.store.SetPeriodState(ctx, user, period, provider.PeriodClosed, m.clock.Now()); err != nil {
		return "", provider.NewError(provider.Inconsistent, op, err)
	}

	if !persisted {
		log.Info("Period closed without records")
		return OutcomeEmpty, nil
	}
	log.Info("Period closed", "records", len(records))
	return OutcomeClosed, nil
}

func allComplete(records []provider.CostRecord) bool {
	for _, r := range records {
		if !r.Complete {
			return false
		}
	}
	return true
}

// RolloverPeriod rolls period over for every configured user and every user
// that still has a cache entry for it. Users are processed concurrently and a
// failure for one never stops the others; the joined error lists every failure.
func (m *Manager) RolloverPeriod(ctx context.Context, period provider.Period) (RolloverSummary, error) {
	summary := RolloverSummary{Period: period}

	if period.End().After(m.clock.Now()) {
		return summary, provider.NewError(provider.Permanent, "costcache.RolloverPeriod", ErrPeriodOpen)
	}

	users, err := m.rolloverUsers(ctx, period)
	if err != nil {
		return summary, err
	}
	summary.Total = len(users)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.RolloverConcurrency)

	for _, user := range users {
		g.Go(func() error {
			outcome, err := m.Rollover(ctx, user, period)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				if summary.Errors == nil {
					summary.Errors = make(map[string]string)
				}
				summary.Errors[user] = err.Error()
				errs = append(errs, fmt.Errorf("user %s: %w", user, err))
			case outcome == OutcomeAlreadyClosed:
				summary.Skipped++
			default:
				summary.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Rollover finished",
		"period", period,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, errors.Join(errs...)
}

// rolloverUsers merges configured users with users found in the cache
func (m *Manager) rolloverUsers(ctx context.Context, period provider.Period) ([]string, error) {
	seen := make(map[string]struct{})

	configured, err := m.users.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range configured {
		seen[u] = struct{}{}
	}

	cachedUsers, err := m.cache.Users(ctx, period)
	if err != nil {
		m.logger.Warn("Could not scan hot cache for users", "period", period, "error", err)
	}
	for _, u := range cachedUsers {
		seen[u] = struct{}{}
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// RolloverStale closes ended periods older than the previous one that still
// have a cache entry or an OPEN state row, for example after the service was
// down across more than one period boundary. It returns how many completed.
func (m *Manager) RolloverStale(ctx context.Context) (int, error) {
	prev := m.CurrentPeriod().Prev()
	units := make(map[store.UserPeriod]struct{})

	var errs []error
	periods, err := m.cache.Periods(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("scan cached periods: %w", err))
	}
	for _, p := range periods {
		if !p.Before(prev) {
			continue
		}
		users, err := m.cache.Users(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan users of %s: %w", p, err))
			continue
		}
		for _, u := range users {
			units[store.UserPeriod{User: u, Period: p}] = struct{}{}
		}
	}

	open, err := m.store.PeriodsInState(ctx, provider.PeriodOpen)
	if err != nil {
		errs = append(errs, fmt.Errorf("list open periods: %w", err))
	}
	for _, up := range open {
		if up.Period.Before(prev) {
			units[up] = struct{}{}
		}
	}

	pending := make([]store.UserPeriod, 0, len(units))
	for up := range units {
		pending = append(pending, up)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Period != pending[j].Period {
			return pending[i].Period.Before(pending[j].Period)
		}
		return pending[i].User < pending[j].User
	})

	completed := 0
	for _, up := range pending {
		if _, err := m.Rollover(ctx, up.User, up.Period); err != nil {
			errs = append(errs, fmt.Errorf("user %s period %s: %w", up.User, up.Period, err))
			continue
		}
		completed++
	}
	if len(pending) > 0 {
		m.logger.Info("Stale periods rolled over", "pending", len(pending), "completed", completed)
	}
	return completed, errors.Join(errs...)
}

// RolloverPending re-runs every rollover left CLOSING by an earlier failure.
// It returns how many completed.
func (m *Manager) RolloverPending(ctx context.Context) (int, error) {
	pending, err := m.store.PeriodsInState(ctx, provider.PeriodClosing)
	if err != nil {
		return 0, err
	}

	var (
		completed int
		errs      []error
	)
	for _, up := range pending {
		if _, err := m.Rollover(ctx, up.User, up.Period); err != nil {
			errs = append(errs, fmt.Errorf("user %s period %s: %w", up.User, up.Period, err))
			continue
		}
		completed++
	}
	if len(pending) > 0 {
		m.logger.Info("Pending rollovers retried", "pending", len(pending), "completed", completed)
	}
	return completed, errors.Join(errs...)
}
