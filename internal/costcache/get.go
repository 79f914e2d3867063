package costcache

import (
	"context"
	"sort"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// Source tells where a result was read from
type Source string

// Result sources
const (
	SourceCache    Source = "cache"
	SourceDurable  Source = "durable"
	SourceUpstream Source = "upstream"
)

// Filter narrows a cost read
type Filter struct {
	// Service keeps only the spend of this service when set. Records are
	// narrowed to that service's share of their amount.
	Service string
	// ResourceIDs keeps only these resources when set
	ResourceIDs []string
	// MinAmount drops records below this amount
	MinAmount float64
	// Refresh bypasses the hot cache for the open period
	Refresh bool
}

func (f Filter) apply(records []provider.CostRecord) []provider.CostRecord {
	var ids map[string]struct{}
	if len(f.ResourceIDs) > 0 {
		ids = make(map[string]struct{}, len(f.ResourceIDs))
		for _, id := range f.ResourceIDs {
			ids[id] = struct{}{}
		}
	}

	out := make([]provider.CostRecord, 0, len(records))
	for _, r := range records {
		if f.Service != "" {
			amount, ok := r.ServiceAmount(f.Service)
			if !ok {
				continue
			}
			r.Service = f.Service
			r.Services = map[string]float64{f.Service: amount}
			r.Amount = amount
		}
		if ids != nil {
			if _, ok := ids[r.ResourceID]; !ok {
				continue
			}
		}
		if r.Amount < f.MinAmount {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Result is the answer to a cost read
type Result struct {
	User    string                `json:"user"`
	Period  provider.Period       `json:"period"`
	State   provider.PeriodState  `json:"state"`
	Source  Source                `json:"source"`
	Records []provider.CostRecord `json:"records"`
	Total   float64               `json:"total"`
}

// GetCosts returns the cost records of (user, period). An empty period means
// the current one.
//
// Closed periods are read from the durable store only. The open period is read
// from the hot cache and loaded from the provider on a miss; concurrent misses
// share one upstream fetch. A past period that was never rolled over is rolled
// over first and then served from the durable store.
func (m *Manager) GetCosts(ctx context.Context, user string, period provider.Period, f Filter) (*Result, error) {
	const op = "costcache.GetCosts"

	current := m.CurrentPeriod()
	if period == "" {
		period = current
	}
	if current.Before(period) {
		return nil, provider.NewError(provider.Permanent, op, ErrFuturePeriod)
	}

	state, err := m.store.PeriodState(ctx, user, period)
	if err != nil {
		return nil, provider.NewError(provider.Transient, op, err)
	}

	res := &Result{User: user, Period: period, State: state}
	var records []provider.CostRecord

	switch {
	case state == provider.PeriodClosed:
		res.Source = SourceDurable
		records, err = m.store.CostsForPeriod(ctx, user, period)
		if err != nil {
			return nil, provider.NewError(provider.Transient, op, err)
		}

	case period == current:
		var hit bool
		if !f.Refresh {
			records, hit = m.cached(ctx, user, period)
			m.metrics.CacheLookup(hit)
		}
		res.Source = SourceCache
		if !hit {
			res.Source = SourceUpstream
			if records, err = m.load(ctx, user, period); err != nil {
				return nil, err
			}
		}

	default:
		var hit bool
		records, hit = m.cached(ctx, user, period)
		res.Source = SourceCache
		if !hit {
			res.Source = SourceDurable
			if records, res.State, err = m.pastPeriod(ctx, user, period, state); err != nil {
				return nil, err
			}
		}
	}

	res.Records = f.apply(records)
	for _, r := range res.Records {
		res.Total += r.Amount
	}
	return res, nil
}

// pastPeriod serves an ended period that is not CLOSED and not cached.
// CLOSING periods whose durable rows exist are served from them; anything
// else is rolled over and then read back.
func (m *Manager) pastPeriod(ctx context.Context, user string, period provider.Period, state provider.PeriodState) ([]provider.CostRecord, provider.PeriodState, error) {
	const op = "costcache.GetCosts"

	if state == provider.PeriodClosing {
		records, err := m.store.CostsForPeriod(ctx, user, period)
		if err != nil {
			return nil, state, provider.NewError(provider.Transient, op, err)
		}
		if len(records) > 0 {
			return records, state, nil
		}
	}

	m.logger.Info("Backfilling past period", "user", user, "period", period, "state", state)
	if _, err := m.Rollover(ctx, user, period); err != nil {
		return nil, state, err
	}
	records, err := m.store.CostsForPeriod(ctx, user, period)
	if err != nil {
		return nil, provider.PeriodClosed, provider.NewError(provider.Transient, op, err)
	}
	return records, provider.PeriodClosed, nil
}

// cached reads the hot cache. An unreachable cache counts as a miss.
func (m *Manager) cached(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, bool) {
	records, ok, err := m.cache.Get(ctx, user, period)
	if err != nil {
		m.logger.Warn("Hot cache read failed, treating as miss", "user", user, "period", period, "error", err)
		return nil, false
	}
	return records, ok
}

// load fetches the open period upstream and refills the hot cache. Concurrent
// loads of one key share a single fetch, which runs detached from the callers
// under FetchTimeout. Each caller stops waiting when its own context ends.
func (m *Manager) load(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, error) {
	key := user + ":" + string(period)

	ch := m.loads.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FetchTimeout)
		defer cancel()

		records, err := m.fetch(fetchCtx, user, period)
		m.metrics.UpstreamLoad(err)
		if err != nil {
			return nil, err
		}

		// a load that outlived its period must not recreate an evicted entry
		if m.CurrentPeriod() != period {
			return records, nil
		}
		if err := m.cache.Put(fetchCtx, user, period, records); err != nil {
			m.logger.Warn("Hot cache write failed", "user", user, "period", period, "error", err)
			return records, nil
		}
		m.dropIfClosing(fetchCtx, user, period)
		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, provider.NewError(provider.Transient, "costcache.load", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]provider.CostRecord), nil
	}
}

// dropIfClosing evicts an entry just written by a load when a rollover of its
// period started meanwhile. Rollover marks CLOSING before it reads and evicts
// the cache, so a Put that lands after that eviction is caught here.
func (m *Manager) dropIfClosing(ctx context.Context, user string, period provider.Period) {
	state, err := m.store.PeriodState(ctx, user, period)
	if err != nil {
		m.logger.Warn("Could not confirm period is still open after cache write", "user", user, "period", period, "error", err)
		return
	}
	if state == provider.PeriodOpen {
		return
	}
	if err := m.cache.Evict(ctx, user, period); err != nil {
		m.logger.Warn("Could not drop cache entry of a closing period", "user", user, "period", period, "error", err)
		return
	}
	m.logger.Debug("Dropped cache entry written during rollover", "user", user, "period", period, "state", state)
}

// fetch pulls the usage of period through the user's gateway
func (m *Manager) fetch(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, error) {
	gw, err := m.gateways.Gateway(ctx, user)
	if err != nil {
		return nil, provider.NewError(provider.Permanent, "costcache.fetch", err)
	}

	items, err := gw.SummarizeCosts(ctx, provider.CostQuery{Start: period.Start(), End: period.End()})
	if err != nil {
		provider.InvalidateOnAuthError(m.gateways, user, err)
		return nil, err
	}

	records := Transform(user, period, items, m.clock.Now())
	m.logger.Debug("Fetched usage", "user", user, "period", period, "items", len(items), "records", len(records))
	return records, nil
}

// Transform folds usage items into one open CostRecord per resource, keeping
// the spend of each service in Services. Items without a resource id are
// attributed to unallocated:{user}:{service}. Records are sorted by resource id.
func Transform(user string, period provider.Period, items []provider.UsageItem, now time.Time) []provider.CostRecord {
	byID := make(map[string]*provider.CostRecord)
	for _, it := range items {
		id := it.ResourceID
		if id == "" {
			id = UnallocatedID(user, it.Service)
		}

		r, ok := byID[id]
		if !ok {
			r = &provider.CostRecord{
				ResourceID:  id,
				Services:    make(map[string]float64),
				Period:      period,
				LastUpdated: now,
			}
			byID[id] = r
		}
		if r.Currency == "" {
			r.Currency = it.Currency
		}
		r.Services[it.Service] += it.Amount
		r.Amount += it.Amount
	}

	records := make([]provider.CostRecord, 0, len(byID))
	for _, r := range byID {
		r.Service = provider.PrimaryService(r.Services)
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ResourceID < records[j].ResourceID })
	return records
}

// UnallocatedID is the pseudo resource id of charges without a resource
func UnallocatedID(user, service string) string {
	if service == "" {
		service = "other"
	}
	return "unallocated:" + user + ":" + service
}
