package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/store"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Concurrency defaults
const (
	DefaultFamilyConcurrency      = 4
	DefaultCompartmentConcurrency = 4
)

// Store is the durable inventory
type Store interface {
	KnownResources(ctx context.Context, user string, family provider.Family) (map[string]store.KnownResource, error)
	UpsertResource(ctx context.Context, r provider.Resource) error
	SoftDeleteResource(ctx context.Context, family provider.Family, id string) (bool, error)
}

// UserSource lists the users to sync
type UserSource interface {
	Users(ctx context.Context) ([]string, error)
}

// Config bounds the fan-out of one pass
type Config struct {
	FamilyConcurrency      int
	CompartmentConcurrency int
}

// Syncer runs resource sync passes
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
	if cfg.FamilyConcurrency <= 0 {
		cfg.FamilyConcurrency = DefaultFamilyConcurrency
	}
	if cfg.CompartmentConcurrency <= 0 {
		cfg.CompartmentConcurrency = DefaultCompartmentConcurrency
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
		logger:   log.Component("inventory"),
		metrics:  metrics,
	}
}

// SyncUser runs one full pass for user.
//
// A failure to list compartments aborts the pass and is returned. Failures in
// other families are recorded in the report and never stop the remaining
// families.
func (s *Syncer) SyncUser(ctx context.Context, user string) (*Report, error) {
	start := s.clock.Now()
	log := s.logger.WithFields("user", user)
	report := &Report{User: user, StartedAt: start}

	gw, err := s.gateways.Gateway(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("gateway for %s: %w", user, err)
	}

	compartments, err := gw.ListCompartments(ctx)
	if err != nil {
		provider.InvalidateOnAuthError(s.gateways, user, err)
		s.metrics.InventoryWrites(string(provider.FamilyCompartment), 0, 0, 0, err)
		return nil, fmt.Errorf("list compartments: %w", err)
	}

	cur := newCursor()
	cur.observe(s.stamp(compartments, user, "", start))
	compResult := s.reconcile(ctx, user, provider.FamilyCompartment, cur)
	report.Families = append(report.Families, compResult)

	var seeds []string
	for _, c := range compartments {
		if c.LifecycleState == provider.StateActive {
			seeds = append(seeds, c.ID)
		}
	}

	ads, adErr := gw.ListAvailabilityDomains(ctx)
	if adErr != nil {
		log.Warn("Could not list availability domains, file systems will be skipped", "error", adErr)
	}

	families := provider.Families[1:]
	results := make([]FamilyResult, len(families))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.FamilyConcurrency)
	for i, fam := range families {
		g.Go(func() error {
			if fam == provider.FamilyFileSystem && adErr != nil {
				results[i] = s.failedFamily(fam, seeds, adErr)
				return nil
			}
			results[i] = s.syncFamily(ctx, gw, user, fam, seeds, ads, start)
			return nil
		})
	}
	_ = g.Wait()

	report.Families = append(report.Families, results...)
	report.Duration = s.clock.Now().Sub(start)

	totals := report.Totals()
	log.Info("Resource sync finished",
		"compartments", len(seeds),
		"upserted", totals.Upserted,
		"new", totals.New,
		"updated", totals.Updated,
		"soft_deleted", totals.SoftDeleted,
		"failed_compartments", len(totals.FailedCompartments),
		"error", report.Err())
	return report, nil
}

// SyncAll runs SyncUser for every user in turn. A failing user never stops
// the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]*Report, error) {
	users, err := s.users.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, u := range users {
		report, err := s.SyncUser(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
			continue
		}
		reports = append(reports, report)
		if err := report.Err(); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
		}
	}
	return reports, errors.Join(errs...)
}

// syncFamily lists one family across every seed compartment and reconciles it
func (s *Syncer) syncFamily(ctx context.Context, gw *provider.Gateway, user string, family provider.Family, seeds, ads []string, now time.Time) FamilyResult {
	cur := newCursor()

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.CompartmentConcurrency)
	for _, compartmentID := range seeds {
		scopes := []string{""}
		if family == provider.FamilyFileSystem {
			scopes = ads
		}
		for _, ad := range scopes {
			g.Go(func() error {
				rs, err := gw.ListResources(ctx, family, compartmentID, ad)
				if err != nil {
					provider.InvalidateOnAuthError(s.gateways, user, err)
					cur.fail(compartmentID, err)
					s.logger.Warn("Listing failed",
						"user", user,
						"family", family,
						"compartment", compartmentID,
						"availability_domain", ad,
						"error", err)
					return nil
				}
				cur.observe(s.stamp(rs, user, compartmentID, now))
				return nil
			})
		}
	}
	_ = g.Wait()

	return s.reconcile(ctx, user, family, cur)
}

// reconcile upserts what cur observed and soft-deletes known resources that
// were not observed, skipping those in compartments that failed to list
func (s *Syncer) reconcile(ctx context.Context, user string, family provider.Family, cur *cursor) FamilyResult {
	res := FamilyResult{Family: family, FailedCompartments: cur.failedCompartments()}
	var errs []error
	for _, id := range res.FailedCompartments {
		errs = append(errs, fmt.Errorf("compartment %s: %w", id, cur.failed[id]))
	}

	known, err := s.store.KnownResources(ctx, user, family)
	if err != nil {
		errs = append(errs, err)
		return s.finish(res, errs)
	}

	for _, r := range cur.resources() {
		if err := s.store.UpsertResource(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Upserted++
		if _, ok := known[r.ID]; ok {
			res.Updated++
		} else {
			res.New++
		}
	}

	for id, k := range known {
		if k.Deleted || cur.seen(id) || cur.compartmentFailed(k.CompartmentID) {
			continue
		}
		changed, err := s.store.SoftDeleteResource(ctx, family, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			res.SoftDeleted++
		}
	}

	return s.finish(res, errs)
}

func (s *Syncer) finish(res FamilyResult, errs []error) FamilyResult {
	res.Err = errors.Join(errs...)
	if res.Err != nil {
		res.Message = res.Err.Error()
	}
	s.metrics.InventoryWrites(string(res.Family), res.New, res.Updated, res.SoftDeleted, res.Err)
	return res
}

// failedFamily reports a family that could not be listed at all
func (s *Syncer) failedFamily(family provider.Family, seeds []string, err error) FamilyResult {
	res := FamilyResult{Family: family, FailedCompartments: seeds}
	return s.finish(res, []error{err})
}

// stamp sets the envelope fields owned by the sync pass
func (s *Syncer) stamp(rs []provider.Resource, user, compartmentID string, now time.Time) []provider.Resource {
	out := make([]provider.Resource, 0, len(rs))
	for _, r := range rs {
		if r.ID == "" {
			continue
		}
		r.Owner = user
		if r.CompartmentID == "" {
			r.CompartmentID = compartmentID
		}
		r.LastSeen = now
		r.Deleted = false
		out = append(out, r)
	}
	return out
}

