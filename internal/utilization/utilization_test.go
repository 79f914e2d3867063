package utilization

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/store"
)

var testNow = time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)

// metricsAPI returns two daily datapoints per query and fails queries that
// mention a resource listed in failing
type metricsAPI struct {
	mu      sync.Mutex
	queries []provider.MetricQuery
	failing map[string]bool
}

func (a *metricsAPI) ListCompartments(ctx context.Context) ([]provider.Resource, error) {
	return nil, nil
}

func (a *metricsAPI) ListAvailabilityDomains(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (a *metricsAPI) ListResources(ctx context.Context, f provider.Family, c, ad string) ([]provider.Resource, error) {
	return nil, nil
}

func (a *metricsAPI) SummarizeCosts(ctx context.Context, q provider.CostQuery) ([]provider.UsageItem, error) {
	return nil, nil
}

func (a *metricsAPI) SummarizeMetrics(ctx context.Context, q provider.MetricQuery) ([]provider.Datapoint, error) {
	a.mu.Lock()
	a.queries = append(a.queries, q)
	a.mu.Unlock()

	for id := range a.failing {
		if strings.Contains(q.Query, id) {
			return nil, provider.NewError(provider.Permanent, "monitoring", errors.New("metric not found"))
		}
	}
	return []provider.Datapoint{
		{Timestamp: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), Value: 10},
		{Timestamp: time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC), Value: 20},
	}, nil
}

type staticUsers []string

func (u staticUsers) Users(ctx context.Context) ([]string, error) { return u, nil }

func (u staticUsers) Credentials(ctx context.Context, user string) (provider.Credentials, error) {
	return provider.Credentials{User: user}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: string(store.SQLite),
		URL:    filepath.Join(t.TempDir(), "metrics.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store, id string, state provider.LifecycleState, details provider.Details) {
	t.Helper()
	require.NoError(t, st.UpsertResource(context.Background(), provider.Resource{
		ID: id, Owner: "alice", CompartmentID: "ocid1.compartment.prod",
		LifecycleState: state, LastSeen: testNow, Details: details,
	}))
}

func newTestSyncer(t *testing.T, st *store.Store, api *metricsAPI) *Syncer {
	t.Helper()
	log := logger.New("error")
	users := staticUsers{"alice"}
	pool := provider.NewPool(users,
		func(ctx context.Context, c provider.Credentials, l provider.Limiter) (provider.API, error) { return api, nil },
		provider.LimiterConfig{CallsPerSecond: 1000, Burst: 100},
		provider.GatewayConfig{MaxAttempts: 1},
		log, nil)
	return New(st, pool, users, Config{}, clock.NewFixed(testNow), log, nil)
}

func TestQuery(t *testing.T) {
	assert.Equal(t, `CpuUtilization[1d]{resourceId = "ocid1.instance.a"}.max()`,
		Query("CpuUtilization", "ocid1.instance.a", provider.AggregationMax))
}

func TestSyncUser_SamplesRunningAndActiveOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed(t, st, "vm-running", provider.StateRunning, provider.ComputeDetails{})
	seed(t, st, "vm-stopped", provider.StateStopped, provider.ComputeDetails{})
	seed(t, st, "lb-active", provider.StateActive, provider.LoadBalancerDetails{})
	seed(t, st, "lb-provisioning", provider.StateProvisioning, provider.LoadBalancerDetails{})

	api := &metricsAPI{}
	s := newTestSyncer(t, st, api)

	report, err := s.SyncUser(ctx, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Resources)
	assert.Equal(t, 6, report.Samples, "two cpu, two memory, two bandwidth")
	assert.Empty(t, report.Failures)
	assert.Equal(t, DefaultLookbackDays, report.LookbackDays)
	assert.Equal(t, provider.AggregationMean, report.Aggregation)

	require.Len(t, api.queries, 3)
	for _, q := range api.queries {
		assert.Equal(t, "1d", q.Resolution)
		assert.Equal(t, "ocid1.compartment.prod", q.CompartmentID)
		assert.Equal(t, time.Date(2025, 10, 29, 0, 0, 0, 0, time.UTC), q.Start)
		assert.True(t, strings.HasSuffix(q.Query, ".mean()"))
	}

	cpu, err := st.Samples(ctx, "vm-running", "CpuUtilization")
	require.NoError(t, err)
	require.Len(t, cpu, 2)
	assert.Equal(t, time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), cpu[0].PeriodStart)
	assert.Equal(t, time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC), cpu[0].PeriodEnd)
	assert.Equal(t, provider.FamilyComputeInstance, cpu[0].ResourceType)

	bw, err := st.Samples(ctx, "lb-active", "PeakBandwidth")
	require.NoError(t, err)
	assert.Len(t, bw, 2)

	// a re-fetch overwrites instead of duplicating
	_, err = s.SyncUser(ctx, "alice", Options{})
	require.NoError(t, err)
	total, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestSyncUser_FailuresAreSkipped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seed(t, st, "vm-a", provider.StateRunning, provider.ComputeDetails{})
	seed(t, st, "vm-b", provider.StateRunning, provider.ComputeDetails{})

	api := &metricsAPI{failing: map[string]bool{"vm-a": true}}
	s := newTestSyncer(t, st, api)

	report, err := s.SyncUser(ctx, "alice", Options{Aggregation: provider.AggregationMax, LookbackDays: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Samples)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "vm-a", report.Failures[0].ResourceID)
	assert.Equal(t, "CpuUtilization", report.Failures[0].MetricName)
	assert.Equal(t, "MemoryUtilization", report.Failures[1].MetricName)

	samples, err := st.Samples(ctx, "vm-b", "MemoryUtilization")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, provider.AggregationMax, samples[0].Aggregation)
}

func TestSyncUser_ValidatesOptions(t *testing.T) {
	s := newTestSyncer(t, newTestStore(t), &metricsAPI{})

	_, err := s.SyncUser(context.Background(), "alice", Options{LookbackDays: 91})
	assert.ErrorIs(t, err, ErrInvalidLookback)

	_, err = s.SyncUser(context.Background(), "alice", Options{LookbackDays: -1})
	assert.ErrorIs(t, err, ErrInvalidLookback)

	_, err = s.SyncUser(context.Background(), "alice", Options{Aggregation: "p99"})
	assert.Error(t, err)
}

func TestSyncAll(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, "vm-a", provider.StateRunning, provider.ComputeDetails{})
	s := newTestSyncer(t, st, &metricsAPI{})

	reports, err := s.SyncAll(context.Background(), Options{LookbackDays: 1})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 4, reports[0].Samples)
}

func TestSweep_DeletesByPeriodStart(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, daysAgo := range []int{1, 29, 31, 60} {
		start := dayOf(testNow).AddDate(0, 0, -daysAgo)
		require.NoError(t, st.UpsertSample(ctx, provider.MetricSample{
			Owner: "alice", ResourceID: "vm-a", ResourceType: provider.FamilyComputeInstance,
			MetricName: "CpuUtilization", Aggregation: provider.AggregationMean,
			PeriodStart: start, PeriodEnd: start.Add(day), Value: 1, FetchedAt: testNow,
		}))
	}

	sw := NewSweeper(st, 30, clock.NewFixed(testNow), logger.New("error"), nil)
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	got := dayOf(time.Date(2025, 11, 5, 1, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC), got)
}
