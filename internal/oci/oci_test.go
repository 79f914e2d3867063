package oci

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/database"
	"github.com/oracle/oci-go-sdk/v65/filestorage"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"github.com/oracle/oci-go-sdk/v65/loadbalancer"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"
	"github.com/oracle/oci-go-sdk/v65/psql"
	"github.com/oracle/oci-go-sdk/v65/usageapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

type statusErr struct{ status int }

func (e statusErr) Error() string          { return fmt.Sprintf("service error %d", e.status) }
func (e statusErr) GetHTTPStatusCode() int { return e.status }

// countingLimiter never blocks and counts tokens taken
type countingLimiter struct{ waits int }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.Kind
	}{
		{"throttled", statusErr{429}, provider.RateLimited},
		{"unauthorized", statusErr{401}, provider.AuthExpired},
		{"not found", statusErr{404}, provider.Permanent},
		{"bad request", statusErr{400}, provider.Permanent},
		{"forbidden", statusErr{403}, provider.Permanent},
		{"request timeout", statusErr{408}, provider.Transient},
		{"server error", statusErr{500}, provider.Transient},
		{"unavailable", statusErr{503}, provider.Transient},
		{"wrapped status", fmt.Errorf("list: %w", statusErr{429}), provider.RateLimited},
		{"network", errors.New("connection reset by peer"), provider.Transient},
		{"deadline", context.DeadlineExceeded, provider.Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("compute.ListInstances", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, provider.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, Classify("op", nil))

	already := provider.NewError(provider.Permanent, "inner", errors.New("x"))
	assert.Same(t, already, Classify("outer", already))
}

func TestPaginate(t *testing.T) {
	pages := map[string]struct {
		items []int
		next  *string
	}{
		"":   {[]int{1, 2}, common.String("p2")},
		"p2": {[]int{3}, common.String("p3")},
		"p3": {[]int{4}, nil},
	}

	var seen []string
	limiter := &countingLimiter{}
	out, err := paginate(context.Background(), limiter, "op", func(page *string) ([]int, *string, error) {
		key := str(page)
		seen = append(seen, key)
		p := pages[key]
		return p.items, p.next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, out)
	assert.Equal(t, []string{"", "p2", "p3"}, seen)
	assert.Equal(t, 3, limiter.waits, "one token per page")
}

func TestPaginate_EveryPageWaitsOnSharedLimiter(t *testing.T) {
	// 20 requests/s, burst 1: six pages need at least five 50ms gaps
	limiter := provider.NewLimiter(20, 1)

	calls := 0
	start := time.Now()
	out, err := paginate(context.Background(), limiter, "op", func(page *string) ([]int, *string, error) {
		calls++
		if calls == 6 {
			return []int{calls}, nil, nil
		}
		return []int{calls}, common.String(fmt.Sprintf("p%d", calls+1)), nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, out, 6)
	assert.GreaterOrEqual(t, elapsed, 230*time.Millisecond, "six pages took %v", elapsed)
}

func TestPaginate_ErrorIsClassified(t *testing.T) {
	calls := 0
	_, err := paginate(context.Background(), &countingLimiter{}, "op", func(page *string) ([]int, *string, error) {
		calls++
		if calls == 2 {
			return nil, nil, statusErr{429}
		}
		return []int{calls}, common.String("next"), nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrRateLimited)
	assert.Equal(t, 2, calls)
}

func TestPaginate_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := paginate(ctx, &countingLimiter{}, "op", func(page *string) ([]int, *string, error) {
		t.Fatal("fetch should not run")
		return nil, nil, nil
	})
	assert.ErrorIs(t, err, provider.ErrTransient)
}

func TestNewClient_IncompleteCredentials(t *testing.T) {
	_, err := NewClient(provider.Credentials{Tenancy: "ocid1.tenancy.oc1..x", Region: "eu-frankfurt-1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrPermanent)
}

var created = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func TestFromCompartment(t *testing.T) {
	root := fromCompartment(identity.Compartment{
		Id:             common.String("ocid1.tenancy.oc1..root"),
		Name:           common.String("acme"),
		LifecycleState: identity.CompartmentLifecycleStateActive,
	}, "eu-frankfurt-1")
	assert.Equal(t, "ocid1.tenancy.oc1..root", root.CompartmentID)
	assert.Equal(t, provider.StateActive, root.LifecycleState)

	child := fromCompartment(identity.Compartment{
		Id:            common.String("ocid1.compartment.oc1..dev"),
		CompartmentId: common.String("ocid1.tenancy.oc1..root"),
		Name:          common.String("dev"),
		Description:   common.String("development"),
		TimeCreated:   &common.SDKTime{Time: created},
	}, "eu-frankfurt-1")
	assert.Equal(t, provider.FamilyCompartment, child.Family())
	assert.Equal(t, "ocid1.tenancy.oc1..root", child.CompartmentID)
	assert.Equal(t, created, child.CreatedAt)
	assert.Equal(t, "development", child.Details.(provider.CompartmentDetails).Description)
}

func TestFromInstance(t *testing.T) {
	r := fromInstance(core.Instance{
		Id:                 common.String("ocid1.instance.oc1..a"),
		CompartmentId:      common.String("ocid1.compartment.oc1..dev"),
		DisplayName:        common.String("web-1"),
		LifecycleState:     core.InstanceLifecycleStateRunning,
		Region:             common.String("us-ashburn-1"),
		Shape:              common.String("VM.Standard.E4.Flex"),
		AvailabilityDomain: common.String("AD-1"),
		ShapeConfig: &core.InstanceShapeConfig{
			Ocpus:       common.Float32(2),
			MemoryInGBs: common.Float32(16),
		},
	}, "eu-frankfurt-1")

	assert.Equal(t, provider.StateRunning, r.LifecycleState)
	assert.Equal(t, "us-ashburn-1", r.Region)
	d := r.Details.(provider.ComputeDetails)
	require.NotNil(t, d.OCPUs)
	assert.Equal(t, 2.0, *d.OCPUs)
	assert.Equal(t, 16.0, *d.MemoryGB)
	assert.Equal(t, "VM.Standard.E4.Flex", d.Shape)

	bare := fromInstance(core.Instance{Id: common.String("i2")}, "eu-frankfurt-1")
	assert.Equal(t, "eu-frankfurt-1", bare.Region)
	assert.Nil(t, bare.Details.(provider.ComputeDetails).OCPUs)
}

func TestFromVolumeAndFileSystem(t *testing.T) {
	v := fromVolume(core.Volume{
		Id:             common.String("ocid1.volume.oc1..v"),
		LifecycleState: core.VolumeLifecycleStateAvailable,
		SizeInGBs:      common.Int64(100),
		VpusPerGB:      common.Int64(10),
	}, "r")
	vd := v.Details.(provider.VolumeDetails)
	assert.Equal(t, int64(100), *vd.SizeGB)
	assert.Equal(t, int64(10), *vd.VPUsPerGB)
	assert.Equal(t, provider.LifecycleState("AVAILABLE"), v.LifecycleState)

	fs := fromFileSystem(filestorage.FileSystemSummary{
		Id:                 common.String("ocid1.filesystem.oc1..f"),
		AvailabilityDomain: common.String("AD-2"),
		MeteredBytes:       common.Int64(4096),
		LifecycleState:     filestorage.FileSystemSummaryLifecycleStateActive,
	}, "r")
	fd := fs.Details.(provider.FileSystemDetails)
	assert.Equal(t, "AD-2", fd.AvailabilityDomain)
	assert.Equal(t, int64(4096), *fd.MeteredBytes)
}

func TestFromBucket(t *testing.T) {
	r := fromBucket(objectstorage.BucketSummary{
		Namespace:     common.String("acme"),
		Name:          common.String("logs"),
		CompartmentId: common.String("ocid1.compartment.oc1..dev"),
		CreatedBy:     common.String("ocid1.user.oc1..u"),
		TimeCreated:   &common.SDKTime{Time: created},
	}, "eu-frankfurt-1")

	assert.Equal(t, provider.BucketID("logs"), r.ID)
	assert.Equal(t, provider.StateActive, r.LifecycleState)
	assert.Equal(t, "logs", r.DisplayName)
	assert.Equal(t, provider.BucketDetails{Namespace: "acme", Name: "logs", CreatedBy: "ocid1.user.oc1..u"}, r.Details)
}

func TestFromDatabases(t *testing.T) {
	db := fromDbSystem(database.DbSystemSummary{
		Id:                   common.String("ocid1.dbsystem.oc1..d"),
		Shape:                common.String("VM.Standard2.2"),
		DatabaseEdition:      database.DbSystemSummaryDatabaseEditionEnterpriseEdition,
		CpuCoreCount:         common.Int(4),
		DataStorageSizeInGBs: common.Int(256),
		LifecycleState:       database.DbSystemSummaryLifecycleStateAvailable,
	}, "r")
	dd := db.Details.(provider.DatabaseDetails)
	assert.Equal(t, "ENTERPRISE_EDITION", dd.Edition)
	assert.Equal(t, int64(4), *dd.CPUCores)
	assert.Equal(t, int64(256), *dd.StorageGB)

	pg := fromPostgres(psql.DbSystemSummary{
		Id:             common.String("ocid1.postgresqldbsystem.oc1..p"),
		DisplayName:    common.String("pg"),
		Shape:          common.String("PostgreSQL.VM.Standard.E4.Flex.2.32GB"),
		LifecycleState: psql.DbSystemLifecycleStateActive,
	}, "r")
	assert.Equal(t, provider.FamilyManagedPostgres, pg.Family())
	assert.Equal(t, provider.StateActive, pg.LifecycleState)
}

func TestFromLoadBalancer(t *testing.T) {
	r := fromLoadBalancer(loadbalancer.LoadBalancer{
		Id:             common.String("ocid1.loadbalancer.oc1..lb"),
		ShapeName:      common.String("flexible"),
		IsPrivate:      common.Bool(true),
		LifecycleState: loadbalancer.LoadBalancerLifecycleStateActive,
		ShapeDetails: &loadbalancer.ShapeDetails{
			MinimumBandwidthInMbps: common.Int(10),
			MaximumBandwidthInMbps: common.Int(100),
		},
	}, "r")
	d := r.Details.(provider.LoadBalancerDetails)
	assert.True(t, d.IsPrivate)
	assert.Equal(t, int64(10), *d.MinBandwidthMbps)
	assert.Equal(t, int64(100), *d.MaxBandwidthMbps)
	assert.Equal(t, "flexible", d.Shape)
}

func TestFromUsageSummary(t *testing.T) {
	item := fromUsageSummary(usageapi.UsageSummary{
		ResourceId:     common.String("ocid1.instance.oc1..a"),
		Service:        common.String("COMPUTE"),
		Currency:       common.String("USD"),
		ComputedAmount: common.Float32(1.5),
	})
	assert.Equal(t, provider.UsageItem{ResourceID: "ocid1.instance.oc1..a", Service: "COMPUTE", Currency: "USD", Amount: 1.5}, item)

	empty := fromUsageSummary(usageapi.UsageSummary{})
	assert.Equal(t, provider.UsageItem{}, empty)
}

func TestFromMetricData(t *testing.T) {
	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	points := fromMetricData([]monitoring.MetricData{
		{AggregatedDatapoints: []monitoring.AggregatedDatapoint{
			{Timestamp: &common.SDKTime{Time: day}, Value: common.Float64(12.5)},
			{Timestamp: &common.SDKTime{Time: day.AddDate(0, 0, 1)}},
			{Value: common.Float64(3)},
		}},
		{AggregatedDatapoints: []monitoring.AggregatedDatapoint{
			{Timestamp: &common.SDKTime{Time: day.AddDate(0, 0, 2)}, Value: common.Float64(40)},
		}},
	})

	require.Len(t, points, 2)
	assert.Equal(t, provider.Datapoint{Timestamp: day, Value: 12.5}, points[0])
	assert.Equal(t, 40.0, points[1].Value)
}
