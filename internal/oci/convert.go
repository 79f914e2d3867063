package oci

import (
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
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

func fromCompartment(c identity.Compartment, region string) provider.Resource {
	parent := str(c.CompartmentId)
	if parent == "" {
		// the tenancy root has no parent
		parent = str(c.Id)
	}
	return provider.Resource{
		ID:             str(c.Id),
		CompartmentID:  parent,
		DisplayName:    str(c.Name),
		LifecycleState: provider.LifecycleState(c.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(c.TimeCreated),
		Details:        provider.CompartmentDetails{Description: str(c.Description)},
	}
}

func fromInstance(i core.Instance, region string) provider.Resource {
	d := provider.ComputeDetails{
		Shape:              str(i.Shape),
		AvailabilityDomain: str(i.AvailabilityDomain),
	}
	if i.ShapeConfig != nil {
		d.OCPUs = f32(i.ShapeConfig.Ocpus)
		d.MemoryGB = f32(i.ShapeConfig.MemoryInGBs)
	}
	if r := str(i.Region); r != "" {
		region = r
	}
	return provider.Resource{
		ID:             str(i.Id),
		CompartmentID:  str(i.CompartmentId),
		DisplayName:    str(i.DisplayName),
		LifecycleState: provider.LifecycleState(i.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(i.TimeCreated),
		Details:        d,
	}
}

func fromVolume(v core.Volume, region string) provider.Resource {
	return provider.Resource{
		ID:             str(v.Id),
		CompartmentID:  str(v.CompartmentId),
		DisplayName:    str(v.DisplayName),
		LifecycleState: provider.LifecycleState(v.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(v.TimeCreated),
		Details: provider.VolumeDetails{
			AvailabilityDomain: str(v.AvailabilityDomain),
			SizeGB:             v.SizeInGBs,
			VPUsPerGB:          v.VpusPerGB,
		},
	}
}

// Buckets have no OCID or lifecycle in the list API: the pseudo id is derived
// from the name and a listed bucket is ACTIVE.
func fromBucket(b objectstorage.BucketSummary, region string) provider.Resource {
	name := str(b.Name)
	return provider.Resource{
		ID:             provider.BucketID(name),
		CompartmentID:  str(b.CompartmentId),
		DisplayName:    name,
		LifecycleState: provider.StateActive,
		Region:         region,
		CreatedAt:      sdkTime(b.TimeCreated),
		Details: provider.BucketDetails{
			Namespace: str(b.Namespace),
			Name:      name,
			CreatedBy: str(b.CreatedBy),
		},
	}
}

func fromFileSystem(fs filestorage.FileSystemSummary, region string) provider.Resource {
	return provider.Resource{
		ID:             str(fs.Id),
		CompartmentID:  str(fs.CompartmentId),
		DisplayName:    str(fs.DisplayName),
		LifecycleState: provider.LifecycleState(fs.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(fs.TimeCreated),
		Details: provider.FileSystemDetails{
			AvailabilityDomain: str(fs.AvailabilityDomain),
			MeteredBytes:       fs.MeteredBytes,
		},
	}
}

func fromDbSystem(db database.DbSystemSummary, region string) provider.Resource {
	return provider.Resource{
		ID:             str(db.Id),
		CompartmentID:  str(db.CompartmentId),
		DisplayName:    str(db.DisplayName),
		LifecycleState: provider.LifecycleState(db.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(db.TimeCreated),
		Details: provider.DatabaseDetails{
			Shape:              str(db.Shape),
			Edition:            string(db.DatabaseEdition),
			AvailabilityDomain: str(db.AvailabilityDomain),
			CPUCores:           i64(db.CpuCoreCount),
			StorageGB:          i64(db.DataStorageSizeInGBs),
		},
	}
}

func fromPostgres(db psql.DbSystemSummary, region string) provider.Resource {
	return provider.Resource{
		ID:             str(db.Id),
		CompartmentID:  str(db.CompartmentId),
		DisplayName:    str(db.DisplayName),
		LifecycleState: provider.LifecycleState(db.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(db.TimeCreated),
		Details:        provider.PostgresDetails{Shape: str(db.Shape)},
	}
}

func fromLoadBalancer(lb loadbalancer.LoadBalancer, region string) provider.Resource {
	d := provider.LoadBalancerDetails{Shape: str(lb.ShapeName)}
	if lb.IsPrivate != nil {
		d.IsPrivate = *lb.IsPrivate
	}
	if lb.ShapeDetails != nil {
		d.MinBandwidthMbps = i64(lb.ShapeDetails.MinimumBandwidthInMbps)
		d.MaxBandwidthMbps = i64(lb.ShapeDetails.MaximumBandwidthInMbps)
	}
	return provider.Resource{
		ID:             str(lb.Id),
		CompartmentID:  str(lb.CompartmentId),
		DisplayName:    str(lb.DisplayName),
		LifecycleState: provider.LifecycleState(lb.LifecycleState),
		Region:         region,
		CreatedAt:      sdkTime(lb.TimeCreated),
		Details:        d,
	}
}

func fromUsageSummary(u usageapi.UsageSummary) provider.UsageItem {
	item := provider.UsageItem{
		ResourceID: str(u.ResourceId),
		Service:    str(u.Service),
		Currency:   str(u.Currency),
	}
	if u.ComputedAmount != nil {
		item.Amount = float64(*u.ComputedAmount)
	}
	return item
}

// fromMetricData flattens the aggregated datapoints of every returned series.
// Points without a timestamp or value are dropped.
func fromMetricData(data []monitoring.MetricData) []provider.Datapoint {
	var out []provider.Datapoint
	for _, md := range data {
		for _, dp := range md.AggregatedDatapoints {
			if dp.Timestamp == nil || dp.Value == nil {
				continue
			}
			out = append(out, provider.Datapoint{Timestamp: dp.Timestamp.Time.UTC(), Value: *dp.Value})
		}
	}
	return out
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func sdkTime(t *common.SDKTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time.UTC()
}

func f32(p *float32) *float64 {
	if p == nil {
		return nil
	}
	v := float64(*p)
	return &v
}

func i64(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}
