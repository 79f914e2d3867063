package provider

import "time"

// Family names one resource family. The value doubles as the resource type
// recorded on utilization samples.
type Family string

// Resource families
const (
	FamilyCompartment     Family = "compartment"
	FamilyComputeInstance Family = "compute_instance"
	FamilyVolume          Family = "volume"
	FamilyBucket          Family = "bucket"
	FamilyFileSystem      Family = "file_system"
	FamilyDatabase        Family = "database"
	FamilyManagedPostgres Family = "managed_postgres"
	FamilyLoadBalancer    Family = "load_balancer"
)

// Families lists every family in sync order. Compartments come first because
// they seed the traversal of the others.
var Families = []Family{
	FamilyCompartment,
	FamilyComputeInstance,
	FamilyVolume,
	FamilyBucket,
	FamilyFileSystem,
	FamilyDatabase,
	FamilyManagedPostgres,
	FamilyLoadBalancer,
}

// ParseFamily validates a family name
func ParseFamily(s string) (Family, bool) {
	for _, f := range Families {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// LifecycleState is the provider-defined lifecycle of a resource
type LifecycleState string

// Lifecycle states referenced by the core. Providers may report others.
const (
	StateActive       LifecycleState = "ACTIVE"
	StateRunning      LifecycleState = "RUNNING"
	StateStopped      LifecycleState = "STOPPED"
	StateProvisioning LifecycleState = "PROVISIONING"
	StateTerminated   LifecycleState = "TERMINATED"
	StateDeleted      LifecycleState = "DELETED"
)

// Resource is the envelope shared by every family. Details carries the
// family-specific attributes and determines the family.
type Resource struct {
	ID             string         `json:"id"`
	Owner          string         `json:"owner"`
	CompartmentID  string         `json:"compartment_id"`
	DisplayName    string         `json:"display_name"`
	LifecycleState LifecycleState `json:"lifecycle_state"`
	Region         string         `json:"region"`
	CreatedAt      time.Time      `json:"created_at"`
	LastSeen       time.Time      `json:"last_seen"`
	Deleted        bool           `json:"deleted"`
	Details        Details        `json:"details,omitempty"`
}

// Family returns the family of the resource, or "" when Details is unset
func (r Resource) Family() Family {
	if r.Details == nil {
		return ""
	}
	return r.Details.Family()
}

// Details is implemented by one struct per family. Numeric attributes are
// pointers: nil means the provider did not report the value.
type Details interface {
	Family() Family
}

// CompartmentDetails describes a compartment
type CompartmentDetails struct {
	Description string `json:"description"`
}

// ComputeDetails describes a compute instance
type ComputeDetails struct {
	Shape              string   `json:"shape"`
	AvailabilityDomain string   `json:"availability_domain"`
	OCPUs              *float64 `json:"ocpus,omitempty"`
	MemoryGB           *float64 `json:"memory_gb,omitempty"`
}

// VolumeDetails describes a block volume
type VolumeDetails struct {
	AvailabilityDomain string `json:"availability_domain"`
	SizeGB             *int64 `json:"size_gb,omitempty"`
	VPUsPerGB          *int64 `json:"vpus_per_gb,omitempty"`
}

// BucketDetails describes an object storage bucket
type BucketDetails struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

// FileSystemDetails describes a file storage file system
type FileSystemDetails struct {
	AvailabilityDomain string `json:"availability_domain"`
	MeteredBytes       *int64 `json:"metered_bytes,omitempty"`
}

// DatabaseDetails describes a DB system
type DatabaseDetails struct {
	Shape              string `json:"shape"`
	Edition            string `json:"edition"`
	AvailabilityDomain string `json:"availability_domain"`
	CPUCores           *int64 `json:"cpu_cores,omitempty"`
	StorageGB          *int64 `json:"storage_gb,omitempty"`
}

// PostgresDetails describes a managed PostgreSQL DB system
type PostgresDetails struct {
	Shape string `json:"shape"`
}

// LoadBalancerDetails describes a load balancer
type LoadBalancerDetails struct {
	Shape            string `json:"shape"`
	IsPrivate        bool   `json:"is_private"`
	MinBandwidthMbps *int64 `json:"min_bandwidth_mbps,omitempty"`
	MaxBandwidthMbps *int64 `json:"max_bandwidth_mbps,omitempty"`
}

func (CompartmentDetails) Family() Family  { return FamilyCompartment }
func (ComputeDetails) Family() Family      { return FamilyComputeInstance }
func (VolumeDetails) Family() Family       { return FamilyVolume }
func (BucketDetails) Family() Family       { return FamilyBucket }
func (FileSystemDetails) Family() Family   { return FamilyFileSystem }
func (DatabaseDetails) Family() Family     { return FamilyDatabase }
func (PostgresDetails) Family() Family     { return FamilyManagedPostgres }
func (LoadBalancerDetails) Family() Family { return FamilyLoadBalancer }

// BucketID builds the pseudo identifier used for buckets, which the list API
// returns without an OCID
func BucketID(name string) string {
	return "ocid1.bucket.oc1.." + name
}
