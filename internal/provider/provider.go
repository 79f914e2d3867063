package provider

import (
	"context"
	"time"
)

// API is the raw provider surface for one credential set. A method may issue
// several requests (one per page, plus lookups). Implementations wait on the
// Limiter they were built with before each of them and report failures as
// *Error so the Gateway can decide whether to retry.
type API interface {
	// ListCompartments returns the tenancy root and every compartment below it
	ListCompartments(ctx context.Context) ([]Resource, error)

	// ListAvailabilityDomains returns the availability domain names of the tenancy
	ListAvailabilityDomains(ctx context.Context) ([]string, error)

	// ListResources lists one family inside one compartment. availabilityDomain is
	// only consulted by families that are scoped per domain (file systems).
	ListResources(ctx context.Context, family Family, compartmentID, availabilityDomain string) ([]Resource, error)

	// SummarizeCosts returns usage cost line items for the query window
	SummarizeCosts(ctx context.Context, q CostQuery) ([]UsageItem, error)

	// SummarizeMetrics returns aggregated datapoints for one monitoring query
	SummarizeMetrics(ctx context.Context, q MetricQuery) ([]Datapoint, error)
}

// Credentials identify one provider credential set. Values are opaque to the
// core and handed to the API factory unchanged.
type Credentials struct {
	Tenancy     string
	User        string
	Fingerprint string
	Region      string
	PrivateKey  string
	Passphrase  string
}

// CredentialSource supplies decrypted credentials per user
type CredentialSource interface {
	Credentials(ctx context.Context, user string) (Credentials, error)
}

// Factory builds an API client for one credential set. Every request the client
// sends must first take a token from limiter.
type Factory func(ctx context.Context, creds Credentials, limiter Limiter) (API, error)

// Gateways hands out the rate-limited gateway of a user
type Gateways interface {
	Gateway(ctx context.Context, user string) (*Gateway, error)
}

// CostQuery selects the usage window [Start, End)
type CostQuery struct {
	Start time.Time
	End   time.Time
}

// UsageItem is one summarized usage line as returned by the provider
type UsageItem struct {
	ResourceID string
	Service    string
	Currency   string
	Amount     float64
}

// MetricQuery is one monitoring query against a namespace
type MetricQuery struct {
	CompartmentID string
	Namespace     string
	Query         string
	Resolution    string
	Start         time.Time
	End           time.Time
}

// Datapoint is one aggregated monitoring value
type Datapoint struct {
	Timestamp time.Time
	Value     float64
}
