package oci

import (
	"context"
	"fmt"
	"sync"

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

// Client implements provider.API for one credential set. Every outbound
// request, each page of a listing included, first takes a token from limiter.
type Client struct {
	tenancy string
	region  string
	limiter provider.Limiter

	identity      identity.IdentityClient
	compute       core.ComputeClient
	blockstorage  core.BlockstorageClient
	objectstorage objectstorage.ObjectStorageClient
	filestorage   filestorage.FileStorageClient
	database      database.DatabaseClient
	postgres      psql.PostgresqlClient
	loadbalancer  loadbalancer.LoadBalancerClient
	usage         usageapi.UsageapiClient
	monitoring    monitoring.MonitoringClient

	nsMu      sync.Mutex
	namespace string // object storage namespace, resolved on first bucket listing
}

// Verify that Client implements provider.API
var _ provider.API = (*Client)(nil)

// NewClient builds the SDK clients for creds. No network call is made. limiter
// is the credential set's shared ceiling; nil applies a private default bucket.
func NewClient(creds provider.Credentials, limiter provider.Limiter) (*Client, error) {
	if creds.Tenancy == "" || creds.User == "" || creds.Fingerprint == "" || creds.Region == "" || creds.PrivateKey == "" {
		return nil, provider.NewError(provider.Permanent, "oci.NewClient", fmt.Errorf("incomplete credentials"))
	}

	var passphrase *string
	if creds.Passphrase != "" {
		passphrase = common.String(creds.Passphrase)
	}
	cp := common.NewRawConfigurationProvider(creds.Tenancy, creds.User, creds.Region, creds.Fingerprint, creds.PrivateKey, passphrase)

	if limiter == nil {
		limiter = provider.NewLimiter(provider.DefaultCallsPerSecond, 1)
	}
	c := &Client{tenancy: creds.Tenancy, region: creds.Region, limiter: limiter}
	var err error

	if c.identity, err = identity.NewIdentityClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("identity", err)
	}
	if c.compute, err = core.NewComputeClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("compute", err)
	}
	if c.blockstorage, err = core.NewBlockstorageClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("blockstorage", err)
	}
	if c.objectstorage, err = objectstorage.NewObjectStorageClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("objectstorage", err)
	}
	if c.filestorage, err = filestorage.NewFileStorageClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("filestorage", err)
	}
	if c.database, err = database.NewDatabaseClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("database", err)
	}
	if c.postgres, err = psql.NewPostgresqlClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("psql", err)
	}
	if c.loadbalancer, err = loadbalancer.NewLoadBalancerClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("loadbalancer", err)
	}
	if c.usage, err = usageapi.NewUsageapiClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("usageapi", err)
	}
	if c.monitoring, err = monitoring.NewMonitoringClientWithConfigurationProvider(cp); err != nil {
		return nil, wrapInit("monitoring", err)
	}

	return c, nil
}

// Factory is a provider.Factory building a Client
func Factory(ctx context.Context, creds provider.Credentials, limiter provider.Limiter) (provider.API, error) {
	return NewClient(creds, limiter)
}

// wrapInit marks a client construction failure Permanent
func wrapInit(service string, err error) error {
	return provider.NewError(provider.Permanent, "oci.New"+service+"Client", err)
}

// metadata disables SDK-level retries; provider.Gateway retries instead
func metadata() common.RequestMetadata {
	policy := common.NoRetryPolicy()
	return common.RequestMetadata{RetryPolicy: &policy}
}

// wait takes one token from limiter for a single outbound request
func wait(ctx context.Context, limiter provider.Limiter, op string) error {
	if err := ctx.Err(); err != nil {
		return Classify(op, err)
	}
	if err := limiter.Wait(ctx); err != nil {
		return Classify(op, err)
	}
	return nil
}

// paginate calls fetch with successive page tokens until no next page is
// returned. Each page waits on limiter.
func paginate[T any](ctx context.Context, limiter provider.Limiter, op string, fetch func(page *string) ([]T, *string, error)) ([]T, error) {
	var (
		out  []T
		page *string
	)
	for {
		if err := wait(ctx, limiter, op); err != nil {
			return nil, err
		}
		items, next, err := fetch(page)
		if err != nil {
			return nil, Classify(op, err)
		}
		out = append(out, items...)
		if next == nil || *next == "" {
			return out, nil
		}
		page = next
	}
}
