package oci

import (
	"context"
	"fmt"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/database"
	"github.com/oracle/oci-go-sdk/v65/filestorage"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"github.com/oracle/oci-go-sdk/v65/loadbalancer"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"
	"github.com/oracle/oci-go-sdk/v65/psql"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// ListCompartments returns the tenancy root followed by every compartment in
// its subtree
func (c *Client) ListCompartments(ctx context.Context) ([]provider.Resource, error) {
	const op = "identity.ListCompartments"

	if err := wait(ctx, c.limiter, "identity.GetCompartment"); err != nil {
		return nil, err
	}
	root, err := c.identity.GetCompartment(ctx, identity.GetCompartmentRequest{
		CompartmentId:   common.String(c.tenancy),
		RequestMetadata: metadata(),
	})
	if err != nil {
		return nil, Classify("identity.GetCompartment", err)
	}

	children, err := paginate(ctx, c.limiter, op, func(page *string) ([]identity.Compartment, *string, error) {
		resp, err := c.identity.ListCompartments(ctx, identity.ListCompartmentsRequest{
			CompartmentId:          common.String(c.tenancy),
			CompartmentIdInSubtree: common.Bool(true),
			AccessLevel:            identity.ListCompartmentsAccessLevelAny,
			Page:                   page,
			RequestMetadata:        metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]provider.Resource, 0, len(children)+1)
	out = append(out, fromCompartment(root.Compartment, c.region))
	for _, comp := range children {
		out = append(out, fromCompartment(comp, c.region))
	}
	return out, nil
}

// ListAvailabilityDomains returns the availability domain names of the tenancy
func (c *Client) ListAvailabilityDomains(ctx context.Context) ([]string, error) {
	if err := wait(ctx, c.limiter, "identity.ListAvailabilityDomains"); err != nil {
		return nil, err
	}
	resp, err := c.identity.ListAvailabilityDomains(ctx, identity.ListAvailabilityDomainsRequest{
		CompartmentId:   common.String(c.tenancy),
		RequestMetadata: metadata(),
	})
	if err != nil {
		return nil, Classify("identity.ListAvailabilityDomains", err)
	}
	out := make([]string, 0, len(resp.Items))
	for _, ad := range resp.Items {
		if name := str(ad.Name); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListResources lists one family inside one compartment
func (c *Client) ListResources(ctx context.Context, family provider.Family, compartmentID, availabilityDomain string) ([]provider.Resource, error) {
	switch family {
	case provider.FamilyComputeInstance:
		return c.listInstances(ctx, compartmentID)
	case provider.FamilyVolume:
		return c.listVolumes(ctx, compartmentID)
	case provider.FamilyBucket:
		return c.listBuckets(ctx, compartmentID)
	case provider.FamilyFileSystem:
		return c.listFileSystems(ctx, compartmentID, availabilityDomain)
	case provider.FamilyDatabase:
		return c.listDbSystems(ctx, compartmentID)
	case provider.FamilyManagedPostgres:
		return c.listPostgres(ctx, compartmentID)
	case provider.FamilyLoadBalancer:
		return c.listLoadBalancers(ctx, compartmentID)
	default:
		return nil, provider.NewError(provider.Permanent, "oci.ListResources", fmt.Errorf("unsupported family %q", family))
	}
}

func (c *Client) listInstances(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	items, err := paginate(ctx, c.limiter, "compute.ListInstances", func(page *string) ([]core.Instance, *string, error) {
		resp, err := c.compute.ListInstances(ctx, core.ListInstancesRequest{
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromInstance), nil
}

func (c *Client) listVolumes(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	items, err := paginate(ctx, c.limiter, "blockstorage.ListVolumes", func(page *string) ([]core.Volume, *string, error) {
		resp, err := c.blockstorage.ListVolumes(ctx, core.ListVolumesRequest{
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromVolume), nil
}

func (c *Client) listBuckets(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	namespace, err := c.objectNamespace(ctx)
	if err != nil {
		return nil, err
	}
	items, err := paginate(ctx, c.limiter, "objectstorage.ListBuckets", func(page *string) ([]objectstorage.BucketSummary, *string, error) {
		resp, err := c.objectstorage.ListBuckets(ctx, objectstorage.ListBucketsRequest{
			NamespaceName:   common.String(namespace),
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromBucket), nil
}

// objectNamespace resolves the tenancy's object storage namespace once
func (c *Client) objectNamespace(ctx context.Context) (string, error) {
	c.nsMu.Lock()
	defer c.nsMu.Unlock()
	if c.namespace != "" {
		return c.namespace, nil
	}
	if err := wait(ctx, c.limiter, "objectstorage.GetNamespace"); err != nil {
		return "", err
	}
	resp, err := c.objectstorage.GetNamespace(ctx, objectstorage.GetNamespaceRequest{RequestMetadata: metadata()})
	if err != nil {
		return "", Classify("objectstorage.GetNamespace", err)
	}
	c.namespace = str(resp.Value)
	return c.namespace, nil
}

func (c *Client) listFileSystems(ctx context.Context, compartmentID, availabilityDomain string) ([]provider.Resource, error) {
	if availabilityDomain == "" {
		return nil, provider.NewError(provider.Permanent, "filestorage.ListFileSystems", fmt.Errorf("availability domain is required"))
	}
	items, err := paginate(ctx, c.limiter, "filestorage.ListFileSystems", func(page *string) ([]filestorage.FileSystemSummary, *string, error) {
		resp, err := c.filestorage.ListFileSystems(ctx, filestorage.ListFileSystemsRequest{
			CompartmentId:      common.String(compartmentID),
			AvailabilityDomain: common.String(availabilityDomain),
			Page:               page,
			RequestMetadata:    metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromFileSystem), nil
}

func (c *Client) listDbSystems(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	items, err := paginate(ctx, c.limiter, "database.ListDbSystems", func(page *string) ([]database.DbSystemSummary, *string, error) {
		resp, err := c.database.ListDbSystems(ctx, database.ListDbSystemsRequest{
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromDbSystem), nil
}

func (c *Client) listPostgres(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	items, err := paginate(ctx, c.limiter, "psql.ListDbSystems", func(page *string) ([]psql.DbSystemSummary, *string, error) {
		resp, err := c.postgres.ListDbSystems(ctx, psql.ListDbSystemsRequest{
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.DbSystemCollection.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromPostgres), nil
}

func (c *Client) listLoadBalancers(ctx context.Context, compartmentID string) ([]provider.Resource, error) {
	items, err := paginate(ctx, c.limiter, "loadbalancer.ListLoadBalancers", func(page *string) ([]loadbalancer.LoadBalancer, *string, error) {
		resp, err := c.loadbalancer.ListLoadBalancers(ctx, loadbalancer.ListLoadBalancersRequest{
			CompartmentId:   common.String(compartmentID),
			Page:            page,
			RequestMetadata: metadata(),
		})
		return resp.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}
	return convertAll(items, c.region, fromLoadBalancer), nil
}

func convertAll[T any](items []T, region string, conv func(T, string) provider.Resource) []provider.Resource {
	out := make([]provider.Resource, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it, region))
	}
	return out
}
