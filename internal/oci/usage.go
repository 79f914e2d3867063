package oci

import (
	"context"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
	"github.com/oracle/oci-go-sdk/v65/usageapi"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// usageGroupBy splits cost per resource and service
var usageGroupBy = []string{"resourceId", "service"}

// SummarizeCosts returns daily cost lines for [q.Start, q.End) grouped by
// resource and service
func (c *Client) SummarizeCosts(ctx context.Context, q provider.CostQuery) ([]provider.UsageItem, error) {
	details := usageapi.RequestSummarizedUsagesDetails{
		TenantId:         common.String(c.tenancy),
		TimeUsageStarted: &common.SDKTime{Time: q.Start.UTC()},
		TimeUsageEnded:   &common.SDKTime{Time: q.End.UTC()},
		Granularity:      usageapi.RequestSummarizedUsagesDetailsGranularityDaily,
		QueryType:        usageapi.RequestSummarizedUsagesDetailsQueryTypeCost,
		GroupBy:          usageGroupBy,
	}

	summaries, err := paginate(ctx, c.limiter, "usageapi.RequestSummarizedUsages", func(page *string) ([]usageapi.UsageSummary, *string, error) {
		resp, err := c.usage.RequestSummarizedUsages(ctx, usageapi.RequestSummarizedUsagesRequest{
			RequestSummarizedUsagesDetails: details,
			Page:                           page,
			RequestMetadata:                metadata(),
		})
		return resp.UsageAggregation.Items, resp.OpcNextPage, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]provider.UsageItem, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, fromUsageSummary(s))
	}
	return out, nil
}

// SummarizeMetrics runs one MQL query and returns its aggregated datapoints
func (c *Client) SummarizeMetrics(ctx context.Context, q provider.MetricQuery) ([]provider.Datapoint, error) {
	details := monitoring.SummarizeMetricsDataDetails{
		Namespace: common.String(q.Namespace),
		Query:     common.String(q.Query),
		StartTime: &common.SDKTime{Time: q.Start.UTC()},
		EndTime:   &common.SDKTime{Time: q.End.UTC()},
	}
	if q.Resolution != "" {
		details.Resolution = common.String(q.Resolution)
	}

	if err := wait(ctx, c.limiter, "monitoring.SummarizeMetricsData"); err != nil {
		return nil, err
	}
	resp, err := c.monitoring.SummarizeMetricsData(ctx, monitoring.SummarizeMetricsDataRequest{
		CompartmentId:               common.String(q.CompartmentID),
		SummarizeMetricsDataDetails: details,
		RequestMetadata:             metadata(),
	})
	if err != nil {
		return nil, Classify("monitoring.SummarizeMetricsData", err)
	}
	return fromMetricData(resp.Items), nil
}
