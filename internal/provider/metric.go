package provider

import (
	"fmt"
	"time"
)

// Aggregation is the statistic applied to a utilization series
type Aggregation string

// Supported aggregations
const (
	AggregationMean Aggregation = "mean"
	AggregationMax  Aggregation = "max"
	AggregationMin  Aggregation = "min"
)

// ParseAggregation validates an aggregation name. Empty means mean.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case "":
		return AggregationMean, nil
	case AggregationMean, AggregationMax, AggregationMin:
		return Aggregation(s), nil
	}
	return "", fmt.Errorf("invalid aggregation %q: must be mean, max or min", s)
}

// MetricSample is one aggregated utilization value.
// Identity is (ResourceID, MetricName, Aggregation, PeriodStart).
type MetricSample struct {
	Owner        string      `json:"owner"`
	ResourceID   string      `json:"resource_id"`
	ResourceType Family      `json:"resource_type"`
	MetricName   string      `json:"metric_name"`
	Aggregation  Aggregation `json:"aggregation"`
	PeriodStart  time.Time   `json:"period_start"`
	PeriodEnd    time.Time   `json:"period_end"`
	Value        float64     `json:"value"`
	FetchedAt    time.Time   `json:"fetched_at"`
}
