package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

const upsertSampleSQL = `INSERT INTO metric_samples
	(resource_id, metric_name, aggregation_kind, period_start, user_id, resource_type, period_end, value, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (resource_id, metric_name, aggregation_kind, period_start) DO UPDATE SET
	user_id = excluded.user_id,
	resource_type = excluded.resource_type,
	period_end = excluded.period_end,
	value = excluded.value,
	fetched_at = excluded.fetched_at`

// UpsertSample writes one sample, replacing any sample with the same identity
func (s *Store) UpsertSample(ctx context.Context, m provider.MetricSample) error {
	_, err := s.exec(ctx, upsertSampleSQL,
		m.ResourceID, m.MetricName, string(m.Aggregation), utc(m.PeriodStart),
		m.Owner, string(m.ResourceType), utc(m.PeriodEnd), m.Value, utc(m.FetchedAt))
	if err != nil {
		return fmt.Errorf("upsert sample %s/%s: %w", m.ResourceID, m.MetricName, err)
	}
	return nil
}

// Samples returns the samples of one resource and metric ordered by period start
func (s *Store) Samples(ctx context.Context, resourceID, metricName string) ([]provider.MetricSample, error) {
	rows, err := s.query(ctx, `SELECT resource_id, metric_name, aggregation_kind, period_start, user_id,
	resource_type, period_end, value, fetched_at
FROM metric_samples WHERE resource_id = ? AND metric_name = ?
ORDER BY period_start, aggregation_kind`, resourceID, metricName)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []provider.MetricSample
	for rows.Next() {
		var (
			m                 provider.MetricSample
			agg, resourceType string
		)
		if err := rows.Scan(&m.ResourceID, &m.MetricName, &agg, &m.PeriodStart, &m.Owner,
			&resourceType, &m.PeriodEnd, &m.Value, &m.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		m.Aggregation = provider.Aggregation(agg)
		m.ResourceType = provider.Family(resourceType)
		m.PeriodStart = m.PeriodStart.UTC()
		m.PeriodEnd = m.PeriodEnd.UTC()
		m.FetchedAt = m.FetchedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSamplesBefore removes samples whose period started before cutoff
func (s *Store) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM metric_samples WHERE period_start < ?`, utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	return n, nil
}

// CountSamples returns the number of stored samples
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM metric_samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}
