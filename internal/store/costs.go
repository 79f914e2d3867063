package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// UserPeriod names one rollover unit
type UserPeriod struct {
	User   string
	Period provider.Period
}

// PeriodSummary aggregates the durable cost rows of one period
type PeriodSummary struct {
	Period          provider.Period      `json:"period"`
	State           provider.PeriodState `json:"state"`
	Records         int                  `json:"records"`
	CompleteRecords int                  `json:"complete_records"`
	Total           float64              `json:"total"`
}

const upsertCostSQL = `INSERT INTO cost_records
	(resource_id, period_key, user_id, service, services, amount, currency, is_complete, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (resource_id, period_key) DO UPDATE SET
	user_id = excluded.user_id,
	service = excluded.service,
	services = excluded.services,
	amount = excluded.amount,
	currency = excluded.currency,
	is_complete = excluded.is_complete,
	last_updated = excluded.last_updated
WHERE NOT cost_records.is_complete OR excluded.is_complete`

// UpsertCosts writes the records of one user in a single transaction.
// A record keyed like an existing complete row may only replace it with
// another complete record; otherwise nothing is written and ErrRecordClosed
// is returned.
func (s *Store) UpsertCosts(ctx context.Context, user string, records []provider.CostRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cost upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertCostSQL))
	if err != nil {
		return fmt.Errorf("prepare cost upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		services, err := encodeServices(r.Services)
		if err != nil {
			return fmt.Errorf("upsert cost %s/%s: %w", r.ResourceID, r.Period, err)
		}
		res, err := stmt.ExecContext(ctx,
			r.ResourceID, string(r.Period), user, r.Service, services, r.Amount, r.Currency, r.Complete, utc(r.LastUpdated))
		if err != nil {
			return fmt.Errorf("upsert cost %s/%s: %w", r.ResourceID, r.Period, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert cost %s/%s: %w", r.ResourceID, r.Period, err)
		}
		if n == 0 {
			return fmt.Errorf("upsert cost %s/%s: %w", r.ResourceID, r.Period, ErrRecordClosed)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cost upsert: %w", err)
	}
	return nil
}

// CostsForPeriod returns the durable records of one user and period ordered by resource
func (s *Store) CostsForPeriod(ctx context.Context, user string, period provider.Period) ([]provider.CostRecord, error) {
	rows, err := s.query(ctx, `SELECT resource_id, period_key, service, services, amount, currency, is_complete, last_updated
FROM cost_records WHERE user_id = ? AND period_key = ? ORDER BY resource_id`, user, string(period))
	if err != nil {
		return nil, fmt.Errorf("query costs: %w", err)
	}
	defer rows.Close()

	var records []provider.CostRecord
	for rows.Next() {
		var (
			r                provider.CostRecord
			period, services string
		)
		if err := rows.Scan(&r.ResourceID, &period, &r.Service, &services, &r.Amount, &r.Currency, &r.Complete, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		if r.Services, err = decodeServices(services); err != nil {
			return nil, fmt.Errorf("scan cost %s: %w", r.ResourceID, err)
		}
		r.Period = provider.Period(period)
		r.LastUpdated = r.LastUpdated.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// encodeServices stores a per-service breakdown as a JSON object
func encodeServices(services map[string]float64) (string, error) {
	if len(services) == 0 {
		return "", nil
	}
	b, err := json.Marshal(services)
	if err != nil {
		return "", fmt.Errorf("encode services: %w", err)
	}
	return string(b), nil
}

func decodeServices(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	var services map[string]float64
	if err := json.Unmarshal([]byte(s), &services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	return services, nil
}

// CostSummary returns one summary per period that has durable rows, newest first
func (s *Store) CostSummary(ctx context.Context, user string) ([]PeriodSummary, error) {
	rows, err := s.query(ctx, `SELECT c.period_key, COALESCE(p.state, ''), COUNT(*),
	SUM(CASE WHEN c.is_complete THEN 1 ELSE 0 END), SUM(c.amount)
FROM cost_records c
LEFT JOIN cost_periods p ON p.user_id = c.user_id AND p.period_key = c.period_key
WHERE c.user_id = ?
GROUP BY c.period_key, p.state
ORDER BY c.period_key DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("query cost summary: %w", err)
	}
	defer rows.Close()

	var out []PeriodSummary
	for rows.Next() {
		var (
			sum           PeriodSummary
			period, state string
		)
		if err := rows.Scan(&period, &state, &sum.Records, &sum.CompleteRecords, &sum.Total); err != nil {
			return nil, fmt.Errorf("scan cost summary: %w", err)
		}
		sum.Period = provider.Period(period)
		sum.State = provider.PeriodState(state)
		if sum.State == "" {
			sum.State = provider.PeriodOpen
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PeriodState returns the rollover state of (user, period). Periods without a
// recorded state are open.
func (s *Store) PeriodState(ctx context.Context, user string, period provider.Period) (provider.PeriodState, error) {
	var state string
	err := s.queryRow(ctx, `SELECT state FROM cost_periods WHERE user_id = ? AND period_key = ?`,
		user, string(period)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return provider.PeriodOpen, nil
	}
	if err != nil {
		return "", fmt.Errorf("query period state: %w", err)
	}
	return provider.PeriodState(state), nil
}

// SetPeriodState records the rollover state of (user, period)
func (s *Store) SetPeriodState(ctx context.Context, user string, period provider.Period, state provider.PeriodState, at time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO cost_periods (user_id, period_key, state, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, period_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		user, string(period), string(state), utc(at))
	if err != nil {
		return fmt.Errorf("set period state %s/%s=%s: %w", user, period, state, err)
	}
	return nil
}

// PeriodsInState lists every (user, period) currently in state
func (s *Store) PeriodsInState(ctx context.Context, state provider.PeriodState) ([]UserPeriod, error) {
	rows, err := s.query(ctx, `SELECT user_id, period_key FROM cost_periods WHERE state = ? ORDER BY period_key, user_id`, string(state))
	if err != nil {
		return nil, fmt.Errorf("query periods in state: %w", err)
	}
	defer rows.Close()

	var out []UserPeriod
	for rows.Next() {
		var up UserPeriod
		var period string
		if err := rows.Scan(&up.User, &period); err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		up.Period = provider.Period(period)
		out = append(out, up)
	}
	return out, rows.Err()
}

// CountPeriodsByState counts recorded (user, period) units per state
func (s *Store) CountPeriodsByState(ctx context.Context) (map[provider.PeriodState]int, error) {
	rows, err := s.query(ctx, `SELECT state, COUNT(*) FROM cost_periods GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count periods: %w", err)
	}
	defer rows.Close()

	out := make(map[provider.PeriodState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan period count: %w", err)
		}
		out[provider.PeriodState(state)] = n
	}
	return out, rows.Err()
}
