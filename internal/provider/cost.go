package provider

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period identifies a calendar-month accounting period, formatted YYYY-MM (UTC)
type Period string

// PeriodOf returns the period containing t
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

// ParsePeriod validates s as a YYYY-MM period key
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid period %q: expected YYYY-MM", s)
	}
	return PeriodOf(t), nil
}

// Start returns the first instant of the period
func (p Period) Start() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// End returns the first instant after the period
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Prev returns the preceding period
func (p Period) Prev() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// Next returns the following period
func (p Period) Next() Period {
	return PeriodOf(p.End())
}

// Before reports whether p ends before o starts. YYYY-MM sorts lexically.
func (p Period) Before(o Period) bool {
	return p < o
}

func (p Period) String() string {
	return string(p)
}

// PeriodState is the rollover state of one (user, period)
type PeriodState string

// Period states. A period with no recorded state is treated as open.
const (
	PeriodOpen    PeriodState = "OPEN"
	PeriodClosing PeriodState = "CLOSING"
	PeriodClosed  PeriodState = "CLOSED"
)

// CostRecord is the cost of one resource over one period.
// Identity is (ResourceID, Period). Amount is the sum of Services; Service
// names the largest entry of Services.
type CostRecord struct {
	ResourceID  string             `json:"resource_id"`
	Service     string             `json:"service"`
	Services    map[string]float64 `json:"services,omitempty"`
	Period      Period             `json:"period"`
	Amount      float64            `json:"amount"`
	Currency    string             `json:"currency,omitempty"`
	Complete    bool               `json:"complete"`
	LastUpdated time.Time          `json:"last_updated"`
}

// ServiceAmount returns the spend of service within r. A record without a
// breakdown attributes its whole amount to r.Service.
func (r CostRecord) ServiceAmount(service string) (float64, bool) {
	if len(r.Services) == 0 {
		return r.Amount, r.Service == service
	}
	amount, ok := r.Services[service]
	return amount, ok
}

// PrimaryService returns the service with the largest amount in services.
// Ties go to the lexically smaller name.
func PrimaryService(services map[string]float64) string {
	var (
		best   string
		amount float64
		found  bool
	)
	for name, a := range services {
		if !found || a > amount || (a == amount && name < best) {
			best, amount, found = name, a, true
		}
	}
	return best
}
