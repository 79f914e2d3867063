package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// FamilyResult counts the writes of one family
type FamilyResult struct {
	Family             provider.Family `json:"family"`
	Upserted           int             `json:"upserted"`
	New                int             `json:"new"`
	Updated            int             `json:"updated"`
	SoftDeleted        int             `json:"soft_deleted"`
	FailedCompartments []string        `json:"failed_compartments,omitempty"`
	Err                error           `json:"-"`
	Message            string          `json:"error,omitempty"`
}

// Report summarizes one user's sync pass
type Report struct {
	User      string         `json:"user"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Families  []FamilyResult `json:"families"`
}

// Err joins the errors of every family, or returns nil when all succeeded
func (r *Report) Err() error {
	var errs []error
	for _, f := range r.Families {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Family, f.Err))
		}
	}
	return errors.Join(errs...)
}

// Totals sums the counts across families
func (r *Report) Totals() FamilyResult {
	var t FamilyResult
	for _, f := range r.Families {
		t.Upserted += f.Upserted
		t.New += f.New
		t.Updated += f.Updated
		t.SoftDeleted += f.SoftDeleted
		t.FailedCompartments = append(t.FailedCompartments, f.FailedCompartments...)
	}
	return t
}

// Family returns the result of one family
func (r *Report) Family(f provider.Family) (FamilyResult, bool) {
	for _, res := range r.Families {
		if res.Family == f {
			return res, true
		}
	}
	return FamilyResult{}, false
}
