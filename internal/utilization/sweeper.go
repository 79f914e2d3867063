package utilization

import (
	"context"
	"fmt"
	"time"

	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
)

// DefaultRetentionDays is the sample retention window
const DefaultRetentionDays = 30

// SampleDeleter removes samples by period start
type SampleDeleter interface {
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper enforces the retention window
type Sweeper struct {
	store         SampleDeleter
	retentionDays int
	clock         clock.Clock
	logger        *logger.Logger
	metrics       *telemetry.Metrics
}

// NewSweeper creates a Sweeper. clk may be nil for the real clock.
func NewSweeper(st SampleDeleter, retentionDays int, clk clock.Clock, log *logger.Logger, metrics *telemetry.Metrics) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Sweeper{
		store:         st,
		retentionDays: retentionDays,
		clock:         clk,
		logger:        log.Component("retention"),
		metrics:       metrics,
	}
}

// Sweep deletes samples whose period started before the retention window
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := dayOf(s.clock.Now()).AddDate(0, 0, -s.retentionDays)

	n, err := s.store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.metrics.SamplesPurged(n)
	s.logger.Info("Retention sweep finished", "cutoff", cutoff, "deleted", n)
	return n, nil
}
