package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
)

// Gateway retry defaults
const (
	// DefaultMaxAttempts bounds the attempts of one call, the first included
	DefaultMaxAttempts = 5

	// DefaultInitialBackoff is the first retry interval
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the retry interval
	DefaultMaxBackoff = 30 * time.Second

	// DefaultCallTimeout bounds a single attempt
	DefaultCallTimeout = 30 * time.Second
)

// GatewayConfig tunes retries and per-attempt timeouts
type GatewayConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Gateway is the retrying client over one credential set's API. Rate limiting
// happens per outbound request inside the API, which the Pool builds around the
// user's shared Limiter.
type Gateway struct {
	api     API
	cfg     GatewayConfig
	logger  *logger.Logger
	metrics *telemetry.Metrics
}

// NewGateway wraps api
func NewGateway(api API, cfg GatewayConfig, log *logger.Logger, metrics *telemetry.Metrics) *Gateway {
	return &Gateway{
		api:     api,
		cfg:     cfg.withDefaults(),
		logger:  log,
		metrics: metrics,
	}
}

// Fetch runs call under g's retry policy. A retried call waits on the user's
// limiter again for every request it reissues.
//
// RateLimited and Transient failures are retried with exponential backoff up
// to MaxAttempts; exhaustion surfaces Transient. Permanent and AuthExpired
// failures return immediately. Cancellation of ctx surfaces Transient.
func Fetch[T any](ctx context.Context, g *Gateway, endpoint string, call func(ctx context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
		lastKind Kind
	)
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff
	bo.MaxInterval = g.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // bounded by attempts instead

	operation := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(NewError(Transient, endpoint, err))
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		res, err := call(callCtx)
		if err == nil {
			result = res
			return nil
		}

		kind := KindOf(err)
		if isContextErr(err) {
			kind = Transient
		}
		lastKind = kind
		classified := classified(kind, endpoint, err)

		if !kind.Retryable() || ctx.Err() != nil {
			return backoff.Permanent(classified)
		}

		g.metrics.GatewayRetry(endpoint, kind.String())
		g.logger.Debug("Provider call failed, will retry",
			"endpoint", endpoint,
			"attempt", attempts,
			"kind", kind.String(),
			"error", err)
		return classified
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.cfg.MaxAttempts-1)), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		g.metrics.GatewayCall(endpoint, "ok", time.Since(start))
		return result, nil
	}

	var pe *Error
	switch {
	case !errors.As(err, &pe):
		// backoff reports the bare context error when ctx ends between attempts
		err = NewError(Transient, endpoint, err)
	case lastKind.Retryable() && attempts >= g.cfg.MaxAttempts:
		err = NewError(Transient, endpoint, fmt.Errorf("giving up after %d attempts: %w", attempts, err))
	case pe.Kind == RateLimited:
		err = NewError(Transient, endpoint, err)
	}

	g.metrics.GatewayCall(endpoint, KindOf(err).String(), time.Since(start))
	var zero T
	return zero, err
}

// classified keeps an existing *Error with the right kind, else wraps err
func classified(kind Kind, endpoint string, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == kind {
		return err
	}
	return NewError(kind, endpoint, err)
}

// ListCompartments lists the compartment tree of the tenancy
func (g *Gateway) ListCompartments(ctx context.Context) ([]Resource, error) {
	return Fetch(ctx, g, "identity.ListCompartments", g.api.ListCompartments)
}

// ListAvailabilityDomains lists the availability domains of the tenancy
func (g *Gateway) ListAvailabilityDomains(ctx context.Context) ([]string, error) {
	return Fetch(ctx, g, "identity.ListAvailabilityDomains", g.api.ListAvailabilityDomains)
}

// ListResources lists one family in one compartment
func (g *Gateway) ListResources(ctx context.Context, family Family, compartmentID, availabilityDomain string) ([]Resource, error) {
	return Fetch(ctx, g, "list."+string(family), func(ctx context.Context) ([]Resource, error) {
		return g.api.ListResources(ctx, family, compartmentID, availabilityDomain)
	})
}

// SummarizeCosts fetches usage cost items for a window
func (g *Gateway) SummarizeCosts(ctx context.Context, q CostQuery) ([]UsageItem, error) {
	return Fetch(ctx, g, "usageapi.RequestSummarizedUsages", func(ctx context.Context) ([]UsageItem, error) {
		return g.api.SummarizeCosts(ctx, q)
	})
}

// SummarizeMetrics fetches aggregated monitoring datapoints
func (g *Gateway) SummarizeMetrics(ctx context.Context, q MetricQuery) ([]Datapoint, error) {
	return Fetch(ctx, g, "monitoring.SummarizeMetricsData", func(ctx context.Context) ([]Datapoint, error) {
		return g.api.SummarizeMetrics(ctx, q)
	})
}
