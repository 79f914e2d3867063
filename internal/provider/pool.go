package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
	"golang.org/x/time/rate"
)

// LimiterConfig sizes the per-credential token bucket
type LimiterConfig struct {
	CallsPerSecond float64
	Burst          int
}

// Pool owns one Gateway and one rate limiter per user. The limiter outlives
// the gateway: Invalidate rebuilds the client, and both the old and the new
// client keep drawing from the same bucket.
type Pool struct {
	source  CredentialSource
	factory Factory
	limits  LimiterConfig
	cfg     GatewayConfig
	logger  *logger.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	gateways map[string]*Gateway
	limiters map[string]*rate.Limiter
}

// Verify that Pool implements Gateways
var _ Gateways = (*Pool)(nil)

// NewPool creates an empty pool. Gateways are built lazily on first use.
func NewPool(source CredentialSource, factory Factory, limits LimiterConfig, cfg GatewayConfig, log *logger.Logger, metrics *telemetry.Metrics) *Pool {
	return &Pool{
		source:   source,
		factory:  factory,
		limits:   limits,
		cfg:      cfg,
		logger:   log,
		metrics:  metrics,
		gateways: make(map[string]*Gateway),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Gateway returns the user's gateway, creating it from fresh credentials when
// none exists yet
func (p *Pool) Gateway(ctx context.Context, user string) (*Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gateways[user]; ok {
		return g, nil
	}

	creds, err := p.source.Credentials(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", user, err)
	}
	api, err := p.factory(ctx, creds, p.limiter(user))
	if err != nil {
		return nil, fmt.Errorf("create provider client for %s: %w", user, err)
	}

	g := NewGateway(api, p.cfg, p.logger.WithFields("user", user), p.metrics)
	p.gateways[user] = g
	p.logger.Debug("Created provider gateway", "user", user, "calls_per_second", p.limits.CallsPerSecond)
	return g, nil
}

// limiter returns the user's bucket, creating it on first use. Callers hold p.mu.
func (p *Pool) limiter(user string) *rate.Limiter {
	l, ok := p.limiters[user]
	if !ok {
		l = NewLimiter(p.limits.CallsPerSecond, p.limits.Burst)
		p.limiters[user] = l
	}
	return l
}

// Invalidate drops the user's gateway so the next call re-reads credentials.
// The user's limiter is kept. Callers use it after an AuthExpired failure.
func (p *Pool) Invalidate(user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.gateways, user)
}

// Invalidator is implemented by gateway sources that can drop a user's client
type Invalidator interface {
	Invalidate(user string)
}

// InvalidateOnAuthError drops the user's gateway when err is AuthExpired and
// gateways supports it, so refreshed credentials are picked up on the next call
func InvalidateOnAuthError(gateways Gateways, user string, err error) {
	if !errors.Is(err, ErrAuthExpired) {
		return
	}
	if inv, ok := gateways.(Invalidator); ok {
		inv.Invalidate(user)
	}
}
