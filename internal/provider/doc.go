// Package provider is the External Provider Gateway and the domain model it
// carries.
//
// The raw provider surface is the API interface. The internal/oci package
// implements it on top of the OCI SDK. Every call from the core goes through
// a Gateway obtained from a Pool, which adds two guarantees on top of API:
//
//   - Rate limiting: a Limiter (token bucket from golang.org/x/time/rate,
//     default 2 calls/s) is waited on before every outbound request, each page
//     of a listing included. The Pool keeps one limiter per credential set,
//     hands it to the Factory, and keeps it across Invalidate.
//   - Retries: RateLimited and Transient failures are retried with exponential
//     backoff (github.com/cenkalti/backoff/v4) up to MaxAttempts. When the
//     attempts run out the caller receives Transient. Permanent and AuthExpired
//     failures are returned at once.
//
// Failures are *Error values carrying a Kind:
//
//	RateLimited   throttled by the provider, retried
//	Transient     network, timeout or 5xx, retried
//	Permanent     other 4xx, surfaced immediately
//	AuthExpired   credentials rejected, surfaced immediately
//	Inconsistent  rollover could not persist (raised by costcache)
//
// Use errors.Is(err, provider.ErrTransient) or provider.KindOf(err) to branch.
//
// Pool hands out one Gateway per user:
//
//	pool := provider.NewPool(creds, oci.Factory, provider.LimiterConfig{CallsPerSecond: 2, Burst: 1},
//		provider.GatewayConfig{MaxAttempts: 5}, log, metrics)
//	gw, err := pool.Gateway(ctx, "alice")
//	compartments, err := gw.ListCompartments(ctx)
//
// The domain types live here too: CostRecord and Period for billing,
// Resource with one Details struct per Family for inventory, and MetricSample
// for utilization.
package provider
