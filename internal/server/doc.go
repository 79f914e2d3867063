// Package server provides the HTTP operations surface.
//
// It serves health and readiness probes, Prometheus metrics, read access to
// costs, inventory and utilization samples, and on-demand job triggers. All
// responses are JSON. Routing uses chi.
//
// Available endpoints:
//   - GET  /                              : Service status and endpoint list
//   - GET  /health                        : Liveness probe (always returns 200)
//   - GET  /ready                         : Readiness probe (200 once the state collector has refreshed)
//   - GET  /metrics                       : Prometheus metrics endpoint
//   - GET  /v1/costs/{user}               : Cost records of a period (?period=YYYY-MM&service=&resource=&min_amount=&refresh=)
//   - GET  /v1/stats/{user}               : Durable period summaries and cache status
//   - GET  /v1/resources/{user}/{family}  : Inventory of one family (?deleted=true includes soft-deleted rows)
//   - GET  /v1/samples/{resource}/{metric}: Stored utilization samples
//   - POST /v1/sync/resources[/{user}]    : Start a resource sync
//   - POST /v1/sync/metrics[/{user}]      : Start a metrics sync (?days=1..90)
//   - POST /v1/rollover/{period}          : Roll over an ended period for every user
//   - GET  /v1/executions                 : Recent job executions (?job=)
//   - GET  /v1/executions/{id}            : One execution
//
// Triggers answer 202 with the execution id, or 409 when the job is already
// running. Core errors map to status codes by kind: Permanent 422,
// AuthExpired 502, RateLimited 429, Inconsistent 500 and Transient 503.
//
// Example usage:
//
//	srv := server.NewServer(cfg, server.Dependencies{...}, log)
//	go func() {
//		serverErrors <- srv.Start()
//	}()
//	...
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	srv.Shutdown(ctx)
package server
