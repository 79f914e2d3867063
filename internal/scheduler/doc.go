// Package scheduler drives the periodic jobs (rollover, resource sync,
// metrics sync, retention sweep, cache warming) and on-demand triggers.
//
// It holds no domain state. Every job calls a public operation of the cost
// cache, inventory or utilization packages. A job never overlaps itself: a
// run that starts while the previous one is still going is recorded as
// skipped.
package scheduler
