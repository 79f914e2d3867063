// Package costcache serves cost records across the two storage tiers and
// moves finished periods from the hot cache into the durable store.
//
// Each (user, period) follows OPEN -> CLOSING -> CLOSED. Open periods are read
// from Redis and refilled from the provider on a miss; closed periods are read
// only from SQL. Rollover writes the durable rows before it evicts the cache,
// and a period whose durable write failed stays CLOSING until a later run
// completes it.
package costcache
