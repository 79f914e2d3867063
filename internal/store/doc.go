// Package store is the durable SQL store behind the cost cache, the resource
// inventory and the utilization samples.
//
// The same statements run on PostgreSQL (pgx) and SQLite (modernc). Queries
// are written with ? placeholders and rebound for Postgres; upserts use
// ON CONFLICT, which both dialects support. Timestamps are always bound in UTC.
package store
