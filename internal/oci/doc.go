// Package oci adapts the Oracle Cloud Infrastructure Go SDK to provider.API.
//
// One Client holds the SDK clients of one credential set. Every method makes
// a single logical call, following OpcNextPage until the listing is complete,
// and reports failures as *provider.Error classified by HTTP status.
//
// The SDK's own retry policy is disabled on every request: retries belong to
// provider.Gateway, which also owns the per-user rate limit.
//
// Conversions from SDK models to provider types are pure functions so they
// can be tested without network access.
package oci
