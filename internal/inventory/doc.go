// Package inventory mirrors each user's provider resources into the durable
// store.
//
// A pass lists compartments first, then every other family concurrently.
// Observed resources are upserted; stored resources that were not observed are
// soft-deleted, except those whose compartment could not be listed in this
// pass.
package inventory
