// Package cache implements the time-boxed snapshot cache backing the REST
// surface.
//
// A read is served from one of three tiers: a live entry inside its freshness
// window, a freshly fetched value, or, when the fetch fails, the last known
// value regardless of age. Staleness is a degraded-but-valid state, not a
// cache miss; only a fetch failure with no prior entry at all surfaces an
// error to the caller.
package cache
