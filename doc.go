// Package opscache is the read-through cache and invalidation layer of the
// back office. It sits between request handlers and the hosted data store:
// reads go through a TTL cache, writes go through a batch executor that
// invalidates the written entity and everything the rule table says depends
// on it, and realtime change events do the same plus patch live lists.
//
// Components:
//   - Store: untyped entry store over a byte Provider (memory, Ristretto,
//     BigCache, Redis). Entries carry data, timestamp and expiry.
//   - View[V]: typed accessor bound to a Codec[V]; Get/Put/Fetch.
//   - GenStore: per-entity generation counters plus one epoch per namespace.
//     Bumping an entity generation invalidates every key rooted at it; bumping
//     the epoch is Clear.
//   - Rules: hand-authored entity -> dependents graph keyed by mutation kind.
//   - Executor: sequential, fail-fast batch of INSERT/UPDATE/DELETE.
//   - Bridge: consumes change feeds, invalidates, patches LiveLists.
//
// Keys:
//
//	entry:<ns>:<key>        - cached entries
//	entity:<ns>:<entity>    - entity generations (GenStore)
//	epoch:<ns>              - cache epoch (GenStore)
//
// Invalidation never deletes a live entry; it only moves expiry into the
// past, so a racing reader still sees well-typed (stale) data.
package opscache
