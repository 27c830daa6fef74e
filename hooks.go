package opscache

import "github.com/unkn0wn-root/opscache/datastore"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// Fetch served a valid entry.
	CacheHit(key string)
	// Fetch went to the loader.
	// reason ∈ {"absent", "expired", "forced", "read_error", "disabled"}
	CacheMiss(key, reason string)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "epoch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Entities invalidated after a mutation or change event on entity.
	Invalidated(entity string, kind datastore.Kind, entities []string)
	// Both the generation bump and the expiry restamp failed for entity
	// (likely backend outage).
	InvalidateOutage(entity string, bumpErr, restampErr error)

	// GenStore snapshot failed; count is the number of keys involved.
	GenSnapshotError(count int, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	FetchFailed(key string, err error)
	BatchAborted(index, applied int, err error)
	RealtimeEvent(entity string, kind datastore.Kind)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string)                              {}
func (NopHooks) CacheMiss(string, string)                     {}
func (NopHooks) SelfHeal(string, string)                      {}
func (NopHooks) Invalidated(string, datastore.Kind, []string) {}
func (NopHooks) InvalidateOutage(string, error, error)        {}
func (NopHooks) GenSnapshotError(int, error)                  {}
func (NopHooks) ProviderSetRejected(string)                   {}
func (NopHooks) FetchFailed(string, error)                    {}
func (NopHooks) BatchAborted(int, int, error)                 {}
func (NopHooks) RealtimeEvent(string, datastore.Kind)         {}

// MultiHooks calls each element in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) CacheHit(k string) {
	for _, h := range m {
		h.CacheHit(k)
	}
}

func (m MultiHooks) CacheMiss(k, reason string) {
	for _, h := range m {
		h.CacheMiss(k, reason)
	}
}

func (m MultiHooks) SelfHeal(sk, reason string) {
	for _, h := range m {
		h.SelfHeal(sk, reason)
	}
}

func (m MultiHooks) Invalidated(entity string, kind datastore.Kind, entities []string) {
	for _, h := range m {
		h.Invalidated(entity, kind, entities)
	}
}

func (m MultiHooks) InvalidateOutage(entity string, bumpErr, restampErr error) {
	for _, h := range m {
		h.InvalidateOutage(entity, bumpErr, restampErr)
	}
}

func (m MultiHooks) GenSnapshotError(count int, err error) {
	for _, h := range m {
		h.GenSnapshotError(count, err)
	}
}

func (m MultiHooks) ProviderSetRejected(sk string) {
	for _, h := range m {
		h.ProviderSetRejected(sk)
	}
}

func (m MultiHooks) FetchFailed(k string, err error) {
	for _, h := range m {
		h.FetchFailed(k, err)
	}
}

func (m MultiHooks) BatchAborted(index, applied int, err error) {
	for _, h := range m {
		h.BatchAborted(index, applied, err)
	}
}

func (m MultiHooks) RealtimeEvent(entity string, kind datastore.Kind) {
	for _, h := range m {
		h.RealtimeEvent(entity, kind)
	}
}
