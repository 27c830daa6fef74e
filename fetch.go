package opscache

import (
	"context"
	"sync/atomic"
	"time"
)

// Loader reads one logical query from the data store.
type Loader[V any] func(ctx context.Context) (V, error)

type fetchOptions struct {
	ttl    time.Duration
	hasTTL bool
	force  bool
}

type FetchOption func(*fetchOptions)

// WithTTL overrides the store TTL for the entry Fetch populates. Zero or
// negative values populate an entry that is already expired.
func WithTTL(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.ttl, o.hasTTL = d, true }
}

// ForceRefresh skips the cache lookup and always calls the loader.
func ForceRefresh(force bool) FetchOption {
	return func(o *fetchOptions) { o.force = force }
}

// Fetch is the read-through path. A valid entry is returned without calling
// load. Otherwise load runs and its result is stored and returned.
//
// A failed load leaves the cache untouched and returns *DataFetchError.
// Concurrent misses on one key each call their loader; the last write wins.
// If the key's entity is invalidated while load runs, the result is still
// returned and stored, but the stored entry reads as expired.
func (v *View[V]) Fetch(ctx context.Context, k Key, load Loader[V], opts ...FetchOption) (V, error) {
	var zero V
	o := fetchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasTTL {
		o.ttl = v.s.TTL()
	}

	switch {
	case !v.s.enabled:
		v.s.hooks.CacheMiss(string(k), "disabled")
	case o.force:
		v.s.hooks.CacheMiss(string(k), "forced")
	default:
		e, ok, err := v.Get(ctx, k)
		switch {
		case err != nil:
			v.s.log.Warn("cache read error; treating as miss", Fields{"key": string(k), "err": err})
			v.s.hooks.CacheMiss(string(k), "read_error")
		case !ok:
			v.s.hooks.CacheMiss(string(k), "absent")
		case v.IsValid(e, ok):
			v.s.hooks.CacheHit(string(k))
			return e.Data, nil
		default:
			v.s.hooks.CacheMiss(string(k), "expired")
		}
	}

	var (
		st       stamp
		observed bool
	)
	if v.s.enabled {
		var err error
		st, err = v.s.observe(ctx, k)
		observed = err == nil
	}

	data, err := load(ctx)
	if err != nil {
		v.s.hooks.FetchFailed(string(k), err)
		v.s.log.Warn("fetch failed", Fields{"key": string(k), "err": err})
		return zero, newDataFetchError(string(k), err)
	}

	if observed {
		if err := v.put(ctx, k, data, o.ttl, st); err != nil {
			v.s.log.Warn("cache populate error", Fields{"key": string(k), "err": err})
		}
	}
	return data, nil
}

// Guard drops results that arrive after their consumer went away.
// The zero value is live.
type Guard struct {
	released atomic.Bool
}

// Release marks the consumer gone. Idempotent.
func (g *Guard) Release() { g.released.Store(true) }

func (g *Guard) Live() bool { return !g.released.Load() }

// Do runs fn only while the guard is live and reports whether it ran.
func (g *Guard) Do(fn func()) bool {
	if !g.Live() {
		return false
	}
	fn()
	return true
}
