// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    MissEvery:     100,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := opscache.New(opscache.Options{
//	    Namespace: "backoffice",
//	    GenStore:  genstore.NewRedisGenStore(rdb, "backoffice"),
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
)

// Hooks forwards events to inner on worker goroutines. Events are dropped when
// the queue is full or after Close.
type Hooks struct {
	inner   opscache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ opscache.Hooks = (*Hooks)(nil)

func New(inner opscache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(k string)            { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k, r string)        { h.try(func() { h.inner.CacheMiss(k, r) }) }
func (h *Hooks) SelfHeal(k, r string)         { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) FetchFailed(k string, err error) {
	h.try(func() { h.inner.FetchFailed(k, err) })
}
func (h *Hooks) GenSnapshotError(n int, err error) {
	h.try(func() { h.inner.GenSnapshotError(n, err) })
}
func (h *Hooks) InvalidateOutage(e string, be, re error) {
	h.try(func() { h.inner.InvalidateOutage(e, be, re) })
}
func (h *Hooks) Invalidated(e string, k datastore.Kind, es []string) {
	cp := append([]string(nil), es...)
	h.try(func() { h.inner.Invalidated(e, k, cp) })
}
func (h *Hooks) BatchAborted(i, applied int, err error) {
	h.try(func() { h.inner.BatchAborted(i, applied, err) })
}
func (h *Hooks) RealtimeEvent(e string, k datastore.Kind) {
	h.try(func() { h.inner.RealtimeEvent(e, k) })
}
