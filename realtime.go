package opscache

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/opscache/datastore"
)

// Patcher applies change events to an in-memory view of one entity.
type Patcher interface {
	Entity() string
	Apply(ev datastore.ChangeEvent) error
}

// Bridge turns change events into invalidations and live list patches.
type Bridge struct {
	store *Store
	rules *Rules
	sub   datastore.Subscriber

	mu       sync.RWMutex
	patchers map[string][]*patcherReg
}

type patcherReg struct{ p Patcher }

// NewBridge returns a bridge. sub may be nil when events are fed through Handle only.
func NewBridge(store *Store, rules *Rules, sub datastore.Subscriber) *Bridge {
	return &Bridge{store: store, rules: rules, sub: sub, patchers: make(map[string][]*patcherReg)}
}

// Register adds p for its entity until the returned func is called.
func (b *Bridge) Register(p Patcher) (unregister func()) {
	reg := &patcherReg{p: p}
	e := p.Entity()
	b.mu.Lock()
	b.patchers[e] = append(b.patchers[e], reg)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			regs := b.patchers[e]
			for i, r := range regs {
				if r == reg {
					b.patchers[e] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(b.patchers[e]) == 0 {
				delete(b.patchers, e)
			}
		})
	}
}

// Handle invalidates ev.Entity and its dependents, then patches every
// registered list for ev.Entity. Patch failures are logged and skipped.
func (b *Bridge) Handle(ctx context.Context, ev datastore.ChangeEvent) []string {
	s := b.store
	s.hooks.RealtimeEvent(ev.Entity, ev.Kind)
	if !ev.Kind.Valid() || ev.Entity == "" {
		s.log.Warn("ignoring malformed change event", Fields{"entity": ev.Entity, "kind": string(ev.Kind)})
		return nil
	}
	invalidated := s.InvalidateFor(ctx, b.rules, ev.Entity, ev.Kind)

	b.mu.RLock()
	regs := append([]*patcherReg(nil), b.patchers[ev.Entity]...)
	b.mu.RUnlock()
	for _, r := range regs {
		if err := r.p.Apply(ev); err != nil {
			s.log.Warn("live patch failed", Fields{"entity": ev.Entity, "kind": string(ev.Kind), "err": err})
		}
	}
	return invalidated
}

// Watch subscribes to entity and handles its events in a goroutine until
// Stop is called, ctx ends, or the feed closes. patchers are registered for
// the lifetime of the watch.
func (b *Bridge) Watch(ctx context.Context, entity string, patchers ...Patcher) (*Watch, error) {
	if b.sub == nil {
		return nil, errNoSubscriber
	}
	sub, err := b.sub.Subscribe(ctx, entity)
	if err != nil {
		return nil, err
	}
	unregs := make([]func(), 0, len(patchers))
	for _, p := range patchers {
		unregs = append(unregs, b.Register(p))
	}

	w := &Watch{
		entity: entity,
		sub:    sub,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		defer func() {
			for _, u := range unregs {
				u()
			}
		}()
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.Entity == "" {
					ev.Entity = entity
				}
				b.Handle(ctx, ev)
			}
		}
	}()
	b.store.log.Info("watching entity", Fields{"entity": entity, "patchers": len(patchers)})
	return w, nil
}

// Watch is a running subscription. Stop is idempotent.
type Watch struct {
	entity string
	sub    datastore.Subscription
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (w *Watch) Entity() string { return w.entity }

// Done is closed once the watch stopped handling events.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Stop unsubscribes and waits for in-flight handling to finish.
func (w *Watch) Stop() error {
	w.once.Do(func() {
		close(w.stop)
		w.err = w.sub.Close()
		<-w.done
	})
	return w.err
}
