package opscache

import (
	"context"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/opscache/genstore"
	pr "github.com/unkn0wn-root/opscache/provider"
	"github.com/unkn0wn-root/opscache/provider/memory"
)

type SetCostFunc func(storageKey string, raw []byte) int64

// Options tune the Store. Everything is optional.
type Options struct {
	Namespace string      // isolates keys and the epoch; "" => "opscache"
	Provider  pr.Provider // nil => in-process memory provider driven by Clock
	GenStore  gen.GenStore
	Logger    Logger // if nil, NopLogger is used
	Hooks     Hooks  // if nil, NopHooks is used
	Clock     Clock  // if nil, SystemClock

	TTL time.Duration // entry TTL used by Fetch; 0 => 5m
	// Retention is the provider-side TTL. Entries outlive their logical expiry so
	// stale data stays readable; 0 => no provider expiry.
	Retention      time.Duration
	ComputeSetCost SetCostFunc // default 1
	Disabled       bool        // every Get misses and Put is a no-op
}

// Store holds cache entries for any value type. Use NewView to read and write
// typed values. Safe for concurrent use; same-key puts are last-write-wins.
type Store struct {
	ns        string
	provider  pr.Provider
	gen       gen.GenStore
	log       Logger
	hooks     Hooks
	clock     Clock
	enabled   bool
	retention time.Duration
	cost      SetCostFunc

	mu  sync.RWMutex
	ttl time.Duration
}

func New(opts Options) (*Store, error) {
	s := &Store{
		ns:        coalesce(opts.Namespace, defaultNamespace),
		enabled:   !opts.Disabled,
		retention: opts.Retention,
		ttl:       coalesce(opts.TTL, DefaultTTL),
	}

	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.clock = coalesce[Clock](opts.Clock, SystemClock{})

	if opts.Provider != nil {
		s.provider = opts.Provider
	} else {
		s.provider = memory.New(memory.Config{Now: s.clock.Now})
	}
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocalGenStore()
	}
	if opts.ComputeSetCost != nil {
		s.cost = opts.ComputeSetCost
	} else {
		s.cost = func(string, []byte) int64 { return 1 }
	}
	return s, nil
}

func (s *Store) Enabled() bool     { return s.enabled }
func (s *Store) Namespace() string { return s.ns }
func (s *Store) Now() time.Time    { return s.clock.Now() }

// TTL is the current default entry TTL.
func (s *Store) TTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// SetTTL changes the default TTL for entries created from now on. Existing
// entries keep their expiry. d <= 0 restores DefaultTTL, as it does in New.
func (s *Store) SetTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultTTL
	}
	s.mu.Lock()
	old := s.ttl
	s.ttl = d
	s.mu.Unlock()
	s.log.Info("cache ttl changed", Fields{"old": old.String(), "new": d.String()})
}

func (s *Store) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	if s.gen != nil {
		_ = s.gen.Close(ctx)
	}
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}
