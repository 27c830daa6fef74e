package opscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/provider/ristretto"
)

type countingLoader struct {
	calls int
	data  []driver
	err   error
}

func (l *countingLoader) load(context.Context) ([]driver, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.data, nil
}

func TestFetchServesFromCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	l := &countingLoader{data: []driver{{ID: "d1"}}}

	for i := 0; i < 2; i++ {
		got, err := v.Fetch(ctx, "drivers", l.load, WithTTL(time.Minute))
		if err != nil || len(got) != 1 {
			t.Fatalf("Fetch #%d: %v %+v", i, err, got)
		}
	}
	if l.calls != 1 {
		t.Fatalf("loader calls=%d want 1", l.calls)
	}
	if env.hooks.hits != 1 {
		t.Fatalf("hits=%d", env.hooks.hits)
	}
}

func TestFetchForceRefreshAlwaysLoads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	l := &countingLoader{data: []driver{{ID: "d1"}}}

	for i := 0; i < 3; i++ {
		if _, err := v.Fetch(ctx, "drivers", l.load, ForceRefresh(true)); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if l.calls != 3 {
		t.Fatalf("loader calls=%d want 3", l.calls)
	}
	if _, err := v.Fetch(ctx, "drivers", l.load, ForceRefresh(false)); err != nil || l.calls != 3 {
		t.Fatalf("ForceRefresh(false) should hit, calls=%d err=%v", l.calls, err)
	}
}

// TestFetchTTLScenario walks a 1s TTL: served from cache at 500ms, reloaded at 1500ms.
func TestFetchTTLScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	ttl := WithTTL(1000 * time.Millisecond)

	if err := v.Put(ctx, "drivers", []driver{{ID: "d1"}}, time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	env.clock.Advance(500 * time.Millisecond)
	l := &countingLoader{data: []driver{{ID: "d1"}, {ID: "d2"}}}
	got, err := v.Fetch(ctx, "drivers", l.load, ttl)
	if err != nil || len(got) != 1 || l.calls != 0 {
		t.Fatalf("t=500ms: got=%+v calls=%d err=%v", got, l.calls, err)
	}

	env.clock.Advance(time.Second)
	got, err = v.Fetch(ctx, "drivers", l.load, ttl)
	if err != nil || len(got) != 2 || l.calls != 1 {
		t.Fatalf("t=1500ms: got=%+v calls=%d err=%v", got, l.calls, err)
	}
	e, ok, _ := v.Get(ctx, "drivers")
	if !v.IsValid(e, ok) || len(e.Data) != 2 || e.Data[1].ID != "d2" {
		t.Fatalf("cache should hold [d1 d2], got %+v", e.Data)
	}
}

func TestFetchFailureKeepsPreviousEntry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	_ = v.Put(ctx, "drivers", []driver{{ID: "old"}}, time.Second)
	env.clock.Advance(2 * time.Second)
	before, _, _ := v.Get(ctx, "drivers")

	cause := &datastore.Error{Code: "PGRST301", Message: "JWT expired"}
	l := &countingLoader{err: cause}
	_, err := v.Fetch(ctx, "drivers", l.load)

	var fe *DataFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *DataFetchError, got %T %v", err, err)
	}
	if fe.Code != "PGRST301" || fe.Message != "JWT expired" || fe.Key != "drivers" {
		t.Fatalf("unexpected error fields: %+v", fe)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("DataFetchError should unwrap to the cause")
	}

	after, ok, _ := v.Get(ctx, "drivers")
	if !ok || after.Data[0].ID != "old" || !after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Fatalf("failed fetch must not touch the previous entry: %+v", after)
	}
	if v.IsValid(after, ok) {
		t.Fatalf("stale entry must not be revived by a failed fetch")
	}
}

func TestFetchFailureWithoutCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)

	_, err := v.Fetch(ctx, "drivers", (&countingLoader{err: errors.New("boom")}).load)
	var fe *DataFetchError
	if !errors.As(err, &fe) || fe.Code != "" || fe.Message != "boom" {
		t.Fatalf("unexpected: %#v", err)
	}
	if _, ok, _ := v.Get(ctx, "drivers"); ok {
		t.Fatalf("failed fetch must not populate")
	}

	_, err = v.Fetch(ctx, "drivers", (&countingLoader{err: datastore.ErrUnavailable}).load)
	if !errors.As(err, &fe) || fe.Code != "unavailable" {
		t.Fatalf("unavailable code expected: %#v", err)
	}
}

func TestFetchInvalidatedDuringLoad(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)

	calls := 0
	load := func(ctx context.Context) ([]driver, error) {
		calls++
		if calls == 1 {
			// a write lands while the read is in flight
			_ = env.store.InvalidateEntity(ctx, "drivers")
		}
		return []driver{{ID: "d1"}}, nil
	}

	got, err := v.Fetch(ctx, "drivers", load)
	if err != nil || len(got) != 1 {
		t.Fatalf("Fetch: %v %+v", err, got)
	}
	e, ok, _ := v.Get(ctx, "drivers")
	if !ok || v.IsValid(e, ok) {
		t.Fatalf("result loaded across an invalidation must be stored expired, ok=%v", ok)
	}
	if _, err := v.Fetch(ctx, "drivers", load); err != nil || calls != 2 {
		t.Fatalf("next fetch should reload, calls=%d err=%v", calls, err)
	}
	if _, err := v.Fetch(ctx, "drivers", load); err != nil || calls != 2 {
		t.Fatalf("third fetch should hit, calls=%d", calls)
	}
}

func TestFetchReadErrorDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	env.prov.getErr = errors.New("provider down")

	l := &countingLoader{data: []driver{{ID: "d1"}}}
	got, err := v.Fetch(ctx, "drivers", l.load)
	if err != nil || len(got) != 1 || l.calls != 1 {
		t.Fatalf("read error should degrade to loader call: %v calls=%d", err, l.calls)
	}
	if len(env.hooks.misses) != 1 || env.hooks.misses[0] != "read_error" {
		t.Fatalf("misses=%v", env.hooks.misses)
	}
}

func TestFetchPopulateErrorStillReturnsData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	env.prov.setErr = errors.New("full")

	got, err := v.Fetch(ctx, "drivers", (&countingLoader{data: []driver{{ID: "d1"}}}).load)
	if err != nil || len(got) != 1 {
		t.Fatalf("populate failure must not fail the fetch: %v", err)
	}
}

func TestFetchUsesStoreTTLAtCallTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(o *Options) { o.TTL = time.Minute })
	v := driversView(env.store)
	l := &countingLoader{data: []driver{{ID: "d1"}}}

	_, _ = v.Fetch(ctx, "drivers", l.load)
	env.clock.Advance(59 * time.Second)
	_, _ = v.Fetch(ctx, "drivers", l.load)
	env.clock.Advance(2 * time.Second)
	_, _ = v.Fetch(ctx, "drivers", l.load)
	if l.calls != 2 {
		t.Fatalf("calls=%d want 2", l.calls)
	}
	if got := env.hooks.misses; len(got) != 2 || got[0] != "absent" || got[1] != "expired" {
		t.Fatalf("misses=%v", got)
	}
}

func TestFetchZeroTTLDisablesCaching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	v := driversView(env.store)
	l := &countingLoader{data: []driver{{ID: "d1"}}}

	_, _ = v.Fetch(ctx, "drivers", l.load, WithTTL(0))
	_, _ = v.Fetch(ctx, "drivers", l.load, WithTTL(0))
	if l.calls != 2 {
		t.Fatalf("zero ttl should not cache, calls=%d", l.calls)
	}
}

func TestFetchBackToBackOverRistretto(t *testing.T) {
	ctx := context.Background()
	prov, err := ristretto.New(ristretto.Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("ristretto: %v", err)
	}
	t.Cleanup(func() { _ = prov.Close(ctx) })
	env := newTestEnv(t, func(o *Options) {
		o.Provider = prov
		o.ComputeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	})
	v := driversView(env.store)
	l := &countingLoader{data: []driver{{ID: "d1"}}}

	for i := 0; i < 2; i++ {
		if _, err := v.Fetch(ctx, "drivers", l.load, WithTTL(time.Minute)); err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
	}
	if l.calls != 1 {
		t.Fatalf("second fetch should hit, loader calls=%d", l.calls)
	}
}

func TestGuard(t *testing.T) {
	var g Guard
	ran := 0
	if !g.Do(func() { ran++ }) || ran != 1 {
		t.Fatalf("live guard should run fn")
	}
	g.Release()
	g.Release()
	if g.Live() || g.Do(func() { ran++ }) || ran != 1 {
		t.Fatalf("released guard must not run fn")
	}
}
