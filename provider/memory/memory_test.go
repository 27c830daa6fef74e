package memory

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})

	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); !ok || err != nil {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	if b, ok, _ := p.Get(ctx, "k"); !ok || string(b) != "v" {
		t.Fatalf("Get after Set: ok=%v b=%q", ok, b)
	}
	_ = p.Del(ctx, "k")
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestExpiryUsesConfiguredClock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	p := New(Config{Now: func() time.Time { return now }})

	_, _ = p.Set(ctx, "k", []byte("v"), 1, time.Second)
	now = now.Add(999 * time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss at expiry")
	}
	if p.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})
	_, _ = p.Set(ctx, "a", []byte("1"), 1, 0)
	_, _ = p.Set(ctx, "b", []byte("2"), 1, 0)
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("Len after Clear = %d", p.Len())
	}
}
