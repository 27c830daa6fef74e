package ristretto

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}

func TestSetWaitGet(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil || !ok {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	p.Wait()
	b, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get ok=%v err=%v b=%q", ok, err, b)
	}

	_ = p.Clear(ctx)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Clear")
	}
}

func TestGetRightAfterSet(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("drivers:%d", i)
		if ok, err := p.Set(ctx, key, []byte("v"), 1, time.Minute); err != nil || !ok {
			t.Fatalf("Set %s ok=%v err=%v", key, ok, err)
		}
		if _, ok, _ := p.Get(ctx, key); !ok {
			t.Fatalf("Get %s missed right after Set", key)
		}
	}
}
