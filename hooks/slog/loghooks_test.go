package sloghook

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestSampling(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{MissEvery: 3})
	for i := 0; i < 9; i++ {
		h.CacheMiss("drivers", "absent")
	}
	if n := strings.Count(buf.String(), "opscache.miss"); n != 3 {
		t.Fatalf("sampled lines=%d want 3", n)
	}
}

func TestRedactsStorageKeys(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{})
	h.SelfHeal("entry:ops:driver_daily_performance:d1-2024", "corrupt")
	if strings.Contains(buf.String(), "d1-2024") {
		t.Fatalf("storage key leaked: %s", buf.String())
	}

	buf.Reset()
	h = New(l, Options{Redact: func(string) string { return "<k>" }})
	h.ProviderSetRejected("entry:ops:drivers")
	if !strings.Contains(buf.String(), "key=<k>") {
		t.Fatalf("custom redactor not used: %s", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.CacheHit("k")
	h.InvalidateOutage("drivers", errors.New("a"), errors.New("b"))
	h.BatchAborted(1, 0, errors.New("x"))
}
