package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/opscache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Info("cache cleared", opscache.Fields{"ns": "ops", "epoch": uint64(3)})
	l.Error("invalidate failed", opscache.Fields{"entity": "drivers"})

	if len(hook.Entries) != 2 {
		t.Fatalf("entries=%d", len(hook.Entries))
	}
	e := hook.Entries[0]
	if e.Message != "cache cleared" || e.Level != logrus.InfoLevel {
		t.Fatalf("entry=%+v", e)
	}
	if e.Data["ns"] != "ops" || e.Data["epoch"] != uint64(3) || e.Data["component"] != "opscache" {
		t.Fatalf("data=%v", e.Data)
	}
	if hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatalf("last level=%v", hook.LastEntry().Level)
	}
}
