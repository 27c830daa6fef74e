package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/opscache"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	h := stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug})
	l := New(stdslog.New(h))

	l.Debug("self-healed entry", opscache.Fields{"key": "entry:ops:drivers", "reason": "corrupt"})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "self-healed entry" || rec["level"] != "DEBUG" {
		t.Fatalf("record=%v", rec)
	}
	if rec["reason"] != "corrupt" || rec["component"] != "opscache" {
		t.Fatalf("record=%v", rec)
	}
}
