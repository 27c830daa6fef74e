// Package sloghook logs opscache hook events through log/slog with sampling
// for the high-volume ones.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	HitEvery      uint64
	MissEvery     uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	hitCtr      atomic.Uint64
	missCtr     atomic.Uint64
}

var _ opscache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(key string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("opscache.hit", "key", key)
}

func (h *Hooks) CacheMiss(key, reason string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("opscache.miss", "key", key, "reason", reason)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("opscache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) Invalidated(entity string, kind datastore.Kind, entities []string) {
	if h.l == nil {
		return
	}
	h.l.Info("opscache.invalidated",
		"entity", entity,
		"kind", string(kind),
		"entities", entities)
}

func (h *Hooks) InvalidateOutage(entity string, bumpErr, restampErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("opscache.invalidate_outage",
		"entity", entity,
		"bump_err", bumpErr,
		"restamp_err", restampErr)
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("opscache.gen_snapshot_error",
		"count", count,
		"err", err)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("opscache.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("opscache.fetch_failed", "key", key, "err", err)
}

func (h *Hooks) BatchAborted(index, applied int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("opscache.batch_aborted",
		"index", index,
		"applied", applied,
		"err", err)
}

func (h *Hooks) RealtimeEvent(entity string, kind datastore.Kind) {
	if h.l == nil {
		return
	}
	h.l.Debug("opscache.realtime_event", "entity", entity, "kind", string(kind))
}
