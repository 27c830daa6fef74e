package opscache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/internal/wire"
	pr "github.com/unkn0wn-root/opscache/provider"
)

// stamp is the pair of generations an entry is written under.
type stamp struct {
	epoch uint64
	gen   uint64
}

// record is a frame read back from the provider that belongs to the current epoch.
type record struct {
	frame wire.Frame
	// current is false when the entity generation moved since the write.
	current bool
}

func (s *Store) entryKey(k Key) string         { return "entry:" + s.ns + ":" + string(k) }
func (s *Store) entityKey(entity string) string { return "entity:" + s.ns + ":" + entity }
func (s *Store) epochKey() string               { return "epoch:" + s.ns }

// observe snapshots the epoch and the entity generation for k.
func (s *Store) observe(ctx context.Context, k Key) (stamp, error) {
	ek, gk := s.epochKey(), s.entityKey(k.Entity())
	m, err := s.gen.SnapshotMany(ctx, []string{ek, gk})
	if err != nil {
		s.hooks.GenSnapshotError(2, err)
		s.log.Warn("gen snapshot error", Fields{"key": string(k), "err": err})
		return stamp{}, err
	}
	return stamp{epoch: m[ek], gen: m[gk]}, nil
}

// read loads and validates the frame for k. Frames that cannot belong to the
// current cache generation are deleted and reported absent.
func (s *Store) read(ctx context.Context, k Key) (record, bool, error) {
	sk := s.entryKey(k)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil || !ok {
		return record{}, false, err
	}
	f, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, sk, "corrupt")
		return record{}, false, nil
	}

	cur, err := s.observe(ctx, k)
	if err != nil {
		// cannot prove freshness; keep the data but treat it as expired
		return record{frame: f}, true, nil
	}
	if f.Epoch != cur.epoch {
		s.heal(ctx, sk, "epoch")
		return record{}, false, nil
	}
	return record{frame: f, current: f.Gen == cur.gen}, true, nil
}

func (s *Store) heal(ctx context.Context, storageKey, reason string) {
	_ = s.provider.Del(ctx, storageKey)
	s.hooks.SelfHeal(storageKey, reason)
	s.log.Debug("self-healed entry", Fields{"key": storageKey, "reason": reason})
}

// write stores payload for k under st. ttl <= 0 yields an entry that is already expired.
func (s *Store) write(ctx context.Context, k Key, payload []byte, ttl time.Duration, st stamp) error {
	now := s.clock.Now()
	exp := now
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	b := wire.Encode(wire.Frame{
		Epoch:     st.epoch,
		Gen:       st.gen,
		Timestamp: now.UnixNano(),
		ExpiresAt: exp.UnixNano(),
		Payload:   payload,
	})
	return s.set(ctx, s.entryKey(k), b, s.providerTTL(ttl))
}

func (s *Store) set(ctx context.Context, sk string, b []byte, ttl time.Duration) error {
	ok, err := s.provider.Set(ctx, sk, b, s.cost(sk, b), ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(sk)
		s.log.Debug("set rejected by provider (pressure)", Fields{"key": sk})
	}
	return nil
}

func (s *Store) providerTTL(ttl time.Duration) time.Duration {
	if s.retention <= 0 {
		return 0
	}
	if ttl > s.retention {
		return ttl
	}
	return s.retention
}

// Invalidate moves the expiry of k into the past and keeps its data.
// An absent key is a no-op.
func (s *Store) Invalidate(ctx context.Context, k Key) error {
	if !s.enabled {
		return nil
	}
	sk := s.entryKey(k)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil || !ok {
		return err
	}
	b, err := wire.Restamp(raw, invalidatedAt.UnixNano())
	if err != nil {
		s.heal(ctx, sk, "corrupt")
		return nil
	}
	if err := s.set(ctx, sk, b, s.retention); err != nil {
		return err
	}
	s.log.Debug("invalidated key", Fields{"key": string(k)})
	return nil
}

// InvalidateEntity invalidates every key rooted at entity: the bare entity key
// and all scoped keys. It bumps the entity generation and, independently,
// restamps the bare key, so a generation store outage still expires it.
func (s *Store) InvalidateEntity(ctx context.Context, entity string) error {
	if !s.enabled {
		return nil
	}
	gk := s.entityKey(entity)
	g, bumpErr := s.gen.Bump(ctx, gk)
	if bumpErr != nil {
		s.log.Error("gen bump error", Fields{"key": gk, "err": bumpErr})
	}
	restampErr := s.Invalidate(ctx, Key(entity))
	if restampErr != nil {
		s.log.Warn("restamp error", Fields{"entity": entity, "err": restampErr})
	}

	switch {
	case bumpErr != nil && restampErr != nil:
		s.hooks.InvalidateOutage(entity, bumpErr, restampErr)
		return &InvalidateError{Entity: entity, BumpErr: bumpErr, RestampErr: restampErr}
	case bumpErr != nil:
		// scoped keys may stay valid until their TTL
		s.log.Warn("entity invalidated partially (bump failed)", Fields{"entity": entity})
	default:
		s.log.Debug("invalidated entity", Fields{"entity": entity, "gen": g})
	}
	return nil
}

// InvalidateFor invalidates entity and every dependent rules lists for kind.
// It returns the entities it attempted, entity first. Failures are logged and
// reported through hooks, never returned.
func (s *Store) InvalidateFor(ctx context.Context, rules *Rules, entity string, kind datastore.Kind) []string {
	targets := []string{entity}
	seen := map[string]bool{entity: true}
	for _, dep := range rules.DependentsOf(entity, kind) {
		if !seen[dep] {
			seen[dep] = true
			targets = append(targets, dep)
		}
	}
	if !s.enabled {
		return targets
	}
	for _, e := range targets {
		if err := s.InvalidateEntity(ctx, e); err != nil {
			s.log.Error("invalidate failed", Fields{"entity": e, "cause": entity, "kind": string(kind), "err": err})
		}
	}
	s.hooks.Invalidated(entity, kind, targets)
	return targets
}

// Clear drops every entry: it starts a new epoch, which makes all existing
// frames unreadable, then wipes the provider when it supports it.
func (s *Store) Clear(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	epoch, err := s.gen.Bump(ctx, s.epochKey())
	if err != nil {
		s.log.Error("epoch bump error", Fields{"ns": s.ns, "err": err})
	}
	var wipeErr error
	c, canWipe := s.provider.(pr.Clearer)
	if canWipe {
		if wipeErr = c.Clear(ctx); wipeErr != nil {
			s.log.Warn("provider clear error", Fields{"ns": s.ns, "err": wipeErr})
		}
	}
	if err != nil && (!canWipe || wipeErr != nil) {
		return err
	}
	s.log.Info("cache cleared", Fields{"ns": s.ns, "epoch": epoch})
	return nil
}
