package opscache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/opscache/codec"
)

// View is a typed window on a Store. Views over the same Store share entries,
// generations and TTL; each key should be used with one value type.
type View[V any] struct {
	s     *Store
	codec codec.Codec[V]
}

func NewView[V any](s *Store, c codec.Codec[V]) *View[V] {
	if c == nil {
		c = codec.JSON[V]{}
	}
	return &View[V]{s: s, codec: c}
}

func (v *View[V]) Store() *Store { return v.s }

// Get returns the entry for k. It has no effect on live data: frames from an
// older epoch, corrupt frames and undecodable values read as absent. Entries
// whose entity was invalidated are returned with an expiry in the past.
func (v *View[V]) Get(ctx context.Context, k Key) (Entry[V], bool, error) {
	var zero Entry[V]
	if !v.s.enabled {
		return zero, false, nil
	}
	rec, ok, err := v.s.read(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	data, err := v.codec.Decode(rec.frame.Payload)
	if err != nil {
		v.s.heal(ctx, v.s.entryKey(k), "value_decode")
		return zero, false, nil
	}
	e := Entry[V]{
		Data:      data,
		Timestamp: time.Unix(0, rec.frame.Timestamp),
		ExpiresAt: time.Unix(0, rec.frame.ExpiresAt),
	}
	if !rec.current {
		e.ExpiresAt = invalidatedAt
	}
	return e, true, nil
}

// IsValid reports whether a Get result is present and not yet expired.
func (v *View[V]) IsValid(e Entry[V], ok bool) bool {
	return ok && e.ValidAt(v.s.clock.Now())
}

// Put stores data under k with expiry now+ttl, overwriting any previous entry.
func (v *View[V]) Put(ctx context.Context, k Key, data V, ttl time.Duration) error {
	if !v.s.enabled {
		return nil
	}
	st, err := v.s.observe(ctx, k)
	if err != nil {
		return err
	}
	return v.put(ctx, k, data, ttl, st)
}

func (v *View[V]) put(ctx context.Context, k Key, data V, ttl time.Duration, st stamp) error {
	payload, err := v.codec.Encode(data)
	if err != nil {
		return err
	}
	return v.s.write(ctx, k, payload, ttl, st)
}
