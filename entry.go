package opscache

import (
	"strings"
	"time"

	"github.com/unkn0wn-root/opscache/internal/util"
)

// invalidatedAt is the expiry written by Invalidate. Any real clock is past it.
var invalidatedAt = time.Unix(0, 0)

// Entry is one cached value.
type Entry[V any] struct {
	Data      V
	Timestamp time.Time
	ExpiresAt time.Time
}

// ValidAt reports now < ExpiresAt.
func (e Entry[V]) ValidAt(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Key is a cache key: an entity name ("drivers") or an entity scoped by query
// parameters ("driver_daily_performance:drv1|2024-01-01|2024-01-31").
type Key string

// Scoped builds a key rooted at entity. Without params it is the entity itself.
func Scoped(entity string, params ...string) Key {
	if len(params) == 0 {
		return Key(entity)
	}
	return Key(entity + ":" + util.ScopeKey(params))
}

// Entity returns the entity the key is rooted at.
func (k Key) Entity() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

func (k Key) String() string { return string(k) }

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
