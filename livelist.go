package opscache

import (
	"fmt"
	"sync"

	"github.com/unkn0wn-root/opscache/datastore"
)

// LiveList is an in-memory list of one entity kept current by change events.
// Items are identified by id; INSERT and UPDATE of an id already present
// replace it in place, so the list never holds duplicates.
type LiveList[V any] struct {
	entity string
	id     func(V) string
	decode func(datastore.Record) (V, error)

	mu    sync.RWMutex
	items []V
	seq   uint64
	log   []patch[V] // last maxPatchLog patches, oldest first
}

// maxPatchLog bounds how many patches ReplaceSince can replay.
const maxPatchLog = 256

type patch[V any] struct {
	seq uint64
	del bool
	id  string
	v   V
}

var _ Patcher = (*LiveList[struct{}])(nil)

// NewLiveList builds a list for entity. decode nil => datastore.DecodeOne[V].
func NewLiveList[V any](entity string, id func(V) string, decode func(datastore.Record) (V, error)) *LiveList[V] {
	if decode == nil {
		decode = datastore.DecodeOne[V]
	}
	return &LiveList[V]{entity: entity, id: id, decode: decode}
}

func (l *LiveList[V]) Entity() string { return l.entity }

// Replace swaps the contents, typically after a fetch.
func (l *LiveList[V]) Replace(items []V) {
	cp := make([]V, len(items))
	copy(cp, items)
	l.mu.Lock()
	l.items = cp
	l.mu.Unlock()
}

// Mark returns a position in the patch stream. Take it before starting a
// fetch and hand it to ReplaceSince with the result.
func (l *LiveList[V]) Mark() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// ReplaceSince swaps the contents for items and re-applies every patch
// recorded after mark, so events that raced the fetch are not lost.
func (l *LiveList[V]) ReplaceSince(items []V, mark uint64) {
	cp := make([]V, len(items))
	copy(cp, items)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.log {
		if p.seq <= mark {
			continue
		}
		if p.del {
			cp = l.without(cp, p.id)
		} else {
			cp = l.with(cp, p.v)
		}
	}
	l.items = cp
}

// Snapshot returns a copy of the current items.
func (l *LiveList[V]) Snapshot() []V {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]V, len(l.items))
	copy(out, l.items)
	return out
}

func (l *LiveList[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Apply patches the list: INSERT appends, UPDATE replaces (appends when
// missing), DELETE removes by the id of Before, falling back to After.
func (l *LiveList[V]) Apply(ev datastore.ChangeEvent) error {
	switch ev.Kind {
	case datastore.Insert, datastore.Update:
		if ev.After == nil {
			return fmt.Errorf("%s %s event without new row", ev.Kind, l.entity)
		}
		v, err := l.decode(ev.After)
		if err != nil {
			return err
		}
		l.upsert(v)
	case datastore.Delete:
		row := ev.Before
		if row == nil {
			row = ev.After
		}
		if row == nil {
			return fmt.Errorf("DELETE %s event without row", l.entity)
		}
		v, err := l.decode(row)
		if err != nil {
			return err
		}
		l.remove(l.id(v))
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

func (l *LiveList[V]) upsert(v V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.with(l.items, v)
	l.record(patch[V]{v: v, id: l.id(v)})
}

func (l *LiveList[V]) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.without(l.items, id)
	l.record(patch[V]{del: true, id: id})
}

// record appends p to the patch log. Callers hold mu.
func (l *LiveList[V]) record(p patch[V]) {
	l.seq++
	p.seq = l.seq
	if len(l.log) == maxPatchLog {
		copy(l.log, l.log[1:])
		l.log = l.log[:maxPatchLog-1]
	}
	l.log = append(l.log, p)
}

func (l *LiveList[V]) with(items []V, v V) []V {
	id := l.id(v)
	for i := range items {
		if l.id(items[i]) == id {
			items[i] = v
			return items
		}
	}
	return append(items, v)
}

func (l *LiveList[V]) without(items []V, id string) []V {
	kept := items[:0]
	for _, it := range items {
		if l.id(it) != id {
			kept = append(kept, it)
		}
	}
	var zero V
	for i := len(kept); i < len(items); i++ {
		items[i] = zero
	}
	return kept
}
