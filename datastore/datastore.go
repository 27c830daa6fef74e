// Package datastore describes the remote data store the cache sits in front of:
// parameterized reads, match-based writes, and per-entity change feeds.
// Implementations live in subpackages (supabase, memory, redisfeed, breaker).
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the mutation kind of a write or change event.
type Kind string

const (
	Insert Kind = "INSERT"
	Update Kind = "UPDATE"
	Delete Kind = "DELETE"
)

// ParseKind accepts the kind names case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Insert, Update, Delete:
		return k, nil
	default:
		return "", fmt.Errorf("datastore: unknown mutation kind %q", s)
	}
}

func (k Kind) Valid() bool { return k == Insert || k == Update || k == Delete }

// KindSet is a small bitset of mutation kinds.
type KindSet uint8

const (
	kindInsertBit KindSet = 1 << iota
	kindUpdateBit
	kindDeleteBit
)

// AllKinds contains INSERT, UPDATE and DELETE.
const AllKinds = kindInsertBit | kindUpdateBit | kindDeleteBit

func KindsOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= k.bit()
	}
	return s
}

func (k Kind) bit() KindSet {
	switch k {
	case Insert:
		return kindInsertBit
	case Update:
		return kindUpdateBit
	case Delete:
		return kindDeleteBit
	}
	return 0
}

func (s KindSet) Has(k Kind) bool { return k.bit() != 0 && s&k.bit() != 0 }

// Kinds lists the members in INSERT, UPDATE, DELETE order.
func (s KindSet) Kinds() []Kind {
	out := make([]Kind, 0, 3)
	for _, k := range []Kind{Insert, Update, Delete} {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Record is one row as the data store returns it (JSON object shape).
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column rendered as text; "" when absent or null.
func (r Record) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ChangeEvent is one realtime notification for an entity.
// Before is set for UPDATE and DELETE, After for INSERT and UPDATE, when the
// store provides them.
type ChangeEvent struct {
	Kind   Kind   `json:"kind"`
	Entity string `json:"entity"`
	Before Record `json:"before,omitempty"`
	After  Record `json:"after,omitempty"`
}

type Reader interface {
	Select(ctx context.Context, q Query) ([]Record, error)
}

// Writer applies single mutations. Insert has upsert semantics.
// Update and Delete affect every row whose columns equal all entries of match.
type Writer interface {
	Insert(ctx context.Context, entity string, payload Record) error
	Update(ctx context.Context, entity string, payload, match Record) error
	Delete(ctx context.Context, entity string, match Record) error
}

// Subscription is a stream of change events. Close is idempotent and closes
// the Events channel once the stream has stopped.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, entity string) (Subscription, error)
}

// Store is a full data store collaborator.
type Store interface {
	Reader
	Writer
}

// ErrUnavailable marks failures where the store could not be reached or
// refused to try (e.g. an open circuit breaker).
var ErrUnavailable = errors.New("datastore: unavailable")

// ErrNotFound is returned by single-row helpers when nothing matched.
var ErrNotFound = errors.New("datastore: not found")

// Error is a failure reported by the data store itself, in PostgREST shape.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("(%s) %s", e.Code, e.Message)
}

// Decode converts rows into typed values through their json tags.
func Decode[V any](rows []Record) ([]V, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(rows))
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("datastore: decode rows: %w", err)
	}
	return out, nil
}

// DecodeOne converts a single row.
func DecodeOne[V any](row Record) (V, error) {
	var v V
	b, err := json.Marshal(row)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("datastore: decode row: %w", err)
	}
	return v, nil
}

// Encode converts a typed value into a row through its json tags.
func Encode(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("datastore: encode row: %w", err)
	}
	return r, nil
}

// First runs q and decodes the first row; ErrNotFound when there is none.
func First[V any](ctx context.Context, r Reader, q Query) (V, error) {
	var zero V
	rows, err := r.Select(ctx, q)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, ErrNotFound
	}
	return DecodeOne[V](rows[0])
}

// Select runs q and decodes the rows into V.
func Select[V any](ctx context.Context, r Reader, q Query) ([]V, error) {
	rows, err := r.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return Decode[V](rows)
}
