// Package memory is an in-process datastore with PostgREST-like filtering and
// a change feed. It backs tests and local development.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/opscache/datastore"
)

const feedBuffer = 256

// FaultFunc lets tests fail a call. op is "select", "insert", "update",
// "delete" or "subscribe".
type FaultFunc func(op, entity string) error

type Store struct {
	mu     sync.RWMutex
	tables map[string][]datastore.Record
	subs   map[string]map[*subscription]struct{}
	fault  FaultFunc
	idCol  string
}

var (
	_ datastore.Store      = (*Store)(nil)
	_ datastore.Subscriber = (*Store)(nil)
)

// New returns an empty store. Inserts upsert on the "id" column.
func New() *Store {
	return &Store{
		tables: make(map[string][]datastore.Record),
		subs:   make(map[string]map[*subscription]struct{}),
		idCol:  "id",
	}
}

// Seed replaces the contents of a table without emitting events.
func (s *Store) Seed(entity string, rows ...datastore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]datastore.Record, 0, len(rows))
	for _, r := range rows {
		cp = append(cp, r.Clone())
	}
	s.tables[entity] = cp
}

func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Rows returns a copy of a table in insertion order.
func (s *Store) Rows(entity string) []datastore.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datastore.Record, 0, len(s.tables[entity]))
	for _, r := range s.tables[entity] {
		out = append(out, r.Clone())
	}
	return out
}

func (s *Store) check(op, entity string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, entity)
}

func (s *Store) Select(ctx context.Context, q datastore.Query) ([]datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("select", q.Entity); err != nil {
		return nil, err
	}

	out := make([]datastore.Record, 0)
	for _, r := range s.tables[q.Entity] {
		if matchFilters(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i].String(q.OrderBy), out[j].String(q.OrderBy))
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, entity string, payload datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.check("insert", entity); err != nil {
		s.mu.Unlock()
		return err
	}
	row := payload.Clone()
	id := row.String(s.idCol)
	var ev datastore.ChangeEvent
	replaced := false
	if id != "" {
		for i, r := range s.tables[entity] {
			if r.String(s.idCol) == id {
				ev = datastore.ChangeEvent{Kind: datastore.Update, Entity: entity, Before: r, After: row.Clone()}
				s.tables[entity][i] = row
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.tables[entity] = append(s.tables[entity], row)
		ev = datastore.ChangeEvent{Kind: datastore.Insert, Entity: entity, After: row.Clone()}
	}
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

func (s *Store) Update(ctx context.Context, entity string, payload, match datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(match) == 0 {
		return &datastore.Error{Code: "21000", Message: "UPDATE requires a WHERE clause"}
	}
	s.mu.Lock()
	if err := s.check("update", entity); err != nil {
		s.mu.Unlock()
		return err
	}
	var evs []datastore.ChangeEvent
	for i, r := range s.tables[entity] {
		if !matchRecord(r, match) {
			continue
		}
		before := r.Clone()
		next := r.Clone()
		for k, v := range payload {
			next[k] = v
		}
		s.tables[entity][i] = next
		evs = append(evs, datastore.ChangeEvent{Kind: datastore.Update, Entity: entity, Before: before, After: next.Clone()})
	}
	s.mu.Unlock()

	for _, ev := range evs {
		s.publish(ev)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, entity string, match datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(match) == 0 {
		return &datastore.Error{Code: "21000", Message: "DELETE requires a WHERE clause"}
	}
	s.mu.Lock()
	if err := s.check("delete", entity); err != nil {
		s.mu.Unlock()
		return err
	}
	var evs []datastore.ChangeEvent
	kept := s.tables[entity][:0]
	for _, r := range s.tables[entity] {
		if matchRecord(r, match) {
			evs = append(evs, datastore.ChangeEvent{Kind: datastore.Delete, Entity: entity, Before: r})
			continue
		}
		kept = append(kept, r)
	}
	s.tables[entity] = kept
	s.mu.Unlock()

	for _, ev := range evs {
		s.publish(ev)
	}
	return nil
}

// Subscribe registers a feed for entity. Events are dropped for subscribers
// whose buffer is full.
func (s *Store) Subscribe(ctx context.Context, entity string) (datastore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("subscribe", entity); err != nil {
		return nil, err
	}
	sub := &subscription{store: s, entity: entity, ch: make(chan datastore.ChangeEvent, feedBuffer)}
	if s.subs[entity] == nil {
		s.subs[entity] = make(map[*subscription]struct{})
	}
	s.subs[entity][sub] = struct{}{}
	return sub, nil
}

// Publish emits an event to subscribers without touching tables.
func (s *Store) Publish(ev datastore.ChangeEvent) { s.publish(ev) }

func (s *Store) publish(ev datastore.ChangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[ev.Entity] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

type subscription struct {
	store  *Store
	entity string
	ch     chan datastore.ChangeEvent
	once   sync.Once
}

func (s *subscription) Events() <-chan datastore.ChangeEvent { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.entity], s)
		s.store.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// ErrInjected is a convenience error for FaultFunc implementations.
var ErrInjected = errors.New("memory: injected fault")

func matchRecord(r, match datastore.Record) bool {
	for k := range match {
		if r.String(k) != match.String(k) {
			return false
		}
	}
	return true
}

func matchFilters(r datastore.Record, fs []datastore.Filter) bool {
	for _, f := range fs {
		c := compare(r.String(f.Column), f.Value)
		var ok bool
		switch f.Op {
		case datastore.OpEq:
			ok = c == 0
		case datastore.OpNeq:
			ok = c != 0
		case datastore.OpGte:
			ok = c >= 0
		case datastore.OpLte:
			ok = c <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// compare orders numerically when both sides parse as numbers, otherwise
// lexically (ISO dates order correctly as text).
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
