package redisfeed

import (
	"context"
	"sort"

	"github.com/unkn0wn-root/opscache/datastore"
)

// Publisher sends one change event. *Feed implements it.
type Publisher interface {
	Publish(ctx context.Context, ev datastore.ChangeEvent) error
}

var _ Publisher = (*Feed)(nil)

// PublishingStore is a datastore.Store that announces every successful write
// on a Publisher, so replicas watching the feed invalidate and patch. A
// failed publish is reported to onError and never fails the write.
type PublishingStore struct {
	next    datastore.Store
	pub     Publisher
	onError func(ev datastore.ChangeEvent, err error)
}

var _ datastore.Store = (*PublishingStore)(nil)

// Publishing wraps next. onError may be nil.
func Publishing(next datastore.Store, pub Publisher, onError func(datastore.ChangeEvent, error)) *PublishingStore {
	if onError == nil {
		onError = func(datastore.ChangeEvent, error) {}
	}
	return &PublishingStore{next: next, pub: pub, onError: onError}
}

func (s *PublishingStore) Select(ctx context.Context, q datastore.Query) ([]datastore.Record, error) {
	return s.next.Select(ctx, q)
}

func (s *PublishingStore) Insert(ctx context.Context, entity string, payload datastore.Record) error {
	if err := s.next.Insert(ctx, entity, payload); err != nil {
		return err
	}
	s.publish(ctx, datastore.ChangeEvent{Kind: datastore.Insert, Entity: entity, After: payload.Clone()})
	return nil
}

// Update reads the matching rows first so the events carry both images.
// When that read fails a single event without rows is sent; it still
// invalidates on every replica.
func (s *PublishingStore) Update(ctx context.Context, entity string, payload, match datastore.Record) error {
	rows, rerr := s.matching(ctx, entity, match)
	if err := s.next.Update(ctx, entity, payload, match); err != nil {
		return err
	}
	if rerr != nil {
		s.publish(ctx, datastore.ChangeEvent{Kind: datastore.Update, Entity: entity, Before: match.Clone()})
		return nil
	}
	for _, r := range rows {
		after := r.Clone()
		for k, v := range payload {
			after[k] = v
		}
		s.publish(ctx, datastore.ChangeEvent{Kind: datastore.Update, Entity: entity, Before: r, After: after})
	}
	return nil
}

func (s *PublishingStore) Delete(ctx context.Context, entity string, match datastore.Record) error {
	rows, rerr := s.matching(ctx, entity, match)
	if err := s.next.Delete(ctx, entity, match); err != nil {
		return err
	}
	if rerr != nil {
		s.publish(ctx, datastore.ChangeEvent{Kind: datastore.Delete, Entity: entity, Before: match.Clone()})
		return nil
	}
	for _, r := range rows {
		s.publish(ctx, datastore.ChangeEvent{Kind: datastore.Delete, Entity: entity, Before: r})
	}
	return nil
}

func (s *PublishingStore) matching(ctx context.Context, entity string, match datastore.Record) ([]datastore.Record, error) {
	cols := make([]string, 0, len(match))
	for c := range match {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	q := datastore.From(entity)
	for _, c := range cols {
		q = q.Eq(c, match.String(c))
	}
	return s.next.Select(ctx, q)
}

func (s *PublishingStore) publish(ctx context.Context, ev datastore.ChangeEvent) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.onError(ev, err)
	}
}
