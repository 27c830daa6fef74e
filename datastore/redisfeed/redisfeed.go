// Package redisfeed carries datastore change events over Redis Pub/Sub, one
// channel per entity. Writers (or a CDC relay) publish, every replica
// subscribes and feeds its realtime bridge.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/opscache/codec"
	"github.com/unkn0wn-root/opscache/datastore"
)

var ErrNilClient = errors.New("redisfeed: nil client")

const eventBuffer = 256

type Config struct {
	Client goredis.UniversalClient
	Prefix string // channel prefix, default "changes"
	Codec  codec.Codec[datastore.ChangeEvent]
	// OnDecodeError is called for payloads that cannot be decoded. Optional.
	OnDecodeError func(channel string, err error)
}

type Feed struct {
	rdb      goredis.UniversalClient
	prefix   string
	codec    codec.Codec[datastore.ChangeEvent]
	onDecode func(string, error)
}

var _ datastore.Subscriber = (*Feed)(nil)

func New(cfg Config) (*Feed, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	f := &Feed{rdb: cfg.Client, prefix: cfg.Prefix, codec: cfg.Codec, onDecode: cfg.OnDecodeError}
	if f.prefix == "" {
		f.prefix = "changes"
	}
	if f.codec == nil {
		f.codec = codec.JSON[datastore.ChangeEvent]{}
	}
	if f.onDecode == nil {
		f.onDecode = func(string, error) {}
	}
	return f, nil
}

func (f *Feed) Channel(entity string) string { return f.prefix + ":" + entity }

// Publish sends ev on its entity channel.
func (f *Feed) Publish(ctx context.Context, ev datastore.ChangeEvent) error {
	if !ev.Kind.Valid() || ev.Entity == "" {
		return fmt.Errorf("redisfeed: invalid event kind=%q entity=%q", ev.Kind, ev.Entity)
	}
	b, err := f.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("redisfeed: encode: %w", err)
	}
	return f.rdb.Publish(ctx, f.Channel(ev.Entity), b).Err()
}

// Subscribe waits for the SUBSCRIBE confirmation before returning.
func (f *Feed) Subscribe(ctx context.Context, entity string) (datastore.Subscription, error) {
	ps := f.rdb.Subscribe(ctx, f.Channel(entity))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisfeed: subscribe %s: %w", entity, err)
	}
	s := newSubscription(f, entity, ps.Channel(), ps.Close)
	return s, nil
}

type subscription struct {
	feed   *Feed
	entity string
	out    chan datastore.ChangeEvent
	stop   chan struct{}
	done   chan struct{}
	closer func() error
	once   sync.Once
	err    error
}

func newSubscription(f *Feed, entity string, in <-chan *goredis.Message, closer func() error) *subscription {
	s := &subscription{
		feed:   f,
		entity: entity,
		out:    make(chan datastore.ChangeEvent, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		closer: closer,
	}
	go s.pump(in)
	return s
}

func (s *subscription) pump(in <-chan *goredis.Message) {
	defer close(s.done)
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			ev, err := s.feed.codec.Decode([]byte(msg.Payload))
			if err != nil {
				s.feed.onDecode(msg.Channel, err)
				continue
			}
			if ev.Entity == "" {
				ev.Entity = s.entity
			}
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *subscription) Events() <-chan datastore.ChangeEvent { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.closer != nil {
			s.err = s.closer()
		}
		<-s.done
	})
	return s.err
}
