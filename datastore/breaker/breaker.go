// Package breaker guards a datastore.Store with a circuit breaker. It never
// retries; an open circuit fails fast with datastore.ErrUnavailable.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/opscache/datastore"
)

type Config struct {
	Name        string
	MaxRequests uint32        // allowed through while half-open
	Interval    time.Duration // closed-state count reset period
	Timeout     time.Duration // open -> half-open
	// Trip when at least MinRequests were seen and the failure ratio reaches FailureThreshold.
	FailureThreshold float64
	MinRequests      uint32
	Logger           *zap.Logger
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type Store struct {
	next datastore.Store
	cb   *gobreaker.CircuitBreaker
}

var _ datastore.Store = (*Store)(nil)

func New(next datastore.Store, cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("datastore circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: isSuccessful,
	})
	return &Store{next: next, cb: cb}
}

// isSuccessful keeps the circuit closed for errors the store reported about
// the request itself (constraint violations and the like) and for caller
// cancellation.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var de *datastore.Error
	if errors.As(err, &de) && de.Code != "" {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func (s *Store) State() gobreaker.State { return s.cb.State() }

func (s *Store) Select(ctx context.Context, q datastore.Query) ([]datastore.Record, error) {
	out, err := s.cb.Execute(func() (any, error) {
		return s.next.Select(ctx, q)
	})
	if err != nil {
		return nil, wrap(err)
	}
	rows, _ := out.([]datastore.Record)
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, entity string, payload datastore.Record) error {
	return s.run(func() error { return s.next.Insert(ctx, entity, payload) })
}

func (s *Store) Update(ctx context.Context, entity string, payload, match datastore.Record) error {
	return s.run(func() error { return s.next.Update(ctx, entity, payload, match) })
}

func (s *Store) Delete(ctx context.Context, entity string, match datastore.Record) error {
	return s.run(func() error { return s.next.Delete(ctx, entity, match) })
}

func (s *Store) run(fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) { return nil, fn() })
	return wrap(err)
}

func wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", datastore.ErrUnavailable, err)
	}
	return err
}
