// Package supabase implements datastore.Store over a hosted PostgREST API
// using supabase-go / postgrest-go.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/unkn0wn-root/opscache/datastore"
)

// Querier is satisfied by *supabase.Client and *postgrest.Client.
type Querier interface {
	From(table string) *postgrest.QueryBuilder
}

type Store struct {
	q Querier
}

var _ datastore.Store = (*Store)(nil)

// New wraps an existing client.
func New(q Querier) *Store { return &Store{q: q} }

// Dial creates a supabase-go client for the project URL and API key.
func Dial(projectURL, apiKey string) (*Store, error) {
	c, err := supa.NewClient(projectURL, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: %w", err)
	}
	return New(c), nil
}

// Select runs q. postgrest-go keys filters by column, so a second filter on
// the same column is sent through the and=(...) parameter.
func (s *Store) Select(ctx context.Context, q datastore.Query) ([]datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb := s.q.From(q.Entity).Select(q.Columns, "", false)

	seen := make(map[string]bool, len(q.Filters))
	var extra []string
	for _, f := range q.Filters {
		if seen[f.Column] {
			extra = append(extra, fmt.Sprintf("%s.%s.%s", f.Column, f.Op, f.Value))
			continue
		}
		seen[f.Column] = true
		fb = fb.Filter(f.Column, string(f.Op), f.Value)
	}
	if len(extra) > 0 {
		fb = fb.And(strings.Join(extra, ","), "")
	}
	if q.OrderBy != "" {
		fb = fb.Order(q.OrderBy, &postgrest.OrderOpts{Ascending: !q.Descending})
	}

	rows := make([]datastore.Record, 0)
	if _, err := fb.ExecuteTo(&rows); err != nil {
		return nil, translate("select", q.Entity, err)
	}
	return rows, nil
}

// Insert upserts payload, merging on the primary key.
func (s *Store) Insert(ctx context.Context, entity string, payload datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.q.From(entity).Upsert(map[string]any(payload), "", "minimal", "").Execute()
	return translate("insert", entity, err)
}

func (s *Store) Update(ctx context.Context, entity string, payload, match datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(match) == 0 {
		return fmt.Errorf("supabase: update %s: empty match", entity)
	}
	_, _, err := s.q.From(entity).Update(map[string]any(payload), "minimal", "").Match(matchParams(match)).Execute()
	return translate("update", entity, err)
}

func (s *Store) Delete(ctx context.Context, entity string, match datastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(match) == 0 {
		return fmt.Errorf("supabase: delete %s: empty match", entity)
	}
	_, _, err := s.q.From(entity).Delete("minimal", "").Match(matchParams(match)).Execute()
	return translate("delete", entity, err)
}

func matchParams(m datastore.Record) map[string]string {
	out := make(map[string]string, len(m))
	for k := range m {
		out[k] = m.String(k)
	}
	return out
}

var pgErr = regexp.MustCompile(`^\(([^)]*)\) (.*)$`)

// translate turns postgrest-go's flattened "(code) message" errors back into
// *datastore.Error and marks transport failures as unavailable.
func translate(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("supabase: %s %s: %w: %w", op, entity, datastore.ErrUnavailable, err)
	}
	if m := pgErr.FindStringSubmatch(err.Error()); m != nil {
		return &datastore.Error{Code: m[1], Message: m[2]}
	}
	return fmt.Errorf("supabase: %s %s: %w", op, entity, err)
}
