package opscache

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/opscache/datastore"
)

// BatchOperation is one write in a batch. INSERT upserts Payload. UPDATE sets
// Payload on rows equal to Match. DELETE removes rows equal to Match.
type BatchOperation struct {
	Kind    datastore.Kind   `json:"kind" validate:"required,oneof=INSERT UPDATE DELETE"`
	Entity  string           `json:"entity" validate:"required"`
	Payload datastore.Record `json:"payload,omitempty"`
	Match   datastore.Record `json:"match,omitempty"`
}

type BatchResult struct {
	ID          uuid.UUID
	Applied     int
	Invalidated []string
}

// Executor runs batches against a Writer and keeps the Store consistent with
// what was written.
type Executor struct {
	store    *Store
	writer   datastore.Writer
	rules    *Rules
	validate *validator.Validate
}

func NewExecutor(store *Store, w datastore.Writer, rules *Rules) *Executor {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Executor{store: store, writer: w, rules: rules, validate: v}
}

func (x *Executor) Rules() *Rules { return x.rules }

// ExecuteBatch applies ops one at a time in order. After each successful
// operation its entity and dependents are invalidated. The first failure
// (validation or write) stops the batch and is returned as *BatchAbortError;
// invalidations for earlier operations stand. Nothing is retried or refetched.
func (x *Executor) ExecuteBatch(ctx context.Context, ops []BatchOperation) (BatchResult, error) {
	res := BatchResult{ID: uuid.New()}
	seen := make(map[string]bool)
	log := x.store.log

	for i, op := range ops {
		err := x.Validate(op)
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = x.dispatch(ctx, op)
		}
		if err != nil {
			x.store.hooks.BatchAborted(i, res.Applied, err)
			log.Warn("batch aborted", Fields{
				"batch": res.ID.String(), "index": i, "kind": string(op.Kind),
				"entity": op.Entity, "applied": res.Applied, "err": err,
			})
			return res, &BatchAbortError{
				Index:       i,
				Kind:        op.Kind,
				Entity:      op.Entity,
				Applied:     res.Applied,
				Invalidated: res.Invalidated,
				Err:         err,
			}
		}

		res.Applied++
		for _, e := range x.store.InvalidateFor(ctx, x.rules, op.Entity, op.Kind) {
			if !seen[e] {
				seen[e] = true
				res.Invalidated = append(res.Invalidated, e)
			}
		}
	}

	log.Info("batch applied", Fields{"batch": res.ID.String(), "applied": res.Applied, "invalidated": res.Invalidated})
	return res, nil
}

// Validate checks op without touching the data store.
func (x *Executor) Validate(op BatchOperation) error {
	if err := x.validate.Struct(op); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
		}
		return &ValidationError{Field: "operation", Reason: err.Error()}
	}
	switch op.Kind {
	case datastore.Insert:
		if len(op.Payload) == 0 {
			return &ValidationError{Field: "payload", Reason: "INSERT requires a payload"}
		}
	case datastore.Update:
		if len(op.Match) == 0 {
			return &ValidationError{Field: "match", Reason: "UPDATE requires a match condition"}
		}
		if len(op.Payload) == 0 {
			return &ValidationError{Field: "payload", Reason: "UPDATE requires a payload"}
		}
	case datastore.Delete:
		if len(op.Match) == 0 {
			return &ValidationError{Field: "match", Reason: "DELETE requires a match condition"}
		}
	}
	return nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}

func (x *Executor) dispatch(ctx context.Context, op BatchOperation) error {
	switch op.Kind {
	case datastore.Insert:
		return x.writer.Insert(ctx, op.Entity, op.Payload)
	case datastore.Update:
		return x.writer.Update(ctx, op.Entity, op.Payload, op.Match)
	case datastore.Delete:
		return x.writer.Delete(ctx, op.Entity, op.Match)
	}
	return &ValidationError{Field: "kind", Reason: "unsupported kind " + string(op.Kind)}
}
