package opscache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/opscache/datastore"
)

var errNoSubscriber = errors.New("opscache: bridge has no subscriber")

// DataFetchError is returned by Fetch when the loader fails. Code and Message
// come from the data store error when there is one.
type DataFetchError struct {
	Key     string
	Code    string
	Message string
	Err     error
}

func newDataFetchError(key string, err error) *DataFetchError {
	e := &DataFetchError{Key: key, Message: err.Error(), Err: err}
	var de *datastore.Error
	switch {
	case errors.As(err, &de):
		e.Code, e.Message = de.Code, de.Message
	case errors.Is(err, datastore.ErrUnavailable):
		e.Code = "unavailable"
	}
	return e
}

func (e *DataFetchError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fetch %q: (%s) %s", e.Key, e.Code, e.Message)
	}
	return fmt.Sprintf("fetch %q: %s", e.Key, e.Message)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

// ValidationError is a malformed BatchOperation. Nothing was sent for it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid batch operation: %s: %s", e.Field, e.Reason)
}

// BatchAbortError reports the operation that stopped a batch. Applied
// operations before Index were written and their entities invalidated.
type BatchAbortError struct {
	Index       int
	Kind        datastore.Kind
	Entity      string
	Applied     int
	Invalidated []string
	Err         error
}

func (e *BatchAbortError) Error() string {
	return fmt.Sprintf("batch aborted at operation %d (%s %s) after %d applied: %v",
		e.Index, e.Kind, e.Entity, e.Applied, e.Err)
}

func (e *BatchAbortError) Unwrap() error { return e.Err }

type InvalidateError struct {
	Entity     string
	BumpErr    error
	RestampErr error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.RestampErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and restamp failed: bump=%v; restamp=%v",
			e.Entity, e.BumpErr, e.RestampErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Entity, e.BumpErr)
	case e.RestampErr != nil:
		return fmt.Sprintf("invalidate %q: restamp failed: %v", e.Entity, e.RestampErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Entity)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.RestampErr != nil {
		errs = append(errs, e.RestampErr)
	}
	return errs
}
