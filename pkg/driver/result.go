package driver

import (
	"context"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
)

// Result is the outcome of a dispatched query: either a single value or a
// cursor over a stream.
type Result struct {
	value  datum.Datum
	cursor *Cursor
}

// NewAtomResult wraps a single value.
func NewAtomResult(v datum.Datum) *Result {
	return &Result{value: v}
}

// IsCursor reports whether the server answered with a stream.
func (r *Result) IsCursor() bool {
	return r.cursor != nil
}

// Cursor returns the stream. An array value is wrapped in a local cursor; any
// other value is a protocol error.
func (r *Result) Cursor() (*Cursor, error) {
	if r.cursor != nil {
		return r.cursor, nil
	}
	if r.value.Kind() != datum.KindArray {
		return nil, &domain.ProtocolError{Msg: "expected a sequence, got " + r.value.Kind().String()}
	}
	return NewArrayCursor(r.value.Items()), nil
}

// Value returns the single value. A stream is drained into an array.
func (r *Result) Value(ctx context.Context) (datum.Datum, error) {
	if r.cursor == nil {
		return r.value, nil
	}
	items, err := r.cursor.ToArray(ctx)
	if err != nil {
		return datum.Null(), err
	}
	return datum.NewArray(items...), nil
}

// Close releases the cursor, if any.
func (r *Result) Close() error {
	if r.cursor == nil {
		return nil
	}
	return r.cursor.Close()
}
