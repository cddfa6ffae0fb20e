package domain

import (
	"fmt"

	"github.com/adfharrison1/go-reql/pkg/datum"
)

// Change is the before/after image of one document touched by a write.
type Change struct {
	OldVal datum.Datum `json:"old_val"`
	NewVal datum.Datum `json:"new_val"`
}

// WriteResult summarizes the effect of a write operation.
type WriteResult struct {
	Inserted      int      `json:"inserted"`
	Replaced      int      `json:"replaced"`
	Unchanged     int      `json:"unchanged"`
	Errors        int      `json:"errors"`
	Skipped       int      `json:"skipped"`
	Deleted       int      `json:"deleted"`
	FirstError    string   `json:"first_error,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	GeneratedKeys []string `json:"generated_keys,omitempty"`
	Changes       []Change `json:"changes,omitempty"`
}

// Add folds other into w. Counters sum, the earliest first error wins, and
// generated keys and changes are appended in order.
func (w *WriteResult) Add(other WriteResult) {
	w.Inserted += other.Inserted
	w.Replaced += other.Replaced
	w.Unchanged += other.Unchanged
	w.Errors += other.Errors
	w.Skipped += other.Skipped
	w.Deleted += other.Deleted
	if w.FirstError == "" {
		w.FirstError = other.FirstError
	}
	w.Warnings = append(w.Warnings, other.Warnings...)
	w.GeneratedKeys = append(w.GeneratedKeys, other.GeneratedKeys...)
	w.Changes = append(w.Changes, other.Changes...)
}

// ReduceWriteResults aggregates partial results of a batched write.
func ReduceWriteResults(parts ...WriteResult) WriteResult {
	var total WriteResult
	for _, p := range parts {
		total.Add(p)
	}
	return total
}

// Err returns a *WriteError when any document failed.
func (w WriteResult) Err() error {
	if w.Errors == 0 {
		return nil
	}
	return &WriteError{Errors: w.Errors, FirstError: w.FirstError}
}

var counterKeys = []string{"inserted", "replaced", "unchanged", "errors", "skipped", "deleted"}

// WriteResultFromDatum decodes the object a server returns for a write.
func WriteResultFromDatum(d datum.Datum) (WriteResult, error) {
	if d.Kind() != datum.KindObject {
		return WriteResult{}, &ProtocolError{Msg: fmt.Sprintf("write result must be an object, got %s", d.Kind())}
	}

	var w WriteResult
	counters := []*int{&w.Inserted, &w.Replaced, &w.Unchanged, &w.Errors, &w.Skipped, &w.Deleted}
	for i, key := range counterKeys {
		v, ok := d.Get(key)
		if !ok {
			continue
		}
		n, isNum := v.AsNumber()
		if !isNum || n < 0 || n != float64(int(n)) {
			return WriteResult{}, &ProtocolError{Msg: fmt.Sprintf("write result counter %q is not a non-negative integer: %s", key, v)}
		}
		*counters[i] = int(n)
	}

	if v, ok := d.Get("first_error"); ok {
		w.FirstError, _ = v.AsString()
	}
	if v, ok := d.Get("warnings"); ok {
		for _, item := range v.Items() {
			if s, ok := item.AsString(); ok {
				w.Warnings = append(w.Warnings, s)
			}
		}
	}
	if v, ok := d.Get("generated_keys"); ok {
		for _, item := range v.Items() {
			if s, ok := item.AsString(); ok {
				w.GeneratedKeys = append(w.GeneratedKeys, s)
			} else {
				w.GeneratedKeys = append(w.GeneratedKeys, item.String())
			}
		}
	}
	if v, ok := d.Get("changes"); ok {
		for _, item := range v.Items() {
			oldVal, _ := item.Get("old_val")
			newVal, _ := item.Get("new_val")
			w.Changes = append(w.Changes, Change{OldVal: oldVal, NewVal: newVal})
		}
	}
	return w, nil
}

// Datum encodes w the way a server reports it.
func (w WriteResult) Datum() datum.Datum {
	fields := []datum.Field{
		{Key: "inserted", Value: datum.Number(float64(w.Inserted))},
		{Key: "replaced", Value: datum.Number(float64(w.Replaced))},
		{Key: "unchanged", Value: datum.Number(float64(w.Unchanged))},
		{Key: "errors", Value: datum.Number(float64(w.Errors))},
		{Key: "skipped", Value: datum.Number(float64(w.Skipped))},
		{Key: "deleted", Value: datum.Number(float64(w.Deleted))},
	}
	if w.FirstError != "" {
		fields = append(fields, datum.Field{Key: "first_error", Value: datum.String(w.FirstError)})
	}
	if len(w.Warnings) > 0 {
		items := make([]datum.Datum, len(w.Warnings))
		for i, s := range w.Warnings {
			items[i] = datum.String(s)
		}
		fields = append(fields, datum.Field{Key: "warnings", Value: datum.NewArray(items...)})
	}
	if len(w.GeneratedKeys) > 0 {
		items := make([]datum.Datum, len(w.GeneratedKeys))
		for i, s := range w.GeneratedKeys {
			items[i] = datum.String(s)
		}
		fields = append(fields, datum.Field{Key: "generated_keys", Value: datum.NewArray(items...)})
	}
	if w.Changes != nil {
		items := make([]datum.Datum, len(w.Changes))
		for i, c := range w.Changes {
			items[i] = datum.MustObject(
				datum.Field{Key: "old_val", Value: c.OldVal},
				datum.Field{Key: "new_val", Value: c.NewVal},
			)
		}
		fields = append(fields, datum.Field{Key: "changes", Value: datum.NewArray(items...)})
	}
	return datum.MustObject(fields...)
}
