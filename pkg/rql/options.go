package rql

import (
	"github.com/adfharrison1/go-reql/pkg/datum"
)

// Bound is the inclusivity of one end of a range lookup.
type Bound string

const (
	Closed Bound = "closed"
	Open   Bound = "open"
)

// Index names a secondary index for range and equality lookups. An empty
// Name selects the primary key. Unset bounds default to a closed left bound
// and an open right bound.
type Index struct {
	Name       string
	LeftBound  Bound
	RightBound Bound
}

func (i Index) opts() map[string]Term {
	opts := map[string]Term{}
	if i.Name != "" {
		opts["index"] = stringTerm(i.Name)
	}
	left, right := i.LeftBound, i.RightBound
	if left == "" {
		left = Closed
	}
	if right == "" {
		right = Open
	}
	opts["left_bound"] = stringTerm(string(left))
	opts["right_bound"] = stringTerm(string(right))
	return opts
}

// InsertOpts are passed through to the server unmodified.
type InsertOpts struct {
	// Conflict is one of domain.ConflictError (default), ConflictReplace or
	// ConflictUpdate.
	Conflict      string
	Durability    string
	ReturnChanges bool
}

func (o InsertOpts) opts() map[string]Term {
	opts := map[string]Term{}
	if o.Conflict != "" {
		opts["conflict"] = stringTerm(o.Conflict)
	}
	if o.Durability != "" {
		opts["durability"] = stringTerm(o.Durability)
	}
	if o.ReturnChanges {
		opts["return_changes"] = datumTerm(datum.Bool(true))
	}
	return opts
}

// UpdateOpts configure Update and Replace.
type UpdateOpts struct {
	// NonAtomic must be set when the transform reads other tables or is
	// otherwise non-deterministic.
	NonAtomic     bool
	Durability    string
	ReturnChanges bool
}

func (o UpdateOpts) opts() map[string]Term {
	opts := map[string]Term{}
	if o.NonAtomic {
		opts["non_atomic"] = datumTerm(datum.Bool(true))
	}
	if o.Durability != "" {
		opts["durability"] = stringTerm(o.Durability)
	}
	if o.ReturnChanges {
		opts["return_changes"] = datumTerm(datum.Bool(true))
	}
	return opts
}

// DeleteOpts configure Delete.
type DeleteOpts struct {
	Durability    string
	ReturnChanges bool
}

func (o DeleteOpts) opts() map[string]Term {
	return UpdateOpts{Durability: o.Durability, ReturnChanges: o.ReturnChanges}.opts()
}

// TableCreateOpts configure TableCreate.
type TableCreateOpts struct {
	PrimaryKey string
	Durability string
	CacheSize  int
	Datacenter string
}

func (o TableCreateOpts) opts() map[string]Term {
	opts := map[string]Term{}
	if o.PrimaryKey != "" {
		opts["primary_key"] = stringTerm(o.PrimaryKey)
	}
	if o.Durability != "" {
		opts["durability"] = stringTerm(o.Durability)
	}
	if o.CacheSize > 0 {
		opts["cache_size"] = datumTerm(datum.Number(float64(o.CacheSize)))
	}
	if o.Datacenter != "" {
		opts["datacenter"] = stringTerm(o.Datacenter)
	}
	return opts
}

// TableOpts configure a table reference.
type TableOpts struct {
	// ReadMode is passed through; the server decides its meaning.
	ReadMode string
}

func (o TableOpts) opts() map[string]Term {
	opts := map[string]Term{}
	if o.ReadMode != "" {
		opts["read_mode"] = stringTerm(o.ReadMode)
	}
	return opts
}

// EqJoinOpts configure EqJoin.
type EqJoinOpts struct {
	// Index on the right table; the primary key when empty.
	Index string
}

// RunOpts are query-level options sent alongside the tree.
type RunOpts struct {
	DB           string
	Noreply      bool
	Durability   string
	ReadMode     string
	MaxBatchRows int
}

func mergeRunOpts(opts []RunOpts) map[string]interface{} {
	out := map[string]interface{}{}
	for _, o := range opts {
		if o.DB != "" {
			out["db"] = o.DB
		}
		if o.Noreply {
			out["noreply"] = true
		}
		if o.Durability != "" {
			out["durability"] = o.Durability
		}
		if o.ReadMode != "" {
			out["read_mode"] = o.ReadMode
		}
		if o.MaxBatchRows > 0 {
			out["max_batch_rows"] = o.MaxBatchRows
		}
	}
	return out
}

func firstOr[T any](opts []T) T {
	var zero T
	if len(opts) == 0 {
		return zero
	}
	return opts[0]
}
