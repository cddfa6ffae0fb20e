package rql

import (
	"context"
	"fmt"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// Querier dispatches a query tree. *driver.Connection implements it.
type Querier interface {
	Query(ctx context.Context, term *proto.Term, opts map[string]interface{}) (*driver.Result, error)
}

// Operation is a finalized query producing a T. It cannot be composed
// further; it can only be run.
type Operation[T any] struct {
	t      Term
	decode func(ctx context.Context, res *driver.Result) (T, error)
	// noreply produces the result of a run that asked for no reply. Unset
	// means the zero T.
	noreply func() T
}

func newOperation[T any](t Term, decode func(ctx context.Context, res *driver.Result) (T, error)) Operation[T] {
	return Operation[T]{t: t, decode: decode}
}

// Build returns the wire form of the query.
func (o Operation[T]) Build() (*proto.Term, error) {
	return o.t.Build()
}

func (o Operation[T]) String() string {
	return o.t.String()
}

// Run dispatches the query on conn and decodes its result. With
// RunOpts.Noreply set it returns as soon as the query is written, with the
// zero T or, for sequences, an exhausted cursor.
func (o Operation[T]) Run(ctx context.Context, conn Querier, opts ...RunOpts) (T, error) {
	var zero T
	if o.t.err != nil {
		return zero, fmt.Errorf("%w: %w", domain.ErrCompile, o.t.err)
	}
	if conn == nil {
		return zero, &domain.ConnectionError{Op: "run", Err: domain.ErrConnectionClosed}
	}
	res, err := conn.Query(ctx, o.t.node, mergeRunOpts(opts))
	if err != nil {
		return zero, err
	}
	if res == nil {
		if o.noreply != nil {
			return o.noreply(), nil
		}
		return zero, nil
	}
	return o.decode(ctx, res)
}

// RunAsync runs the query in the background.
func (o Operation[T]) RunAsync(ctx context.Context, conn Querier, opts ...RunOpts) *driver.Future[T] {
	return driver.Go(ctx, func(ctx context.Context) (T, error) {
		return o.Run(ctx, conn, opts...)
	})
}

// RunCallback runs the query in the background and passes the outcome to cb.
func (o Operation[T]) RunCallback(ctx context.Context, conn Querier, cb func(T, error), opts ...RunOpts) {
	o.RunAsync(ctx, conn, opts...).Then(cb)
}

// Exec dispatches the query without waiting for a reply.
func (o Operation[T]) Exec(ctx context.Context, conn Querier, opts ...RunOpts) error {
	_, err := o.Run(ctx, conn, append(opts, RunOpts{Noreply: true})...)
	return err
}

func decodeDatum(ctx context.Context, res *driver.Result) (datum.Datum, error) {
	return res.Value(ctx)
}

func decodeCursor(_ context.Context, res *driver.Result) (*driver.Cursor, error) {
	return res.Cursor()
}

// decodeWrite accepts one write summary or an array of per-batch summaries.
func decodeWrite(ctx context.Context, res *driver.Result) (domain.WriteResult, error) {
	v, err := res.Value(ctx)
	if err != nil {
		return domain.WriteResult{}, err
	}
	if v.Kind() != datum.KindArray {
		return domain.WriteResultFromDatum(v)
	}
	parts := make([]domain.WriteResult, 0, v.Len())
	for _, item := range v.Items() {
		w, err := domain.WriteResultFromDatum(item)
		if err != nil {
			return domain.WriteResult{}, err
		}
		parts = append(parts, w)
	}
	return domain.ReduceWriteResults(parts...), nil
}

func decodeInto[T any](ctx context.Context, res *driver.Result) (T, error) {
	var out T
	v, err := res.Value(ctx)
	if err != nil {
		return out, err
	}
	if err := v.Decode(&out); err != nil {
		return out, &domain.ProtocolError{Msg: fmt.Sprintf("unexpected result %s", v), Err: err}
	}
	return out, nil
}

func writeOp(t Term) Operation[domain.WriteResult] {
	return newOperation(t, decodeWrite)
}

func createOp(t Term) Operation[domain.CreateResult] {
	return newOperation(t, decodeInto[domain.CreateResult])
}

func dropOp(t Term) Operation[domain.DropResult] {
	return newOperation(t, decodeInto[domain.DropResult])
}

func listOp(t Term) Operation[[]string] {
	return newOperation(t, decodeInto[[]string])
}
