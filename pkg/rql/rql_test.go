package rql_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/rql"
	"github.com/adfharrison1/go-reql/pkg/server"
)

func build(t *testing.T, q rql.Termer) *proto.Term {
	t.Helper()
	node, err := q.Term().Build()
	require.NoError(t, err)
	return node
}

func TestBuilders_DoNotModifyTheirBase(t *testing.T) {
	base := rql.Table("users").Filter(rql.Row.Field("age").Gt(18))
	before := base.String()

	adults := base.OrderBy("name")
	first := base.Limit(1)
	_ = base.Pluck("name").Count()

	assert.Equal(t, before, base.String())
	assert.NotEqual(t, adults.String(), first.String())
	assert.Equal(t, proto.TermOrderBy, build(t, adults).Type)
	assert.Equal(t, proto.TermLimit, build(t, first).Type)
	assert.Same(t, build(t, base), build(t, first).Args[0])
}

func TestBuilders_TermShapes(t *testing.T) {
	tests := []struct {
		name  string
		q     rql.Termer
		typ   proto.TermType
		check func(t *testing.T, node *proto.Term)
	}{
		{
			name: "get",
			q:    rql.Table("users").Get(7),
			typ:  proto.TermGet,
			check: func(t *testing.T, node *proto.Term) {
				assert.Equal(t, proto.TermTable, node.Args[0].Type)
				assert.Equal(t, datum.Number(7), node.Args[1].Datum)
			},
		},
		{
			name: "table in database",
			q:    rql.DB("app").Table("users"),
			typ:  proto.TermTable,
			check: func(t *testing.T, node *proto.Term) {
				require.Len(t, node.Args, 2)
				assert.Equal(t, proto.TermDB, node.Args[0].Type)
			},
		},
		{
			name: "between defaults",
			q:    rql.Table("users").Between(1, 10),
			typ:  proto.TermBetween,
			check: func(t *testing.T, node *proto.Term) {
				assert.Equal(t, datum.String("closed"), node.Opts["left_bound"].Datum)
				assert.Equal(t, datum.String("open"), node.Opts["right_bound"].Datum)
				assert.NotContains(t, node.Opts, "index")
			},
		},
		{
			name: "between on index",
			q:    rql.Table("users").Between(1, 10, rql.Index{Name: "age", RightBound: rql.Closed}),
			typ:  proto.TermBetween,
			check: func(t *testing.T, node *proto.Term) {
				assert.Equal(t, datum.String("age"), node.Opts["index"].Datum)
				assert.Equal(t, datum.String("closed"), node.Opts["right_bound"].Datum)
			},
		},
		{
			name: "row predicate becomes a function",
			q:    rql.Table("users").Filter(rql.Row.Field("age").Gt(30)),
			typ:  proto.TermFilter,
			check: func(t *testing.T, node *proto.Term) {
				assert.Equal(t, proto.TermFunc, node.Args[1].Type)
			},
		},
		{
			name: "object predicate stays a value",
			q:    rql.Table("users").Filter(map[string]interface{}{"team": "red"}),
			typ:  proto.TermFilter,
			check: func(t *testing.T, node *proto.Term) {
				assert.Equal(t, proto.TermDatum, node.Args[1].Type)
			},
		},
		{
			name: "go function",
			q: rql.Table("users").Map(func(doc rql.Expr) rql.Expr {
				return doc.Field("name")
			}),
			typ: proto.TermMap,
			check: func(t *testing.T, node *proto.Term) {
				fn := node.Args[1]
				require.Equal(t, proto.TermFunc, fn.Type)
				assert.Equal(t, 1, fn.Args[0].Datum.Len())
			},
		},
		{
			name: "nested expression in a value",
			q:    rql.Value(map[string]interface{}{"total": rql.Row.Field("a").Add(1), "n": 2}),
			typ:  proto.TermMakeObj,
			check: func(t *testing.T, node *proto.Term) {
				assert.Len(t, node.Args, 4)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := build(t, tt.q)
			assert.Equal(t, tt.typ, node.Type)
			tt.check(t, node)
		})
	}
}

func TestBuilders_ConstructionErrorsSurfaceOnRun(t *testing.T) {
	ctx := context.Background()

	q := rql.Table("users").Insert(map[string]interface{}{"ch": make(chan int)})
	_, err := q.Build()
	require.Error(t, err)
	_, err = q.Run(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrCompile)
	assert.ErrorIs(t, err, domain.ErrMalformedValue)

	bad := rql.Table("users").Filter(func(n int) bool { return n > 0 })
	_, err = bad.Run(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrCompile)
	assert.ErrorIs(t, err, rql.ErrInvalidArgument)

	// The error travels with every node built on top.
	_, err = bad.Count().Run(ctx, nil)
	assert.ErrorIs(t, err, rql.ErrInvalidArgument)
}

func TestRun_WithoutConnection(t *testing.T) {
	_, err := rql.Value(1).Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConnection)

	var conn *driver.Connection
	_, err = rql.Value(1).Run(context.Background(), conn)
	assert.ErrorIs(t, err, domain.ErrConnection)
	_, err = rql.Table("users").ToArray(context.Background(), conn)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func connect(t *testing.T) (*driver.Connection, *server.Server) {
	t.Helper()
	srv, err := server.NewServer(server.WithMaxBatchRows(3))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	conn, err := driver.Connect(context.Background(), driver.ConnectOpts{
		Dialer: server.NewLocalDialer(srv),
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(context.Background()) })
	return conn, srv
}

func TestRun_AgainstServer(t *testing.T) {
	conn, srv := connect(t)
	ctx := context.Background()

	_, err := rql.TableCreate("people").Run(ctx, conn)
	require.NoError(t, err)
	_, err = rql.TableCreate("pets").Run(ctx, conn)
	require.NoError(t, err)
	res, err := rql.Table("people").Insert([]map[string]interface{}{
		{"id": 1, "name": "ann", "age": 30},
		{"id": 2, "name": "ben", "age": 30},
		{"id": 3, "name": "cy", "age": 20},
		{"id": 4, "name": "di", "age": 30},
	}).Run(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 4, res.Inserted)

	t.Run("stable order by", func(t *testing.T) {
		items, err := rql.Table("people").OrderBy("age").Field("name").ToArray(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []datum.Datum{datum.String("cy"), datum.String("ann"), datum.String("ben"), datum.String("di")}, items)
	})

	t.Run("outer join without matches", func(t *testing.T) {
		items, err := rql.Table("people").OuterJoin(rql.Table("pets"), func(p, q rql.Expr) rql.Expr {
			return p.Field("id").Eq(q.Field("owner"))
		}).ToArray(ctx, conn)
		require.NoError(t, err)
		require.Len(t, items, 4)
		for _, item := range items {
			right, ok := item.Get("right")
			assert.True(t, ok)
			assert.True(t, right.IsNull())
		}
	})

	t.Run("reduce over empty", func(t *testing.T) {
		sum := func(a, b rql.Expr) rql.Expr { return a.Add(b) }
		_, err := rql.Table("pets").Field("age").Reduce(sum).Run(ctx, conn)
		assert.ErrorIs(t, err, domain.ErrEmptyReduce)

		v, err := rql.Table("pets").Field("age").Reduce(sum, 0).Run(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, datum.Number(0), v)
	})

	t.Run("update through get", func(t *testing.T) {
		res, err := rql.Table("people").Get(3).Update(map[string]interface{}{"age": 21}).Run(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Replaced)

		doc, err := rql.Table("people").Get(3).Field("age").Run(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, datum.Number(21), doc)
	})

	t.Run("decode into a struct slice", func(t *testing.T) {
		type person struct {
			Name string `json:"name"`
			Age  int    `json:"age"`
		}
		cursor, err := rql.Table("people").Filter(map[string]interface{}{"age": 30}).Run(ctx, conn)
		require.NoError(t, err)
		var people []person
		require.NoError(t, cursor.All(ctx, &people))
		assert.Equal(t, []person{{"ann", 30}, {"ben", 30}, {"di", 30}}, people)
	})

	t.Run("noreply sequences yield an exhausted cursor", func(t *testing.T) {
		items, err := rql.Table("people").ToArray(ctx, conn, rql.RunOpts{Noreply: true})
		require.NoError(t, err)
		assert.Empty(t, items)

		cursor, err := rql.Table("people").Run(ctx, conn, rql.RunOpts{Noreply: true})
		require.NoError(t, err)
		require.NotNil(t, cursor)
		_, err = cursor.Next(ctx)
		assert.ErrorIs(t, err, domain.ErrCursorExhausted)

		fut := rql.Table("people").RunAsync(ctx, conn, rql.RunOpts{Noreply: true})
		cursor, err = fut.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, driver.CursorExhausted, cursor.State())
		require.NoError(t, conn.NoreplyWait(ctx))
		assert.Equal(t, 0, srv.Stats().OpenCursors)
	})

	t.Run("async results are delivered once", func(t *testing.T) {
		var calls atomic.Int32
		count := rql.Table("people").Count()
		count.RunCallback(ctx, conn, func(v datum.Datum, err error) {
			assert.NoError(t, err)
			assert.Equal(t, datum.Number(4), v)
			calls.Add(1)
		})

		fut := count.RunAsync(ctx, conn)
		fut.Then(func(datum.Datum, error) { calls.Add(1) })
		first, err := fut.Await(ctx)
		require.NoError(t, err)
		again, err := fut.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)

		assert.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
		assert.Never(t, func() bool { return calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("grouped run variants", func(t *testing.T) {
		counts := rql.Table("people").Group("age").Count()
		want, err := counts.Run(ctx, conn)
		require.NoError(t, err)
		require.Equal(t, 2, want.Len())

		got, err := counts.RunAsync(ctx, conn).Await(ctx)
		require.NoError(t, err)
		assert.True(t, datum.Equal(want, got))

		delivered := make(chan datum.Datum, 2)
		counts.RunCallback(ctx, conn, func(v datum.Datum, err error) {
			assert.NoError(t, err)
			delivered <- v
		})
		select {
		case v := <-delivered:
			assert.True(t, datum.Equal(want, v))
		case <-time.After(5 * time.Second):
			t.Fatal("callback never ran")
		}

		require.NoError(t, counts.Exec(ctx, conn))
		require.NoError(t, conn.NoreplyWait(ctx))
		assert.Empty(t, delivered)
	})

	t.Run("admin operations", func(t *testing.T) {
		tables, err := rql.TableList().Run(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []string{"people", "pets"}, tables)

		_, err = rql.TableCreate("people").Run(ctx, conn)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

		dropped, err := rql.TableDrop("pets").Run(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, 1, dropped.Dropped)
	})
}
