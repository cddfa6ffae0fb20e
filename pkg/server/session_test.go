package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/rql"
)

func testServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

type builder interface {
	Build() (*proto.Term, error)
}

func startFrame(t *testing.T, token uint64, q builder, opts map[string]interface{}) []byte {
	t.Helper()
	node, err := q.Build()
	require.NoError(t, err)
	frame, err := proto.EncodeQuery(&proto.Query{Token: token, Type: proto.QueryStart, Term: node, Opts: opts}, proto.DefaultCompressionThreshold)
	require.NoError(t, err)
	return frame
}

func submit(t *testing.T, srv *Server, id string, seq uint64, frame []byte) *proto.Response {
	t.Helper()
	reply, err := srv.Submit(context.Background(), id, seq, frame)
	require.NoError(t, err)
	if reply == nil {
		return nil
	}
	resp, err := proto.DecodeResponse(reply)
	require.NoError(t, err)
	return resp
}

func TestCursorCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []uint64
	cc := newCursorCache(2, func(c *openCursor) { evicted = append(evicted, c.token) })

	cc.put(&openCursor{token: 1})
	cc.put(&openCursor{token: 2})
	_, ok := cc.take(1)
	require.True(t, ok)
	cc.put(&openCursor{token: 1})
	cc.put(&openCursor{token: 3})

	assert.Equal(t, []uint64{2}, evicted)
	assert.Equal(t, 2, cc.len())
	assert.False(t, cc.remove(2))
	assert.True(t, cc.remove(3))
	assert.Equal(t, 1, cc.clear())
	assert.Equal(t, 0, cc.len())
}

func numbers(n int) []datum.Datum {
	out := make([]datum.Datum, n)
	for i := range out {
		out[i] = datum.Number(float64(i))
	}
	return out
}

func TestCursorCache_Advance(t *testing.T) {
	cc := newCursorCache(4, nil)
	cc.put(&openCursor{token: 7, rest: numbers(5), batchSize: 2})

	batch, more, ok := cc.advance(7)
	require.True(t, ok)
	assert.True(t, more)
	assert.Equal(t, numbers(2), batch)

	_, _, _ = cc.advance(7)
	batch, more, ok = cc.advance(7)
	require.True(t, ok)
	assert.False(t, more)
	assert.Equal(t, []datum.Datum{datum.Number(4)}, batch)
	assert.Equal(t, 0, cc.len())

	_, _, ok = cc.advance(7)
	assert.False(t, ok)
}

func TestCursorCache_StopDuringContinueReleasesCursor(t *testing.T) {
	for i := 0; i < 200; i++ {
		cc := newCursorCache(4, nil)
		cc.put(&openCursor{token: 1, rest: numbers(100), batchSize: 1})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cc.advance(1)
		}()
		go func() {
			defer wg.Done()
			cc.remove(1)
		}()
		wg.Wait()

		// Whichever ran first, the stop leaves nothing behind.
		require.Equal(t, 0, cc.len())
	}
}

func TestSession_AdmitsInOrder(t *testing.T) {
	srv := testServer(t)
	sess, err := srv.openSession()
	require.NoError(t, err)
	q := &proto.Query{Type: proto.QueryContinue}

	admitted := make(chan error, 1)
	go func() {
		admitted <- sess.admit(context.Background(), 2, q)
	}()

	select {
	case <-admitted:
		t.Fatal("request 2 admitted before request 1")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, sess.admit(context.Background(), 1, q))
	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("request 2 was never admitted")
	}
	sess.inFlight.Done()
	sess.inFlight.Done()

	assert.Error(t, sess.admit(context.Background(), 1, q))
}

func TestSession_AdmitHonoursContext(t *testing.T) {
	srv := testServer(t)
	sess, err := srv.openSession()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = sess.admit(ctx, 5, &proto.Query{Type: proto.QueryContinue})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_AdmitAfterClose(t *testing.T) {
	srv := testServer(t)
	id, err := srv.OpenSession()
	require.NoError(t, err)
	sess, err := srv.Session(id)
	require.NoError(t, err)

	require.NoError(t, srv.CloseSession(id))
	assert.ErrorIs(t, sess.admit(context.Background(), 1, &proto.Query{Type: proto.QueryContinue}), domain.ErrSessionClosed)
	assert.ErrorIs(t, srv.CloseSession(id), domain.ErrSessionNotFound)

	_, err = srv.Submit(context.Background(), id, 1, nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSubmit_Requests(t *testing.T) {
	srv := testServer(t, WithMaxBatchRows(2))
	id, err := srv.OpenSession()
	require.NoError(t, err)

	resp := submit(t, srv, id, 1, startFrame(t, 1, rql.TableCreate("t"), nil))
	require.Equal(t, proto.ResponseAtom, resp.Type)

	// A noreply insert answers nothing; the barrier behind it waits for it.
	insert := rql.Table("t").Insert([]map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}})
	assert.Nil(t, submit(t, srv, id, 2, startFrame(t, 2, insert, map[string]interface{}{"noreply": true})))

	wait, err := proto.EncodeQuery(&proto.Query{Token: 3, Type: proto.QueryNoreplyWait}, 0)
	require.NoError(t, err)
	resp = submit(t, srv, id, 3, wait)
	require.Equal(t, proto.ResponseWaitComplete, resp.Type)

	resp = submit(t, srv, id, 4, startFrame(t, 4, rql.Table("t").Op(), nil))
	require.Equal(t, proto.ResponsePartial, resp.Type)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 1, srv.Stats().OpenCursors)

	cont, err := proto.EncodeQuery(&proto.Query{Token: 4, Type: proto.QueryContinue}, 0)
	require.NoError(t, err)
	resp = submit(t, srv, id, 5, cont)
	require.Equal(t, proto.ResponseSequence, resp.Type)
	require.Len(t, resp.Results, 1)
	got, _ := resp.Results[0].Get("id")
	assert.Equal(t, datum.Number(3), got)
	assert.Equal(t, 0, srv.Stats().OpenCursors)

	resp = submit(t, srv, id, 6, cont)
	assert.Equal(t, proto.ResponseClientError, resp.Type)

	resp = submit(t, srv, id, 7, startFrame(t, 7, rql.Value(1).Div(0).Op(), nil))
	require.Equal(t, proto.ResponseRuntimeError, resp.Type)
	assert.Equal(t, domain.CodeDivisionByZero, resp.Code)

	assert.Equal(t, float64(4), testutil.ToFloat64(srv.metrics.requests.WithLabelValues("START")))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.failures.WithLabelValues("RUNTIME_ERROR")))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.failures.WithLabelValues("CLIENT_ERROR")))
}

func TestSubmit_MalformedFrameKeepsOrder(t *testing.T) {
	srv := testServer(t)
	id, err := srv.OpenSession()
	require.NoError(t, err)

	bad, err := proto.EncodeFrame(9, []byte{0xc1}, 0)
	require.NoError(t, err)
	_, err = srv.Submit(context.Background(), id, 1, bad)
	assert.ErrorIs(t, err, proto.ErrMalformedFrame)

	resp := submit(t, srv, id, 2, startFrame(t, 2, rql.Value("ok").Op(), nil))
	require.Equal(t, proto.ResponseAtom, resp.Type)
	assert.Equal(t, []datum.Datum{datum.String("ok")}, resp.Results)
}

func TestSubmit_RequiresAuthentication(t *testing.T) {
	srv := testServer(t, WithAuthKey("secret"))
	id, err := srv.OpenSession()
	require.NoError(t, err)

	resp := submit(t, srv, id, 1, startFrame(t, 1, rql.Value(1).Op(), nil))
	assert.Equal(t, proto.ResponseClientError, resp.Type)

	auth, err := proto.EncodeQuery(&proto.Query{Token: 2, Type: proto.QueryAuth, Opts: map[string]interface{}{"auth_key": "secret"}}, 0)
	require.NoError(t, err)
	resp = submit(t, srv, id, 2, auth)
	require.Equal(t, proto.ResponseAtom, resp.Type)

	resp = submit(t, srv, id, 3, startFrame(t, 3, rql.Value(1).Op(), nil))
	assert.Equal(t, proto.ResponseAtom, resp.Type)
}

func TestServer_ReapsIdleSessions(t *testing.T) {
	srv := testServer(t)
	idle, err := srv.OpenSession()
	require.NoError(t, err)

	assert.Equal(t, 0, srv.reapIdle(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, srv.reapIdle(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, srv.Stats().Sessions)

	_, err = srv.Session(idle)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
