package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-reql/pkg/proto"
)

// fakeServer echoes every query frame back unless its token is odd, in which
// case it answers 204 like a noreply query.
type fakeServer struct {
	mu      sync.Mutex
	seqs    []uint64
	deletes atomic.Int32
	status  int
}

func (f *fakeServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SessionInfo{SessionID: "abc"})
	}).Methods("POST")
	r.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deletes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/query", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			http.Error(w, "boom", f.status)
			return
		}
		seq, _ := strconv.ParseUint(r.Header.Get(HeaderRequestSeq), 10, 64)
		f.mu.Lock()
		f.seqs = append(f.seqs, seq)
		f.mu.Unlock()

		frame, _ := io.ReadAll(r.Body)
		token, _ := proto.PeekToken(frame)
		if token%2 == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", ContentTypeFrame)
		w.Write(frame)
	}).Methods("POST")
	return r
}

func dial(t *testing.T, f *fakeServer) *HTTPTransport {
	t.Helper()
	ts := httptest.NewServer(f.router())
	t.Cleanup(ts.Close)
	tr, err := NewHTTPDialer(ts.Client()).Dial(context.Background(), ts.URL)
	require.NoError(t, err)
	return tr.(*HTTPTransport)
}

func frame(t *testing.T, token uint64) []byte {
	t.Helper()
	f, err := proto.EncodeFrame(token, []byte{0x90}, 0)
	require.NoError(t, err)
	return f
}

func TestHTTPTransport_SendRecv(t *testing.T) {
	f := &fakeServer{}
	tr := dial(t, f)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Send(ctx, frame(t, 1)))
	require.NoError(t, tr.Send(ctx, frame(t, 2)))

	reply, err := tr.Recv(ctx)
	require.NoError(t, err)
	token, ok := proto.PeekToken(reply)
	require.True(t, ok)
	assert.Equal(t, uint64(2), token)

	// The noreply request produced nothing.
	short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
	defer stop()
	_, err = tr.Recv(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.mu.Lock()
	assert.ElementsMatch(t, []uint64{1, 2}, f.seqs)
	f.mu.Unlock()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, int32(1), f.deletes.Load())
	assert.ErrorIs(t, tr.Send(ctx, frame(t, 4)), ErrTransportClosed)
	_, err = tr.Recv(ctx)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestHTTPTransport_ServerErrorFailsTransport(t *testing.T) {
	f := &fakeServer{status: http.StatusInternalServerError}
	tr := dial(t, f)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Send(ctx, frame(t, 2)))
	_, err := tr.Recv(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	assert.Error(t, tr.Send(ctx, frame(t, 4)))
}

func TestHTTPDialer_Failures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewHTTPDialer(nil).Dial(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer empty.Close()
	_, err = NewHTTPDialer(nil).Dial(context.Background(), empty.URL)
	assert.Error(t, err)
}
