// Package transport provides domain.Transport implementations.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

const (
	// HeaderRequestSeq carries the dispatch position of a request within its
	// session. The server admits requests in this order.
	HeaderRequestSeq = "X-Request-Seq"

	// ContentTypeFrame is the media type of request and response bodies.
	ContentTypeFrame = "application/x-reql-frame"

	recvBuffer = 64
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// SessionInfo is the body returned when a session is opened.
type SessionInfo struct {
	SessionID string `json:"session_id"`
}

// HTTPDialer opens sessions against the reference server's HTTP API.
type HTTPDialer struct {
	client *http.Client
}

// NewHTTPDialer returns a dialer using client, or a default client when nil.
func NewHTTPDialer(client *http.Client) *HTTPDialer {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &HTTPDialer{client: client}
}

// Dial opens a session at addr, which is host:port or a base URL.
func (d *HTTPDialer) Dial(ctx context.Context, addr string) (domain.Transport, error) {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to open session: server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if info.SessionID == "" {
		return nil, errors.New("failed to open session: empty session id")
	}

	tctx, cancel := context.WithCancel(context.Background())
	return &HTTPTransport{
		client:     d.client,
		sessionURL: base + "/sessions/" + info.SessionID,
		recv:       make(chan []byte, recvBuffer),
		failed:     make(chan struct{}),
		ctx:        tctx,
		cancel:     cancel,
	}, nil
}

// HTTPTransport carries each request frame in its own POST. Requests are
// issued concurrently and the response frame, if any, comes back in the
// response body.
type HTTPTransport struct {
	client     *http.Client
	sessionURL string
	seq        atomic.Uint64

	recv   chan []byte
	failed chan struct{}
	err    error
	once   sync.Once
	closed atomic.Bool
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Send posts frame without waiting for the reply.
func (t *HTTPTransport) Send(ctx context.Context, frame []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	select {
	case <-t.failed:
		return t.err
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seq := t.seq.Add(1)
	body := make([]byte, len(frame))
	copy(body, frame)

	t.wg.Add(1)
	go t.post(seq, body)
	return nil
}

func (t *HTTPTransport) post(seq uint64, frame []byte) {
	defer t.wg.Done()

	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.sessionURL+"/query", bytes.NewReader(frame))
	if err != nil {
		t.fail(fmt.Errorf("failed to build query request: %w", err))
		return
	}
	req.Header.Set("Content-Type", ContentTypeFrame)
	req.Header.Set(HeaderRequestSeq, strconv.FormatUint(seq, 10))

	resp, err := t.client.Do(req)
	if err != nil {
		t.fail(fmt.Errorf("query request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return
	case http.StatusOK:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		t.fail(fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg))))
		return
	}

	reply, err := proto.ReadFrame(resp.Body)
	if err != nil {
		t.fail(fmt.Errorf("failed to read response frame: %w", err))
		return
	}
	select {
	case t.recv <- reply:
	case <-t.ctx.Done():
	}
}

// Recv returns the next response frame.
func (t *HTTPTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.recv:
		return frame, nil
	case <-t.failed:
		return nil, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPTransport) fail(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.failed)
		t.cancel()
	})
}

// Close aborts outstanding requests and ends the server session. Only the
// first call has an effect.
func (t *HTTPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.sendMu.Lock()
	t.fail(ErrTransportClosed)
	t.sendMu.Unlock()
	t.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.sessionURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build close request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to close session: server returned %s", resp.Status)
	}
	return nil
}
