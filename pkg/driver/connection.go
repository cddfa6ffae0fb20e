// Package driver runs query trees against a server: connection lifecycle,
// request multiplexing over a transport, streamed cursors and futures.
package driver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/transport"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection owns one session with a server at a time. Queries, cursors and
// the noreply barrier all share that session.
type Connection struct {
	opts   ConnectOpts
	logger *log.Logger

	// tokens is never reset, so tokens stay unique across reconnects.
	tokens atomic.Uint64

	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	sess     *session
	state    State
	db       string
	watchers map[int]func(from, to State)
	nextID   int
}

// Connect dials the server and performs the handshake.
func Connect(ctx context.Context, opts ConnectOpts) (*Connection, error) {
	opts = opts.withDefaults()
	if opts.Dialer == nil {
		opts.Dialer = transport.NewHTTPDialer(nil)
	}
	c := &Connection{
		opts:     opts,
		logger:   opts.Logger,
		db:       opts.Database,
		state:    StateClosed,
		watchers: make(map[int]func(from, to State)),
	}
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) open(ctx context.Context) error {
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	tr, err := c.opts.Dialer.Dial(ctx, c.opts.Addr())
	if err != nil {
		c.setState(StateClosed)
		return &domain.ConnectionError{Op: "dial", Err: err}
	}
	sess := newSession(tr, &c.tokens, c.opts.CompressionThreshold, c.logger, c.opts.Metrics)

	var authOpts map[string]interface{}
	if c.opts.AuthKey != "" {
		authOpts = map[string]interface{}{"auth_key": c.opts.AuthKey}
	}
	resp, err := sess.roundTrip(ctx, &proto.Query{Type: proto.QueryAuth, Opts: authOpts})
	if err == nil {
		err = resp.Err()
		if err == nil && resp.Type != proto.ResponseAtom {
			err = &domain.ProtocolError{Msg: fmt.Sprintf("unexpected handshake response type %d", resp.Type)}
		}
	}
	if err != nil {
		sess.close()
		c.setState(StateClosed)
		c.logger.Printf("ERROR: handshake with %s failed: %v", c.opts.Addr(), err)
		return &domain.ConnectionError{Op: "handshake", Err: err}
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.setState(StateOpen)
	c.logger.Printf("INFO: connected to %s (db %q)", c.opts.Addr(), c.Database())
	return nil
}

// State reports the lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Watch registers fn for state transitions and returns a function that
// unregisters it. fn runs synchronously on the goroutine that changed the
// state and must not call back into the Connection's lifecycle methods.
func (c *Connection) Watch(fn func(from, to State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	fns := make([]func(from, to State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	if from == to {
		return
	}
	for _, fn := range fns {
		fn(from, to)
	}
}

// Use changes the default database for subsequent queries.
func (c *Connection) Use(db string) {
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
}

// Database returns the default database.
func (c *Connection) Database() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *Connection) current(op string) (*session, string, error) {
	if c == nil {
		return nil, "", &domain.ConnectionError{Op: op, Err: domain.ErrConnectionClosed}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen || c.sess == nil {
		return nil, "", &domain.ConnectionError{Op: op, Err: fmt.Errorf("connection is %s: %w", c.state, domain.ErrConnectionClosed)}
	}
	return c.sess, c.db, nil
}

// Query dispatches term and waits for the first response. An atom yields a
// value Result, a stream yields a cursor Result without waiting for later
// batches. With the "noreply" option set Query returns a nil Result as soon
// as the request is written.
func (c *Connection) Query(ctx context.Context, term *proto.Term, opts map[string]interface{}) (*Result, error) {
	sess, db, err := c.current("run")
	if err != nil {
		if c != nil {
			c.opts.Metrics.failure("connection")
		}
		return nil, err
	}

	runOpts := make(map[string]interface{}, len(opts)+1)
	for k, v := range opts {
		runOpts[k] = v
	}
	if _, ok := runOpts["db"]; !ok && db != "" {
		runOpts["db"] = db
	}
	q := &proto.Query{Type: proto.QueryStart, Term: term, Opts: runOpts}

	if noreply, _ := runOpts["noreply"].(bool); noreply {
		if _, err := sess.send(ctx, q, false); err != nil {
			c.opts.Metrics.failure("connection")
			return nil, err
		}
		return nil, nil
	}

	resp, err := sess.roundTrip(ctx, q)
	if err != nil {
		c.opts.Metrics.failure("connection")
		return nil, err
	}

	switch resp.Type {
	case proto.ResponseAtom:
		v := datum.Null()
		if len(resp.Results) > 0 {
			v = resp.Results[0]
		}
		return NewAtomResult(v), nil
	case proto.ResponseSequence, proto.ResponsePartial:
		c.opts.Metrics.batch()
		return &Result{cursor: newCursor(sess, q.Token, resp.Results, resp.Type == proto.ResponsePartial)}, nil
	case proto.ResponseClientError:
		c.opts.Metrics.failure("protocol")
		return nil, resp.Err()
	case proto.ResponseCompileError, proto.ResponseRuntimeError:
		c.opts.Metrics.failure("query")
		return nil, resp.Err()
	default:
		c.opts.Metrics.failure("protocol")
		return nil, &domain.ProtocolError{Msg: fmt.Sprintf("unexpected response type %d to START", resp.Type)}
	}
}

// NoreplyWait blocks until the server has finished every noreply query
// dispatched on this connection before the call.
func (c *Connection) NoreplyWait(ctx context.Context) error {
	sess, _, err := c.current("noreply_wait")
	if err != nil {
		return err
	}
	return noreplyWait(ctx, sess)
}

func noreplyWait(ctx context.Context, sess *session) error {
	resp, err := sess.roundTrip(ctx, &proto.Query{Type: proto.QueryNoreplyWait})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if resp.Type != proto.ResponseWaitComplete {
		return &domain.ProtocolError{Msg: fmt.Sprintf("unexpected response type %d to NOREPLY_WAIT", resp.Type)}
	}
	return nil
}

// Close ends the session. Cursors created under it fail on their next read.
// Closing an already closed connection is a no-op.
func (c *Connection) Close(ctx context.Context, opts ...CloseOpts) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.closeLocked(ctx, mergeCloseOpts(opts))
}

func (c *Connection) closeLocked(ctx context.Context, opts CloseOpts) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		c.setState(StateClosed)
		return nil
	}

	var err error
	if opts.NoreplyWait {
		if err = noreplyWait(ctx, sess); err != nil {
			c.logger.Printf("WARN: noreply wait before close failed: %v", err)
		}
	}
	sess.close()
	c.setState(StateClosed)
	c.logger.Printf("INFO: closed connection to %s", c.opts.Addr())
	return err
}

// Reconnect closes the current session and opens a new one with the same
// parameters.
func (c *Connection) Reconnect(ctx context.Context, opts ...CloseOpts) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if err := c.closeLocked(ctx, mergeCloseOpts(opts)); err != nil {
		return err
	}
	return c.open(ctx)
}

func mergeCloseOpts(opts []CloseOpts) CloseOpts {
	var merged CloseOpts
	for _, o := range opts {
		merged.NoreplyWait = merged.NoreplyWait || o.NoreplyWait
	}
	return merged
}
