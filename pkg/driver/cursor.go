package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// CursorState is the lifecycle state of a Cursor.
type CursorState int

const (
	CursorPending CursorState = iota
	CursorBuffered
	CursorExhausted
	CursorClosed
	CursorErrored
)

func (s CursorState) String() string {
	switch s {
	case CursorPending:
		return "pending"
	case CursorBuffered:
		return "buffered"
	case CursorExhausted:
		return "exhausted"
	case CursorClosed:
		return "closed"
	case CursorErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cursor streams the results of one query. Batches are requested from the
// server only when the buffered ones are consumed.
//
// A Cursor is safe for concurrent use; concurrent Next calls receive distinct
// items in stream order.
type Cursor struct {
	fetchMu sync.Mutex

	mu       sync.Mutex
	sess     *session
	token    uint64
	buf      []datum.Datum
	more     bool
	state    CursorState
	err      error
	closed   chan struct{}
	inflight *waiter
}

func newCursor(sess *session, token uint64, first []datum.Datum, more bool) *Cursor {
	c := &Cursor{
		sess:   sess,
		token:  token,
		buf:    first,
		more:   more,
		closed: make(chan struct{}),
	}
	c.settle()
	return c
}

// NewArrayCursor returns a cursor over items that needs no server.
func NewArrayCursor(items []datum.Datum) *Cursor {
	buf := make([]datum.Datum, len(items))
	copy(buf, items)
	return newCursor(nil, 0, buf, false)
}

// settle derives the resting state from the buffer. Callers hold c.mu.
func (c *Cursor) settle() {
	switch {
	case len(c.buf) > 0:
		c.state = CursorBuffered
	case c.more:
		c.state = CursorPending
	default:
		c.state = CursorExhausted
	}
}

// State reports the current state.
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Next returns the next item. It fails with domain.ErrCursorExhausted once
// the stream has ended, domain.ErrCursorClosed after Close, and with a
// *domain.ConnectionError when the session the cursor belongs to is gone.
func (c *Cursor) Next(ctx context.Context) (datum.Datum, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	for {
		c.mu.Lock()
		switch c.state {
		case CursorClosed:
			c.mu.Unlock()
			return datum.Null(), domain.ErrCursorClosed
		case CursorErrored:
			err := c.err
			c.mu.Unlock()
			return datum.Null(), err
		}
		if c.sess != nil {
			if err := c.sess.closedErr(); err != nil {
				c.failLocked(sessionErr("next", err))
				err := c.err
				c.mu.Unlock()
				return datum.Null(), err
			}
		}
		if len(c.buf) > 0 {
			item := c.buf[0]
			c.buf = c.buf[1:]
			c.settle()
			c.mu.Unlock()
			return item, nil
		}
		if !c.more {
			c.state = CursorExhausted
			c.mu.Unlock()
			return datum.Null(), domain.ErrCursorExhausted
		}
		c.mu.Unlock()

		if err := c.fetch(ctx); err != nil {
			return datum.Null(), err
		}
	}
}

// fetch requests the next batch, or resumes waiting for one requested by an
// earlier fetch that was interrupted by its context.
func (c *Cursor) fetch(ctx context.Context) error {
	c.mu.Lock()
	w := c.inflight
	if w == nil {
		var err error
		w, err = c.sess.send(ctx, &proto.Query{Type: proto.QueryContinue, Token: c.token}, true)
		if err != nil {
			if ctx.Err() == nil {
				c.failLocked(sessionErr("next", err))
			}
			c.mu.Unlock()
			return err
		}
		c.inflight = w
	}
	c.mu.Unlock()

	var resp *proto.Response
	select {
	case resp = <-w.ch:
	case <-c.closed:
		return domain.ErrCursorClosed
	case <-c.sess.done:
		select {
		case resp = <-w.ch:
		default:
			c.mu.Lock()
			c.failLocked(sessionErr("next", c.sess.err))
			err := c.err
			c.mu.Unlock()
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = nil
	if c.state == CursorClosed {
		return domain.ErrCursorClosed
	}

	switch resp.Type {
	case proto.ResponsePartial, proto.ResponseSequence:
		c.sess.metrics.batch()
		c.buf = append(c.buf, resp.Results...)
		c.more = resp.Type == proto.ResponsePartial
		c.settle()
		return nil
	default:
		if err := resp.Err(); err != nil {
			c.failLocked(err)
			return err
		}
		err := &domain.ProtocolError{Msg: fmt.Sprintf("unexpected response type %d for cursor batch", resp.Type)}
		c.failLocked(err)
		return err
	}
}

// failLocked moves the cursor to Errored. The server stream is considered
// finished. Callers hold c.mu.
func (c *Cursor) failLocked(err error) {
	if c.state == CursorClosed {
		return
	}
	c.state = CursorErrored
	c.err = err
	c.buf = nil
	c.more = false
}

// Close releases the cursor. It is idempotent. A STOP notice is sent when
// the server still holds batches for it, and a pending Next fails with
// domain.ErrCursorClosed.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.state == CursorClosed {
		c.mu.Unlock()
		return nil
	}
	needStop := c.more && c.sess != nil
	c.state = CursorClosed
	c.buf = nil
	c.more = false
	close(c.closed)
	c.mu.Unlock()

	if needStop && c.sess.closedErr() == nil {
		c.sess.stop(c.token)
	}
	return nil
}

// Each calls visit for every item in order. Returning false from visit stops
// the iteration and closes the cursor.
func (c *Cursor) Each(ctx context.Context, visit func(datum.Datum) bool) error {
	for {
		item, err := c.Next(ctx)
		if errors.Is(err, domain.ErrCursorExhausted) {
			return nil
		}
		if err != nil {
			return err
		}
		if !visit(item) {
			return c.Close()
		}
	}
}

// ToArray drains the cursor. On error no partial result is returned.
func (c *Cursor) ToArray(ctx context.Context) ([]datum.Datum, error) {
	items := []datum.Datum{}
	for {
		item, err := c.Next(ctx)
		if errors.Is(err, domain.ErrCursorExhausted) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

// All drains the cursor into dst, a pointer to a slice.
func (c *Cursor) All(ctx context.Context, dst interface{}) error {
	items, err := c.ToArray(ctx)
	if err != nil {
		return err
	}
	if err := datum.NewArray(items...).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode cursor results: %w", err)
	}
	return nil
}

// NextAsync is Next delivered through a Future.
func (c *Cursor) NextAsync(ctx context.Context) *Future[datum.Datum] {
	return Go(ctx, c.Next)
}

// ToArrayAsync is ToArray delivered through a Future.
func (c *Cursor) ToArrayAsync(ctx context.Context) *Future[[]datum.Datum] {
	return Go(ctx, c.ToArray)
}
