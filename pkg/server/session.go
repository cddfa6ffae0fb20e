package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/eval"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// Session is the server side of one driver session. Requests are admitted
// in the order the driver dispatched them and then run concurrently.
type Session struct {
	ID      string
	srv     *Server
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	authenticated atomic.Bool
	cursors       *cursorCache
	lastActive    atomic.Int64

	mu       sync.Mutex
	cond     *sync.Cond
	nextSeq  uint64
	closed   bool
	noreply  map[uint64]struct{} // admission positions of running noreply queries
	inFlight sync.WaitGroup
}

func newSession(srv *Server, id string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      id,
		srv:     srv,
		created: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		nextSeq: 1,
		noreply: make(map[uint64]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.cursors = newCursorCache(srv.cursorCacheSize, func(c *openCursor) {
		log.Printf("WARN: session %s evicted cursor %d with %d rows undelivered", s.ID, c.token, len(c.rest))
		srv.metrics.cursorEvicted()
	})
	if srv.authKey == "" {
		s.authenticated.Store(true)
	}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive reports when the session last received a request.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// accept decodes frame and admits it at position seq. A frame that cannot
// be decoded still takes its position so later requests are not held up.
func (s *Session) accept(ctx context.Context, seq uint64, frame []byte) (*proto.Query, error) {
	q, decodeErr := proto.DecodeQuery(frame)
	if err := s.admit(ctx, seq, q); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		s.inFlight.Done()
		return nil, decodeErr
	}
	return q, nil
}

// admit blocks until every request dispatched before position seq has been
// admitted. Noreply queries are registered so a later NOREPLY_WAIT can wait
// for them.
func (s *Session) admit(ctx context.Context, seq uint64, q *proto.Query) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.nextSeq != seq {
		if seq < s.nextSeq {
			return fmt.Errorf("request position %d was already admitted", seq)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.nextSeq++
	if q != nil && q.Type == proto.QueryStart && isNoreply(q) {
		s.noreply[seq] = struct{}{}
	}
	s.inFlight.Add(1)
	s.cond.Broadcast()
	s.touch()
	return nil
}

// serve runs an admitted request. It returns nil for noreply queries. The
// request is interrupted when ctx ends or the session closes.
func (s *Session) serve(ctx context.Context, seq uint64, q *proto.Query) *proto.Response {
	defer s.inFlight.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	start := time.Now()
	resp := s.handle(ctx, seq, q)
	s.srv.metrics.observe(q.Type, resp, time.Since(start))
	s.touch()

	if q.Type == proto.QueryStart && isNoreply(q) {
		if resp != nil && resp.Type.IsError() {
			log.Printf("WARN: session %s noreply query %d failed: %s", s.ID, q.Token, resp.ErrorMessage())
		}
		s.mu.Lock()
		delete(s.noreply, seq)
		s.cond.Broadcast()
		s.mu.Unlock()
		return nil
	}
	return resp
}

func isNoreply(q *proto.Query) bool {
	return q.BoolOpt("noreply")
}

func (s *Session) handle(ctx context.Context, seq uint64, q *proto.Query) *proto.Response {
	switch q.Type {
	case proto.QueryAuth:
		return s.handleAuth(q)
	}
	if !s.authenticated.Load() {
		return clientError(q.Token, "session is not authenticated")
	}

	switch q.Type {
	case proto.QueryStart:
		return s.handleStart(ctx, q)
	case proto.QueryContinue:
		batch, more, ok := s.cursors.advance(q.Token)
		if !ok {
			return clientError(q.Token, fmt.Sprintf("token %d has no open cursor", q.Token))
		}
		resp := &proto.Response{Token: q.Token, Type: proto.ResponseSequence, Results: batch}
		if more {
			resp.Type = proto.ResponsePartial
		}
		return resp
	case proto.QueryStop:
		s.cursors.remove(q.Token)
		return &proto.Response{Token: q.Token, Type: proto.ResponseSequence}
	case proto.QueryNoreplyWait:
		if err := s.waitNoreply(ctx, seq); err != nil {
			return clientError(q.Token, err.Error())
		}
		return &proto.Response{Token: q.Token, Type: proto.ResponseWaitComplete}
	default:
		return clientError(q.Token, fmt.Sprintf("unknown query type %d", q.Type))
	}
}

func (s *Session) handleAuth(q *proto.Query) *proto.Response {
	key, _ := q.StringOpt("auth_key")
	if key != s.srv.authKey {
		log.Printf("WARN: session %s failed authentication", s.ID)
		return clientError(q.Token, "incorrect authorization key")
	}
	s.authenticated.Store(true)
	return &proto.Response{Token: q.Token, Type: proto.ResponseAtom, Results: []datum.Datum{datum.Bool(true)}}
}

func (s *Session) handleStart(ctx context.Context, q *proto.Query) *proto.Response {
	opts := eval.RunOptions{}
	opts.DB, _ = q.StringOpt("db")
	opts.Durability, _ = q.StringOpt("durability")
	opts.ReadMode, _ = q.StringOpt("read_mode")

	res, err := s.srv.evaluator.Run(ctx, q.Term, opts)
	if err != nil {
		return errorResponse(q.Token, err)
	}
	if !res.IsSeq {
		return &proto.Response{Token: q.Token, Type: proto.ResponseAtom, Results: []datum.Datum{res.Value}}
	}

	if isNoreply(q) {
		// Nobody will read further batches.
		return &proto.Response{Token: q.Token, Type: proto.ResponseSequence}
	}

	batch := s.srv.maxBatchRows
	if n, ok := q.IntOpt("max_batch_rows"); ok && n > 0 {
		batch = n
	}
	return s.firstBatch(&openCursor{token: q.Token, rest: res.Stream, batchSize: batch})
}

// firstBatch delivers the first batch of c and caches the rest.
func (s *Session) firstBatch(c *openCursor) *proto.Response {
	if len(c.rest) <= c.batchSize {
		return &proto.Response{Token: c.token, Type: proto.ResponseSequence, Results: c.rest}
	}
	resp := &proto.Response{Token: c.token, Type: proto.ResponsePartial, Results: c.rest[:c.batchSize]}
	c.rest = c.rest[c.batchSize:]
	s.cursors.put(c)
	return resp
}

// waitNoreply waits until every noreply query admitted before position mark
// has finished.
func (s *Session) waitNoreply(ctx context.Context, mark uint64) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pendingBefore(mark) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

func (s *Session) pendingBefore(mark uint64) bool {
	for seq := range s.noreply {
		if seq < mark {
			return true
		}
	}
	return false
}

// Close cancels running queries, drops open cursors and rejects further
// requests. It waits for admitted requests to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.inFlight.Wait()
	if n := s.cursors.clear(); n > 0 {
		log.Printf("INFO: session %s closed with %d open cursors", s.ID, n)
	}
}

func clientError(token uint64, msg string) *proto.Response {
	return proto.NewErrorResponse(token, proto.ResponseClientError, domain.CodeUnknown, msg)
}

// errorResponse maps an evaluation error onto a response. Compile errors are
// reported as such; everything else is a runtime error with its code.
func errorResponse(token uint64, err error) *proto.Response {
	var qe *domain.QueryError
	if errors.As(err, &qe) {
		if qe.Code == domain.CodeCompile {
			return proto.NewErrorResponse(token, proto.ResponseCompileError, qe.Code, qe.Msg)
		}
		return proto.NewErrorResponse(token, proto.ResponseRuntimeError, qe.Code, qe.Msg)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return proto.NewErrorResponse(token, proto.ResponseRuntimeError, domain.CodeOpFailed, "query interrupted: "+err.Error())
	}
	return proto.NewErrorResponse(token, proto.ResponseRuntimeError, domain.CodeOpFailed, err.Error())
}
