package driver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
)

// waiter receives the single response answering one request.
type waiter struct {
	token uint64
	ch    chan *proto.Response
}

// session multiplexes requests from many goroutines over one transport.
// Requests are written in call order; responses are routed back by token,
// first-in first-out per token.
type session struct {
	tr        domain.Transport
	tokens    *atomic.Uint64
	threshold int
	logger    *log.Logger
	metrics   *Metrics

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64][]*waiter

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	failOnce sync.Once
}

func newSession(tr domain.Transport, tokens *atomic.Uint64, threshold int, logger *log.Logger, metrics *Metrics) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		tr:        tr,
		tokens:    tokens,
		threshold: threshold,
		logger:    logger,
		metrics:   metrics,
		pending:   make(map[uint64][]*waiter),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// send writes q. A zero q.Token is replaced by a freshly allocated token
// while the write lock is held, so token order matches dispatch order. When
// expectReply is set the returned waiter receives the response.
func (s *session) send(ctx context.Context, q *proto.Query, expectReply bool) (*waiter, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.closedErr(); err != nil {
		return nil, err
	}
	if q.Token == 0 {
		q.Token = s.tokens.Add(1)
	}
	frame, err := proto.EncodeQuery(q, s.threshold)
	if err != nil {
		return nil, &domain.ProtocolError{Msg: "failed to encode query", Err: err}
	}

	var w *waiter
	if expectReply {
		w = &waiter{token: q.Token, ch: make(chan *proto.Response, 1)}
		s.mu.Lock()
		s.pending[q.Token] = append(s.pending[q.Token], w)
		s.mu.Unlock()
		s.metrics.inFlight(1)
	}

	if err := s.tr.Send(ctx, frame); err != nil {
		if w != nil {
			s.forget(w)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		connErr := &domain.ConnectionError{Op: "send", Err: err}
		s.fail(connErr)
		return nil, connErr
	}
	s.metrics.query(q.Type)
	return w, nil
}

// await blocks until w is answered, the session fails or ctx ends. On ctx
// expiry w stays registered so a later await can still collect the reply.
func (s *session) await(ctx context.Context, w *waiter) (*proto.Response, error) {
	select {
	case resp := <-w.ch:
		return resp, nil
	case <-s.done:
		select {
		case resp := <-w.ch:
			return resp, nil
		default:
			return nil, s.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// roundTrip sends q and waits for its response.
func (s *session) roundTrip(ctx context.Context, q *proto.Query) (*proto.Response, error) {
	w, err := s.send(ctx, q, true)
	if err != nil {
		return nil, err
	}
	resp, err := s.await(ctx, w)
	if err != nil && ctx.Err() != nil {
		s.abandon(w)
	}
	return resp, err
}

// abandon collects the reply of a request nobody waits for any more. A
// partial sequence is stopped so the server does not keep the cursor open.
func (s *session) abandon(w *waiter) {
	go func() {
		select {
		case resp := <-w.ch:
			if resp.Type == proto.ResponsePartial {
				s.stop(w.token)
			}
		case <-s.done:
		}
	}()
}

// stop tells the server to drop the stream behind token. The reply carries
// nothing and is discarded.
func (s *session) stop(token uint64) {
	if _, err := s.send(context.Background(), &proto.Query{Type: proto.QueryStop, Token: token}, true); err != nil {
		s.logger.Printf("WARN: failed to send STOP for token %d: %v", token, err)
		return
	}
	s.metrics.stop()
}

func (s *session) readLoop() {
	for {
		frame, err := s.tr.Recv(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Printf("ERROR: transport receive failed: %v", err)
			}
			s.fail(&domain.ConnectionError{Op: "recv", Err: err})
			return
		}
		resp, err := proto.DecodeResponse(frame)
		if err != nil {
			s.logger.Printf("ERROR: dropping session after malformed response: %v", err)
			s.fail(&domain.ProtocolError{Msg: "malformed response frame", Err: err})
			return
		}
		s.dispatch(resp)
	}
}

func (s *session) dispatch(resp *proto.Response) {
	s.mu.Lock()
	queue := s.pending[resp.Token]
	if len(queue) == 0 {
		s.mu.Unlock()
		s.logger.Printf("WARN: dropping response of type %d for unknown token %d", resp.Type, resp.Token)
		return
	}
	w := queue[0]
	if len(queue) == 1 {
		delete(s.pending, resp.Token)
	} else {
		s.pending[resp.Token] = queue[1:]
	}
	s.mu.Unlock()

	s.metrics.inFlight(-1)
	w.ch <- resp
}

func (s *session) forget(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.pending[w.token]
	for i, q := range queue {
		if q == w {
			queue = append(queue[:i:i], queue[i+1:]...)
			s.metrics.inFlight(-1)
			break
		}
	}
	if len(queue) == 0 {
		delete(s.pending, w.token)
	} else {
		s.pending[w.token] = queue
	}
}

// fail tears the session down once. Every pending and future request then
// fails with err.
func (s *session) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.done)
		s.cancel()
		if cerr := s.tr.Close(); cerr != nil {
			s.logger.Printf("WARN: failed to close transport: %v", cerr)
		}

		s.mu.Lock()
		n := 0
		for _, queue := range s.pending {
			n += len(queue)
		}
		s.pending = make(map[uint64][]*waiter)
		s.mu.Unlock()
		s.metrics.inFlight(-float64(n))
	})
}

func (s *session) close() {
	s.fail(&domain.ConnectionError{Op: "close", Err: domain.ErrConnectionClosed})
}

func (s *session) closedErr() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// sessionErr wraps err for an operation on a session that is gone.
func sessionErr(op string, err error) error {
	var connErr *domain.ConnectionError
	if errors.As(err, &connErr) {
		return &domain.ConnectionError{Op: op, Err: connErr.Err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
