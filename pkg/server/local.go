package server

import (
	"context"
	"log"
	"sync"

	"github.com/adfharrison1/go-reql/pkg/domain"
)

// recvBuffer is how many response frames a local transport holds before
// request goroutines wait for the driver to read.
const recvBuffer = 64

// NewLocalDialer returns a dialer whose transports open a session on srv in
// process. The address is ignored.
func NewLocalDialer(srv *Server) domain.Dialer {
	return domain.DialerFunc(func(ctx context.Context, addr string) (domain.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := srv.openSession()
		if err != nil {
			return nil, err
		}
		return &LocalTransport{
			srv:  srv,
			sess: sess,
			recv: make(chan []byte, recvBuffer),
			done: make(chan struct{}),
		}, nil
	})
}

// LocalTransport connects a driver session directly to a server session.
type LocalTransport struct {
	srv  *Server
	sess *Session

	mu  sync.Mutex
	seq uint64

	recv      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Send admits frame and runs it in the background.
func (t *LocalTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return domain.ErrConnectionClosed
	case <-t.sess.ctx.Done():
		return domain.ErrSessionClosed
	default:
	}

	t.seq++
	seq := t.seq
	q, err := t.sess.accept(ctx, seq, frame)
	if err != nil {
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		reply, err := t.srv.encode(t.sess.serve(context.Background(), seq, q))
		if err != nil || reply == nil {
			return
		}
		select {
		case t.recv <- reply:
		case <-t.done:
		}
	}()
	return nil
}

// Recv returns the next response frame. It fails once the server closes the
// session.
func (t *LocalTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.recv:
		return frame, nil
	case <-t.done:
		return nil, domain.ErrConnectionClosed
	case <-t.sess.ctx.Done():
		return nil, domain.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the server session. Only the first call has an effect.
func (t *LocalTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if err := t.srv.CloseSession(t.sess.ID); err != nil {
			log.Printf("WARN: local transport close: %v", err)
		}
		t.wg.Wait()
	})
	return nil
}
