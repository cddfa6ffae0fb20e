// Package server is the reference server: it evaluates queries against the
// in-memory storage engine and serves driver sessions over HTTP or in
// process.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adfharrison1/go-reql/pkg/api"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/eval"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

// Server holds the storage engine, the evaluator and the open sessions.
type Server struct {
	router    *mux.Router
	engine    *storage.StorageEngine
	evaluator *eval.Evaluator
	metrics   *metrics
	registry  *prometheus.Registry

	storageOptions       []storage.StorageOption
	authKey              string
	maxBatchRows         int
	cursorCacheSize      int
	compressionThreshold int
	sessionIdleTimeout   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stopChan     chan struct{}
	stopOnce     sync.Once
	backgroundWg sync.WaitGroup
}

var _ domain.SessionService = (*Server)(nil)

// NewServer creates a server. Index definitions recovered from disk are
// compiled by the evaluator.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		router:   mux.NewRouter(),
		sessions: make(map[string]*Session),
		stopChan: make(chan struct{}),
	}
	defaults(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	storageOptions := append([]storage.StorageOption{storage.WithIndexCompiler(eval.CompileIndex)}, s.storageOptions...)
	engine, err := storage.NewStorageEngine(storageOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s.engine = engine
	s.evaluator = eval.New(engine)
	s.metrics = newMetrics(s.registry)

	handler := api.NewHandler(s)
	handler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	// Use the logging middleware for all routes
	s.router.Use(requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("WARN: No route found for %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	})

	return s, nil
}

// requestLoggerMiddleware logs the method, URL path, and duration for each request.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)
		log.Printf("INFO: Request %s %s took %s", r.Method, r.URL.Path, elapsed)
	})
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Engine exposes the storage engine.
func (s *Server) Engine() *storage.StorageEngine {
	return s.engine
}

// StartBackgroundWorkers starts storage checkpoints and the idle session
// reaper.
func (s *Server) StartBackgroundWorkers() {
	s.engine.StartBackgroundWorkers()
	if s.sessionIdleTimeout <= 0 {
		return
	}

	interval := s.sessionIdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	s.backgroundWg.Add(1)
	go func() {
		defer s.backgroundWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := s.reapIdle(time.Now().Add(-s.sessionIdleTimeout)); n > 0 {
					log.Printf("INFO: closed %d idle sessions", n)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// reapIdle closes sessions last active before cutoff.
func (s *Server) reapIdle(cutoff time.Time) int {
	s.mu.Lock()
	var idle []*Session
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.Close()
		s.metrics.sessions.Dec()
	}
	return len(idle)
}

// OpenSession starts a new session and returns its id.
func (s *Server) OpenSession() (string, error) {
	sess, err := s.openSession()
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *Server) openSession() (*Session, error) {
	select {
	case <-s.stopChan:
		return nil, fmt.Errorf("server is shutting down")
	default:
	}
	sess := newSession(s, uuid.NewString())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.metrics.sessions.Inc()
	log.Printf("INFO: opened session %s", sess.ID)
	return sess, nil
}

// Session returns an open session.
func (s *Server) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Submit decodes and runs one request frame of a session. Noreply queries
// run in the background and return a nil reply.
func (s *Server) Submit(ctx context.Context, sessionID string, seq uint64, frame []byte) ([]byte, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	q, err := sess.accept(ctx, seq, frame)
	if err != nil {
		return nil, err
	}
	if q.Type == proto.QueryStart && isNoreply(q) {
		go sess.serve(context.Background(), seq, q)
		return nil, nil
	}
	return s.encode(sess.serve(ctx, seq, q))
}

func (s *Server) encode(resp *proto.Response) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	frame, err := proto.EncodeResponse(resp, s.compressionThreshold)
	if err != nil {
		log.Printf("ERROR: failed to encode response for token %d: %v", resp.Token, err)
		return nil, err
	}
	return frame, nil
}

// CloseSession closes a session, interrupting its running queries.
func (s *Server) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	sess.Close()
	s.metrics.sessions.Dec()
	log.Printf("INFO: closed session %s", id)
	return nil
}

// Stats reports session and storage counters.
func (s *Server) Stats() domain.ServerStats {
	s.mu.RLock()
	stats := domain.ServerStats{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		stats.OpenCursors += sess.cursors.len()
	}
	s.mu.RUnlock()

	storageStats := s.engine.GetStats()
	stats.Databases = len(s.engine.ListDBs())
	stats.Persistent = s.engine.Persistent()
	stats.MutationsApplied = storageStats.MutationsApplied
	stats.CheckpointsPerformed = storageStats.CheckpointsPerformed
	stats.LastCheckpoint = storageStats.LastCheckpoint
	return stats
}

// Close closes every session, stops background work and closes storage.
func (s *Server) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.backgroundWg.Wait()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
		s.metrics.sessions.Dec()
	}

	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
