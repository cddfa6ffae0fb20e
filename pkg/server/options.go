package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

const (
	DefaultMaxBatchRows       = 100
	DefaultCursorCacheSize    = 64
	DefaultSessionIdleTimeout = 10 * time.Minute
)

// Option configures a Server.
type Option func(*Server)

// WithStorageOptions passes options through to the storage engine.
func WithStorageOptions(opts ...storage.StorageOption) Option {
	return func(s *Server) {
		s.storageOptions = append(s.storageOptions, opts...)
	}
}

// WithAuthKey requires sessions to authenticate with key before running
// queries.
func WithAuthKey(key string) Option {
	return func(s *Server) {
		s.authKey = key
	}
}

// WithMaxBatchRows sets how many rows a sequence response carries when the
// query does not ask for a batch size.
func WithMaxBatchRows(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatchRows = n
		}
	}
}

// WithCursorCacheSize sets how many open cursors a session keeps before
// evicting the least recently used one.
func WithCursorCacheSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.cursorCacheSize = n
		}
	}
}

// WithCompressionThreshold sets the payload size above which response frames
// are compressed.
func WithCompressionThreshold(n int) Option {
	return func(s *Server) {
		s.compressionThreshold = n
	}
}

// WithSessionIdleTimeout closes sessions that have seen no request for d.
// Zero disables the reaper.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.sessionIdleTimeout = d
	}
}

// WithRegistry registers the server's collectors with reg and serves it on
// /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

func defaults(s *Server) {
	s.maxBatchRows = DefaultMaxBatchRows
	s.cursorCacheSize = DefaultCursorCacheSize
	s.compressionThreshold = proto.DefaultCompressionThreshold
	s.sessionIdleTimeout = DefaultSessionIdleTimeout
}
