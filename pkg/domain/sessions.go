package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// SessionService is what a network endpoint needs from a server: sessions
// that accept request frames and produce response frames.
type SessionService interface {
	OpenSession() (string, error)
	// Submit runs the request frame at admission position seq of the
	// session. A nil reply means the request expects none.
	Submit(ctx context.Context, sessionID string, seq uint64, frame []byte) ([]byte, error)
	CloseSession(sessionID string) error
	Stats() ServerStats
}

// ServerStats is the health snapshot of a server.
type ServerStats struct {
	Sessions             int       `json:"sessions"`
	OpenCursors          int       `json:"open_cursors"`
	Databases            int       `json:"databases"`
	Persistent           bool      `json:"persistent"`
	MutationsApplied     int64     `json:"mutations_applied"`
	CheckpointsPerformed int64     `json:"checkpoints_performed"`
	LastCheckpoint       time.Time `json:"last_checkpoint"`
}
