// Package api exposes driver sessions over HTTP.
package api

import (
	"github.com/adfharrison1/go-reql/pkg/domain"
)

// Handler provides HTTP handlers for the session API
type Handler struct {
	sessions domain.SessionService
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(sessions domain.SessionService) *Handler {
	return &Handler{
		sessions: sessions,
	}
}
