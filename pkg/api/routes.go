package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Session lifecycle
	router.HandleFunc("/sessions", h.HandleOpenSession).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.HandleCloseSession).Methods("DELETE")

	// One request frame per POST
	router.HandleFunc("/sessions/{id}/query", h.HandleQuery).Methods("POST")

	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
}
