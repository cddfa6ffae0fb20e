package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/transport"
)

// HandleOpenSession handles POST requests that start a session
func (h *Handler) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.OpenSession()
	if err != nil {
		log.Printf("ERROR: Opening session failed: %v", err)
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transport.SessionInfo{SessionID: id})
}

// HandleCloseSession handles DELETE requests that end a session
func (h *Handler) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessions.CloseSession(id); err != nil {
		log.Printf("WARN: Closing session '%s' failed: %v", id, err)
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleQuery handles POST requests carrying one request frame. The body of
// the reply is the response frame, or empty with 204 when the request
// expects no reply.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	seq, err := strconv.ParseUint(r.Header.Get(transport.HeaderRequestSeq), 10, 64)
	if err != nil || seq == 0 {
		WriteJSONError(w, http.StatusBadRequest, "missing or invalid "+transport.HeaderRequestSeq+" header")
		return
	}

	frame, err := proto.ReadFrame(r.Body)
	if err != nil {
		log.Printf("ERROR: Reading frame for session '%s' failed: %v", id, err)
		WriteJSONError(w, http.StatusBadRequest, "invalid request frame")
		return
	}

	reply, err := h.sessions.Submit(r.Context(), id, seq, frame)
	if err != nil {
		log.Printf("ERROR: Request %d of session '%s' failed: %v", seq, id, err)
		writeSessionError(w, err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", transport.ContentTypeFrame)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply); err != nil {
		log.Printf("WARN: Writing reply for session '%s' failed: %v", id, err)
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionClosed):
		WriteJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, proto.ErrMalformedFrame):
		WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
