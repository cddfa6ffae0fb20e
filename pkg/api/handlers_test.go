package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/transport"
)

func newTestRouter(sessions *MockSessionService) *mux.Router {
	router := mux.NewRouter()
	NewHandler(sessions).RegisterRoutes(router)
	return router
}

func continueFrame(t *testing.T, token uint64) []byte {
	t.Helper()
	frame, err := proto.EncodeQuery(&proto.Query{Token: token, Type: proto.QueryContinue}, proto.DefaultCompressionThreshold)
	require.NoError(t, err)
	return frame
}

func TestHandler_HandleOpenSession(t *testing.T) {
	sessions := NewMockSessionService()
	router := newTestRouter(sessions)

	req := httptest.NewRequest("POST", "/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var info transport.SessionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "session-1", info.SessionID)
	assert.Equal(t, 1, sessions.Stats().Sessions)
}

func TestHandler_HandleQuery(t *testing.T) {
	reply, err := proto.EncodeResponse(&proto.Response{Token: 7, Type: proto.ResponseSequence}, proto.DefaultCompressionThreshold)
	require.NoError(t, err)

	tests := []struct {
		name           string
		session        string
		seq            string
		body           []byte
		reply          []byte
		err            error
		expectedStatus int
		expectedCalls  int
	}{
		{
			name:           "reply frame",
			session:        "session-1",
			seq:            "1",
			body:           continueFrame(t, 7),
			reply:          reply,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
		},
		{
			name:           "noreply",
			session:        "session-1",
			seq:            "1",
			body:           continueFrame(t, 7),
			expectedStatus: http.StatusNoContent,
			expectedCalls:  1,
		},
		{
			name:           "missing sequence header",
			session:        "session-1",
			body:           continueFrame(t, 7),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "zero sequence",
			session:        "session-1",
			seq:            "0",
			body:           continueFrame(t, 7),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "truncated frame",
			session:        "session-1",
			seq:            "1",
			body:           []byte{1, 2, 3},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown session",
			session:        "nope",
			seq:            "1",
			body:           continueFrame(t, 7),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "closed session",
			session:        "session-1",
			seq:            "1",
			body:           continueFrame(t, 7),
			err:            domain.ErrSessionClosed,
			expectedStatus: http.StatusGone,
			expectedCalls:  1,
		},
		{
			name:           "internal failure",
			session:        "session-1",
			seq:            "1",
			body:           continueFrame(t, 7),
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := NewMockSessionService()
			sessions.Reply = tt.reply
			sessions.Err = tt.err
			_, err := sessions.OpenSession()
			require.NoError(t, err)
			router := newTestRouter(sessions)

			req := httptest.NewRequest("POST", "/sessions/"+tt.session+"/query", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", transport.ContentTypeFrame)
			if tt.seq != "" {
				req.Header.Set(transport.HeaderRequestSeq, tt.seq)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Len(t, sessions.GetSubmitCalls(), tt.expectedCalls)

			switch w.Code {
			case http.StatusOK:
				assert.Equal(t, transport.ContentTypeFrame, w.Header().Get("Content-Type"))
				resp, err := proto.DecodeResponse(w.Body.Bytes())
				require.NoError(t, err)
				assert.Equal(t, uint64(7), resp.Token)
				assert.Equal(t, proto.ResponseSequence, resp.Type)
			case http.StatusNoContent:
				assert.Empty(t, w.Body.Bytes())
			default:
				var body ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, w.Code, body.Code)
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestHandler_HandleQueryPassesSequence(t *testing.T) {
	sessions := NewMockSessionService()
	id, err := sessions.OpenSession()
	require.NoError(t, err)
	router := newTestRouter(sessions)

	frame := continueFrame(t, 42)
	req := httptest.NewRequest("POST", "/sessions/"+id+"/query", bytes.NewReader(frame))
	req.Header.Set(transport.HeaderRequestSeq, "12")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	calls := sessions.GetSubmitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, id, calls[0].SessionID)
	assert.Equal(t, uint64(12), calls[0].Seq)
	assert.Equal(t, frame, calls[0].Frame)
}

func TestHandler_HandleCloseSession(t *testing.T) {
	sessions := NewMockSessionService()
	id, err := sessions.OpenSession()
	require.NoError(t, err)
	router := newTestRouter(sessions)

	req := httptest.NewRequest("DELETE", "/sessions/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest("DELETE", "/sessions/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_HandleHealth(t *testing.T) {
	sessions := NewMockSessionService()
	_, err := sessions.OpenSession()
	require.NoError(t, err)
	router := newTestRouter(sessions)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Stats.Sessions)
}
