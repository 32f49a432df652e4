package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/page"
	"github.com/gosight/gosight/friction/internal/session"
)

const maxBodyBytes = 2 << 20

type EventBatchRequest struct {
	ProjectKey string                   `json:"project_key"`
	SessionID  string                   `json:"session_id"`
	SentAt     int64                    `json:"sent_at"`
	Events     []map[string]interface{} `json:"events"`
}

type EventResponse struct {
	Success       bool     `json:"success"`
	SessionID     string   `json:"session_id,omitempty"`
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors,omitempty"`
}

// StressResponse is what UI surfaces read to adapt themselves
type StressResponse struct {
	SessionID  string              `json:"session_id"`
	Score      float64             `json:"score"`
	Rescue     bool                `json:"rescue"`
	LastSignal friction.SignalKind `json:"last_signal,omitempty"`
}

func stressOf(v session.View) StressResponse {
	return StressResponse{
		SessionID:  v.SessionID,
		Score:      v.Score,
		Rescue:     v.Rescue,
		LastSignal: v.LastSignal,
	}
}

func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Parse request
	var req EventBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess, status, msg := s.openSession(r, req.ProjectKey, req.SessionID)
	if sess == nil {
		writeError(w, status, msg)
		return
	}

	res := s.dispatcher.DispatchBatch(sess, req.Events, req.SentAt, "http")

	writeJSON(w, http.StatusOK, EventResponse{
		Success:       res.Rejected == 0,
		SessionID:     sess.ID,
		AcceptedCount: res.Accepted,
		RejectedCount: res.Rejected,
		Errors:        res.Errors,
	})
}

// openSession validates the key, applies the rate limit and opens the
// session. On failure it returns a nil session with the status to send.
func (s *Server) openSession(r *http.Request, projectKey, sessionID string) (*session.Session, int, string) {
	projectID, err := s.auth.ValidateAPIKey(r.Context(), projectKey)
	if err != nil {
		return nil, http.StatusUnauthorized, "Invalid API key"
	}

	if !s.auth.CheckRateLimit(r.Context(), projectID) {
		return nil, http.StatusTooManyRequests, "Rate limit exceeded"
	}

	sess, _, err := s.sessions.Open(sessionID, session.Meta{
		ProjectID: projectID,
		Client:    s.enricher.Profile(r.Header.Get("User-Agent"), clientIP(r)),
	})
	switch {
	case errors.Is(err, session.ErrProjectMismatch):
		return nil, http.StatusForbidden, "Session belongs to another project"
	case errors.Is(err, session.ErrManagerClosed):
		return nil, http.StatusServiceUnavailable, "Shutting down"
	case err != nil:
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to open session")
		return nil, http.StatusInternalServerError, "Failed to open session"
	}
	return sess, http.StatusOK, ""
}

// sessionFor resolves the session of a session-scoped route. Sessions of
// other projects are reported as missing.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	key := r.Header.Get("X-Project-Key")
	if key == "" {
		key = r.URL.Query().Get("project_key")
	}
	projectID, err := s.auth.ValidateAPIKey(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return nil, false
	}

	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil || sess.Meta.ProjectID != projectID {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) HandleLayout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var l page.Layout
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&l); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	sess.ApplyLayout(l)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"nodes":   sess.Document.Len(),
	})
}

func (s *Server) HandleStress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stressOf(sess.View()))
}

// HandleDebug returns the data of the debug overlay
func (s *Server) HandleDebug(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) HandleClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Close(sess.ID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
