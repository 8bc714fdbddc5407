package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Directory string `json:"directory"`
	Title     string `json:"title,omitempty"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if req.Directory == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "directory is required")
		return
	}

	sess, err := s.sessions.Create(r.Context(), req.Directory, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{Info: sess},
	})

	writeJSON(w, http.StatusOK, sess)
}

// clearSessions handles DELETE /session
func (s *Server) clearSessions(w http.ResponseWriter, r *http.Request) {
	s.mgr.DestroyAll()

	if err := s.sessions.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// renameSession handles PATCH /session/{sessionID}
func (s *Server) renameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	sess, err := s.sessions.Rename(r.Context(), sessionID, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionData{Info: sess},
	})

	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID}. The session's worker
// is destroyed before the record so no orphaned process survives.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, _ := s.sessions.Get(r.Context(), sessionID)

	s.mgr.Destroy(sessionID)

	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionData{Info: sess},
	})

	writeSuccess(w)
}

// getCurrentSession handles GET /session/current
func (s *Server) getCurrentSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.sessions.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if sessionID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"sessionID": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessionID": sessionID})
}

// setCurrentSession handles POST /session/current
func (s *Server) setCurrentSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if err := s.sessions.SetCurrent(r.Context(), req.SessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	writeSuccess(w)
}
