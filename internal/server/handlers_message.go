package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jasonwang82/opencowork-sub001/internal/worker"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	Content string            `json:"content"`
	Mode    types.MessageMode `json:"mode,omitempty"`
}

// sendMessage handles POST /session/{sessionID}/message. The call returns
// as soon as the turn is accepted; tokens and the result arrive over the
// window's event stream.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = types.ModeChat
	}

	wk, err := s.mgr.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	// The dispatch layer persists the user message while Submit runs, so a
	// rejected submission leaves no trace in the stored history.
	if err := wk.Submit(req.Content, mode); err != nil {
		if errors.Is(err, worker.ErrBusy) {
			writeError(w, http.StatusConflict, ErrCodeBusy, "session has a turn in flight")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	mode := types.MessageMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = types.ModeChat
	}

	messages := sess.History(mode)
	if messages == nil {
		messages = []types.Message{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// abortSession handles POST /session/{sessionID}/abort. Aborting a session
// with no worker or an idle worker succeeds without effect.
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if wk, ok := s.mgr.Get(sessionID); ok {
		wk.Abort()
	}

	writeSuccess(w)
}

// switchWorkspace handles POST /session/{sessionID}/workspace. The window
// moves to a different session; the old session's worker is destroyed first
// so the next turn starts with a clean working-directory context.
func (s *Server) switchWorkspace(w http.ResponseWriter, r *http.Request) {
	oldSessionID := chi.URLParam(r, "sessionID")

	var req struct {
		WindowID     string `json:"windowID"`
		NewSessionID string `json:"newSessionID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.WindowID == "" || req.NewSessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "windowID and newSessionID are required")
		return
	}

	if _, err := s.sessions.Get(r.Context(), req.NewSessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	s.mgr.Destroy(oldSessionID)
	s.mgr.UpdateWindowSession(req.WindowID, req.NewSessionID)

	if err := s.sessions.SetCurrent(r.Context(), req.NewSessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// respondPermission handles POST /session/{sessionID}/permissions/{permissionID}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	permissionID := chi.URLParam(r, "permissionID")

	var req struct {
		Approved bool   `json:"approved"`
		Remember bool   `json:"remember,omitempty"`
		Tool     string `json:"tool,omitempty"`
		Path     string `json:"path,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	// An approval may be remembered as a durable grant. The in-memory gate
	// is resynced immediately after the config mutation.
	if req.Approved && req.Remember && req.Tool != "" {
		if err := s.cfg.AddPermission(r.Context(), req.Tool, req.Path); err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		s.gate.SyncFromConfig()
	}

	if wk, ok := s.mgr.Get(sessionID); ok {
		wk.HandleConfirm(permissionID, req.Approved)
	} else {
		s.prompter.Respond(permissionID, req.Approved)
	}

	writeSuccess(w)
}
