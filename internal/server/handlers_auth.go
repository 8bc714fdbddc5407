package server

import (
	"errors"
	"net/http"

	"github.com/jasonwang82/opencowork-sub001/internal/auth"
)

// login handles POST /auth/login. The response confirms the flow started;
// the outcome arrives on the event stream.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Login(r.Context()); err != nil {
		if errors.Is(err, auth.ErrLoginInFlight) {
			writeError(w, http.StatusConflict, ErrCodeLoginInFlight, "a login is already in progress")
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// logout handles POST /auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// getUser handles GET /auth/user
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user := s.cfg.User()
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}

	// The token stays server side.
	redacted := *user
	redacted.Token = ""
	writeJSON(w, http.StatusOK, map[string]any{"user": &redacted})
}
