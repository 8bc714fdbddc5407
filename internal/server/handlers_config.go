package server

import (
	"encoding/json"
	"net/http"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// getConfig handles GET /config
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()

	// The credential and token never leave the process.
	redacted := cfg.Clone()
	if redacted.APIKey != "" {
		redacted.APIKey = "***"
	}
	if redacted.User != nil {
		redacted.User.Token = ""
	}

	writeJSON(w, http.StatusOK, redacted)
}

// UpdateConfigRequest represents the mutable settings fields.
type UpdateConfigRequest struct {
	APIKey          *string                `json:"apiKey,omitempty"`
	Mode            *types.IntegrationMode `json:"mode,omitempty"`
	Model           *string                `json:"model,omitempty"`
	AuthEnvironment *string                `json:"authEnvironment,omitempty"`
	SetupComplete   *bool                  `json:"setupComplete,omitempty"`
}

// updateConfig handles PUT /config. Every live worker is destroyed so
// subsequent turns are served by freshly configured backends.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	err := s.cfg.Update(r.Context(), func(cfg *types.Config) {
		if req.APIKey != nil {
			cfg.APIKey = *req.APIKey
		}
		if req.Mode != nil {
			cfg.Mode = *req.Mode
		}
		if req.Model != nil {
			cfg.Model = *req.Model
		}
		if req.AuthEnvironment != nil {
			cfg.AuthEnvironment = *req.AuthEnvironment
		}
		if req.SetupComplete != nil {
			cfg.SetupComplete = *req.SetupComplete
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.mgr.DestroyAll()
	s.gate.SyncFromConfig()

	writeSuccess(w)
}

// getBlacklist handles GET /blacklist
func (s *Server) getBlacklist(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Get().Blacklist
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type blacklistRequest struct {
	Entry string `json:"entry"`
}

// addBlacklistEntry handles POST /blacklist
func (s *Server) addBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Entry == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "entry is required")
		return
	}

	if err := s.cfg.AddBlacklistEntry(r.Context(), req.Entry); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// removeBlacklistEntry handles DELETE /blacklist
func (s *Server) removeBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Entry == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "entry is required")
		return
	}

	if err := s.cfg.RemoveBlacklistEntry(r.Context(), req.Entry); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// resetBlacklist handles POST /blacklist/reset
func (s *Server) resetBlacklist(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ResetBlacklist(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}
