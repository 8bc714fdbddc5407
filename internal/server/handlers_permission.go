package server

import (
	"encoding/json"
	"net/http"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// listPermissions handles GET /permission
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	grants := s.cfg.Get().Permissions
	if grants == nil {
		grants = []types.ToolPermission{}
	}
	writeJSON(w, http.StatusOK, grants)
}

type permissionRequest struct {
	Tool        string `json:"tool"`
	PathPattern string `json:"pathPattern"`
}

// grantPermission handles POST /permission
func (s *Server) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "tool is required")
		return
	}

	if err := s.cfg.AddPermission(r.Context(), req.Tool, req.PathPattern); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	s.gate.SyncFromConfig()

	writeSuccess(w)
}

// revokePermission handles DELETE /permission
func (s *Server) revokePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "tool is required")
		return
	}

	if err := s.cfg.RemovePermission(r.Context(), req.Tool, req.PathPattern); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	s.gate.SyncFromConfig()

	writeSuccess(w)
}

// clearPermissions handles POST /permission/clear
func (s *Server) clearPermissions(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ClearPermissions(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	s.gate.SyncFromConfig()

	writeSuccess(w)
}
