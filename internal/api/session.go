package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/csirt-labs/internal/identity"
	"github.com/ashureev/csirt-labs/internal/session"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type infectResponse struct {
	session.Snapshot
	Warnings []string `json:"warnings,omitempty"`
}

// Login handles POST /api/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.creds.Check(req.Username, req.Password) {
		h.logger.Warn("Login rejected",
			"session_id", ctrl.ID(),
			"remote_ip", identity.IPFromRequest(r),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
		Error(w, http.StatusUnauthorized, "ユーザー名またはパスワードが違います")
		return
	}

	ctrl.Login(req.Username)
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// Logout handles POST /api/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())
	ctrl.Logout(r.Context())
	JSON(w, http.StatusOK, ctrl.Snapshot())
}

// State handles GET /api/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, identity.ControllerFromContext(r.Context()).Snapshot())
}

// Infect handles POST /api/infect.
func (h *Handler) Infect(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())
	snap, warnings, err := ctrl.Infect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, infectResponse{Snapshot: snap, Warnings: warnings})
}

// Reset handles POST /api/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, identity.ControllerFromContext(r.Context()).Reset(r.Context()))
}
