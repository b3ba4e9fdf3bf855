package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/invite"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/registry"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

// InviteHandler handles challenge endpoints.
type InviteHandler struct {
	invites  *invite.Manager
	registry *registry.Registry
}

func NewInviteHandler(invites *invite.Manager, reg *registry.Registry) *InviteHandler {
	return &InviteHandler{invites: invites, registry: reg}
}

// CreateInviteRequest is the request body for challenging another player.
type CreateInviteRequest struct {
	ToUser string `json:"to_user"`
}

// Create handles POST /api/invites.
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := h.invites.Create(r.Context(), userID, strings.TrimSpace(req.ToUser))
	switch {
	case errors.Is(err, invite.ErrInvalidTarget), errors.Is(err, invite.ErrInvalidArgs):
		writeError(w, http.StatusBadRequest, "invalid challenge target")
		return
	case errors.Is(err, invite.ErrDuplicateInvite):
		writeError(w, http.StatusConflict, "a pending invite to this player already exists")
		return
	case err != nil:
		obslog.L().Error("invite create failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

// List handles GET /api/invites.
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	listing, err := h.invites.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list invites")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// RespondRequest is the request body for accepting or declining an invite.
type RespondRequest struct {
	Accept bool `json:"accept"`
}

// Respond handles POST /api/invites/{id}/respond. Accepting creates the
// match and reports it in the response.
func (h *InviteHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	inviteID := mux.Vars(r)["id"]

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, m, err := h.invites.Respond(r.Context(), inviteID, userID, req.Accept)
	if errors.Is(err, invite.ErrInviteNotFound) {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	if err != nil {
		obslog.L().Error("invite respond failed", zap.String("invite_id", inviteID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to respond to invite")
		return
	}

	resp := map[string]interface{}{"invite": inv}
	if m != nil {
		if session, err := h.registry.GetOrCreate(r.Context(), m.ID); err == nil {
			if err := h.registry.EnsureTimer(r.Context(), m.ID); err != nil {
				obslog.L().Warn("timer start failed", zap.String("match_id", m.ID), zap.Error(err))
			}
			m = session.Snapshot()
		}
		resp["match"] = matchdto.StateFrom(m, userID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/invites/{id}/cancel. Only the challenger may
// withdraw a pending invite.
func (h *InviteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	inviteID := mux.Vars(r)["id"]

	inv, err := h.invites.Cancel(r.Context(), inviteID, userID)
	if errors.Is(err, invite.ErrInviteNotFound) {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel invite")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
