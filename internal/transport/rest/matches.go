package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/domain"
	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/registry"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

// MatchHandler handles match lifecycle endpoints.
type MatchHandler struct {
	matches     store.MatchStore
	registry    *registry.Registry
	clockBudget int
}

func NewMatchHandler(matches store.MatchStore, reg *registry.Registry, clockBudgetSec int) *MatchHandler {
	return &MatchHandler{matches: matches, registry: reg, clockBudget: clockBudgetSec}
}

// CreateMatchRequest is the request body for starting a bot match.
type CreateMatchRequest struct {
	BotLevel string `json:"bot_level"`
}

// Create handles POST /api/matches. The caller always plays white against
// the engine.
func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level := domain.BotLevel(strings.ToLower(strings.TrimSpace(req.BotLevel)))
	switch level {
	case domain.BotEasy, domain.BotMedium, domain.BotHard:
	default:
		writeError(w, http.StatusBadRequest, "bot_level must be easy, medium or hard")
		return
	}

	m := match.NewBotMatch(userID, level, h.clockBudget, h.registry.Now())
	if err := h.matches.SaveMatch(r.Context(), m); err != nil {
		obslog.L().Error("match create failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create match")
		return
	}

	session, err := h.registry.GetOrCreate(r.Context(), m.ID)
	if errors.Is(err, registry.ErrSessionLimit) {
		writeError(w, http.StatusServiceUnavailable, "too many live matches, try again later")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	if err := h.registry.EnsureTimer(r.Context(), m.ID); err != nil {
		obslog.L().Warn("timer start failed", zap.String("match_id", m.ID), zap.Error(err))
	}

	obslog.L().Info("match created",
		zap.String("match_id", m.ID),
		zap.String("user_id", userID),
		zap.String("bot_level", string(level)))

	writeJSON(w, http.StatusCreated, matchdto.StateFrom(session.Snapshot(), userID))
}

// Get handles GET /api/matches/{id}.
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	matchID := mux.Vars(r)["id"]

	m, err := h.matches.GetMatch(r.Context(), matchID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load match")
		return
	}
	if !m.IsParticipant(userID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	// Prefer the live session state when one is resident.
	if session, err := h.registry.GetOrCreate(r.Context(), matchID); err == nil {
		m = session.Snapshot()
	}
	writeJSON(w, http.StatusOK, matchdto.StateFrom(m, userID))
}
