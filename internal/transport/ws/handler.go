// Package ws serves the realtime match socket. One connection follows one
// match; the first frame a client receives is always the current game state.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/marsdevs/chess-arena/internal/authclient"
	"github.com/marsdevs/chess-arena/internal/hub"
	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/msgcat"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/registry"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

// Application close codes, in the 4000-4999 range reserved for applications.
const (
	CloseUnauthenticated websocket.StatusCode = 4401
	CloseForbidden       websocket.StatusCode = 4403
	CloseNotFound        websocket.StatusCode = 4404
)

const writeTimeout = 10 * time.Second

type Handler struct {
	hub      *hub.Hub
	registry *registry.Registry
	auth     authclient.Resolver
	messages *msgcat.Catalog
}

func NewHandler(h *hub.Hub, reg *registry.Registry, auth authclient.Resolver, messages *msgcat.Catalog) *Handler {
	return &Handler{hub: h, registry: reg, auth: auth, messages: messages}
}

// ServeHTTP upgrades GET /ws/matches/{id}?token=... to a match socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimSpace(mux.Vars(r)["id"])

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Debug("ws accept failed", zap.Error(err))
		return
	}

	identity, err := h.auth.Resolve(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.Close(CloseUnauthenticated, "unauthenticated")
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), matchID, identity.ID)
	switch {
	case errors.Is(err, hub.ErrMatchNotFound):
		_ = conn.Close(CloseNotFound, "match not found")
		return
	case errors.Is(err, hub.ErrForbidden):
		_ = conn.Close(CloseForbidden, "not a participant")
		return
	case err != nil:
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.registry.GetOrCreate(ctx, matchID)
	if errors.Is(err, registry.ErrSessionLimit) {
		_ = conn.Close(websocket.StatusTryAgainLater, "too many live matches")
		return
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	if err := h.registry.EnsureTimer(context.WithoutCancel(ctx), matchID); err != nil {
		obslog.L().Warn("timer start failed", zap.String("match_id", matchID), zap.Error(err))
	}

	obslog.L().Info("ws connected",
		zap.String("match_id", matchID),
		zap.String("user_id", identity.ID))

	// Writer drains the subscription; a full peer drops frames at the hub,
	// never here.
	go func() {
		defer cancel()
		for event := range sub.C() {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, event)
			wcancel()
			if err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	h.readLoop(ctx, conn, session, sub, identity.ID)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *match.Session, sub *hub.Subscriber, userID string) {
	for {
		var msg matchdto.ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case matchdto.TypeMove:
			err := session.SubmitMove(ctx, userID, msg.From, msg.To, msg.Promotion)
			if err != nil {
				h.rejectMove(sub, err)
			}
		case matchdto.TypeResign:
			if err := session.Resign(ctx, userID); err != nil {
				h.rejectMove(sub, err)
			}
		default:
			obslog.L().Debug("ws unknown message type",
				zap.String("match_id", session.MatchID()),
				zap.String("type", msg.Type))
		}
	}
}

// rejectMove tells only the offending client; valid state was already
// broadcast to everyone else.
func (h *Handler) rejectMove(sub *hub.Subscriber, err error) {
	reason := match.ReasonFor(err)
	h.hub.Direct(sub, &matchdto.Error{
		Type:    matchdto.TypeError,
		Reason:  reason,
		Message: h.messages.Reason(reason),
	})
}
