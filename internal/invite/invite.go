// Package invite implements the challenge state machine: PENDING to
// ACCEPTED, DECLINED or EXPIRED, one-way. Accepting spawns a match with a
// uniformly random color assignment.
package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/domain"
	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/store"
)

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrInvalidTarget   = errors.New("cannot challenge yourself")
	ErrDuplicateInvite = errors.New("a pending invite already exists for this pair")
	ErrInviteNotFound  = errors.New("invite not found or already handled")
)

type Manager struct {
	invites store.InviteStore
	matches store.MatchStore
	now     func() time.Time
	budget  int
}

func NewManager(invites store.InviteStore, matches store.MatchStore) *Manager {
	return &Manager{invites: invites, matches: matches, now: time.Now}
}

// WithClock overrides the time source; used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithClockBudget sets the per-side clock budget, in seconds, for matches
// spawned by accepted invites.
func (m *Manager) WithClockBudget(sec int) *Manager {
	m.budget = sec
	return m
}

// Create registers a new PENDING invite. At most one PENDING invite may
// exist per ordered (challenger, target) pair.
func (m *Manager) Create(ctx context.Context, challenger, target string) (*domain.Invite, error) {
	challenger = strings.TrimSpace(challenger)
	target = strings.TrimSpace(target)
	if challenger == "" || target == "" {
		return nil, ErrInvalidArgs
	}
	if challenger == target {
		return nil, ErrInvalidTarget
	}

	inv := &domain.Invite{
		ID:         uuid.NewString(),
		FromPlayer: challenger,
		ToPlayer:   target,
		Status:     domain.InvitePending,
		CreatedAt:  m.now(),
		UpdatedAt:  m.now(),
	}

	ok, err := m.invites.TryMarkPending(ctx, challenger, target, inv.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDuplicateInvite
	}
	if err := m.invites.SaveInvite(ctx, inv); err != nil {
		_ = m.invites.ClearPending(ctx, challenger, target)
		return nil, err
	}

	obslog.L().Info("invite_create",
		zap.String("invite_id", inv.ID),
		zap.String("from", challenger),
		zap.String("to", target),
	)
	return inv, nil
}

// Respond accepts or declines a PENDING invite addressed to responder.
// Acceptance creates the match and links it; the transition is irreversible.
func (m *Manager) Respond(ctx context.Context, inviteID, responder string, accept bool) (*domain.Invite, *domain.Match, error) {
	inv, err := m.invites.GetInvite(ctx, inviteID)
	if err != nil || inv == nil {
		return nil, nil, ErrInviteNotFound
	}
	if inv.Status != domain.InvitePending || inv.ToPlayer != responder {
		return nil, nil, ErrInviteNotFound
	}

	// a single claim covers all terminal transitions, so two concurrent
	// accepts can never both spawn a match
	claimed, err := m.invites.TryClaimInvite(ctx, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		return nil, nil, ErrInviteNotFound
	}

	now := m.now()
	if !accept {
		inv.Status = domain.InviteDeclined
		inv.UpdatedAt = now
		if err := m.invites.SaveInvite(ctx, inv); err != nil {
			return nil, nil, err
		}
		_ = m.invites.ClearPending(ctx, inv.FromPlayer, inv.ToPlayer)
		obslog.L().Info("invite_decline", zap.String("invite_id", inv.ID))
		return inv, nil, nil
	}

	white := inv.FromPlayer
	if coinFlip() {
		white = inv.ToPlayer
	}
	game := match.NewPvPMatch(inv.FromPlayer, inv.ToPlayer, white, m.budget, now)
	if err := m.matches.SaveMatch(ctx, game); err != nil {
		return nil, nil, err
	}

	inv.Status = domain.InviteAccepted
	inv.MatchID = game.ID
	inv.UpdatedAt = now
	if err := m.invites.SaveInvite(ctx, inv); err != nil {
		return nil, nil, err
	}
	_ = m.invites.ClearPending(ctx, inv.FromPlayer, inv.ToPlayer)

	obslog.L().Info("invite_accept",
		zap.String("invite_id", inv.ID),
		zap.String("match_id", game.ID),
		zap.String("white_player", white),
	)
	return inv, game, nil
}

// Cancel expires a PENDING invite; only the challenger may cancel.
func (m *Manager) Cancel(ctx context.Context, inviteID, challenger string) (*domain.Invite, error) {
	inv, err := m.invites.GetInvite(ctx, inviteID)
	if err != nil || inv == nil {
		return nil, ErrInviteNotFound
	}
	if inv.Status != domain.InvitePending || inv.FromPlayer != challenger {
		return nil, ErrInviteNotFound
	}
	claimed, err := m.invites.TryClaimInvite(ctx, inv.ID)
	if err != nil {
		return nil, ErrInviteNotFound
	}
	if !claimed {
		return nil, ErrInviteNotFound
	}
	inv.Status = domain.InviteExpired
	inv.UpdatedAt = m.now()
	if err := m.invites.SaveInvite(ctx, inv); err != nil {
		return nil, err
	}
	_ = m.invites.ClearPending(ctx, inv.FromPlayer, inv.ToPlayer)
	obslog.L().Info("invite_cancel", zap.String("invite_id", inv.ID))
	return inv, nil
}

// Listing groups a user's invites by direction. Only PENDING invites and
// ACCEPTED invites with a live match are listed.
type Listing struct {
	Incoming []*domain.Invite `json:"incoming"`
	Outgoing []*domain.Invite `json:"outgoing"`
}

func (m *Manager) ListForUser(ctx context.Context, userID string) (*Listing, error) {
	all, err := m.invites.ListInvitesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &Listing{}
	for _, inv := range all {
		if !m.listable(ctx, inv) {
			continue
		}
		if inv.ToPlayer == userID {
			out.Incoming = append(out.Incoming, inv)
		} else if inv.FromPlayer == userID {
			out.Outgoing = append(out.Outgoing, inv)
		}
	}
	return out, nil
}

func (m *Manager) listable(ctx context.Context, inv *domain.Invite) bool {
	switch inv.Status {
	case domain.InvitePending:
		return true
	case domain.InviteAccepted:
		game, err := m.matches.GetMatch(ctx, inv.MatchID)
		return err == nil && game.Status == domain.StatusInProgress
	default:
		return false
	}
}

// coinFlip draws from crypto/rand; the fallback on reader failure is the
// challenger keeping white, which is fine for a one-off degradation.
func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 1
}
