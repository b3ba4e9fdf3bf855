// Package store is the persistence boundary: a Redis-backed system of record
// for live Match and Invite documents, plus a Postgres archive and coin
// ledger for settled results.
package store

import (
	"context"
	"errors"

	"github.com/marsdevs/chess-arena/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
)

// MatchStore persists match records. Records are never deleted; terminal
// matches simply stop changing.
type MatchStore interface {
	SaveMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
}

// InviteStore persists invite records and enforces the at-most-one-PENDING
// guard per ordered (challenger, target) pair.
type InviteStore interface {
	SaveInvite(ctx context.Context, inv *domain.Invite) error
	GetInvite(ctx context.Context, id string) (*domain.Invite, error)
	// TryMarkPending atomically claims the pending slot for the ordered
	// pair; false means a PENDING invite already exists.
	TryMarkPending(ctx context.Context, from, to, inviteID string) (bool, error)
	ClearPending(ctx context.Context, from, to string) error
	// TryClaimInvite atomically claims the one allowed terminal transition
	// for an invite; false means another caller already settled it.
	TryClaimInvite(ctx context.Context, inviteID string) (bool, error)
	ListInvitesForUser(ctx context.Context, userID string) ([]*domain.Invite, error)
}

// Ledger credits currency to a participant. Implementations must be atomic;
// callers invoke it at most once per payable outcome.
type Ledger interface {
	Credit(ctx context.Context, userID string, amount int, reason string) (newBalance int, err error)
}
