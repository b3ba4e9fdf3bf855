package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/marsdevs/chess-arena/internal/clock"
	"github.com/marsdevs/chess-arena/internal/domain"
)

// NewBotMatch creates an IN_PROGRESS match against a scripted opponent.
// The human always takes white against the bot. A non-positive budget falls
// back to clock.DefaultBudget.
func NewBotMatch(playerID string, level domain.BotLevel, budgetSec int, now time.Time) *domain.Match {
	if budgetSec <= 0 {
		budgetSec = clock.DefaultBudget
	}
	return &domain.Match{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		OpponentKind: domain.OpponentBot,
		BotLevel:     level,
		WhitePlayer:  playerID,
		FEN:          domain.StartFEN,
		MovesUCI:     []string{},
		MovesSAN:     []string{},
		CurrentTurn:  domain.White,
		WhiteTime:    budgetSec,
		BlackTime:    budgetSec,
		Status:       domain.StatusInProgress,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// NewPvPMatch creates an IN_PROGRESS match between two participants with the
// given white assignment. The color-to-identity mapping is fixed here for the
// match's entire lifetime.
func NewPvPMatch(playerID, opponentID, whitePlayer string, budgetSec int, now time.Time) *domain.Match {
	if budgetSec <= 0 {
		budgetSec = clock.DefaultBudget
	}
	return &domain.Match{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		OpponentID:   opponentID,
		OpponentKind: domain.OpponentPlayer,
		WhitePlayer:  whitePlayer,
		FEN:          domain.StartFEN,
		MovesUCI:     []string{},
		MovesSAN:     []string{},
		CurrentTurn:  domain.White,
		WhiteTime:    budgetSec,
		BlackTime:    budgetSec,
		Status:       domain.StatusInProgress,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}
