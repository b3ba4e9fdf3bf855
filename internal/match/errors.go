package match

import (
	"errors"

	"github.com/marsdevs/chess-arena/internal/rules"
)

// Guard errors are reported synchronously to the submitting connection only
// and cause no state change.
var (
	ErrNotParticipant    = errors.New("not a participant of this match")
	ErrGameNotInProgress = errors.New("game not in progress")
	ErrOutOfTurn         = errors.New("out of turn")
	ErrIllegalMove       = rules.ErrIllegalMove
	ErrOracleUnavailable = errors.New("bot oracle unavailable")
)

// Reason codes carried on error payloads.
const (
	ReasonNotParticipant      = "not_participant"
	ReasonGameNotInProgress   = "game_not_in_progress"
	ReasonOutOfTurn           = "out_of_turn"
	ReasonIllegalMove         = "illegal_move"
	ReasonOracleUnavailable   = "bot_unavailable"
	ReasonRewardInconsistency = "reward_inconsistency"
)

// ReasonFor maps a guard error onto its wire reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrNotParticipant):
		return ReasonNotParticipant
	case errors.Is(err, ErrGameNotInProgress):
		return ReasonGameNotInProgress
	case errors.Is(err, ErrOutOfTurn):
		return ReasonOutOfTurn
	case errors.Is(err, ErrIllegalMove):
		return ReasonIllegalMove
	case errors.Is(err, ErrOracleUnavailable):
		return ReasonOracleUnavailable
	default:
		return "internal_error"
	}
}
