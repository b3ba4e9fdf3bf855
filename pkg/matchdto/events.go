// Package matchdto defines the wire payloads streamed to subscribers and
// returned to polling clients.
package matchdto

import "github.com/marsdevs/chess-arena/internal/domain"

const (
	TypeGameState   = "game_state"
	TypeMove        = "move"
	TypeGameOver    = "game_over"
	TypeTimerUpdate = "timer_update"
	TypeError       = "error"

	TypeResign = "resign"
)

// GameState is the full snapshot sent on subscribe and on polling fetches.
type GameState struct {
	Type         string   `json:"type"`
	MatchID      string   `json:"match_id"`
	FEN          string   `json:"fen"`
	MoveHistory  []string `json:"move_history"`
	LastMove     string   `json:"last_move,omitempty"`
	CurrentTurn  string   `json:"current_turn"`
	WhiteTime    int      `json:"white_time"`
	BlackTime    int      `json:"black_time"`
	Status       string   `json:"status"`
	Result       string   `json:"result,omitempty"`
	EndedReason  string   `json:"ended_reason,omitempty"`
	WinnerID     string   `json:"winner_id,omitempty"`
	LoserID      string   `json:"loser_id,omitempty"`
	PlayerColor  string   `json:"player_color,omitempty"`
	OpponentKind string   `json:"opponent_kind"`
	BotLevel     string   `json:"bot_level,omitempty"`
}

// Move is the incremental update after an accepted move. GameOver is embedded
// when the move ended the match.
type Move struct {
	Type        string    `json:"type"`
	MatchID     string    `json:"match_id"`
	FEN         string    `json:"fen"`
	LastMove    string    `json:"last_move"`
	SAN         string    `json:"san"`
	MoveHistory []string  `json:"move_history"`
	CurrentTurn string    `json:"current_turn"`
	WhiteTime   int       `json:"white_time"`
	BlackTime   int       `json:"black_time"`
	Status      string    `json:"status"`
	GameOver    *GameOver `json:"game_over,omitempty"`
}

// GameOver reports a terminal transition.
type GameOver struct {
	Type        string `json:"type"`
	MatchID     string `json:"match_id"`
	Status      string `json:"status"`
	EndedReason string `json:"ended_reason"`
	WinnerID    string `json:"winner_id,omitempty"`
	LoserID     string `json:"loser_id,omitempty"`
	Result      string `json:"result"`
	CoinsEarned int    `json:"coins_earned"`
}

// TimerUpdate carries both sides' remaining whole seconds.
type TimerUpdate struct {
	Type        string `json:"type"`
	MatchID     string `json:"match_id"`
	WhiteTime   int    `json:"white_time"`
	BlackTime   int    `json:"black_time"`
	CurrentTurn string `json:"current_turn"`
}

// Error names a violated guard or a degraded collaborator; it is sent to the
// offending connection only, or broadcast for match-wide failures.
type Error struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ClientMessage is the inbound frame set: move {from,to,promotion?} and
// resign {}.
type ClientMessage struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// StateFrom builds the snapshot payload for one viewer.
func StateFrom(m *domain.Match, viewer string) *GameState {
	gs := &GameState{
		Type:         TypeGameState,
		MatchID:      m.ID,
		FEN:          m.FEN,
		MoveHistory:  append([]string(nil), m.MovesSAN...),
		LastMove:     m.LastMove,
		CurrentTurn:  string(m.CurrentTurn),
		WhiteTime:    m.WhiteTime,
		BlackTime:    m.BlackTime,
		Status:       string(m.Status),
		Result:       string(m.Result),
		EndedReason:  string(m.EndedReason),
		WinnerID:     m.WinnerID,
		LoserID:      m.LoserID,
		OpponentKind: string(m.OpponentKind),
		BotLevel:     string(m.BotLevel),
	}
	if viewer != "" {
		gs.PlayerColor = string(m.ColorOf(viewer))
	}
	return gs
}

// GameOverFrom builds the terminal payload for a settled match.
func GameOverFrom(m *domain.Match) *GameOver {
	return &GameOver{
		Type:        TypeGameOver,
		MatchID:     m.ID,
		Status:      string(m.Status),
		EndedReason: string(m.EndedReason),
		WinnerID:    m.WinnerID,
		LoserID:     m.LoserID,
		Result:      string(m.Result),
		CoinsEarned: m.CoinsEarned,
	}
}
