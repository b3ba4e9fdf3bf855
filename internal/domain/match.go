package domain

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// OpponentKind distinguishes bot matches from player-vs-player matches.
type OpponentKind string

const (
	OpponentBot    OpponentKind = "BOT"
	OpponentPlayer OpponentKind = "PLAYER"
)

// BotLevel is the difficulty of a scripted opponent.
type BotLevel string

const (
	BotEasy   BotLevel = "easy"
	BotMedium BotLevel = "medium"
	BotHard   BotLevel = "hard"
)

// Status represents a match lifecycle state.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusAbandoned  Status = "ABANDONED"
)

// Outcome is the result relative to the initiating participant.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLose Outcome = "LOSE"
	OutcomeDraw Outcome = "DRAW"
)

// EndReason names the condition that terminated a match.
type EndReason string

const (
	ReasonCheckmate EndReason = "checkmate"
	ReasonTimeout   EndReason = "timeout"
	ReasonResign    EndReason = "resign"
	ReasonDraw      EndReason = "draw"
)

// StartFEN is the canonical initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Match is the persisted state of one game instance. The player field is the
// initiating participant; Opponent is empty for bot matches. WhitePlayer fixes
// the color-to-identity mapping for the whole match lifetime.
type Match struct {
	ID           string       `json:"id"`
	PlayerID     string       `json:"player_id"`
	OpponentID   string       `json:"opponent_id,omitempty"`
	OpponentKind OpponentKind `json:"opponent_kind"`
	BotLevel     BotLevel     `json:"bot_level,omitempty"`
	WhitePlayer  string       `json:"white_player"`

	FEN         string    `json:"fen"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	LastMove    string    `json:"last_move,omitempty"`
	CurrentTurn Color     `json:"current_turn"`
	WhiteTime   int       `json:"white_time"`
	BlackTime   int       `json:"black_time"`
	LastMoveAt  time.Time `json:"last_move_at"`

	Status      Status    `json:"status"`
	Result      Outcome   `json:"result,omitempty"`
	EndedReason EndReason `json:"ended_reason,omitempty"`
	WinnerID    string    `json:"winner_id,omitempty"`
	LoserID     string    `json:"loser_id,omitempty"`
	CoinsEarned int       `json:"coins_earned"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsParticipant reports whether id is one of the match's human sides.
func (m *Match) IsParticipant(id string) bool {
	if id == "" {
		return false
	}
	return id == m.PlayerID || (m.OpponentID != "" && id == m.OpponentID)
}

// ColorOf returns the side played by id, or "" when id is not a participant.
// Bot matches map the bot to the non-white side's identity slot.
func (m *Match) ColorOf(id string) Color {
	if !m.IsParticipant(id) && id != m.BotID() {
		return ""
	}
	if id == m.WhitePlayer {
		return White
	}
	return Black
}

// BlackPlayer derives the black side's identity from the fixed white mapping.
func (m *Match) BlackPlayer() string {
	if m.WhitePlayer == m.PlayerID {
		if m.OpponentKind == OpponentBot {
			return m.BotID()
		}
		return m.OpponentID
	}
	return m.PlayerID
}

// BotID is the synthetic identity used when the bot moves through the same
// submission path as humans. Empty for PvP matches.
func (m *Match) BotID() string {
	if m.OpponentKind != OpponentBot {
		return ""
	}
	return "bot:" + string(m.BotLevel)
}

// InviteStatus represents the invite state machine. Transitions are one-way.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteDeclined InviteStatus = "DECLINED"
	InviteExpired  InviteStatus = "EXPIRED"
)

// Invite is a pending challenge from one participant to another.
type Invite struct {
	ID         string       `json:"id"`
	FromPlayer string       `json:"from_player"`
	ToPlayer   string       `json:"to_player"`
	Status     InviteStatus `json:"status"`
	MatchID    string       `json:"match_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
