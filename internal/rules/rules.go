// Package rules wraps board representation, legal-move generation, move
// application and terminal-state classification. It is pure: every call
// reconstructs the game by replaying the stored UCI move list from the start
// position, so the stored position can never drift from the move history.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/marsdevs/chess-arena/internal/domain"
)

var (
	// ErrIllegalMove is returned when a submitted move is not in the legal
	// move set for the current position.
	ErrIllegalMove = errors.New("illegal move")
	// ErrCorruptHistory is returned when the stored move list cannot be
	// replayed from the initial position.
	ErrCorruptHistory = errors.New("corrupt move history")
)

// Classification of a position after a move has been applied.
type Classification int

const (
	Ongoing Classification = iota
	Checkmate
	Stalemate
	InsufficientMaterial
	DrawClaimable
)

// IsDraw reports whether the classification ends the game without a winner.
func (c Classification) IsDraw() bool {
	return c == Stalemate || c == InsufficientMaterial || c == DrawClaimable
}

// Terminal reports whether the classification ends the game.
func (c Classification) Terminal() bool { return c != Ongoing }

// Applied is the result of a successful move application.
type Applied struct {
	FEN        string
	SAN        string
	UCI        string
	NextTurn   domain.Color
	Class      Classification
	LoserColor domain.Color // set only when Class == Checkmate
}

// Replay rebuilds a game from the start position by applying UCI moves.
func Replay(movesUCI []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range movesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: move %d %q: %v", ErrCorruptHistory, i+1, mv, err)
		}
	}
	return game, nil
}

// CurrentFEN returns the position reached by the move list.
func CurrentFEN(movesUCI []string) (string, error) {
	game, err := Replay(movesUCI)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

// LegalMoves lists the legal moves for the current position in UCI notation.
func LegalMoves(movesUCI []string) ([]string, error) {
	game, err := Replay(movesUCI)
	if err != nil {
		return nil, err
	}
	valid := game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, mv.String())
	}
	return out, nil
}

// Apply resolves (from, to, promotion?) against the legal-move set for the
// position reached by movesUCI, applies it and classifies the result.
// Promotion defaults to queen when omitted on a pawn push to the last rank.
func Apply(movesUCI []string, from, to, promotion string) (Applied, error) {
	game, err := Replay(movesUCI)
	if err != nil {
		return Applied{}, err
	}

	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if from == "" || to == "" {
		return Applied{}, ErrIllegalMove
	}

	pos := game.Position()
	dec := nchess.UCINotation{}

	// pawn reaching the last rank without an explicit piece: queen
	if promotion == "" && isPromotionPush(pos, from, to) {
		promotion = "q"
	}

	uci := from + to + promotion
	mv, derr := dec.Decode(pos, uci)
	if derr != nil {
		return Applied{}, ErrIllegalMove
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, ErrIllegalMove
	}

	res := Applied{
		FEN:      game.FEN(),
		SAN:      san,
		UCI:      uci,
		NextTurn: colorFrom(game.Position().Turn()),
	}
	res.Class = classify(game)
	if res.Class == Checkmate {
		// the side to move in the final position is the mated side
		res.LoserColor = colorFrom(game.Position().Turn())
	}
	return res, nil
}

// classify maps the library outcome onto the engine's terminal states. Draws
// that are merely claimable (threefold, fifty-move) are claimed on the spot,
// as the original platform did.
func classify(game *nchess.Game) Classification {
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		return Checkmate
	case nchess.Draw:
		switch game.Method() {
		case nchess.Stalemate:
			return Stalemate
		case nchess.InsufficientMaterial:
			return InsufficientMaterial
		default:
			return DrawClaimable
		}
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return DrawClaimable
		}
	}
	return Ongoing
}

// isPromotionPush reports whether from/to describe a pawn of the side to
// move landing on its last rank.
func isPromotionPush(pos *nchess.Position, from, to string) bool {
	sq, ok := parseSquare(from)
	if !ok {
		return false
	}
	if len(to) != 2 || (to[1] != '8' && to[1] != '1') {
		return false
	}
	piece := pos.Board().Piece(sq)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	if piece.Color() != pos.Turn() {
		return false
	}
	if piece.Color() == nchess.White {
		return to[1] == '8'
	}
	return to[1] == '1'
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	file := nchess.FileA + nchess.File(s[0]-'a')
	rank := nchess.Rank1 + nchess.Rank(s[1]-'1')
	return nchess.NewSquare(file, rank), true
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}
