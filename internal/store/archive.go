package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/marsdevs/chess-arena/internal/domain"
)

// Archive persists settled matches into Postgres for bookkeeping. Live play
// never reads from it.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveResult upserts a finished match. Safe to call again after a partial
// failure; the match id is the conflict key.
func (a *Archive) SaveResult(ctx context.Context, m *domain.Match) error {
	if a == nil || a.db == nil || m == nil {
		return nil
	}
	if m.Status == domain.StatusInProgress {
		return nil
	}

	movesUCIRaw, _ := json.Marshal(m.MovesUCI)
	movesSANRaw, _ := json.Marshal(m.MovesSAN)
	pgn := buildPGN(m)

	q := `INSERT INTO chess_matches (
	    match_id, player_id, opponent_id, opponent_kind, bot_level,
	    white_player, result, ended_reason, winner_id, loser_id,
	    coins_earned, moves_uci, moves_san, pgn, started_at, finished_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    ended_reason=EXCLUDED.ended_reason,
	    winner_id=EXCLUDED.winner_id,
	    loser_id=EXCLUDED.loser_id,
	    coins_earned=EXCLUDED.coins_earned,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    finished_at=EXCLUDED.finished_at`

	_, err := a.db.ExecContext(ctx, q,
		m.ID, m.PlayerID, nullable(m.OpponentID), string(m.OpponentKind), nullable(string(m.BotLevel)),
		m.WhitePlayer, string(m.Result), string(m.EndedReason), nullable(m.WinnerID), nullable(m.LoserID),
		m.CoinsEarned, string(movesUCIRaw), string(movesSANRaw), pgn, m.StartedAt, m.FinishedAt,
	)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func buildPGN(m *domain.Match) string {
	var b strings.Builder
	date := m.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	pgnResult := pgnResultFor(m)
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(m.WhitePlayer)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(m.BlackPlayer())))
	if m.EndedReason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(m.EndedReason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(m.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(m.MovesSAN[i])))
		if i+1 < len(m.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(m.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func pgnResultFor(m *domain.Match) string {
	switch {
	case m.WinnerID == "" && m.LoserID == "" && m.Result == domain.OutcomeDraw:
		return "1/2-1/2"
	case m.WinnerID != "" && m.WinnerID == m.WhitePlayer:
		return "1-0"
	case m.WinnerID != "":
		return "0-1"
	default:
		return "*"
	}
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
