// Package match owns one match's mutable state. Every state transition on a
// given match runs under the session mutex: concurrent move submission,
// resignation, clock-driven timeout and bot-move injection all serialize
// here, so at most one mutation is in flight per match id at any instant.
package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/clock"
	"github.com/marsdevs/chess-arena/internal/domain"
	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/reward"
	"github.com/marsdevs/chess-arena/internal/rules"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

// Oracle chooses a move for the scripted opponent. It may fail or time out;
// it is never called while the session lock is held.
type Oracle interface {
	ChooseMove(ctx context.Context, fen string, movesUCI []string, level domain.BotLevel) (string, error)
}

// Publisher fans an event out to every subscriber of a match. Delivery must
// never block the caller.
type Publisher interface {
	Publish(matchID string, event any)
}

// Archiver records settled matches; failures are logged, never fatal.
type Archiver interface {
	SaveResult(ctx context.Context, m *domain.Match) error
}

const defaultOracleRetries = 3

// Deps are the collaborators a session orchestrates. Ledger, Archive and
// Oracle are optional; Now defaults to time.Now.
type Deps struct {
	Store         store.MatchStore
	Ledger        store.Ledger
	Archive       Archiver
	Oracle        Oracle
	Pub           Publisher
	Now           func() time.Time
	OracleRetries uint
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Session is the sole in-process writer for its match id while active.
type Session struct {
	mu   sync.Mutex
	deps Deps
	m    *domain.Match
}

func NewSession(m *domain.Match, deps Deps) *Session {
	if deps.OracleRetries == 0 {
		deps.OracleRetries = defaultOracleRetries
	}
	return &Session{m: m, deps: deps}
}

// MatchID returns the immutable match id.
func (s *Session) MatchID() string { return s.m.ID }

// Snapshot returns a copy safe to read without the lock.
func (s *Session) Snapshot() *domain.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Session) copyLocked() *domain.Match {
	cp := *s.m
	cp.MovesUCI = append([]string(nil), s.m.MovesUCI...)
	cp.MovesSAN = append([]string(nil), s.m.MovesSAN...)
	return &cp
}

// SubmitMove validates and applies one move for actor. Bot and human moves
// share this single path. Guard failures leave all state untouched.
func (s *Session) SubmitMove(ctx context.Context, actor, from, to, promotion string) error {
	s.mu.Lock()
	botTurn, err := s.submitLocked(ctx, actor, from, to, promotion)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if botTurn {
		go s.botReply(context.WithoutCancel(ctx))
	}
	return nil
}

func (s *Session) submitLocked(ctx context.Context, actor, from, to, promotion string) (botTurn bool, err error) {
	m := s.m
	if !m.IsParticipant(actor) && actor != m.BotID() {
		return false, ErrNotParticipant
	}
	if m.Status != domain.StatusInProgress {
		return false, ErrGameNotInProgress
	}

	now := s.deps.now()

	// Timeout takes precedence over a move submitted after time ran out.
	if s.timeoutLocked(ctx, now) {
		return false, ErrGameNotInProgress
	}

	if m.ColorOf(actor) != m.CurrentTurn {
		return false, ErrOutOfTurn
	}

	applied, err := rules.Apply(m.MovesUCI, from, to, promotion)
	if err != nil {
		return false, err
	}

	elapsed := clock.Elapsed(m.LastMoveAt, now)
	if m.CurrentTurn == domain.White {
		m.WhiteTime = clock.Debit(m.WhiteTime, elapsed)
	} else {
		m.BlackTime = clock.Debit(m.BlackTime, elapsed)
	}

	m.FEN = applied.FEN
	m.LastMove = applied.UCI
	m.MovesUCI = append(m.MovesUCI, applied.UCI)
	m.MovesSAN = append(m.MovesSAN, applied.SAN)
	m.CurrentTurn = applied.NextTurn
	m.LastMoveAt = now
	m.UpdatedAt = now

	var over *matchdto.GameOver
	if applied.Class.Terminal() {
		winner, loser := "", ""
		reason := domain.ReasonDraw
		if applied.Class == rules.Checkmate {
			reason = domain.ReasonCheckmate
			loser = s.identityOf(applied.LoserColor)
			winner = s.identityOf(applied.LoserColor.Other())
		}
		over = s.finishLocked(ctx, winner, loser, reason, now)
	} else {
		s.persistLocked(ctx)
	}

	movePayload := &matchdto.Move{
		Type:        matchdto.TypeMove,
		MatchID:     m.ID,
		FEN:         m.FEN,
		LastMove:    m.LastMove,
		SAN:         applied.SAN,
		MoveHistory: append([]string(nil), m.MovesSAN...),
		CurrentTurn: string(m.CurrentTurn),
		WhiteTime:   m.WhiteTime,
		BlackTime:   m.BlackTime,
		Status:      string(m.Status),
		GameOver:    over,
	}
	s.publish(movePayload)
	if over != nil {
		s.publish(over)
	}

	obslog.L().Info("match_move",
		zap.String("match_id", m.ID),
		zap.String("actor", actor),
		zap.String("uci", applied.UCI),
		zap.String("san", applied.SAN),
		zap.String("turn", string(m.CurrentTurn)),
		zap.String("status", string(m.Status)),
	)

	botTurn = m.OpponentKind == domain.OpponentBot &&
		m.Status == domain.StatusInProgress &&
		actor != m.BotID() &&
		m.ColorOf(m.BotID()) == m.CurrentTurn
	return botTurn, nil
}

// botReply asks the oracle for a move and recurses through SubmitMove. The
// session lock is not held while waiting on the oracle.
func (s *Session) botReply(ctx context.Context) {
	s.mu.Lock()
	if s.m.Status != domain.StatusInProgress || s.m.ColorOf(s.m.BotID()) != s.m.CurrentTurn {
		s.mu.Unlock()
		return
	}
	fen := s.m.FEN
	moves := append([]string(nil), s.m.MovesUCI...)
	level := s.m.BotLevel
	botID := s.m.BotID()
	s.mu.Unlock()

	var uci string
	err := retry.Do(
		func() error {
			var cerr error
			uci, cerr = s.deps.Oracle.ChooseMove(ctx, fen, moves, level)
			if cerr == nil && len(uci) < 4 {
				cerr = fmt.Errorf("oracle returned malformed move %q", uci)
			}
			return cerr
		},
		retry.Attempts(s.deps.OracleRetries),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		obslog.L().Error("bot_move_failed",
			zap.String("match_id", s.MatchID()),
			zap.String("level", string(level)),
			zap.Error(err),
		)
		s.publishUnlocked(&matchdto.Error{Type: matchdto.TypeError, Reason: ReasonOracleUnavailable})
		return
	}

	from, to := uci[:2], uci[2:4]
	promo := strings.TrimSpace(uci[4:])
	if err := s.SubmitMove(ctx, botID, from, to, promo); err != nil {
		obslog.L().Error("bot_move_rejected",
			zap.String("match_id", s.MatchID()),
			zap.String("uci", uci),
			zap.Error(err),
		)
	}
}

// Resign ends the match immediately; the resigning side loses.
func (s *Session) Resign(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.m
	if !m.IsParticipant(actor) {
		return ErrNotParticipant
	}
	if m.Status != domain.StatusInProgress {
		return ErrGameNotInProgress
	}

	now := s.deps.now()
	loserColor := m.ColorOf(actor)
	winner := s.identityOf(loserColor.Other())
	over := s.finishLocked(ctx, winner, actor, domain.ReasonResign, now)
	s.publish(over)

	obslog.L().Info("match_resign",
		zap.String("match_id", m.ID),
		zap.String("resigner", actor),
		zap.String("winner", winner),
	)
	return nil
}

// Tick is invoked by the owning timer task. It reports true when the timer
// should stop (the match is no longer in progress).
func (s *Session) Tick(ctx context.Context) (stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.m
	if m.Status != domain.StatusInProgress {
		return true
	}
	now := s.deps.now()
	if s.timeoutLocked(ctx, now) {
		return true
	}

	elapsed := clock.Elapsed(m.LastMoveAt, now)
	white, black := m.WhiteTime, m.BlackTime
	if m.CurrentTurn == domain.White {
		white = clock.Debit(white, elapsed)
	} else {
		black = clock.Debit(black, elapsed)
	}
	s.publish(&matchdto.TimerUpdate{
		Type:        matchdto.TypeTimerUpdate,
		MatchID:     m.ID,
		WhiteTime:   white,
		BlackTime:   black,
		CurrentTurn: string(m.CurrentTurn),
	})
	return false
}

// Abandon marks the match ABANDONED on an external disconnect signal. No
// rewards are paid.
func (s *Session) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.m
	if m.Status != domain.StatusInProgress {
		return ErrGameNotInProgress
	}
	now := s.deps.now()
	m.Status = domain.StatusAbandoned
	m.FinishedAt = now
	m.UpdatedAt = now
	s.persistLocked(ctx)
	s.publish(matchdto.GameOverFrom(m))
	obslog.L().Warn("match_abandoned", zap.String("match_id", m.ID))
	return nil
}

// timeoutLocked finishes the match when the on-move side's clock has run
// out. Returns true when the match is over.
func (s *Session) timeoutLocked(ctx context.Context, now time.Time) bool {
	m := s.m
	elapsed := clock.Elapsed(m.LastMoveAt, now)
	remaining := m.WhiteTime
	if m.CurrentTurn == domain.Black {
		remaining = m.BlackTime
	}
	if !clock.Expired(clock.Debit(remaining, elapsed)) {
		return false
	}
	loser := s.identityOf(m.CurrentTurn)
	winner := s.identityOf(m.CurrentTurn.Other())
	over := s.finishLocked(ctx, winner, loser, domain.ReasonTimeout, now)
	s.publish(over)
	return true
}

// finishLocked transitions to FINISHED exactly once. Calling it on an
// already-terminal match returns the recorded outcome unchanged: rewards are
// not idempotent and must never run twice.
func (s *Session) finishLocked(ctx context.Context, winner, loser string, reason domain.EndReason, now time.Time) *matchdto.GameOver {
	m := s.m
	if m.Status != domain.StatusInProgress {
		return matchdto.GameOverFrom(m)
	}

	m.Status = domain.StatusFinished
	m.EndedReason = reason
	m.WinnerID = winner
	m.LoserID = loser
	m.FinishedAt = now
	m.UpdatedAt = now

	switch {
	case winner == "" && loser == "":
		m.Result = domain.OutcomeDraw
	case winner == m.PlayerID:
		m.Result = domain.OutcomeWin
	default:
		m.Result = domain.OutcomeLose
	}

	if reason == domain.ReasonTimeout && loser != "" {
		if m.ColorOf(loser) == domain.White {
			m.WhiteTime = 0
		} else {
			m.BlackTime = 0
		}
	}

	s.payRewardsLocked(ctx)
	s.persistLocked(ctx)
	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveResult(ctx, m); err != nil {
			obslog.L().Error("match_archive_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}

	obslog.L().Info("match_over",
		zap.String("match_id", m.ID),
		zap.String("reason", string(reason)),
		zap.String("winner", winner),
		zap.String("loser", loser),
		zap.String("result", string(m.Result)),
	)
	return matchdto.GameOverFrom(m)
}

type payout struct {
	userID  string
	amount  int
	outcome domain.Outcome
}

// payRewardsLocked credits every payable outcome at most once. Drawn PvP
// matches pay both sides; PvP wins pay the winner only; bot matches pay the
// human participant only.
func (s *Session) payRewardsLocked(ctx context.Context) {
	m := s.m
	var payouts []payout

	if m.OpponentKind == domain.OpponentBot {
		switch {
		case m.WinnerID == "" && m.LoserID == "":
			payouts = append(payouts, payout{m.PlayerID, reward.Calculate(m.OpponentKind, m.BotLevel, domain.OutcomeDraw), domain.OutcomeDraw})
		case m.WinnerID == m.PlayerID:
			payouts = append(payouts, payout{m.PlayerID, reward.Calculate(m.OpponentKind, m.BotLevel, domain.OutcomeWin), domain.OutcomeWin})
		}
	} else {
		if m.WinnerID == "" {
			amount := reward.Calculate(m.OpponentKind, "", domain.OutcomeDraw)
			payouts = append(payouts,
				payout{m.PlayerID, amount, domain.OutcomeDraw},
				payout{m.OpponentID, amount, domain.OutcomeDraw})
		} else {
			payouts = append(payouts, payout{m.WinnerID, reward.Calculate(m.OpponentKind, "", domain.OutcomeWin), domain.OutcomeWin})
		}
	}

	for _, p := range payouts {
		if p.amount <= 0 || p.userID == "" {
			continue
		}
		if s.deps.Ledger == nil {
			continue
		}
		reason := fmt.Sprintf("chess: %s vs %s", strings.ToLower(string(p.outcome)), s.opponentLabelFor(p.userID))
		if _, err := s.deps.Ledger.Credit(ctx, p.userID, p.amount, reason); err != nil {
			// terminal status is authoritative and is not rolled back;
			// the missing credit is surfaced for manual reconciliation
			obslog.L().Error("reward_credit_error",
				zap.String("match_id", m.ID),
				zap.String("user_id", p.userID),
				zap.Int("amount", p.amount),
				zap.Error(err),
			)
			s.publish(&matchdto.Error{Type: matchdto.TypeError, Reason: ReasonRewardInconsistency})
			continue
		}
		// coins are advertised only once they are actually on the balance
		if p.userID == m.PlayerID {
			m.CoinsEarned = p.amount
		}
	}
}

func (s *Session) opponentLabelFor(userID string) string {
	m := s.m
	if m.OpponentKind == domain.OpponentBot {
		return fmt.Sprintf("bot (%s)", m.BotLevel)
	}
	if userID == m.PlayerID {
		return m.OpponentID
	}
	return m.PlayerID
}

func (s *Session) identityOf(c domain.Color) string {
	if c == domain.White {
		return s.m.WhitePlayer
	}
	return s.m.BlackPlayer()
}

func (s *Session) persistLocked(ctx context.Context) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveMatch(ctx, s.m); err != nil {
		obslog.L().Error("match_persist_error", zap.String("match_id", s.m.ID), zap.Error(err))
	}
}

func (s *Session) publish(event any) {
	if s.deps.Pub != nil {
		s.deps.Pub.Publish(s.m.ID, event)
	}
}

func (s *Session) publishUnlocked(event any) {
	if s.deps.Pub != nil {
		s.deps.Pub.Publish(s.MatchID(), event)
	}
}
