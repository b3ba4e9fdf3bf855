package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marsdevs/chess-arena/internal/domain"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

type fakeStore struct {
	mu      sync.Mutex
	matches map[string]*domain.Match
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{matches: make(map[string]*domain.Match)}
}

func (f *fakeStore) SaveMatch(_ context.Context, m *domain.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.matches[m.ID] = &cp
	f.saves++
	return nil
}

func (f *fakeStore) GetMatch(_ context.Context, id string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

type credit struct {
	userID string
	amount int
}

type fakeLedger struct {
	mu      sync.Mutex
	credits []credit
	fail    bool
}

func (f *fakeLedger) Credit(_ context.Context, userID string, amount int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("ledger down")
	}
	f.credits = append(f.credits, credit{userID, amount})
	return amount, nil
}

func (f *fakeLedger) all() []credit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]credit(nil), f.credits...)
}

type fakePub struct {
	mu     sync.Mutex
	events []any
}

func (f *fakePub) Publish(_ string, event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePub) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

type fakeOracle struct {
	mu    sync.Mutex
	moves []string
	err   error
}

func (f *fakeOracle) ChooseMove(_ context.Context, _ string, _ []string, _ domain.BotLevel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.moves) == 0 {
		return "", errors.New("no scripted move")
	}
	mv := f.moves[0]
	f.moves = f.moves[1:]
	return mv, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testDeps(t *testing.T) (Deps, *fakeStore, *fakeLedger, *fakePub, *fakeOracle, *testClock) {
	t.Helper()
	st := newFakeStore()
	lg := &fakeLedger{}
	pub := &fakePub{}
	or := &fakeOracle{}
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	deps := Deps{Store: st, Ledger: lg, Oracle: or, Pub: pub, Now: clk.Now, OracleRetries: 1}
	return deps, st, lg, pub, or, clk
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestSubmitMoveGuards(t *testing.T) {
	deps, _, _, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	if err := s.SubmitMove(ctx, "mallory", "e2", "e4", ""); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("stranger move: expected ErrNotParticipant, got %v", err)
	}
	if err := s.SubmitMove(ctx, "bob", "e7", "e5", ""); !errors.Is(err, ErrOutOfTurn) {
		t.Fatalf("black first: expected ErrOutOfTurn, got %v", err)
	}
	if err := s.SubmitMove(ctx, "alice", "e2", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	// guard failures leave state untouched
	snap := s.Snapshot()
	if len(snap.MovesUCI) != 0 || snap.FEN != domain.StartFEN {
		t.Fatalf("state mutated by rejected moves: %+v", snap)
	}
}

func TestSubmitMoveAppliesAndDebitsClock(t *testing.T) {
	deps, st, _, pub, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	if err := s.SubmitMove(ctx, "alice", "e2", "e4", ""); err != nil {
		t.Fatalf("first move: %v", err)
	}
	clk.Advance(7 * time.Second)
	if err := s.SubmitMove(ctx, "bob", "e7", "e5", ""); err != nil {
		t.Fatalf("second move: %v", err)
	}

	snap := s.Snapshot()
	if snap.WhiteTime != 300 {
		t.Fatalf("white clock should not start before white's first reply, got %d", snap.WhiteTime)
	}
	if snap.BlackTime != 293 {
		t.Fatalf("black should have been debited 7s, got %d", snap.BlackTime)
	}
	if snap.CurrentTurn != domain.White {
		t.Fatalf("expected white to move, got %v", snap.CurrentTurn)
	}
	if len(snap.MovesSAN) != 2 || snap.MovesSAN[0] != "e4" {
		t.Fatalf("unexpected history: %v", snap.MovesSAN)
	}

	// every accepted move is persisted and broadcast
	saved, err := st.GetMatch(ctx, m.ID)
	if err != nil || len(saved.MovesUCI) != 2 {
		t.Fatalf("store not updated: %v %v", err, saved)
	}
	moves := 0
	for _, ev := range pub.all() {
		if mv, ok := ev.(*matchdto.Move); ok && mv.Type == matchdto.TypeMove {
			moves++
		}
	}
	if moves != 2 {
		t.Fatalf("expected 2 move events, got %d", moves)
	}
}

func TestTimeoutBeatsLateMove(t *testing.T) {
	deps, _, lg, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	if err := s.SubmitMove(ctx, "alice", "e2", "e4", ""); err != nil {
		t.Fatalf("first move: %v", err)
	}
	// black sits past their whole budget, then tries to move
	clk.Advance(301 * time.Second)
	if err := s.SubmitMove(ctx, "bob", "e7", "e5", ""); !errors.Is(err, ErrGameNotInProgress) {
		t.Fatalf("late move: expected ErrGameNotInProgress, got %v", err)
	}

	snap := s.Snapshot()
	if snap.Status != domain.StatusFinished || snap.EndedReason != domain.ReasonTimeout {
		t.Fatalf("expected timeout finish, got %s/%s", snap.Status, snap.EndedReason)
	}
	if snap.WinnerID != "alice" || snap.LoserID != "bob" {
		t.Fatalf("wrong verdict: winner=%q loser=%q", snap.WinnerID, snap.LoserID)
	}
	if snap.BlackTime != 0 {
		t.Fatalf("loser clock should read zero, got %d", snap.BlackTime)
	}
	if got := lg.all(); len(got) != 1 || got[0].userID != "alice" || got[0].amount != 50 {
		t.Fatalf("expected one 50-coin credit to alice, got %v", got)
	}
}

func TestCheckmateFinishesAndPaysOnce(t *testing.T) {
	deps, _, lg, pub, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	// fool's mate: black wins
	seq := []struct {
		actor    string
		from, to string
	}{
		{"alice", "f2", "f3"},
		{"bob", "e7", "e5"},
		{"alice", "g2", "g4"},
		{"bob", "d8", "h4"},
	}
	for _, mv := range seq {
		if err := s.SubmitMove(ctx, mv.actor, mv.from, mv.to, ""); err != nil {
			t.Fatalf("%s %s%s: %v", mv.actor, mv.from, mv.to, err)
		}
	}

	snap := s.Snapshot()
	if snap.Status != domain.StatusFinished || snap.EndedReason != domain.ReasonCheckmate {
		t.Fatalf("expected checkmate finish, got %s/%s", snap.Status, snap.EndedReason)
	}
	if snap.WinnerID != "bob" || snap.LoserID != "alice" {
		t.Fatalf("wrong verdict: winner=%q loser=%q", snap.WinnerID, snap.LoserID)
	}
	if snap.Result != domain.OutcomeLose {
		t.Fatalf("result is relative to the initiator, got %s", snap.Result)
	}

	if got := lg.all(); len(got) != 1 || got[0].userID != "bob" || got[0].amount != 50 {
		t.Fatalf("expected single 50-coin credit to bob, got %v", got)
	}

	// further play and resignation are rejected, no double payout
	if err := s.SubmitMove(ctx, "alice", "a2", "a3", ""); !errors.Is(err, ErrGameNotInProgress) {
		t.Fatalf("move after mate: %v", err)
	}
	if err := s.Resign(ctx, "alice"); !errors.Is(err, ErrGameNotInProgress) {
		t.Fatalf("resign after mate: %v", err)
	}
	if got := lg.all(); len(got) != 1 {
		t.Fatalf("rewards paid twice: %v", got)
	}

	overs := 0
	for _, ev := range pub.all() {
		if _, ok := ev.(*matchdto.GameOver); ok {
			overs++
		}
	}
	if overs != 1 {
		t.Fatalf("expected exactly one game_over broadcast, got %d", overs)
	}
}

func TestStalemateDrawPaysBothSides(t *testing.T) {
	deps, _, lg, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	// ten-move stalemate
	moves := []string{
		"c2c4", "h7h5", "h2h4", "a7a5", "d1a4", "a8a6", "a4a5", "a6h6",
		"a5c7", "f7f6", "c7d7", "e8f7", "d7b7", "d8d3", "b7b8", "d3h7",
		"b8c8", "f7g6", "c8e6",
	}
	actors := []string{"alice", "bob"}
	for i, uci := range moves {
		if err := s.SubmitMove(ctx, actors[i%2], uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("move %d %s: %v", i+1, uci, err)
		}
	}

	snap := s.Snapshot()
	if snap.Status != domain.StatusFinished || snap.EndedReason != domain.ReasonDraw {
		t.Fatalf("expected draw finish, got %s/%s", snap.Status, snap.EndedReason)
	}
	if snap.Result != domain.OutcomeDraw || snap.WinnerID != "" || snap.LoserID != "" {
		t.Fatalf("draw should have no winner: %+v", snap)
	}
	got := lg.all()
	if len(got) != 2 {
		t.Fatalf("expected both sides credited, got %v", got)
	}
	for _, c := range got {
		if c.amount != 20 {
			t.Fatalf("draw pays 20 each, got %v", got)
		}
	}
	if snap.CoinsEarned != 20 {
		t.Fatalf("initiator's earned coins not recorded: %d", snap.CoinsEarned)
	}
}

func TestResign(t *testing.T) {
	deps, _, lg, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "bob", 0, clk.Now())
	s := NewSession(m, deps)

	if err := s.Resign(context.Background(), "bob"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	snap := s.Snapshot()
	if snap.EndedReason != domain.ReasonResign || snap.WinnerID != "alice" || snap.LoserID != "bob" {
		t.Fatalf("wrong resign verdict: %+v", snap)
	}
	if snap.Result != domain.OutcomeWin {
		t.Fatalf("initiator won, result should be WIN: %s", snap.Result)
	}
	if got := lg.all(); len(got) != 1 || got[0].userID != "alice" {
		t.Fatalf("expected winner credit, got %v", got)
	}
}

func TestBotMatchReply(t *testing.T) {
	deps, _, _, _, or, clk := testDeps(t)
	or.moves = []string{"e7e5"}
	m := NewBotMatch("alice", domain.BotMedium, 0, clk.Now())
	s := NewSession(m, deps)

	if err := s.SubmitMove(context.Background(), "alice", "e2", "e4", ""); err != nil {
		t.Fatalf("player move: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().MovesUCI) == 2 })

	snap := s.Snapshot()
	if snap.MovesUCI[1] != "e7e5" {
		t.Fatalf("bot move not applied: %v", snap.MovesUCI)
	}
	if snap.CurrentTurn != domain.White {
		t.Fatalf("turn should return to the player, got %v", snap.CurrentTurn)
	}
}

func TestBotWinPaysPlayerNothing(t *testing.T) {
	deps, _, lg, _, or, clk := testDeps(t)
	// scholar-style finish where the engine mates the player
	or.moves = []string{"e7e5", "d8h4"}
	m := NewBotMatch("alice", domain.BotEasy, 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	if err := s.SubmitMove(ctx, "alice", "f2", "f3", ""); err != nil {
		t.Fatalf("move 1: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().MovesUCI) == 2 })
	if err := s.SubmitMove(ctx, "alice", "g2", "g4", ""); err != nil {
		t.Fatalf("move 2: %v", err)
	}
	waitFor(t, func() bool { return s.Snapshot().Status != domain.StatusInProgress })

	snap := s.Snapshot()
	if snap.EndedReason != domain.ReasonCheckmate || snap.Result != domain.OutcomeLose {
		t.Fatalf("expected bot checkmate loss, got %s/%s", snap.EndedReason, snap.Result)
	}
	if snap.WinnerID != m.BotID() || snap.LoserID != "alice" {
		t.Fatalf("wrong verdict: winner=%q loser=%q", snap.WinnerID, snap.LoserID)
	}
	if got := lg.all(); len(got) != 0 {
		t.Fatalf("losing to the bot pays nothing, got %v", got)
	}
	if snap.CoinsEarned != 0 {
		t.Fatalf("coins earned should be zero, got %d", snap.CoinsEarned)
	}
}

func TestBotUnavailableKeepsMatchAlive(t *testing.T) {
	deps, _, _, pub, or, clk := testDeps(t)
	or.err = errors.New("engine crashed")
	m := NewBotMatch("alice", domain.BotHard, 0, clk.Now())
	s := NewSession(m, deps)

	if err := s.SubmitMove(context.Background(), "alice", "e2", "e4", ""); err != nil {
		t.Fatalf("player move: %v", err)
	}
	waitFor(t, func() bool {
		for _, ev := range pub.all() {
			if e, ok := ev.(*matchdto.Error); ok && e.Reason == ReasonOracleUnavailable {
				return true
			}
		}
		return false
	})

	snap := s.Snapshot()
	if snap.Status != domain.StatusInProgress {
		t.Fatalf("oracle failure must not end the match, got %s", snap.Status)
	}
	if snap.CurrentTurn != domain.Black {
		t.Fatalf("it stays the engine's turn, got %v", snap.CurrentTurn)
	}
}

func TestTickTimerUpdateAndStop(t *testing.T) {
	deps, _, _, pub, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	if err := s.SubmitMove(ctx, "alice", "e2", "e4", ""); err != nil {
		t.Fatalf("move: %v", err)
	}
	clk.Advance(5 * time.Second)
	if stop := s.Tick(ctx); stop {
		t.Fatal("tick should not stop a live match")
	}

	var upd *matchdto.TimerUpdate
	for _, ev := range pub.all() {
		if u, ok := ev.(*matchdto.TimerUpdate); ok {
			upd = u
		}
	}
	if upd == nil {
		t.Fatal("expected a timer_update event")
	}
	if upd.BlackTime != 295 || upd.WhiteTime != 300 {
		t.Fatalf("projected clocks wrong: white=%d black=%d", upd.WhiteTime, upd.BlackTime)
	}

	// budget exhausted: tick finishes the match and asks the timer to stop
	clk.Advance(300 * time.Second)
	if stop := s.Tick(ctx); !stop {
		t.Fatal("tick should stop after timeout")
	}
	if snap := s.Snapshot(); snap.EndedReason != domain.ReasonTimeout || snap.WinnerID != "alice" {
		t.Fatalf("expected alice to win on time: %+v", snap)
	}
	if stop := s.Tick(ctx); !stop {
		t.Fatal("tick on a finished match must report stop")
	}
}

func TestLedgerFailureDoesNotRollBackFinish(t *testing.T) {
	deps, _, lg, pub, _, clk := testDeps(t)
	lg.fail = true
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)

	if err := s.Resign(context.Background(), "bob"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != domain.StatusFinished {
		t.Fatalf("credit failure must not roll back the finish: %s", snap.Status)
	}
	if snap.CoinsEarned != 0 {
		t.Fatalf("coins must not be advertised when the credit failed, got %d", snap.CoinsEarned)
	}
	found := false
	for _, ev := range pub.all() {
		if e, ok := ev.(*matchdto.Error); ok && e.Reason == ReasonRewardInconsistency {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a reward_inconsistency event")
	}
}

func TestAbandon(t *testing.T) {
	deps, _, lg, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)

	if err := s.Abandon(context.Background()); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED, got %s", snap.Status)
	}
	if got := lg.all(); len(got) != 0 {
		t.Fatalf("abandonment pays nothing, got %v", got)
	}
	if err := s.Abandon(context.Background()); !errors.Is(err, ErrGameNotInProgress) {
		t.Fatalf("second abandon: %v", err)
	}
}

func TestConcurrentSubmissionsSerialize(t *testing.T) {
	deps, _, _, _, _, clk := testDeps(t)
	m := NewPvPMatch("alice", "bob", "alice", 0, clk.Now())
	s := NewSession(m, deps)
	ctx := context.Background()

	// both players hammer the same ply; exactly one white move may land
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.SubmitMove(ctx, "alice", "e2", "e4", "")
		}()
		go func() {
			defer wg.Done()
			errs <- s.SubmitMove(ctx, "bob", "e7", "e5", "")
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		}
	}
	snap := s.Snapshot()
	if accepted != len(snap.MovesUCI) {
		t.Fatalf("accepted %d but history has %d", accepted, len(snap.MovesUCI))
	}
	if len(snap.MovesUCI) == 0 || len(snap.MovesUCI) > 2 {
		t.Fatalf("unexpected history length %d: %v", len(snap.MovesUCI), snap.MovesUCI)
	}
}
