package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marsdevs/chess-arena/internal/domain"
	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

type memStore struct {
	mu      sync.Mutex
	matches map[string]*domain.Match
}

func newMemStore() *memStore {
	return &memStore{matches: make(map[string]*domain.Match)}
}

func (f *memStore) SaveMatch(_ context.Context, m *domain.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.matches[m.ID] = &cp
	return nil
}

func (f *memStore) GetMatch(_ context.Context, id string) (*domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func newTestHub(t *testing.T) (*Hub, *domain.Match) {
	t.Helper()
	st := newMemStore()
	m := match.NewPvPMatch("alice", "bob", "alice", 0, time.Now())
	if err := st.SaveMatch(context.Background(), m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(st), m
}

func TestSubscribeAdmissionChecks(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()

	if _, err := h.Subscribe(ctx, "missing", "alice"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("unknown match: expected ErrMatchNotFound, got %v", err)
	}
	if _, err := h.Subscribe(ctx, m.ID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger: expected ErrForbidden, got %v", err)
	}
	sub, err := h.Subscribe(ctx, m.ID, "alice")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	defer h.Unsubscribe(sub)
	if h.SubscriberCount(m.ID) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount(m.ID))
	}
}

func TestSnapshotIsFirstEvent(t *testing.T) {
	h, m := newTestHub(t)
	sub, err := h.Subscribe(context.Background(), m.ID, "bob")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer h.Unsubscribe(sub)

	h.Publish(m.ID, &matchdto.TimerUpdate{Type: matchdto.TypeTimerUpdate, MatchID: m.ID})

	first := <-sub.C()
	state, ok := first.(*matchdto.GameState)
	if !ok {
		t.Fatalf("first event must be the snapshot, got %T", first)
	}
	if state.MatchID != m.ID || state.PlayerColor != string(domain.Black) {
		t.Fatalf("snapshot not tailored to the viewer: %+v", state)
	}
	if _, ok := (<-sub.C()).(*matchdto.TimerUpdate); !ok {
		t.Fatal("published event should follow the snapshot")
	}
}

// gateStore parks the second GetMatch (the snapshot read) until released, so
// the test can finish the match while a subscription is mid-admission.
type gateStore struct {
	*memStore
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gateStore) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	g.memStore.mu.Lock()
	g.calls++
	second := g.calls == 2
	g.memStore.mu.Unlock()
	if second {
		close(g.entered)
		<-g.release
	}
	return g.memStore.GetMatch(ctx, id)
}

func TestTerminalEventDuringAdmissionIsNotLost(t *testing.T) {
	st := &gateStore{
		memStore: newMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	m := match.NewPvPMatch("alice", "bob", "alice", 0, time.Now())
	if err := st.SaveMatch(context.Background(), m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := New(st)

	type result struct {
		sub *Subscriber
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := h.Subscribe(context.Background(), m.ID, "alice")
		done <- result{sub, err}
	}()

	select {
	case <-st.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot read never started")
	}

	// the match ends while the subscription is still being admitted
	finished := *m
	finished.Status = domain.StatusFinished
	finished.Result = domain.OutcomeWin
	finished.WinnerID = "bob"
	if err := st.SaveMatch(context.Background(), &finished); err != nil {
		t.Fatalf("save finished: %v", err)
	}
	published := make(chan struct{})
	go func() {
		h.Publish(m.ID, matchdto.GameOverFrom(&finished))
		close(published)
	}()
	close(st.release)

	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return")
	}
	if r.err != nil {
		t.Fatalf("Subscribe: %v", r.err)
	}
	defer h.Unsubscribe(r.sub)
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return")
	}

	first := <-r.sub.C()
	state, ok := first.(*matchdto.GameState)
	if !ok {
		t.Fatalf("first event must be the snapshot, got %T", first)
	}
	if state.Status == string(domain.StatusInProgress) {
		t.Fatal("snapshot shows a stale in-progress view of a finished match")
	}

	// the publish that raced the admission still reaches the stream
	select {
	case ev := <-r.sub.C():
		if _, ok := ev.(*matchdto.GameOver); !ok {
			t.Fatalf("expected game_over after the snapshot, got %T", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("game_over published during admission was never delivered")
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()

	a, err := h.Subscribe(ctx, m.ID, "alice")
	if err != nil {
		t.Fatalf("Subscribe alice: %v", err)
	}
	defer h.Unsubscribe(a)
	b, err := h.Subscribe(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("Subscribe bob: %v", err)
	}
	defer h.Unsubscribe(b)

	h.Publish(m.ID, &matchdto.Error{Type: matchdto.TypeError, Reason: "x"})

	for _, sub := range []*Subscriber{a, b} {
		<-sub.C() // snapshot
		if ev, ok := (<-sub.C()).(*matchdto.Error); !ok || ev.Reason != "x" {
			t.Fatalf("subscriber %s missed the event", sub.Identity())
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h, m := newTestHub(t)
	sub, err := h.Subscribe(context.Background(), m.ID, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer h.Unsubscribe(sub)

	// overflow the buffer without draining; Publish must return promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*3; i++ {
			h.Publish(m.ID, &matchdto.TimerUpdate{Type: matchdto.TypeTimerUpdate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := len(sub.ch); got != sendBuffer {
		t.Fatalf("buffer should be capped at %d, holds %d", sendBuffer, got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h, m := newTestHub(t)
	sub, err := h.Subscribe(context.Background(), m.ID, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.Unsubscribe(sub)

	if h.SubscriberCount(m.ID) != 0 {
		t.Fatalf("group not emptied: %d", h.SubscriberCount(m.ID))
	}
	// drain snapshot, then the channel must report closed
	for {
		if _, ok := <-sub.C(); !ok {
			break
		}
	}
	// publishing after unsubscribe must not panic or deliver
	h.Publish(m.ID, &matchdto.TimerUpdate{})
	h.Unsubscribe(sub) // idempotent
}

func TestDirectTargetsOneSubscriber(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()

	a, err := h.Subscribe(ctx, m.ID, "alice")
	if err != nil {
		t.Fatalf("Subscribe alice: %v", err)
	}
	defer h.Unsubscribe(a)
	b, err := h.Subscribe(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("Subscribe bob: %v", err)
	}
	defer h.Unsubscribe(b)

	<-a.C() // snapshots
	<-b.C()

	h.Direct(a, &matchdto.Error{Type: matchdto.TypeError, Reason: "illegal_move"})
	if ev, ok := (<-a.C()).(*matchdto.Error); !ok || ev.Reason != "illegal_move" {
		t.Fatalf("direct event missing: %v", ev)
	}
	select {
	case ev := <-b.C():
		t.Fatalf("direct event leaked to another subscriber: %v", ev)
	default:
	}
}
