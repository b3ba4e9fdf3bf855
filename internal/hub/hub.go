// Package hub fans domain events out to the connections subscribed to a
// match. Delivery is best-effort: a slow or dead subscriber drops events and
// never blocks the mutation path.
package hub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/obslog"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/pkg/matchdto"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrForbidden     = errors.New("not a participant of this match")
)

const sendBuffer = 32

// Subscriber is one admitted connection. Events arrive on C in the order
// they were published for the match, except those dropped on overflow.
type Subscriber struct {
	matchID  string
	identity string
	ch       chan any
	once     sync.Once
}

// C is the subscriber's event stream. It is closed on unsubscribe.
func (s *Subscriber) C() <-chan any { return s.ch }

// Identity returns the authenticated participant behind the connection.
func (s *Subscriber) Identity() string { return s.identity }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Subscriber]struct{}
	matches store.MatchStore
}

func New(matches store.MatchStore) *Hub {
	return &Hub{
		groups:  make(map[string]map[*Subscriber]struct{}),
		matches: matches,
	}
}

// Subscribe admits a connection to a match's fan-out group after the
// admission checks and queues the full state snapshot as the first event.
func (h *Hub) Subscribe(ctx context.Context, matchID, identity string) (*Subscriber, error) {
	m, err := h.matches.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if !m.IsParticipant(identity) {
		return nil, ErrForbidden
	}

	sub := &Subscriber{
		matchID:  matchID,
		identity: identity,
		ch:       make(chan any, sendBuffer),
	}

	// The snapshot is re-read with publishers held out, so anything published
	// before the group insert is inside the snapshot and anything after it is
	// delivered on the stream. The buffered channel keeps the enqueue
	// non-blocking under the lock.
	h.mu.Lock()
	m, err = h.matches.GetMatch(ctx, matchID)
	if err != nil {
		h.mu.Unlock()
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	sub.ch <- matchdto.StateFrom(m, identity)
	group, ok := h.groups[matchID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		h.groups[matchID] = group
	}
	group[sub] = struct{}{}
	h.mu.Unlock()

	obslog.L().Info("hub_subscribe",
		zap.String("match_id", matchID),
		zap.String("identity", identity),
	)
	return sub, nil
}

// Unsubscribe removes a connection immediately; no cleanup is deferred.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if group, ok := h.groups[sub.matchID]; ok {
		delete(group, sub)
		if len(group) == 0 {
			delete(h.groups, sub.matchID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber of the match. A full send
// buffer drops the event for that subscriber only.
func (h *Hub) Publish(matchID string, event any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.groups[matchID] {
		select {
		case sub.ch <- event:
		default:
			obslog.L().Debug("hub_drop_event",
				zap.String("match_id", matchID),
				zap.String("identity", sub.identity),
			)
		}
	}
}

// Direct queues an event for one subscriber only, used for per-connection
// error payloads.
func (h *Hub) Direct(sub *Subscriber, event any) {
	if sub == nil {
		return
	}
	select {
	case sub.ch <- event:
	default:
	}
}

// SubscriberCount reports the fan-out group size for a match id.
func (h *Hub) SubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[matchID])
}
