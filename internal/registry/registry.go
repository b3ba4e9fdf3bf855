// Package registry tracks active match sessions and their timer tasks. It is
// explicit state: whoever starts or stops matches receives the registry, and
// at most one timer task ever runs per match id.
package registry

import (
	"context"
	"errors"
	"time"

	"sync"

	"go.uber.org/zap"

	"github.com/marsdevs/chess-arena/internal/match"
	"github.com/marsdevs/chess-arena/internal/obslog"
)

const (
	DefaultTickPeriod = time.Second
	DefaultMaxLive    = 500
)

// ErrSessionLimit is returned when the live-session cap would be exceeded.
var ErrSessionLimit = errors.New("live session limit reached")

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*match.Session
	timers   map[string]chan struct{}
	deps     match.Deps
	tick     time.Duration
	maxLive  int
}

func New(deps match.Deps, tick time.Duration, maxLive int) *Registry {
	if tick <= 0 {
		tick = DefaultTickPeriod
	}
	if maxLive <= 0 {
		maxLive = DefaultMaxLive
	}
	return &Registry{
		sessions: make(map[string]*match.Session),
		timers:   make(map[string]chan struct{}),
		deps:     deps,
		tick:     tick,
		maxLive:  maxLive,
	}
}

// Now reports the registry's clock. New matches are stamped with it so tests
// can pin time.
func (r *Registry) Now() time.Time {
	if r.deps.Now != nil {
		return r.deps.Now()
	}
	return time.Now()
}

// GetOrCreate returns the singleton session for a match id, loading the
// record from the store on first use. All writers for one match id go
// through the one session returned here.
func (r *Registry) GetOrCreate(ctx context.Context, matchID string) (*match.Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[matchID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	m, err := r.deps.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have won the race while we were loading
	if s, ok := r.sessions[matchID]; ok {
		return s, nil
	}
	if len(r.sessions) >= r.maxLive {
		return nil, ErrSessionLimit
	}
	s := match.NewSession(m, r.deps)
	r.sessions[matchID] = s
	return s, nil
}

// Adopt registers a session for a freshly created match without a store
// round-trip.
func (r *Registry) Adopt(s *match.Session) (*match.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.MatchID()]; ok {
		return existing, nil
	}
	if len(r.sessions) >= r.maxLive {
		return nil, ErrSessionLimit
	}
	r.sessions[s.MatchID()] = s
	return s, nil
}

// EnsureTimer starts the tick loop for a match unless one is already
// running. Insert-if-absent is atomic under the registry mutex, so no two
// timer tasks ever run concurrently for the same match id.
func (r *Registry) EnsureTimer(ctx context.Context, matchID string) error {
	s, err := r.GetOrCreate(ctx, matchID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, running := r.timers[matchID]; running {
		r.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	r.timers[matchID] = stop
	r.mu.Unlock()

	go r.timerLoop(context.WithoutCancel(ctx), s, stop)
	return nil
}

// Stop evicts a match from the registry and halts its timer task if one is
// running. Finished matches survive in the store either way.
func (r *Registry) Stop(matchID string) {
	r.mu.Lock()
	stop, ok := r.timers[matchID]
	delete(r.timers, matchID)
	delete(r.sessions, matchID)
	r.mu.Unlock()
	if ok {
		close(stop)
	}
}

// timerLoop drives the per-match clock. It terminates itself as soon as a
// tick observes a terminal status; it is never cancelled mid-tick.
func (r *Registry) timerLoop(ctx context.Context, s *match.Session, stop chan struct{}) {
	defer r.removeTimer(s.MatchID(), stop)

	obslog.L().Debug("timer_start", zap.String("match_id", s.MatchID()))
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.Tick(ctx) {
				obslog.L().Debug("timer_stop", zap.String("match_id", s.MatchID()))
				return
			}
		}
	}
}

func (r *Registry) removeTimer(matchID string, stop chan struct{}) {
	r.mu.Lock()
	// a Stop call may already have replaced this entry with a fresh timer
	if cur, ok := r.timers[matchID]; ok && cur == stop {
		delete(r.timers, matchID)
		delete(r.sessions, matchID)
	}
	r.mu.Unlock()
}

// TimerRunning reports whether a timer task exists for the match id.
func (r *Registry) TimerRunning(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[matchID]
	return ok
}
