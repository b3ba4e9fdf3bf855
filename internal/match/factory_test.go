package match

import (
	"testing"
	"time"

	"github.com/marsdevs/chess-arena/internal/clock"
	"github.com/marsdevs/chess-arena/internal/domain"
)

func TestFactoryAppliesClockBudget(t *testing.T) {
	m := NewBotMatch("alice", domain.BotEasy, 120, time.Now())
	if m.WhiteTime != 120 || m.BlackTime != 120 {
		t.Fatalf("bot match budget not applied: white=%d black=%d", m.WhiteTime, m.BlackTime)
	}
	p := NewPvPMatch("alice", "bob", "bob", 900, time.Now())
	if p.WhiteTime != 900 || p.BlackTime != 900 {
		t.Fatalf("pvp match budget not applied: white=%d black=%d", p.WhiteTime, p.BlackTime)
	}
}

func TestFactoryBudgetFallsBackToDefault(t *testing.T) {
	for _, budget := range []int{0, -5} {
		m := NewPvPMatch("alice", "bob", "alice", budget, time.Now())
		if m.WhiteTime != clock.DefaultBudget || m.BlackTime != clock.DefaultBudget {
			t.Fatalf("budget %d: expected default %d, got white=%d black=%d",
				budget, clock.DefaultBudget, m.WhiteTime, m.BlackTime)
		}
	}
}
