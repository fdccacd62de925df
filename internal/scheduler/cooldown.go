package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parlor-dev/parlor/internal/clock"
)

// cooldownGate spaces out how often a single participant may start a
// generation. A zero interval disables the gate entirely.
type cooldownGate struct {
	clk      clock.Clock
	interval time.Duration
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func newCooldownGate(interval time.Duration, clk clock.Clock) *cooldownGate {
	return &cooldownGate{
		clk:      clk,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether the participant may generate now. Time comes from
// the injected clock so tests can drive refills deterministically.
func (g *cooldownGate) allow(participantID string) bool {
	if g.interval <= 0 {
		return true
	}
	return g.limiter(participantID).AllowN(g.clk.Now(), 1)
}

// limiter gets or creates the participant's limiter.
func (g *cooldownGate) limiter(participantID string) *rate.Limiter {
	g.mu.RLock()
	limiter, ok := g.limiters[participantID]
	g.mu.RUnlock()
	if ok {
		return limiter
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring the write lock.
	if limiter, ok := g.limiters[participantID]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(g.interval), 1)
	g.limiters[participantID] = limiter
	return limiter
}
