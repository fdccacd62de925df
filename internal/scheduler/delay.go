package scheduler

import (
	"math"
	"time"
)

// Pacing constants. The config bands set the coarse ranges; these shape the
// fine structure of the delay curve.
const (
	// mentionUrgencyFactor scales the base delay for mentioned
	// participants. They answer sooner, but never instantly.
	mentionUrgencyFactor = 0.4
	// minHumanDelay is the floor under every non-instant delay.
	minHumanDelay = 500 * time.Millisecond
	// catchUpExponent biases the catch-up draw toward zero, so most
	// delays keep their full length and a few finish early.
	catchUpExponent = 3.0
	// catchUpMax bounds how much a lucky draw can shave off.
	catchUpMax = 2 * time.Second
	// typingUnit is the pause added per participant already generating.
	typingUnit = 900 * time.Millisecond
	// typingJitterMin/Span spread the typing pause over [0.5x, 1.5x).
	typingJitterMin  = 0.5
	typingJitterSpan = 1.0
	// typingPenaltyCap bounds the busy-room multiplier on the base delay.
	typingPenaltyCap = 2.5
)

// delayLocked computes how long a selected responder waits before starting
// to generate. Callers hold s.mu for the rng.
//
// The first responder to a user message replies inside the instant band and
// skips every other term. Everyone else starts from a band draw, squeezed
// for mentions or stretched when the room is busy, spread apart by the
// stagger term, occasionally pulled forward by the catch-up draw, and
// pushed back while others are typing.
func (s *Scheduler) delayLocked(index int, isUserResponse, mentioned bool, typingCount int) time.Duration {
	if index == 0 && isUserResponse {
		return s.uniformLocked(s.cfg.InstantReplyMin, s.cfg.InstantReplyMax).Truncate(time.Millisecond)
	}

	var base time.Duration
	if isUserResponse {
		base = s.uniformLocked(s.cfg.MinUserResponseDelay, s.cfg.MaxUserResponseDelay)
	} else {
		base = s.uniformLocked(s.cfg.MinBackgroundDelay, s.cfg.MaxBackgroundDelay)
	}

	if mentioned {
		base = time.Duration(float64(base) * mentionUrgencyFactor)
		if base < minHumanDelay {
			base = minHumanDelay
		}
	} else if typingCount > 0 {
		penalty := 1 + float64(typingCount)*0.5
		if penalty > typingPenaltyCap {
			penalty = typingPenaltyCap
		}
		base = time.Duration(float64(base) * penalty)
	}

	stagger := time.Duration(index)*s.cfg.MinDelayBetweenAI +
		time.Duration(s.rng.Float64()*float64(s.cfg.MaxDelayBetweenAI-s.cfg.MinDelayBetweenAI))

	catchUp := time.Duration(math.Pow(s.rng.Float64(), catchUpExponent) * float64(catchUpMax))

	var typing time.Duration
	if typingCount > 0 {
		jitter := typingJitterMin + s.rng.Float64()*typingJitterSpan
		typing = time.Duration(float64(typingCount) * float64(typingUnit) * jitter)
	}

	delay := base + stagger + typing - catchUp
	if delay < minHumanDelay {
		delay = minHumanDelay
	}
	return delay.Truncate(time.Millisecond)
}

// uniformLocked draws uniformly from [min, max]. Callers hold s.mu.
func (s *Scheduler) uniformLocked(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}
