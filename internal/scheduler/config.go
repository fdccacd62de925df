package scheduler

import (
	"fmt"
	"time"
)

// Config tunes the scheduling core. Every min/max pair must satisfy
// min <= max; Validate enforces this at construction.
type Config struct {
	// MaxMessages bounds the in-memory context log kept per room.
	MaxMessages int
	// MaxAIMessages is the per-room agent message budget before the
	// backpressure tracker puts the room to sleep.
	MaxAIMessages int
	// MaxConcurrentResponses caps simultaneous in-flight generation calls
	// across all rooms.
	MaxConcurrentResponses int

	// MinResponders and MaxResponders bound how many participants one
	// scheduling pass selects.
	MinResponders int
	MaxResponders int

	// InitConcurrency caps simultaneous participant initializations at
	// startup.
	InitConcurrency int

	// InstantReplyMin and InstantReplyMax form the first-responder band:
	// the first participant answering a user message replies inside it.
	InstantReplyMin time.Duration
	InstantReplyMax time.Duration

	// MinUserResponseDelay and MaxUserResponseDelay form the base band
	// for replies to user messages.
	MinUserResponseDelay time.Duration
	MaxUserResponseDelay time.Duration

	// MinBackgroundDelay and MaxBackgroundDelay form the base band for
	// unprompted background chatter.
	MinBackgroundDelay time.Duration
	MaxBackgroundDelay time.Duration

	// MinDelayBetweenAI and MaxDelayBetweenAI spread responders selected
	// in the same pass apart from each other.
	MinDelayBetweenAI time.Duration
	MaxDelayBetweenAI time.Duration

	// BackgroundCheckMin and BackgroundCheckMax bound the random
	// reschedule interval of the per-room liveliness timer.
	BackgroundCheckMin time.Duration
	BackgroundCheckMax time.Duration

	// SilenceWindow suppresses background chatter once a room has heard
	// no agent message for this long. The liveliness timer keeps firing;
	// it just stops dispatching.
	SilenceWindow time.Duration

	// ResponderCooldown is the minimum spacing between one participant's
	// generations. Zero disables the cooldown.
	ResponderCooldown time.Duration

	// CleanupInterval and CleanupMaxAge drive eviction of rooms with no
	// recent activity.
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

// DefaultConfig returns the tuning used when no overrides are supplied.
func DefaultConfig() Config {
	return Config{
		MaxMessages:            50,
		MaxAIMessages:          30,
		MaxConcurrentResponses: 2,
		MinResponders:          1,
		MaxResponders:          3,
		InitConcurrency:        8,
		InstantReplyMin:        300 * time.Millisecond,
		InstantReplyMax:        800 * time.Millisecond,
		MinUserResponseDelay:   2 * time.Second,
		MaxUserResponseDelay:   8 * time.Second,
		MinBackgroundDelay:     15 * time.Second,
		MaxBackgroundDelay:     45 * time.Second,
		MinDelayBetweenAI:      3 * time.Second,
		MaxDelayBetweenAI:      10 * time.Second,
		BackgroundCheckMin:     25 * time.Second,
		BackgroundCheckMax:     50 * time.Second,
		SilenceWindow:          2 * time.Minute,
		ResponderCooldown:      0,
		CleanupInterval:        10 * time.Minute,
		CleanupMaxAge:          time.Hour,
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("maxMessages must be positive, got %d", c.MaxMessages)
	}
	if c.MaxAIMessages <= 0 {
		return fmt.Errorf("maxAIMessages must be positive, got %d", c.MaxAIMessages)
	}
	if c.MaxConcurrentResponses <= 0 {
		return fmt.Errorf("maxConcurrentResponses must be positive, got %d", c.MaxConcurrentResponses)
	}
	if c.MinResponders <= 0 {
		return fmt.Errorf("minResponders must be positive, got %d", c.MinResponders)
	}
	if c.MaxResponders < c.MinResponders {
		return fmt.Errorf("maxResponders %d below minResponders %d", c.MaxResponders, c.MinResponders)
	}
	if c.InitConcurrency <= 0 {
		return fmt.Errorf("initConcurrency must be positive, got %d", c.InitConcurrency)
	}

	bands := []struct {
		name     string
		min, max time.Duration
	}{
		{"instantReply", c.InstantReplyMin, c.InstantReplyMax},
		{"userResponseDelay", c.MinUserResponseDelay, c.MaxUserResponseDelay},
		{"backgroundDelay", c.MinBackgroundDelay, c.MaxBackgroundDelay},
		{"delayBetweenAI", c.MinDelayBetweenAI, c.MaxDelayBetweenAI},
		{"backgroundCheck", c.BackgroundCheckMin, c.BackgroundCheckMax},
	}
	for _, b := range bands {
		if b.min < 0 {
			return fmt.Errorf("%s: negative minimum %v", b.name, b.min)
		}
		if b.max < b.min {
			return fmt.Errorf("%s: max %v below min %v", b.name, b.max, b.min)
		}
	}

	if c.SilenceWindow <= 0 {
		return fmt.Errorf("silenceWindow must be positive, got %v", c.SilenceWindow)
	}
	if c.ResponderCooldown < 0 {
		return fmt.Errorf("responderCooldown must not be negative, got %v", c.ResponderCooldown)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanupInterval must be positive, got %v", c.CleanupInterval)
	}
	if c.CleanupMaxAge <= 0 {
		return fmt.Errorf("cleanupMaxAge must be positive, got %v", c.CleanupMaxAge)
	}
	return nil
}
