// Package backpressure tracks per-room agent output and flips rooms between
// Active and Asleep so a conversation cannot be flooded. A room sleeps when
// its agent message count reaches the limit and wakes on any user message.
package backpressure

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parlor-dev/parlor/internal/clock"
	"github.com/parlor-dev/parlor/internal/events"
	pkgobs "github.com/parlor-dev/parlor/pkg/observability"
)

// ReasonMessageLimit marks sleeps caused by the room hitting its agent
// message limit.
const ReasonMessageLimit = "message-limit-reached"

// RoomState is a read-only snapshot of one room's backpressure state.
type RoomState struct {
	RoomID            string
	MessageCount      int
	MaxMessages       int
	IsAsleep          bool
	SleepReason       string
	LastResetTime     time.Time
	LastAIMessageTime time.Time
}

type roomState struct {
	roomID            string
	messageCount      int
	maxMessages       int
	isAsleep          bool
	sleepReason       string
	lastResetTime     time.Time
	lastAIMessageTime time.Time
}

// Tracker owns every room's backpressure state. Rooms are created lazily on
// first reference and evicted by the age-based cleanup sweep.
type Tracker struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	defaultMax int
	clk        clock.Clock
	bus        *events.Bus
	sweeper    *cron.Cron
}

// NewTracker creates a Tracker whose rooms sleep after defaultMax agent
// messages.
func NewTracker(defaultMax int, clk clock.Clock, bus *events.Bus) *Tracker {
	return &Tracker{
		rooms:      make(map[string]*roomState),
		defaultMax: defaultMax,
		clk:        clk,
		bus:        bus,
	}
}

// roomLocked returns the room entry, creating it on first reference.
// Caller must hold t.mu.
func (t *Tracker) roomLocked(roomID string) *roomState {
	room, ok := t.rooms[roomID]
	if !ok {
		room = &roomState{
			roomID:        roomID,
			maxMessages:   t.defaultMax,
			lastResetTime: t.clk.Now(),
		}
		t.rooms[roomID] = room
	}
	return room
}

// CanRespond reports whether agents may generate in the room right now.
func (t *Tracker) CanRespond(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.roomLocked(roomID)
	return !room.isAsleep && room.messageCount < room.maxMessages
}

// OnAgentMessage records one agent message. Reaching the limit puts the
// room to sleep in the same step.
func (t *Tracker) OnAgentMessage(roomID string) {
	t.mu.Lock()
	room := t.roomLocked(roomID)
	room.messageCount++
	room.lastAIMessageTime = t.clk.Now()
	shouldSleep := room.messageCount >= room.maxMessages && !room.isAsleep
	count := room.messageCount
	if shouldSleep {
		t.sleepLocked(room, ReasonMessageLimit)
	}
	t.mu.Unlock()

	if shouldSleep {
		log.Printf("[Backpressure] room %s asleep after %d agent messages", roomID, count)
	}
}

// OnUserMessage resets the room to Active regardless of its current state.
// This is the sole wake trigger besides a manual Wake.
func (t *Tracker) OnUserMessage(roomID, who string) {
	reason := fmt.Sprintf("user-message-from-%s", who)

	t.mu.Lock()
	room := t.roomLocked(roomID)
	wasAsleep := room.isAsleep
	room.messageCount = 0
	room.lastResetTime = t.clk.Now()
	if wasAsleep {
		t.wakeLocked(room, reason)
	} else {
		room.sleepReason = ""
	}
	t.mu.Unlock()
}

// Sleep forces the room asleep. Manual override for administrative control.
func (t *Tracker) Sleep(roomID, reason string) {
	t.mu.Lock()
	room := t.roomLocked(roomID)
	if !room.isAsleep {
		t.sleepLocked(room, reason)
	}
	t.mu.Unlock()
}

// Wake forces the room active without resetting its message count.
func (t *Tracker) Wake(roomID, reason string) {
	t.mu.Lock()
	room := t.roomLocked(roomID)
	if room.isAsleep {
		t.wakeLocked(room, reason)
	}
	t.mu.Unlock()
}

// UpdateLimit changes the room's agent message limit. A room already at or
// over the new limit goes to sleep immediately.
func (t *Tracker) UpdateLimit(roomID string, newMax int) {
	t.mu.Lock()
	room := t.roomLocked(roomID)
	room.maxMessages = newMax
	if room.messageCount >= newMax && !room.isAsleep {
		t.sleepLocked(room, ReasonMessageLimit)
	}
	t.mu.Unlock()
}

// sleepLocked transitions the room to Asleep and announces it. Caller must
// hold t.mu and have checked the room is awake.
func (t *Tracker) sleepLocked(room *roomState, reason string) {
	room.isAsleep = true
	room.sleepReason = reason
	pkgobs.RecordSleepTransition(room.roomID, "sleep")
	t.bus.Publish(events.Sleeping{
		RoomID:       room.roomID,
		Reason:       reason,
		MessageCount: room.messageCount,
		Timestamp:    t.clk.Now(),
	})
}

// wakeLocked transitions the room to Active and announces it. Caller must
// hold t.mu and have checked the room is asleep.
func (t *Tracker) wakeLocked(room *roomState, reason string) {
	room.isAsleep = false
	room.sleepReason = ""
	pkgobs.RecordSleepTransition(room.roomID, "wake")
	t.bus.Publish(events.Awakened{
		RoomID:    room.roomID,
		Reason:    reason,
		Timestamp: t.clk.Now(),
	})
}

// State returns a snapshot of the room, reporting false for rooms never
// referenced.
func (t *Tracker) State(roomID string) (RoomState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return RoomState{}, false
	}
	return RoomState{
		RoomID:            room.roomID,
		MessageCount:      room.messageCount,
		MaxMessages:       room.maxMessages,
		IsAsleep:          room.isAsleep,
		SleepReason:       room.sleepReason,
		LastResetTime:     room.lastResetTime,
		LastAIMessageTime: room.lastAIMessageTime,
	}, true
}

// Rooms reports how many room entries exist.
func (t *Tracker) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Cleanup evicts rooms whose last reset is older than maxAge and reports
// how many were removed. Evicted rooms are gone entirely; the next
// reference recreates them fresh.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for roomID, room := range t.rooms {
		if now.Sub(room.lastResetTime) > maxAge {
			delete(t.rooms, roomID)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[Backpressure] evicted %d stale rooms", evicted)
	}
	return evicted
}

// StartCleanupLoop schedules Cleanup(maxAge) every interval on a cron
// runner. Idempotent start; call StopCleanupLoop on shutdown.
func (t *Tracker) StartCleanupLoop(interval, maxAge time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sweeper != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, func() { t.Cleanup(maxAge) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup sweep: %w", err)
	}
	c.Start()
	t.sweeper = c
	return nil
}

// StopCleanupLoop stops the sweep. Safe to call without a running loop.
func (t *Tracker) StopCleanupLoop() {
	t.mu.Lock()
	sweeper := t.sweeper
	t.sweeper = nil
	t.mu.Unlock()
	if sweeper != nil {
		sweeper.Stop()
	}
}
