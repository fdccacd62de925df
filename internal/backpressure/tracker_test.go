package backpressure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-dev/parlor/internal/clock"
	"github.com/parlor-dev/parlor/internal/events"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTracker(limit int) (*Tracker, *clock.Fake, <-chan events.Event) {
	fake := clock.NewFake(epoch)
	bus := events.NewBus()
	ch, _ := bus.Subscribe(64)
	return NewTracker(limit, fake, bus), fake, ch
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCanRespondFreshRoom(t *testing.T) {
	tracker, _, _ := newTestTracker(3)
	assert.True(t, tracker.CanRespond("room-1"), "fresh room should accept responses")
}

func TestSleepAtMessageLimit(t *testing.T) {
	tracker, _, ch := newTestTracker(3)

	// Below the limit the room stays awake and responsive.
	tracker.OnAgentMessage("room-1")
	tracker.OnAgentMessage("room-1")
	state, ok := tracker.State("room-1")
	require.True(t, ok)
	assert.False(t, state.IsAsleep)
	assert.Equal(t, 2, state.MessageCount)
	assert.True(t, tracker.CanRespond("room-1"))

	// The third message crosses the limit in the same step.
	tracker.OnAgentMessage("room-1")
	state, _ = tracker.State("room-1")
	assert.True(t, state.IsAsleep)
	assert.Equal(t, 3, state.MessageCount)
	assert.Equal(t, ReasonMessageLimit, state.SleepReason)
	assert.False(t, tracker.CanRespond("room-1"))

	var sleeps []events.Sleeping
	for _, ev := range drainEvents(ch) {
		if s, ok := ev.(events.Sleeping); ok {
			sleeps = append(sleeps, s)
		}
	}
	require.Len(t, sleeps, 1, "exactly one sleeping event")
	assert.Equal(t, ReasonMessageLimit, sleeps[0].Reason)
	assert.Equal(t, 3, sleeps[0].MessageCount)
}

func TestCountNeverExceedsLimitWhileAwake(t *testing.T) {
	tracker, _, _ := newTestTracker(5)

	for i := 0; i < 20; i++ {
		tracker.OnAgentMessage("room-1")
		state, _ := tracker.State("room-1")
		if !state.IsAsleep {
			assert.LessOrEqual(t, state.MessageCount, state.MaxMessages,
				"count must not exceed limit while awake (step %d)", i)
		}
	}
}

func TestUserMessageWakesAndResets(t *testing.T) {
	tracker, _, ch := newTestTracker(2)

	tracker.OnAgentMessage("room-1")
	tracker.OnAgentMessage("room-1")
	require.False(t, tracker.CanRespond("room-1"), "room should be asleep at the limit")
	drainEvents(ch)

	tracker.OnUserMessage("room-1", "alice")

	state, _ := tracker.State("room-1")
	assert.False(t, state.IsAsleep)
	assert.Equal(t, 0, state.MessageCount)
	assert.Empty(t, state.SleepReason)
	assert.True(t, tracker.CanRespond("room-1"))

	var wakes []events.Awakened
	for _, ev := range drainEvents(ch) {
		if w, ok := ev.(events.Awakened); ok {
			wakes = append(wakes, w)
		}
	}
	require.Len(t, wakes, 1)
	assert.Equal(t, "user-message-from-alice", wakes[0].Reason)
}

func TestUserMessageOnAwakeRoomResetsWithoutWakeEvent(t *testing.T) {
	tracker, _, ch := newTestTracker(5)

	tracker.OnAgentMessage("room-1")
	tracker.OnUserMessage("room-1", "bob")

	state, _ := tracker.State("room-1")
	assert.Equal(t, 0, state.MessageCount)
	assert.False(t, state.IsAsleep)

	for _, ev := range drainEvents(ch) {
		if _, ok := ev.(events.Awakened); ok {
			t.Error("awakened event emitted for an already-active room")
		}
	}
}

func TestManualSleepAndWake(t *testing.T) {
	tracker, _, ch := newTestTracker(10)

	tracker.Sleep("room-1", "moderator-pause")
	assert.False(t, tracker.CanRespond("room-1"))

	// Sleeping an asleep room emits nothing new.
	tracker.Sleep("room-1", "again")
	var sleeps int
	for _, ev := range drainEvents(ch) {
		if _, ok := ev.(events.Sleeping); ok {
			sleeps++
		}
	}
	assert.Equal(t, 1, sleeps)

	tracker.Wake("room-1", "moderator-resume")
	assert.True(t, tracker.CanRespond("room-1"))

	// Waking an active room is a no-op.
	tracker.Wake("room-1", "again")
	var wakes int
	for _, ev := range drainEvents(ch) {
		if _, ok := ev.(events.Awakened); ok {
			wakes++
		}
	}
	assert.Equal(t, 1, wakes)
}

func TestUpdateLimitForcesSleep(t *testing.T) {
	tracker, _, _ := newTestTracker(10)

	tracker.OnAgentMessage("room-1")
	tracker.OnAgentMessage("room-1")
	tracker.OnAgentMessage("room-1")
	require.True(t, tracker.CanRespond("room-1"))

	// Dropping the limit below the current count sleeps the room now.
	tracker.UpdateLimit("room-1", 2)
	state, _ := tracker.State("room-1")
	assert.True(t, state.IsAsleep)
	assert.Equal(t, ReasonMessageLimit, state.SleepReason)

	// Raising it back does not wake the room on its own.
	tracker.UpdateLimit("room-1", 10)
	state, _ = tracker.State("room-1")
	assert.True(t, state.IsAsleep, "raising the limit must not wake an asleep room")
}

func TestCleanupEvictsStaleRooms(t *testing.T) {
	tracker, fake, _ := newTestTracker(3)

	tracker.OnAgentMessage("stale-room")
	fake.Advance(2 * time.Hour)
	tracker.OnUserMessage("fresh-room", "carol") // resets fresh-room's clock

	evicted := tracker.Cleanup(time.Hour)
	assert.Equal(t, 1, evicted)

	_, ok := tracker.State("stale-room")
	assert.False(t, ok, "stale room should be gone entirely")
	_, ok = tracker.State("fresh-room")
	assert.True(t, ok)

	// A new reference recreates the room from scratch.
	assert.True(t, tracker.CanRespond("stale-room"))
	state, _ := tracker.State("stale-room")
	assert.Equal(t, 0, state.MessageCount)
}

func TestCleanupLoopRuns(t *testing.T) {
	fake := clock.NewFake(epoch)
	tracker := NewTracker(3, fake, events.NewBus())

	tracker.OnAgentMessage("room-1")
	fake.Advance(time.Hour)

	require.NoError(t, tracker.StartCleanupLoop(20*time.Millisecond, time.Minute))
	require.NoError(t, tracker.StartCleanupLoop(20*time.Millisecond, time.Minute), "second start is a no-op")
	defer tracker.StopCleanupLoop()

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Rooms() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, tracker.Rooms(), "sweep should evict the stale room")
}
