package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-dev/parlor/internal/clock"
	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/pkg/responder"
)

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// recorder drains a bus subscription into an inspectable slice.
type recorder struct {
	mu  sync.Mutex
	all []events.Event
}

func record(ch <-chan events.Event) *recorder {
	r := &recorder{}
	go func() {
		for ev := range ch {
			r.mu.Lock()
			r.all = append(r.all, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.all))
	copy(out, r.all)
	return out
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.EventKind() == kind {
			n++
		}
	}
	return n
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range r.snapshot() {
		if ev.EventKind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// quietBackground pushes the housekeeping timers far past the horizon the
// test advances through.
func quietBackground(cfg *Config) {
	cfg.BackgroundCheckMin = 10 * time.Minute
	cfg.BackgroundCheckMax = 10 * time.Minute
}

func newTestScheduler(t *testing.T, cfg Config, participants int) (*Scheduler, *clock.Fake, *recorder, []*responder.MockResponder) {
	t.Helper()

	fake := clock.NewFake(epoch)
	bus := events.NewBus()
	ch, _ := bus.Subscribe(512)
	rec := record(ch)

	s, err := New(cfg, WithBus(bus), WithClock(fake), WithSeed(42))
	require.NoError(t, err)

	mocks := make([]*responder.MockResponder, participants)
	for i := range mocks {
		mocks[i] = responder.NewMockResponder()
		def := responder.Def{
			Alias:    fmt.Sprintf("Responder %d", i+1),
			Provider: "mock",
			Model:    "mock-1",
		}
		require.NoError(t, s.AddParticipant(def, mocks[i]))
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		bus.Close()
	})
	return s, fake, rec, mocks
}

func totalCalls(mocks []*responder.MockResponder) int {
	n := 0
	for _, m := range mocks {
		n += m.CallCount()
	}
	return n
}

func TestPostBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	s, _, _, _ := newTestScheduler(t, cfg, 1)

	err := s.PostUserMessage(context.Background(), "lab", "ana", "hello")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAddParticipantValidation(t *testing.T) {
	cfg := DefaultConfig()
	s, _, _, _ := newTestScheduler(t, cfg, 0)

	err := s.AddParticipant(responder.Def{Provider: "mock"}, responder.NewMockResponder())
	assert.Error(t, err, "missing alias must be rejected")

	def := responder.Def{Alias: "Echo", Provider: "mock"}
	require.NoError(t, s.AddParticipant(def, responder.NewMockResponder()))
	err = s.AddParticipant(def, responder.NewMockResponder())
	assert.ErrorIs(t, err, ErrDuplicateParticipant)
}

func TestAddParticipantsSkipsBadDefs(t *testing.T) {
	cfg := DefaultConfig()
	s, _, _, _ := newTestScheduler(t, cfg, 0)

	err := s.AddParticipants([]responder.Def{
		{Alias: "Echo", Provider: "no-such-provider"},
		{Alias: "Mimic", Provider: "openai"},
	})
	assert.ErrorIs(t, err, responder.ErrUnknownProvider)

	parts := s.Participants()
	require.Len(t, parts, 1, "the valid definition must survive")
	assert.Equal(t, "mimic", parts[0].ID)
}

func TestStartIsolatesInitFailures(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 1, 1
	s, fake, rec, mocks := newTestScheduler(t, cfg, 2)
	mocks[1].SetInitError(errors.New("no credentials"))

	require.NoError(t, s.Start(context.Background()))

	parts := s.Participants()
	assert.True(t, parts[0].Active)
	assert.False(t, parts[1].Active, "failed init must leave the participant inactive")
	assert.Equal(t, 1, rec.count(events.KindError))

	// Only the healthy participant is selectable.
	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "hello"))
	fake.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return mocks[0].CallCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, mocks[1].CallCount())
}

func TestUserMessageSchedulesReplies(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 2, 2
	s, fake, rec, mocks := newTestScheduler(t, cfg, 2)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "what do you two think?"))
	fake.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return totalCalls(mocks) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(events.KindGeneratingStop) == 2 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, rec.count(events.KindAIResponse))
	assert.Equal(t, 3, rec.count(events.KindMessageBroadcast), "one user turn plus two agent turns")

	// Context log holds the user turn followed by both replies.
	s.mu.Lock()
	log := s.rooms["lab"].log
	s.mu.Unlock()
	require.Len(t, log, 3)
	assert.Equal(t, "ana", log[0].SenderID)

	state, ok := s.RoomState("lab")
	require.True(t, ok)
	assert.Equal(t, 2, state.MessageCount)

	// Every request carried the room context that existed at dispatch.
	for _, m := range mocks {
		calls := m.GetCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "lab", calls[0].RoomID)
		require.NotEmpty(t, calls[0].Messages)
		assert.Contains(t, calls[0].Messages[0].Content, "what do you two think?")
	}
}

func TestExplicitMentionNarrowsSelection(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 3, 3
	s, fake, rec, mocks := newTestScheduler(t, cfg, 3)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "@responder-2 your turn"))
	fake.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return totalCalls(mocks) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, mocks[0].CallCount())
	assert.Equal(t, 1, mocks[1].CallCount())
	assert.Zero(t, mocks[2].CallCount())

	responses := rec.ofKind(events.KindAIResponse)
	require.Len(t, responses, 1)
	resp := responses[0].(events.AIResponse)
	assert.Equal(t, "responder-2", resp.ParticipantID)
	assert.True(t, strings.HasPrefix(resp.Content, "@ana "), "mentioned reply addresses the sender back, got %q", resp.Content)
}

func TestGenerationErrorSurfacesAsEvent(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 1, 1
	s, fake, rec, mocks := newTestScheduler(t, cfg, 1)
	mocks[0].AddReply(nil, errors.New("upstream exploded"))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "hello"))
	fake.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return rec.count(events.KindAIError) == 1 }, 5*time.Second, 10*time.Millisecond)

	aiErr := rec.ofKind(events.KindAIError)[0].(events.AIError)
	assert.Contains(t, aiErr.Err, "upstream exploded")
	assert.Equal(t, "mock", aiErr.Provider)
	assert.Equal(t, "mock-1", aiErr.Model)

	// The failure still pairs its generating events and leaves no trace
	// in the context log or the counters.
	require.Eventually(t, func() bool { return rec.count(events.KindGeneratingStop) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.count(events.KindGeneratingStart))
	assert.Zero(t, rec.count(events.KindAIResponse))
	state, ok := s.RoomState("lab")
	require.True(t, ok)
	assert.Zero(t, state.MessageCount)
}

func TestConcurrencyGateBoundsGeneration(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 8, 8
	cfg.MaxConcurrentResponses = 2
	cfg.MaxAIMessages = 100
	s, fake, rec, mocks := newTestScheduler(t, cfg, 8)

	var current, peak int32
	slowGenerate := func(ctx context.Context, req responder.Request) (*responder.Reply, error) {
		cur := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return &responder.Reply{Content: "ok", Model: "mock", FinishReason: "stop"}, nil
	}
	for _, m := range mocks {
		m.GenerateFunc = slowGenerate
	}
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "everyone chime in"))
	fake.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return totalCalls(mocks) == 8 }, 10*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(events.KindGeneratingStop) == 8 }, 10*time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))

	// The event stream never shows more starts than stops plus the cap.
	depth, maxDepth := 0, 0
	for _, ev := range rec.snapshot() {
		switch ev.EventKind() {
		case events.KindGeneratingStart:
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case events.KindGeneratingStop:
			depth--
		}
	}
	assert.LessOrEqual(t, maxDepth, 2)
}

func TestShutdownCancelsPendingTimers(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 2, 2
	s, fake, _, mocks := newTestScheduler(t, cfg, 2)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "hello"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Zero(t, fake.Pending(), "every scheduled timer must be stopped")
	fake.Advance(time.Hour)
	assert.Zero(t, totalCalls(mocks))
	assert.ErrorIs(t, s.PostUserMessage(context.Background(), "lab", "ana", "anyone?"), ErrNotRunning)
}

func TestShutdownRecordsLateReplies(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 1, 1
	s, fake, rec, mocks := newTestScheduler(t, cfg, 1)

	started := make(chan struct{})
	mocks[0].GenerateFunc = func(ctx context.Context, req responder.Request) (*responder.Reply, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return &responder.Reply{Content: "finishing up", Model: "mock", FinishReason: "stop"}, nil
	}
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "hello"))
	fake.Advance(40 * time.Second)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}

	// Shutdown arrives mid-generation and must wait it out, not abort it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.Eventually(t, func() bool { return rec.count(events.KindAIResponse) == 1 },
		5*time.Second, 10*time.Millisecond, "in-flight reply is still recorded")
	s.mu.Lock()
	logLen := len(s.rooms["lab"].log)
	s.mu.Unlock()
	assert.Equal(t, 2, logLen)
}

func TestSystemMessageEntersContextSilently(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	s, fake, rec, mocks := newTestScheduler(t, cfg, 2)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostSystemMessage(context.Background(), "lab", "Recording starts now."))
	fake.Advance(time.Minute)

	assert.Zero(t, totalCalls(mocks), "announcements never trigger replies")
	require.Eventually(t, func() bool { return rec.count(events.KindMessageBroadcast) == 1 },
		5*time.Second, 10*time.Millisecond)
	s.mu.Lock()
	logLen := len(s.rooms["lab"].log)
	s.mu.Unlock()
	assert.Equal(t, 1, logLen)

	state, ok := s.RoomState("lab")
	if ok {
		assert.Zero(t, state.MessageCount, "announcements are not agent traffic")
	}
}

func TestSetTopicAnnounces(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	s, _, rec, _ := newTestScheduler(t, cfg, 1)
	require.NoError(t, s.Start(context.Background()))

	s.SetTopic("lab", "language models at play")
	require.Eventually(t, func() bool { return rec.count(events.KindTopicChanged) == 1 }, 5*time.Second, 10*time.Millisecond)
	ev := rec.ofKind(events.KindTopicChanged)[0].(events.TopicChanged)
	assert.Equal(t, "lab", ev.RoomID)
}

func TestResponderCooldownSkipsRapidRepeat(t *testing.T) {
	cfg := DefaultConfig()
	quietBackground(&cfg)
	cfg.MinResponders, cfg.MaxResponders = 1, 1
	cfg.ResponderCooldown = time.Minute
	s, fake, _, mocks := newTestScheduler(t, cfg, 1)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "first"))
	fake.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return mocks[0].CallCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// A second prompt inside the cooldown gets dropped at dispatch.
	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "second"))
	fake.Advance(20 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, mocks[0].CallCount())

	// Once the cooldown refills the participant responds again.
	fake.Advance(2 * time.Minute)
	require.NoError(t, s.PostUserMessage(context.Background(), "lab", "ana", "third"))
	fake.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return mocks[0].CallCount() == 2 }, 5*time.Second, 10*time.Millisecond)
}
