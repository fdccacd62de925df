// Package scheduler coordinates when and how conversation participants
// respond. It consumes ordered broadcasts from the message broker, consults
// the backpressure tracker and the mention resolver, selects a bounded
// random subset of responders with staggered human-feeling delays, and
// gates the actual generation calls behind a global concurrency limit.
//
// All scheduling state (participant flags, room context logs, pending
// timers) is guarded by one mutex; the only suspension points are the delay
// timers and the external generation calls, both of which run off the
// control path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parlor-dev/parlor/internal/backpressure"
	"github.com/parlor-dev/parlor/internal/broker"
	"github.com/parlor-dev/parlor/internal/clock"
	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/internal/mention"
	"github.com/parlor-dev/parlor/pkg/history"
	"github.com/parlor-dev/parlor/pkg/responder"
)

// Common errors for scheduler operations.
var (
	// ErrNotRunning is returned when posting to a scheduler that has not
	// been started or has been shut down.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrDuplicateParticipant is returned when registering an ID twice.
	ErrDuplicateParticipant = errors.New("participant already registered")
)

// participant couples a responder with its runtime flags. The flags are
// guarded by the scheduler mutex and mutated nowhere else.
type participant struct {
	def             responder.Def
	responder       responder.Responder
	active          bool
	generating      bool
	lastMessageTime time.Time
}

// room holds one conversation's scheduling state: the bounded context log
// the responders see, the current topic, and the liveliness timer that
// keeps the room from going quiet.
type room struct {
	id           string
	topic        string
	log          []responder.TranscriptEntry
	lastActivity time.Time
	liveliness   clock.Timer
}

func (rm *room) append(entry responder.TranscriptEntry, max int, now time.Time) {
	rm.log = append(rm.log, entry)
	if len(rm.log) > max {
		rm.log = rm.log[len(rm.log)-max:]
	}
	rm.lastActivity = now
}

// lastEntry returns the newest context line, if any.
func (rm *room) lastEntry() (responder.TranscriptEntry, bool) {
	if len(rm.log) == 0 {
		return responder.TranscriptEntry{}, false
	}
	return rm.log[len(rm.log)-1], true
}

// ParticipantStatus is a read-only snapshot of one registry entry.
type ParticipantStatus struct {
	ID              string
	Alias           string
	Provider        string
	Model           string
	Active          bool
	IsGenerating    bool
	LastMessageTime time.Time
}

// Scheduler is the root orchestrating component. It owns the participant
// registry, the per-room context logs, the global concurrency gate and
// every pending timer.
type Scheduler struct {
	cfg      Config
	bus      *events.Bus
	clk      clock.Clock
	broker   *broker.Broker
	tracker  *backpressure.Tracker
	resolver *mention.Resolver
	store    history.Store
	gate     *semaphore.Weighted
	cooldown *cooldownGate

	mu           sync.Mutex
	rng          *rand.Rand
	participants map[string]*participant
	order        []string
	rooms        map[string]*room
	timers       map[int64]clock.Timer
	nextTimerID  int64
	sweep        clock.Timer
	running      bool

	ctx context.Context
	wg  sync.WaitGroup
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithBus publishes lifecycle events on an externally owned bus. The
// scheduler never closes it.
func WithBus(bus *events.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithClock swaps the wall clock for an injected one. Tests drive a fake
// clock forward instead of sleeping.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithHistory archives every transcript line to store. The scheduler never
// closes it.
func WithHistory(store history.Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithSeed makes selection and delay draws reproducible.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a Scheduler from cfg. The zero set of options yields a wall
// clock, a private event bus and an in-memory history store.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}

	s := &Scheduler{
		cfg:          cfg,
		clk:          clock.Real(),
		resolver:     mention.NewResolver(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		participants: make(map[string]*participant),
		rooms:        make(map[string]*room),
		timers:       make(map[int64]clock.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	if s.store == nil {
		s.store = history.NewMemoryStore(0)
	}

	s.gate = semaphore.NewWeighted(int64(cfg.MaxConcurrentResponses))
	s.cooldown = newCooldownGate(cfg.ResponderCooldown, s.clk)
	s.tracker = backpressure.NewTracker(cfg.MaxAIMessages, s.clk, s.bus)
	s.broker = broker.New(s.bus)
	s.broker.SetDeliverFunc(s.handleBroadcast)
	return s, nil
}

// AddParticipant registers a ready-made responder under def. Embedders that
// construct responders themselves (and tests injecting mocks) use this;
// AddParticipants covers the common config-driven path.
func (s *Scheduler) AddParticipant(def responder.Def, r responder.Responder) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("participant %q: %w", def.Alias, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.participants[def.ID]; exists {
		return fmt.Errorf("participant %q: %w", def.ID, ErrDuplicateParticipant)
	}
	s.participants[def.ID] = &participant{def: def, responder: r}
	s.order = append(s.order, def.ID)
	return nil
}

// AddParticipants builds responders from defs via the provider registry.
// A bad definition skips that participant only; the error joins every
// skipped one so callers can report them.
func (s *Scheduler) AddParticipants(defs []responder.Def) error {
	var errs []error
	for _, def := range defs {
		r, err := responder.New(def)
		if err != nil {
			log.Printf("[Scheduler] skipping participant %q: %v", def.Alias, err)
			errs = append(errs, err)
			continue
		}
		if err := s.AddParticipant(def, r); err != nil {
			log.Printf("[Scheduler] skipping participant %q: %v", def.Alias, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start initializes every registered participant, at most
// cfg.InitConcurrency at a time, and begins background housekeeping.
// A participant whose initialization fails is logged, surfaced as a
// failure event and left inactive; the rest proceed. ctx outlives Start:
// generation calls and broker drains run under it until Shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.ctx = ctx
	parts := make([]*participant, 0, len(s.order))
	for _, id := range s.order {
		parts = append(parts, s.participants[id])
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.InitConcurrency)
	for _, p := range parts {
		g.Go(func() error {
			if err := p.responder.Initialize(gctx, p.def); err != nil {
				log.Printf("[Scheduler] init %s failed: %v", p.def.Alias, err)
				s.bus.Publish(events.Failure{
					Op:        "initialize",
					Err:       err.Error(),
					Timestamp: s.clk.Now(),
				})
				return nil
			}
			s.mu.Lock()
			p.active = true
			s.mu.Unlock()
			log.Printf("[Scheduler] participant %s ready (%s/%s)", p.def.Alias, p.def.Provider, p.def.Model)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initialize participants: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("initialize participants: %w", err)
	}

	if err := s.tracker.StartCleanupLoop(s.cfg.CleanupInterval, s.cfg.CleanupMaxAge); err != nil {
		return fmt.Errorf("start cleanup loop: %w", err)
	}
	s.mu.Lock()
	s.scheduleSweepLocked()
	// Rooms referenced before Start (topic set ahead of time) still need
	// their heartbeat.
	for _, rm := range s.rooms {
		if rm.liveliness == nil {
			s.scheduleLivelinessLocked(rm)
		}
	}
	s.mu.Unlock()

	active := 0
	for _, st := range s.Participants() {
		if st.Active {
			active++
		}
	}
	log.Printf("[Scheduler] started with %d/%d participants active", active, len(parts))
	return nil
}

// PostUserMessage queues a user turn for broadcast. Delivery appends it to
// the room context, wakes the room and schedules agent replies.
func (s *Scheduler) PostUserMessage(ctx context.Context, roomID, sender, content string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}
	if sender == "" {
		return errors.New("sender is required")
	}
	if !s.Running() {
		return ErrNotRunning
	}
	s.broker.Enqueue(broker.NewMessage(sender, broker.SenderUser, content, roomID, broker.PriorityUser))
	s.broker.Broadcast(ctx)
	return nil
}

// PostSystemMessage queues an announcement. It enters the room context so
// responders can see it, but never triggers replies or wake transitions.
func (s *Scheduler) PostSystemMessage(ctx context.Context, roomID, content string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}
	if !s.Running() {
		return ErrNotRunning
	}
	s.broker.Enqueue(broker.NewMessage("system", broker.SenderSystem, content, roomID, broker.PrioritySystem))
	s.broker.Broadcast(ctx)
	return nil
}

// SetTopic updates a room's topic and announces the change.
func (s *Scheduler) SetTopic(roomID, topic string) {
	now := s.clk.Now()
	s.mu.Lock()
	rm := s.roomLocked(roomID)
	rm.topic = topic
	rm.lastActivity = now
	s.mu.Unlock()

	s.bus.Publish(events.TopicChanged{RoomID: roomID, Topic: topic, Timestamp: now})
	log.Printf("[Scheduler] room %s topic set to %q", roomID, topic)
}

// Sleep manually silences a room's responders until the next wake.
func (s *Scheduler) Sleep(roomID, reason string) {
	s.tracker.Sleep(roomID, reason)
}

// Wake manually reactivates a room.
func (s *Scheduler) Wake(roomID, reason string) {
	s.tracker.Wake(roomID, reason)
}

// RoomState reports the backpressure view of a room.
func (s *Scheduler) RoomState(roomID string) (backpressure.RoomState, bool) {
	return s.tracker.State(roomID)
}

// UpdateRoomLimit overrides one room's agent message budget. A room already
// at or past the new limit goes to sleep immediately.
func (s *Scheduler) UpdateRoomLimit(roomID string, maxAIMessages int) {
	s.tracker.UpdateLimit(roomID, maxAIMessages)
}

// QueueStatus reports the broker's depth and head entry.
func (s *Scheduler) QueueStatus() (int, *broker.QueuedMessage) {
	return s.broker.Status()
}

// Bus returns the event bus the scheduler publishes on.
func (s *Scheduler) Bus() *events.Bus {
	return s.bus
}

// Running reports whether Start has succeeded and Shutdown has not begun.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Participants reports registry state in registration order.
func (s *Scheduler) Participants() []ParticipantStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ParticipantStatus, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		out = append(out, ParticipantStatus{
			ID:              p.def.ID,
			Alias:           p.def.Alias,
			Provider:        p.def.Provider,
			Model:           p.def.Model,
			Active:          p.active,
			IsGenerating:    p.generating,
			LastMessageTime: p.lastMessageTime,
		})
	}
	return out
}

// Shutdown stops scheduling and waits, bounded by ctx, for in-flight
// generations to finish. Pending response and liveliness timers are
// canceled; in-flight external calls are not aborted, and replies that
// complete during shutdown are still recorded.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for _, rm := range s.rooms {
		if rm.liveliness != nil {
			rm.liveliness.Stop()
		}
	}
	if s.sweep != nil {
		s.sweep.Stop()
	}
	parts := make([]*participant, 0, len(s.order))
	for _, id := range s.order {
		parts = append(parts, s.participants[id])
	}
	s.mu.Unlock()

	s.tracker.StopCleanupLoop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}

	for _, p := range parts {
		if closer, ok := p.responder.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("[Scheduler] closing %s: %v", p.def.Alias, err)
			}
		}
	}
	log.Printf("[Scheduler] stopped")
	return nil
}

// handleBroadcast is the broker's delivery callback. User and system turns
// enter the room context here; agent turns were already recorded at
// completion time and only fan out to viewers.
func (s *Scheduler) handleBroadcast(ctx context.Context, msg broker.QueuedMessage) error {
	switch msg.SenderType {
	case broker.SenderAI:
		return nil

	case broker.SenderSystem:
		now := s.clk.Now()
		s.mu.Lock()
		rm := s.roomLocked(msg.RoomID)
		rm.append(responder.TranscriptEntry{
			SenderID: msg.Sender,
			Sender:   msg.Sender,
			Content:  msg.Content,
		}, s.cfg.MaxMessages, now)
		s.mu.Unlock()
		s.archive(ctx, msg.RoomID, history.Message{
			SenderID:   msg.Sender,
			Sender:     msg.Sender,
			SenderType: string(msg.SenderType),
			Content:    msg.Content,
			Timestamp:  now,
		})
		return nil
	}

	now := s.clk.Now()
	s.mu.Lock()
	rm := s.roomLocked(msg.RoomID)
	rm.append(responder.TranscriptEntry{
		SenderID: msg.Sender,
		Sender:   msg.Sender,
		Content:  msg.Content,
	}, s.cfg.MaxMessages, now)
	s.mu.Unlock()

	s.tracker.OnUserMessage(msg.RoomID, msg.Sender)
	s.archive(ctx, msg.RoomID, history.Message{
		SenderID:   msg.Sender,
		Sender:     msg.Sender,
		SenderType: string(msg.SenderType),
		Content:    msg.Content,
		Timestamp:  now,
	})
	s.scheduleResponses(msg.RoomID, msg.Sender, msg.Content, true)
	return nil
}

// roomLocked returns the room, creating it and arming its liveliness timer
// on first reference.
func (s *Scheduler) roomLocked(roomID string) *room {
	rm, ok := s.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, lastActivity: s.clk.Now()}
		s.rooms[roomID] = rm
		s.scheduleLivelinessLocked(rm)
	}
	return rm
}

// archive persists one transcript line. Failures never interrupt the
// conversation; they surface as failure events only.
func (s *Scheduler) archive(ctx context.Context, roomID string, msg history.Message) {
	if err := s.store.Append(ctx, roomID, msg); err != nil {
		log.Printf("[Scheduler] history append failed for room %s: %v", roomID, err)
		s.bus.Publish(events.Failure{
			RoomID:    roomID,
			Op:        "history-append",
			Err:       err.Error(),
			Timestamp: s.clk.Now(),
		})
	}
}
