package scheduler

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlor-dev/parlor/internal/broker"
	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/internal/mention"
	"github.com/parlor-dev/parlor/internal/observability"
	"github.com/parlor-dev/parlor/pkg/history"
	pkgobs "github.com/parlor-dev/parlor/pkg/observability"
	"github.com/parlor-dev/parlor/pkg/responder"
)

// scheduleResponses runs one selection/delay/dispatch pass. senderID and
// content identify the message that provoked the pass; isUserResponse
// selects the direct-reply delay band over the background band.
func (s *Scheduler) scheduleResponses(roomID, senderID, content string, isUserResponse bool) {
	if !s.tracker.CanRespond(roomID) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	pool, typingCount := s.poolLocked(senderID)
	if len(pool) == 0 {
		return
	}

	mentions := s.resolver.Detect(content, s.mentionSurfaceLocked(), s.lastOtherSpeakerLocked(roomID, senderID))
	if narrowed := narrowToExplicit(pool, mentions); len(narrowed) > 0 {
		pool = narrowed
	}

	count := s.cfg.MinResponders + s.rng.Intn(s.cfg.MaxResponders-s.cfg.MinResponders+1)
	if count > len(pool) {
		count = len(pool)
	}
	s.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	for index, p := range pool[:count] {
		mentioned := mentions.IsMentioned(p.def.ID)
		delay := s.delayLocked(index, isUserResponse, mentioned, typingCount)
		s.dispatchLocked(roomID, p, delay, mentioned, senderID)
	}
}

// poolLocked gathers the selectable participants: active, not currently
// generating, and not the trigger sender. It also counts how many
// participants are mid-generation, which feeds the typing-awareness term.
func (s *Scheduler) poolLocked(excludeID string) ([]*participant, int) {
	pool := make([]*participant, 0, len(s.order))
	typing := 0
	for _, id := range s.order {
		p := s.participants[id]
		if p.generating {
			typing++
			continue
		}
		if !p.active || id == excludeID {
			continue
		}
		pool = append(pool, p)
	}
	return pool, typing
}

// mentionSurfaceLocked builds the identity list the resolver matches
// against.
func (s *Scheduler) mentionSurfaceLocked() []mention.Participant {
	out := make([]mention.Participant, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		if !p.active {
			continue
		}
		out = append(out, mention.Participant{
			ID:       p.def.ID,
			Alias:    p.def.Alias,
			Provider: p.def.Provider,
		})
	}
	return out
}

// lastOtherSpeakerLocked finds the most recent context line from someone
// other than senderID. Contextual back-references attach to that speaker.
func (s *Scheduler) lastOtherSpeakerLocked(roomID, senderID string) string {
	rm, ok := s.rooms[roomID]
	if !ok {
		return ""
	}
	for i := len(rm.log) - 1; i >= 0; i-- {
		if rm.log[i].SenderID != senderID {
			return rm.log[i].SenderID
		}
	}
	return ""
}

// narrowToExplicit intersects the pool with the message's explicit mention
// targets. Empty means no usable narrowing; callers keep the full pool.
func narrowToExplicit(pool []*participant, mc *mention.Context) []*participant {
	if len(mc.ExplicitTargets) == 0 {
		return nil
	}
	targets := make(map[string]bool, len(mc.ExplicitTargets))
	for _, id := range mc.ExplicitTargets {
		targets[id] = true
	}
	var narrowed []*participant
	for _, p := range pool {
		if targets[p.def.ID] {
			narrowed = append(narrowed, p)
		}
	}
	return narrowed
}

// dispatchLocked arms the response timer. The callback hands off to a fresh
// goroutine so a fake clock advancing through the deadline never blocks on
// the concurrency gate.
func (s *Scheduler) dispatchLocked(roomID string, p *participant, delay time.Duration, mentioned bool, triggerSender string) {
	id := s.nextTimerID
	s.nextTimerID++
	log.Printf("[Scheduler] %s responds in %s (room %s)", p.def.Alias, delay, roomID)
	s.timers[id] = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.respond(roomID, p, mentioned, triggerSender)
	})
}

// respond runs one generation attempt end to end: cooldown, concurrency
// gate, freshness re-check, external call, context append, re-broadcast.
func (s *Scheduler) respond(roomID string, p *participant, mentioned bool, triggerSender string) {
	defer s.wg.Done()

	if !s.cooldown.allow(p.def.ID) {
		log.Printf("[Scheduler] %s cooling down, skipped (room %s)", p.def.Alias, roomID)
		return
	}

	// Waits for a free slot; scheduled tasks are never dropped here.
	if err := s.gate.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.gate.Release(1)

	// Re-check against the freshest state. A sibling may have put the
	// room to sleep while this task sat out its delay or the gate.
	s.mu.Lock()
	if !s.running || !p.active || p.generating || !s.tracker.CanRespond(roomID) {
		s.mu.Unlock()
		return
	}
	p.generating = true
	req := s.requestLocked(roomID, p)
	s.mu.Unlock()

	s.bus.Publish(events.GeneratingStart{
		RoomID:        roomID,
		ParticipantID: p.def.ID,
		Alias:         p.def.Alias,
		Timestamp:     s.clk.Now(),
	})
	pkgobs.GenerationStarted()

	ctx, span := observability.StartSpan(s.ctx, "scheduler.respond",
		trace.WithAttributes(
			attribute.String("participant.id", p.def.ID),
			attribute.String("participant.provider", p.def.Provider),
			attribute.String("room.id", roomID),
		),
	)
	cancel := func() {}
	if p.def.Timeout.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.def.Timeout.Duration)
	}

	start := s.clk.Now()
	reply, err := p.responder.Generate(ctx, req)
	elapsed := s.clk.Now().Sub(start)
	cancel()

	if err != nil {
		span.RecordError(err)
		span.End()
		pkgobs.RecordGeneration(p.def.Provider, "error", elapsed)
		log.Printf("[Scheduler] %s generation failed after %s: %v", p.def.Alias, elapsed, err)
		s.bus.Publish(events.AIError{
			RoomID:        roomID,
			ParticipantID: p.def.ID,
			Provider:      p.def.Provider,
			Model:         p.def.Model,
			Err:           err.Error(),
			Elapsed:       elapsed,
			Timestamp:     s.clk.Now(),
		})
		s.finishGeneration(roomID, p)
		return
	}
	span.End()
	pkgobs.RecordGeneration(p.def.Provider, "ok", elapsed)

	content := reply.Content
	if mentioned && triggerSender != "" {
		content = mention.PrependToken(content, s.mentionTarget(triggerSender))
	}

	now := s.clk.Now()
	s.bus.Publish(events.AIResponse{
		RoomID:        roomID,
		ParticipantID: p.def.ID,
		Alias:         p.def.Alias,
		Provider:      p.def.Provider,
		Model:         reply.Model,
		Content:       content,
		Elapsed:       elapsed,
		Timestamp:     now,
	})

	// The context log reflects completion order, not scheduling order.
	s.mu.Lock()
	rm := s.roomLocked(roomID)
	rm.append(responder.TranscriptEntry{
		SenderID: p.def.ID,
		Sender:   p.def.Alias,
		Content:  content,
	}, s.cfg.MaxMessages, now)
	p.lastMessageTime = now
	s.mu.Unlock()

	s.tracker.OnAgentMessage(roomID)
	s.archive(s.ctx, roomID, history.Message{
		SenderID:   p.def.ID,
		Sender:     p.def.Alias,
		SenderType: string(broker.SenderAI),
		Content:    content,
		Timestamp:  now,
	})

	s.broker.Enqueue(broker.NewMessage(p.def.ID, broker.SenderAI, content, roomID, broker.PriorityAI))
	s.broker.Broadcast(s.ctx)

	s.finishGeneration(roomID, p)
}

// finishGeneration clears the generating flag and emits the paired stop
// event. Runs on success and failure alike.
func (s *Scheduler) finishGeneration(roomID string, p *participant) {
	s.mu.Lock()
	p.generating = false
	s.mu.Unlock()
	s.bus.Publish(events.GeneratingStop{
		RoomID:        roomID,
		ParticipantID: p.def.ID,
		Alias:         p.def.Alias,
		Timestamp:     s.clk.Now(),
	})
	pkgobs.GenerationFinished()
}

// requestLocked snapshots everything the responder needs: topic, roster and
// a copy of the context log.
func (s *Scheduler) requestLocked(roomID string, p *participant) responder.Request {
	rm := s.roomLocked(roomID)
	logCopy := make([]responder.TranscriptEntry, len(rm.log))
	copy(logCopy, rm.log)
	roster := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if q := s.participants[id]; q.active {
			roster = append(roster, q.def.Alias)
		}
	}
	return responder.NewRequest(p.def, roomID, rm.topic, roster, logCopy)
}

// mentionTarget resolves a trigger sender to a mention surface. Unknown
// senders are users, addressed by their display name.
func (s *Scheduler) mentionTarget(senderID string) mention.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[senderID]; ok {
		return mention.Participant{ID: p.def.ID, Alias: p.def.Alias, Provider: p.def.Provider}
	}
	return mention.Participant{ID: senderID, Alias: senderID}
}
