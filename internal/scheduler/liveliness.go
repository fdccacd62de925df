package scheduler

import "log"

// scheduleLivelinessLocked arms the room's next keep-alive check at a
// random point inside the configured band. Callers hold s.mu.
func (s *Scheduler) scheduleLivelinessLocked(rm *room) {
	if !s.running {
		return
	}
	interval := s.uniformLocked(s.cfg.BackgroundCheckMin, s.cfg.BackgroundCheckMax)
	rm.liveliness = s.clk.AfterFunc(interval, func() {
		s.livelinessCheck(rm.id)
	})
}

// livelinessCheck fires on the room's keep-alive timer. It reschedules
// itself before anything else: silence suppresses generation, never the
// heartbeat. A background pass only runs while the room is awake and the
// last agent message is still inside the silence window.
func (s *Scheduler) livelinessCheck(roomID string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.scheduleLivelinessLocked(rm)
	trigger, hasTrigger := rm.lastEntry()
	s.mu.Unlock()

	if !hasTrigger {
		return
	}
	state, tracked := s.tracker.State(roomID)
	if !tracked || state.IsAsleep {
		return
	}
	if state.LastAIMessageTime.IsZero() {
		return
	}
	if s.clk.Now().Sub(state.LastAIMessageTime) >= s.cfg.SilenceWindow {
		return
	}

	log.Printf("[Scheduler] liveliness pass for room %s", roomID)
	s.scheduleResponses(roomID, trigger.SenderID, trigger.Content, false)
}

// scheduleSweepLocked arms the next idle-room sweep. Callers hold s.mu.
func (s *Scheduler) scheduleSweepLocked() {
	if !s.running {
		return
	}
	s.sweep = s.clk.AfterFunc(s.cfg.CleanupInterval, s.sweepRooms)
}

// sweepRooms evicts rooms with no activity inside CleanupMaxAge. The
// backpressure tracker runs its own sweep on the same cadence.
func (s *Scheduler) sweepRooms() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cutoff := s.clk.Now().Add(-s.cfg.CleanupMaxAge)
	evicted := 0
	for id, rm := range s.rooms {
		if rm.lastActivity.Before(cutoff) {
			if rm.liveliness != nil {
				rm.liveliness.Stop()
			}
			delete(s.rooms, id)
			evicted++
		}
	}
	s.scheduleSweepLocked()
	s.mu.Unlock()

	if evicted > 0 {
		log.Printf("[Scheduler] evicted %d idle rooms", evicted)
	}
}
