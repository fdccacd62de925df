package events

import (
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	want := Sleeping{RoomID: "room-1", Reason: "message-limit-reached", MessageCount: 3}
	bus.Publish(want)

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case got := <-ch:
			ev, ok := got.(Sleeping)
			if !ok {
				t.Fatalf("subscriber %s: got %T, want Sleeping", name, got)
			}
			if ev.RoomID != want.RoomID || ev.Reason != want.Reason || ev.MessageCount != want.MessageCount {
				t.Errorf("subscriber %s: got %+v, want %+v", name, ev, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no event delivered", name)
		}
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // double cancel must not panic

	bus.Publish(Awakened{RoomID: "room-1", Reason: "manual"})

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicChanged{RoomID: "room-1", Topic: "go"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if bus.Dropped() == 0 {
		t.Error("expected dropped events for a full 1-slot buffer")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(1)
	bus.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel open after Close")
	}
	// Publishing after close is a no-op, not a panic.
	bus.Publish(Failure{RoomID: "room-1", Op: "broadcast", Err: "boom"})
}

func TestEventKinds(t *testing.T) {
	tests := []struct {
		ev   Event
		kind Kind
		room string
	}{
		{MessageBroadcast{RoomID: "r"}, KindMessageBroadcast, "r"},
		{AIResponse{RoomID: "r"}, KindAIResponse, "r"},
		{AIError{RoomID: "r"}, KindAIError, "r"},
		{GeneratingStart{RoomID: "r"}, KindGeneratingStart, "r"},
		{GeneratingStop{RoomID: "r"}, KindGeneratingStop, "r"},
		{Sleeping{RoomID: "r"}, KindSleeping, "r"},
		{Awakened{RoomID: "r"}, KindAwakened, "r"},
		{TopicChanged{RoomID: "r"}, KindTopicChanged, "r"},
		{Failure{RoomID: "r"}, KindError, "r"},
	}
	for _, tt := range tests {
		if got := tt.ev.EventKind(); got != tt.kind {
			t.Errorf("%T.EventKind() = %q, want %q", tt.ev, got, tt.kind)
		}
		if got := tt.ev.EventRoom(); got != tt.room {
			t.Errorf("%T.EventRoom() = %q, want %q", tt.ev, got, tt.room)
		}
	}
}
