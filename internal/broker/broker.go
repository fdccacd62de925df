// Package broker implements the priority-ordered delivery queue feeding the
// scheduler. Messages drain one at a time in priority order, FIFO among
// equal priorities, with at most one delivery attempt per message.
package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/internal/observability"
	pkgobs "github.com/parlor-dev/parlor/pkg/observability"
)

// DeliverFunc handles each drained message in queue order. Returning an
// error surfaces a Failure event; the queue keeps draining.
type DeliverFunc func(ctx context.Context, msg QueuedMessage) error

// Broker is the single-consumer priority queue. Insertion is an O(n) scan
// on purpose: queue depth follows conversational pace, not ingestion rate,
// so a heap buys nothing here.
type Broker struct {
	mu           sync.Mutex
	queue        []QueuedMessage
	isProcessing bool
	deliver      DeliverFunc
	bus          *events.Bus
}

// New creates a Broker publishing broadcast events on bus.
func New(bus *events.Bus) *Broker {
	return &Broker{bus: bus}
}

// SetDeliverFunc registers the consumer invoked per drained message. The
// broker has exactly one consumer; calling this again replaces it.
func (b *Broker) SetDeliverFunc(fn DeliverFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = fn
}

// Enqueue inserts msg before the first queued entry whose priority is
// strictly lower, keeping FIFO order among equal priorities.
func (b *Broker) Enqueue(msg QueuedMessage) {
	b.mu.Lock()
	pos := len(b.queue)
	for i := range b.queue {
		if b.queue[i].Priority < msg.Priority {
			pos = i
			break
		}
	}
	b.queue = append(b.queue, QueuedMessage{})
	copy(b.queue[pos+1:], b.queue[pos:])
	b.queue[pos] = msg
	depth := len(b.queue)
	b.mu.Unlock()

	pkgobs.RecordMessageQueued(msg.RoomID, string(msg.SenderType))
	log.Printf("[Broker] queued %s from %s (priority %d, depth %d)", msg.ID, msg.Sender, msg.Priority, depth)
}

// Broadcast drains the queue one message at a time. Concurrent calls are
// no-ops while a drain is running; the flag flips off only when the queue
// has been observed empty, so messages enqueued mid-drain are picked up by
// the same pass.
func (b *Broker) Broadcast(ctx context.Context) {
	b.mu.Lock()
	if b.isProcessing {
		b.mu.Unlock()
		return
	}
	b.isProcessing = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.isProcessing = false
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		deliver := b.deliver
		b.mu.Unlock()

		b.deliverOne(ctx, msg, deliver)
	}
}

func (b *Broker) deliverOne(ctx context.Context, msg QueuedMessage, deliver DeliverFunc) {
	spanCtx, span := observability.StartSpan(ctx, "broker.broadcast",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.room", msg.RoomID),
			attribute.Int("message.priority", msg.Priority),
		),
	)
	defer span.End()

	b.bus.Publish(events.MessageBroadcast{
		MessageID:  msg.ID,
		RoomID:     msg.RoomID,
		Sender:     msg.Sender,
		SenderType: string(msg.SenderType),
		Content:    msg.Content,
		Priority:   msg.Priority,
		Timestamp:  msg.Timestamp,
	})
	pkgobs.RecordMessageBroadcast(msg.RoomID)

	if deliver == nil {
		return
	}
	if err := deliver(spanCtx, msg); err != nil {
		// At most one attempt per message. Log, signal, move on.
		log.Printf("[Broker] deliver %s failed: %v", msg.ID, err)
		span.RecordError(err)
		pkgobs.RecordDeliveryError(msg.RoomID)
		b.bus.Publish(events.Failure{
			RoomID:    msg.RoomID,
			Op:        "broadcast",
			Err:       err.Error(),
			Timestamp: time.Now(),
		})
	}
}

// Status reports the queue depth and a copy of the head entry, nil when
// empty.
func (b *Broker) Status() (int, *QueuedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return 0, nil
	}
	head := b.queue[0]
	return len(b.queue), &head
}

// Clear drops every pending entry and reports how many were discarded.
func (b *Broker) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	b.queue = nil
	return n
}

// RemoveMatching discards pending entries matching pred and reports how
// many were removed. Administrative pruning; delivered messages are
// unaffected.
func (b *Broker) RemoveMatching(pred func(QueuedMessage) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.queue[:0]
	removed := 0
	for _, msg := range b.queue {
		if pred(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	b.queue = kept
	return removed
}
