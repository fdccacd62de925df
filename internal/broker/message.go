package broker

import (
	"time"

	"github.com/google/uuid"
)

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAI     SenderType = "ai"
	SenderSystem SenderType = "system"
)

// Delivery priorities. User traffic outranks agent chatter, which outranks
// housekeeping notices.
const (
	PriorityUser   = 10
	PriorityAI     = 5
	PrioritySystem = 1
)

// QueuedMessage is a single entry in the delivery queue. Immutable once
// enqueued; higher Priority drains first.
type QueuedMessage struct {
	ID         string
	Sender     string
	SenderType SenderType
	Content    string
	RoomID     string
	Priority   int
	Timestamp  time.Time
}

// NewMessage builds a QueuedMessage with a fresh id and timestamp.
func NewMessage(sender string, senderType SenderType, content, roomID string, priority int) QueuedMessage {
	return QueuedMessage{
		ID:         uuid.New().String(),
		Sender:     sender,
		SenderType: senderType,
		Content:    content,
		RoomID:     roomID,
		Priority:   priority,
		Timestamp:  time.Now(),
	}
}
