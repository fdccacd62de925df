// Package events defines the typed domain events emitted by the scheduling
// core and a small fan-out bus for delivering them to transports. Every
// event kind has exactly one payload type; consumers switch on the concrete
// type rather than inspecting untyped maps.
package events

import "time"

// Kind identifies an event type on the wire.
type Kind string

const (
	KindMessageBroadcast Kind = "message-broadcast"
	KindAIResponse       Kind = "ai-response"
	KindAIError          Kind = "ai-error"
	KindGeneratingStart  Kind = "ai-generating-start"
	KindGeneratingStop   Kind = "ai-generating-stop"
	KindSleeping         Kind = "ais-sleeping"
	KindAwakened         Kind = "ais-awakened"
	KindTopicChanged     Kind = "topic-changed"
	KindError            Kind = "error"
)

// Event is implemented by every payload published on the Bus.
type Event interface {
	EventKind() Kind
	EventRoom() string
}

// MessageBroadcast announces a message leaving the broker queue.
type MessageBroadcast struct {
	MessageID  string    `json:"messageId"`
	RoomID     string    `json:"roomId"`
	Sender     string    `json:"sender"`
	SenderType string    `json:"senderType"`
	Content    string    `json:"content"`
	Priority   int       `json:"priority"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e MessageBroadcast) EventKind() Kind   { return KindMessageBroadcast }
func (e MessageBroadcast) EventRoom() string { return e.RoomID }

// AIResponse reports a completed generation.
type AIResponse struct {
	RoomID        string        `json:"roomId"`
	ParticipantID string        `json:"participantId"`
	Alias         string        `json:"alias"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Content       string        `json:"content"`
	Elapsed       time.Duration `json:"elapsed"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (e AIResponse) EventKind() Kind   { return KindAIResponse }
func (e AIResponse) EventRoom() string { return e.RoomID }

// AIError reports a failed generation. Siblings keep running; there is no
// automatic retry.
type AIError struct {
	RoomID        string        `json:"roomId"`
	ParticipantID string        `json:"participantId"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Err           string        `json:"error"`
	Elapsed       time.Duration `json:"elapsed"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (e AIError) EventKind() Kind   { return KindAIError }
func (e AIError) EventRoom() string { return e.RoomID }

// GeneratingStart marks a participant entering generation.
type GeneratingStart struct {
	RoomID        string    `json:"roomId"`
	ParticipantID string    `json:"participantId"`
	Alias         string    `json:"alias"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e GeneratingStart) EventKind() Kind   { return KindGeneratingStart }
func (e GeneratingStart) EventRoom() string { return e.RoomID }

// GeneratingStop marks a participant leaving generation, success or not.
type GeneratingStop struct {
	RoomID        string    `json:"roomId"`
	ParticipantID string    `json:"participantId"`
	Alias         string    `json:"alias"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e GeneratingStop) EventKind() Kind   { return KindGeneratingStop }
func (e GeneratingStop) EventRoom() string { return e.RoomID }

// Sleeping reports a room transitioning to the asleep state.
type Sleeping struct {
	RoomID       string    `json:"roomId"`
	Reason       string    `json:"reason"`
	MessageCount int       `json:"messageCount"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e Sleeping) EventKind() Kind   { return KindSleeping }
func (e Sleeping) EventRoom() string { return e.RoomID }

// Awakened reports a room transitioning back to active.
type Awakened struct {
	RoomID    string    `json:"roomId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Awakened) EventKind() Kind   { return KindAwakened }
func (e Awakened) EventRoom() string { return e.RoomID }

// TopicChanged reports an administrative topic update.
type TopicChanged struct {
	RoomID    string    `json:"roomId"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TopicChanged) EventKind() Kind   { return KindTopicChanged }
func (e TopicChanged) EventRoom() string { return e.RoomID }

// Failure is the generic error event for non-generation failures such as
// broadcast delivery problems. The queue keeps draining after one.
type Failure struct {
	RoomID    string    `json:"roomId"`
	Op        string    `json:"op"`
	Err       string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Failure) EventKind() Kind   { return KindError }
func (e Failure) EventRoom() string { return e.RoomID }
