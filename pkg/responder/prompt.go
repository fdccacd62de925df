package responder

import (
	"fmt"
	"strings"
)

// TranscriptEntry is one room-log line as prompt assembly sees it.
type TranscriptEntry struct {
	SenderID string
	Sender   string
	Content  string
}

// BuildSystemPrompt composes the persona and house rules for one responder.
func BuildSystemPrompt(def Def, topic string, roster []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, one participant in a shared group chat.\n", def.Alias)
	if def.Persona != "" {
		sb.WriteString(def.Persona)
		sb.WriteString("\n")
	}

	sb.WriteString("\nGround rules:\n")
	fmt.Fprintf(&sb, "- Reply as %s only. Never write messages for other participants.\n", def.Alias)
	sb.WriteString("- Address someone with @name when replying to them directly.\n")
	sb.WriteString("- Keep replies conversational, a few sentences at most.\n")
	sb.WriteString("- Do not prefix your reply with your own name.\n")

	if len(roster) > 0 {
		fmt.Fprintf(&sb, "\nParticipants: %s.\n", strings.Join(roster, ", "))
	}
	if topic != "" {
		fmt.Fprintf(&sb, "Current topic: %s\n", topic)
	}

	return sb.String()
}

// BuildTranscript converts the room log into provider messages from the
// point of view of the responder with id selfID. Its own turns become
// assistant turns, everything else a named user turn; providers without a
// speaker field still see who said what.
func BuildTranscript(selfID string, log []TranscriptEntry) []Message {
	messages := make([]Message, 0, len(log))
	for _, e := range log {
		if e.SenderID == selfID {
			messages = append(messages, Message{
				Role:    RoleAssistant,
				Name:    e.Sender,
				Content: e.Content,
			})
			continue
		}
		messages = append(messages, Message{
			Role:    RoleUser,
			Name:    e.Sender,
			Content: fmt.Sprintf("%s: %s", e.Sender, e.Content),
		})
	}
	return messages
}

// NewRequest assembles the full generation request for one responder.
func NewRequest(def Def, roomID, topic string, roster []string, log []TranscriptEntry) Request {
	return Request{
		RoomID:       roomID,
		Topic:        topic,
		SystemPrompt: BuildSystemPrompt(def, topic, roster),
		Messages:     BuildTranscript(def.ID, log),
	}
}
