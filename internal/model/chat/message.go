package chat

import "time"

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one immutable entry of a user's conversation history. Turns are
// stored oldest-first in append order.
type Turn struct {
	Role      Speaker   `json:"role"`
	Content   string    `json:"content"`
	Emotion   string    `json:"emotion,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTurn builds a history entry for user input.
func UserTurn(content string, at time.Time) Turn {
	return Turn{Role: SpeakerUser, Content: content, Timestamp: at.UTC()}
}

// AssistantTurn builds a history entry for a generated reply.
func AssistantTurn(content, emotion string, at time.Time) Turn {
	return Turn{Role: SpeakerAssistant, Content: content, Emotion: emotion, Timestamp: at.UTC()}
}
