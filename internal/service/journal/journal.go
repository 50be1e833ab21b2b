// Package journal keeps the durable conversation record: sessions, their
// messages, and a per-user relationship row that survives cache expiry.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserRequired    = errors.New("user id is required")
	// ErrVersionConflict means the relationship changed since it was loaded.
	ErrVersionConflict = errors.New("relationship version conflict")
)

// Session is one learner's conversation. The session id is the user id.
type Session struct {
	ID        string    `json:"id"`
	UserRole  string    `json:"user_role"`
	StartedAt time.Time `json:"started_at"`
}

// Message is one journaled turn.
type Message struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Role      chat.Speaker `json:"role"`
	Content   string       `json:"content"`
	Emotion   string       `json:"emotion,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Relationship tracks how the learner and the tutor get along. Version is
// bumped on every successful save; zero means the row does not exist yet.
type Relationship struct {
	UserID           string    `json:"user_id"`
	UserRole         string    `json:"user_role"`
	MoodLevel        int       `json:"sulking_level"`
	InteractionCount int       `json:"interaction_count"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Journal is the persistence boundary for durable records.
type Journal interface {
	EnsureSession(ctx context.Context, userID, userRole string) (Session, error)
	AppendMessage(ctx context.Context, msg Message) error
	Transcript(ctx context.Context, sessionID string, limit int) ([]Message, error)
	LoadRelationship(ctx context.Context, userID string) (Relationship, error)
	// SaveRelationship stores rel if the stored version still equals
	// rel.Version and returns the row with its new version.
	SaveRelationship(ctx context.Context, rel Relationship) (Relationship, error)
	Close() error
}

const maxCASAttempts = 3

// RecordInteraction counts one exchange on the relationship row, retrying on
// concurrent updates.
func RecordInteraction(ctx context.Context, j Journal, userID, userRole string, mood int) (Relationship, error) {
	var lastErr error
	for range maxCASAttempts {
		rel, err := j.LoadRelationship(ctx, userID)
		if err != nil {
			return Relationship{}, err
		}
		rel.UserRole = userRole
		rel.MoodLevel = mood
		rel.InteractionCount++

		saved, err := j.SaveRelationship(ctx, rel)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Relationship{}, err
		}
		lastErr = err
	}
	return Relationship{}, fmt.Errorf("record interaction for %s: %w", userID, lastErr)
}
