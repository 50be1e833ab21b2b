package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJournal keeps records in process memory. Used when no database path
// is configured and in tests.
type MemoryJournal struct {
	mu            sync.RWMutex
	sessions      map[string]Session
	messages      map[string][]Message
	relationships map[string]Relationship
	now           func() time.Time
}

// NewMemory bootstraps an empty in-memory journal.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{
		sessions:      make(map[string]Session),
		messages:      make(map[string][]Message),
		relationships: make(map[string]Relationship),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSession returns the user's session, creating it on first contact.
func (j *MemoryJournal) EnsureSession(_ context.Context, userID, userRole string) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserRequired
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	session, ok := j.sessions[userID]
	if !ok {
		session = Session{ID: userID, StartedAt: j.now()}
		j.messages[userID] = make([]Message, 0, 16)
	}
	if userRole != "" {
		session.UserRole = userRole
	}
	j.sessions[userID] = session
	return session, nil
}

// AppendMessage adds a message to an existing session.
func (j *MemoryJournal) AppendMessage(_ context.Context, msg Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.sessions[msg.SessionID]; !ok {
		return ErrSessionNotFound
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = j.now()
	}
	j.messages[msg.SessionID] = append(j.messages[msg.SessionID], msg)
	return nil
}

// Transcript returns the newest limit messages oldest first. limit <= 0 means all.
func (j *MemoryJournal) Transcript(_ context.Context, sessionID string, limit int) ([]Message, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	messages, ok := j.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	copied := make([]Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (j *MemoryJournal) LoadRelationship(_ context.Context, userID string) (Relationship, error) {
	if userID == "" {
		return Relationship{}, ErrUserRequired
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if rel, ok := j.relationships[userID]; ok {
		return rel, nil
	}
	return Relationship{UserID: userID}, nil
}

func (j *MemoryJournal) SaveRelationship(_ context.Context, rel Relationship) (Relationship, error) {
	if rel.UserID == "" {
		return Relationship{}, ErrUserRequired
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	current := j.relationships[rel.UserID]
	if current.Version != rel.Version {
		return Relationship{}, ErrVersionConflict
	}

	rel.Version++
	rel.UpdatedAt = j.now()
	j.relationships[rel.UserID] = rel
	return rel, nil
}

func (j *MemoryJournal) Close() error { return nil }

var _ Journal = (*MemoryJournal)(nil)
