package store

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func (e expiring[T]) alive(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// MemoryStore implements Store in process memory with lazy expiry. It is the
// reference implementation and the fallback when no Redis URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	history map[string]expiring[[]chat.Turn]
	mood    map[string]expiring[int]
	prefs   map[string]expiring[chat.Prefs]
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:     time.Now,
		history: make(map[string]expiring[[]chat.Turn]),
		mood:    make(map[string]expiring[int]),
		prefs:   make(map[string]expiring[chat.Prefs]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]chat.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.history[userID]
	if !ok || !entry.alive(s.now()) {
		delete(s.history, userID)
		return []chat.Turn{}, nil
	}

	turns := entry.value
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]chat.Turn(nil), turns...), nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, userID string, turn chat.Turn, maxRetained int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var turns []chat.Turn
	if entry, ok := s.history[userID]; ok && entry.alive(now) {
		turns = entry.value
	}
	turns = append(turns, turn)
	if keep := retainLimit(maxRetained); len(turns) > keep {
		turns = append([]chat.Turn(nil), turns[len(turns)-keep:]...)
	}

	s.history[userID] = expiring[[]chat.Turn]{value: turns, expiresAt: now.Add(HistoryTTL)}
	return nil
}

func (s *MemoryStore) ClearHistory(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.history, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Mood(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moodLocked(userID), nil
}

func (s *MemoryStore) moodLocked(userID string) int {
	entry, ok := s.mood[userID]
	if !ok || !entry.alive(s.now()) {
		delete(s.mood, userID)
		return MinMood
	}
	return entry.value
}

func (s *MemoryStore) SetMood(_ context.Context, userID string, level int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMoodLocked(userID, level), nil
}

func (s *MemoryStore) setMoodLocked(userID string, level int) int {
	level = ClampMood(level)
	s.mood[userID] = expiring[int]{value: level, expiresAt: s.now().Add(MoodTTL)}
	return level
}

func (s *MemoryStore) IncrementMood(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMoodLocked(userID, s.moodLocked(userID)+1), nil
}

func (s *MemoryStore) DecrementMood(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMoodLocked(userID, s.moodLocked(userID)-1), nil
}

func (s *MemoryStore) SessionPrefs(_ context.Context, userID string) (chat.Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.prefs[userID]
	if !ok || !entry.alive(s.now()) {
		delete(s.prefs, userID)
		return chat.DefaultPrefs(), nil
	}
	return entry.value, nil
}

func (s *MemoryStore) SetSessionPrefs(_ context.Context, userID string, prefs chat.Prefs) error {
	s.mu.Lock()
	s.prefs[userID] = expiring[chat.Prefs]{value: prefs, expiresAt: s.now().Add(PrefsTTL)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
