// Package store keeps per-user conversation state: ordered history, the
// sulking counter and session preferences. It holds no business rules.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// ErrUnavailable wraps every backend failure. Callers treat it as non-fatal.
var ErrUnavailable = errors.New("state store unavailable")

const (
	MinMood = 0
	MaxMood = 3

	HistoryTTL = 30 * 24 * time.Hour
	MoodTTL    = 7 * 24 * time.Hour
	PrefsTTL   = 30 * 24 * time.Hour

	// DefaultMaxRetained caps stored history when callers pass a non-positive limit.
	DefaultMaxRetained = 100
)

// Store is the key-value contract used by the conversation layer. All
// implementations must be safe for concurrent use.
type Store interface {
	// History returns at most limit turns, oldest first.
	History(ctx context.Context, userID string, limit int) ([]chat.Turn, error)
	// AppendHistory appends turn, trims to the newest maxRetained entries
	// and refreshes the history expiry.
	AppendHistory(ctx context.Context, userID string, turn chat.Turn, maxRetained int) error
	ClearHistory(ctx context.Context, userID string) error

	// Mood returns the sulking level, 0 when absent.
	Mood(ctx context.Context, userID string) (int, error)
	// SetMood clamps level, stores it and returns the stored value.
	SetMood(ctx context.Context, userID string, level int) (int, error)
	IncrementMood(ctx context.Context, userID string) (int, error)
	DecrementMood(ctx context.Context, userID string) (int, error)

	// SessionPrefs returns stored preferences or chat.DefaultPrefs.
	SessionPrefs(ctx context.Context, userID string) (chat.Prefs, error)
	SetSessionPrefs(ctx context.Context, userID string, prefs chat.Prefs) error

	Ping(ctx context.Context) error
	Close() error
}

// ClampMood forces level into [MinMood, MaxMood].
func ClampMood(level int) int {
	return max(MinMood, min(MaxMood, level))
}

func historyKey(userID string) string { return "chat:history:" + userID }
func moodKey(userID string) string    { return "chat:sulking:" + userID }
func prefsKey(userID string) string   { return "chat:state:" + userID }

func retainLimit(maxRetained int) int {
	if maxRetained <= 0 {
		return DefaultMaxRetained
	}
	return maxRetained
}
