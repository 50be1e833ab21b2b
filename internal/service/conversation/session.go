package conversation

import (
	"sync/atomic"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// State is where a session is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateAwaitingGeneration
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingGeneration:
		return "awaiting_generation"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection view of one user. Actions on a session must
// be issued one at a time; only Close may be called concurrently.
type Session struct {
	userID string
	prefs  chat.Prefs
	state  atomic.Int32
}

func newSession(userID string) *Session {
	s := &Session{userID: userID, prefs: chat.DefaultPrefs()}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) State() State { return State(s.state.Load()) }

// Snapshot returns a copy of the session preferences.
func (s *Session) Snapshot() chat.Prefs { return s.prefs }

// Close moves the session to StateClosed. Closed is terminal.
func (s *Session) Close() { s.state.Store(int32(StateClosed)) }

// transition moves to next unless the session was closed meanwhile.
func (s *Session) transition(next State) {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}
