package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of one generation turn.
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
)

// session is the per-send unit of work: one cancellable goroutine streaming
// tokens into one placeholder message. At most one session is active per
// conversation; starting a new send cancels the previous session first.
type session struct {
	conversationID uuid.UUID
	cancel         context.CancelFunc
	// done closes after the session's final flush; waiting on it makes
	// cancellation deterministic.
	done chan struct{}

	mu    sync.Mutex
	state State
}

func newSession(convID uuid.UUID, cancel context.CancelFunc) *session {
	return &session{
		conversationID: convID,
		cancel:         cancel,
		done:           make(chan struct{}),
		state:          StateSending,
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
