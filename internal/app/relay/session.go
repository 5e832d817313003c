package relay

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/sttrelay/internal/app"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
)

type State int32

const (
	StateAwaitingHandshake State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state owned by a Coordinator run.
// Counters and state may be read from other goroutines.
type Session struct {
	ID        core.SessionID
	Remote    string
	StartedAt time.Time

	state   atomic.Int32
	chunks  atomic.Uint64
	windows atomic.Uint64

	mu          sync.Mutex
	handshake   domain.StartMessage
	transitions []State
}

func NewSession(id core.SessionID, remote string) *Session {
	return &Session{
		ID:          id,
		Remote:      remote,
		StartedAt:   time.Now(),
		transitions: []State{StateAwaitingHandshake},
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Chunks() uint64 { return s.chunks.Load() }

func (s *Session) Windows() uint64 { return s.windows.Load() }

func (s *Session) Handshake() domain.StartMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake
}

// Transitions returns every state the session has been in, in order.
func (s *Session) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transitions)
}

func (s *Session) Snapshot() app.SessionSnapshot {
	return app.SessionSnapshot{
		SID:       s.ID,
		Remote:    s.Remote,
		State:     s.State().String(),
		Chunks:    s.Chunks(),
		Windows:   s.Windows(),
		StartedAt: s.StartedAt,
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) == st {
		return
	}
	s.state.Store(int32(st))
	s.transitions = append(s.transitions, st)
}

func (s *Session) setHandshake(m domain.StartMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshake = m
}
