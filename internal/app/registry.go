package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/sttrelay/internal/core"
	"github.com/rs/zerolog/log"
)

// SessionSnapshot is a read-only view of a live session for APIs.
type SessionSnapshot struct {
	SID       core.SessionID `json:"sid"`
	Remote    string         `json:"remote,omitempty"`
	State     string         `json:"state"`
	Chunks    uint64         `json:"chunks"`
	Windows   uint64         `json:"windows"`
	StartedAt time.Time      `json:"started_at"`
}

// SessionView is implemented by anything that can describe a live session.
type SessionView interface {
	Snapshot() SessionSnapshot
}

type sessionEntry struct {
	Session SessionView
	Cancel  context.CancelFunc
}

// Registry tracks live sessions so they can be listed and cancelled.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Bind registers a live session. It refuses, and returns false, when sid
// already belongs to another live session.
func (r *Registry) Bind(sid core.SessionID, sess SessionView, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[sid]; taken {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("sid already bound")
		return false
	}
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
	return true
}

// Unbind removes sid only while it is still bound to sess.
func (r *Registry) Unbind(sid core.SessionID, sess SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots ordered by start time.
func (r *Registry) List() []SessionSnapshot {
	r.mu.RLock()
	out := make([]SessionSnapshot, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Session.Snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionSnapshot) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// CancelAll cancels every live session and returns how many there were.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	n := len(r.sessions)
	r.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	log.Info().Str("module", "app.registry").Int("sessions", n).Msg("canceled all sessions")
	return n
}

// WaitIdle blocks until no sessions remain or ctx is done.
func (r *Registry) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
