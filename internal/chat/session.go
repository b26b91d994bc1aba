package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

const (
	// defaultHistoryLimit bounds the in-memory recent-history list. Older
	// entries are evicted from memory but remain in the persisted history.
	defaultHistoryLimit = 50

	// eventLogLimit bounds the inbound event log kept for diagnostics.
	eventLogLimit = 100
)

// Session holds the server-side state for one WebSocket connection. It lives
// from the first inbound message until disconnect plus the idle timeout.
//
// All methods are safe for concurrent use: the receiver task, the
// orchestrator task, and TTS workers all touch the session.
type Session struct {
	// ID is the client-chosen session identifier.
	ID string

	// CreatedAt is when the session was first seen.
	CreatedAt time.Time

	mu         sync.Mutex
	personaID  string
	history    []types.Message
	histLimit  int
	events     []Inbound
	lastActive time.Time

	// turnActive enforces at most one assistant turn in flight; pending holds
	// at most one queued inbound text frame (depth-1 queue).
	turnActive bool
	pending    *Inbound

	// cancel is the per-session interruption flag, polled between chunk
	// dispatches and before strategy callbacks.
	cancel atomic.Bool

	// playback routes audio_playback_completed events to the sentence_sync
	// drain loop, keyed by sentenceId. Channels are buffered so a completion
	// arriving before the waiter does is not lost.
	playback map[string]chan struct{}
}

// NewSession creates a session with the default history bound.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		histLimit:  defaultHistoryLimit,
		lastActive: now,
		playback:   make(map[string]chan struct{}),
	}
}

// Touch records activity for idle eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SetPersona sets the active persona for subsequent turns.
func (s *Session) SetPersona(id string) {
	s.mu.Lock()
	s.personaID = id
	s.mu.Unlock()
}

// Persona returns the active persona id, or "" if none was chosen.
func (s *Session) Persona() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personaID
}

// AppendHistory adds one message to the bounded recent-history list.
func (s *Session) AppendHistory(m types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
	if len(s.history) > s.histLimit {
		s.history = append([]types.Message(nil), s.history[len(s.history)-s.histLimit:]...)
	}
}

// RecentHistory returns a copy of the in-memory history, oldest first.
func (s *Session) RecentHistory() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// LogEvent records an inbound frame in the bounded event log.
func (s *Session) LogEvent(in Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, in)
	if len(s.events) > eventLogLimit {
		s.events = append([]Inbound(nil), s.events[len(s.events)-eventLogLimit:]...)
	}
}

// EventCount returns the number of logged inbound frames.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Cancel raises the interruption flag. It stays raised until ResetCancel.
func (s *Session) Cancel() { s.cancel.Store(true) }

// Cancelled reports whether the interruption flag is raised.
func (s *Session) Cancelled() bool { return s.cancel.Load() }

// ResetCancel lowers the interruption flag at the start of a new turn.
func (s *Session) ResetCancel() { s.cancel.Store(false) }

// TryBeginTurn claims the single in-flight-turn slot. It returns false if a
// turn is already active.
func (s *Session) TryBeginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive {
		return false
	}
	s.turnActive = true
	return true
}

// EndTurn releases the turn slot and returns a queued inbound text frame, if
// any, so the caller can start the next turn immediately.
func (s *Session) EndTurn() *Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnActive = false
	next := s.pending
	s.pending = nil
	return next
}

// TurnActive reports whether an assistant turn is in flight.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

// QueuePending stores in as the next turn's input. The queue has depth one:
// a newer frame replaces an older queued one.
func (s *Session) QueuePending(in *Inbound) {
	s.mu.Lock()
	s.pending = in
	s.mu.Unlock()
}

// NotifyPlayback signals that the client finished playing sentenceID.
// A signal with no waiter yet is buffered until WaitPlayback arrives.
func (s *Session) NotifyPlayback(sentenceID string) {
	s.mu.Lock()
	ch, ok := s.playback[sentenceID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.playback[sentenceID] = ch
	}
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// WaitPlayback blocks until the client acknowledges playback of sentenceID,
// the timeout elapses, or ctx is cancelled. It reports true only for a real
// acknowledgement; on timeout the caller advances anyway.
func (s *Session) WaitPlayback(ctx context.Context, sentenceID string, timeout time.Duration) bool {
	s.mu.Lock()
	ch, ok := s.playback[sentenceID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.playback[sentenceID] = ch
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer func() {
		s.mu.Lock()
		delete(s.playback, sentenceID)
		s.mu.Unlock()
	}()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
