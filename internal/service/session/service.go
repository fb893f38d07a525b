package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
	"github.com/rudnitski/HealthUp-sub005/internal/model/event"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy")
)

// entry is the guard-private state of one session. All mutation goes through
// the Service; the orchestrator and handlers never touch it directly.
type entry struct {
	meta       chat.Session
	turns      []chat.Turn
	busy       bool
	stream     *event.Stream
	lastActive time.Time
}

// Service is the session/concurrency guard: it owns the session registry,
// serializes turns (at most one in flight per session) and reclaims idle
// sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	idleTTL  time.Duration
}

// NewService bootstraps the in-memory guard. idleTTL bounds how long an
// inactive session survives before the reaper collects it.
func NewService(idleTTL time.Duration) *Service {
	return &Service{
		sessions: make(map[string]*entry),
		idleTTL:  idleTTL,
	}
}

// Create provisions a session, optionally scoped to one patient, and opens its
// event stream with the one-time session_start event.
func (s *Service) Create(_ context.Context, patientID string) chat.Session {
	meta := chat.Session{
		ID:        uuid.NewString(),
		PatientID: patientID,
		CreatedAt: time.Now().UTC(),
	}

	stream := event.NewStream()
	stream.Publish(event.SessionStart(meta.ID))

	s.mu.Lock()
	s.sessions[meta.ID] = &entry{
		meta:       meta,
		turns:      make([]chat.Turn, 0, 16),
		stream:     stream,
		lastActive: meta.CreatedAt,
	}
	s.mu.Unlock()

	log.Info().Str("session", meta.ID).Msg("session created")
	return meta
}

// Get retrieves session metadata.
func (s *Service) Get(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return e.meta, nil
}

// Begin claims the session for one turn. A session already running a turn
// rejects the claim with ErrSessionBusy instead of queueing.
func (s *Service) Begin(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if e.busy {
		return ErrSessionBusy
	}
	e.busy = true
	e.lastActive = time.Now().UTC()
	return nil
}

// Finish releases the busy flag and seals the assistant turn produced by the
// orchestrator into the transcript.
func (s *Service) Finish(sessionID string, turn chat.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	e.busy = false
	e.lastActive = time.Now().UTC()
	if turn.MessageID != "" {
		e.turns = append(e.turns, turn)
	}
	e.stream.NotifyDetach(nil)
}

// AppendUserTurn records an accepted user message.
func (s *Service) AppendUserTurn(sessionID, text string) (chat.Turn, error) {
	turn := chat.Turn{
		MessageID: uuid.NewString(),
		Role:      "user",
		Content:   text,
		Status:    chat.TurnCompleted,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.Turn{}, ErrSessionNotFound
	}
	e.turns = append(e.turns, turn)
	e.lastActive = time.Now().UTC()
	return turn, nil
}

// History returns a copy of the session transcript.
func (s *Service) History(sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	turns := make([]chat.Turn, len(e.turns))
	copy(turns, e.turns)
	return turns, nil
}

// PatientScope returns the patient id the session is pinned to, if any.
func (s *Service) PatientScope(sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return e.meta.PatientID, nil
}

// Publish forwards one event to the session's outbound stream. Unknown
// sessions drop the event; publishing is fire-and-forget by design.
func (s *Service) Publish(sessionID string, ev event.Event) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		e.stream.Publish(ev)
	}
}

// Subscribe attaches the transport to the session's event stream.
func (s *Service) Subscribe(sessionID string) (<-chan event.Event, func(), error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	return e.stream.Subscribe()
}

// BindDetach registers a callback fired if the stream's subscriber detaches,
// used by the abort-on-disconnect policy to cancel the running turn. Finish
// clears it.
func (s *Service) BindDetach(sessionID string, fn func()) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		e.stream.NotifyDetach(fn)
	}
}

// Renew implements "new chat": the old session is torn down (its stream
// closed, cancelling any client interest immediately) and a fresh session is
// created carrying over the old patient scope.
func (s *Service) Renew(ctx context.Context, oldID string) (chat.Session, error) {
	s.mu.Lock()
	old, ok := s.sessions[oldID]
	if !ok {
		s.mu.Unlock()
		return chat.Session{}, ErrSessionNotFound
	}
	patientID := old.meta.PatientID
	delete(s.sessions, oldID)
	s.mu.Unlock()

	old.stream.Close()
	log.Info().Str("session", oldID).Msg("session renewed")
	return s.Create(ctx, patientID), nil
}

// Delete ends a session and closes its stream.
func (s *Service) Delete(sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	e.stream.Close()
	log.Info().Str("session", sessionID).Msg("session deleted")
	return nil
}

// Reap runs the idle-session collector until ctx is cancelled. A session with
// a turn in flight is never reclaimed regardless of age.
func (s *Service) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reapIdle(now.UTC())
		}
	}
}

func (s *Service) reapIdle(now time.Time) {
	var expired []*entry

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.busy {
			continue
		}
		if now.Sub(e.lastActive) >= s.idleTTL {
			delete(s.sessions, id)
			expired = append(expired, e)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.stream.Close()
		log.Info().Str("session", e.meta.ID).Msg("idle session reclaimed")
	}
}
