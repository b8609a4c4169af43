// Package session holds the in-process registry of simulation sessions.
// Sessions are cloned on the way in and out, so callers never share memory
// with the store's canonical copy.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-sim/strata/pkg/models"
)

var (
	// ErrNotFound is returned when no session has the given id.
	ErrNotFound = errors.New("session not found")

	// ErrTerminal is returned when an update targets a session that has
	// already reached a terminal status. Terminal sessions accept only
	// annotations.
	ErrTerminal = errors.New("session is terminal")
)

// Store is the in-memory session registry. One instance per process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*models.Session)}
}

// Create registers a new READY session for the given query and returns a
// private copy.
func (s *Store) Create(query, userID string) *models.Session {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:           uuid.New().String(),
		RunID:        uuid.New().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
		UserID:       userID,
		Status:       models.SessionStatusReady,
		CurrentStage: 0,
		InputQuery:   query,
		Layers:       []*models.LayerState{},
		State:        map[string]any{},
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.Clone()
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Update replaces the stored session with a copy of the given one and
// stamps UpdatedAt. Updates against a session already in a terminal status
// are rejected; the transition INTO a terminal status is the last accepted
// write.
func (s *Store) Update(sess *models.Session) error {
	if sess == nil {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return ErrTerminal
	}

	next := sess.Clone()
	next.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = next
	return nil
}

// Annotate attaches a post-hoc key/value to a session. Unlike Update this
// is allowed on terminal sessions, so reviewers can mark up finished runs.
func (s *Store) Annotate(id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Annotations == nil {
		sess.Annotations = map[string]any{}
	}
	sess.Annotations[key] = value
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a session. Returns false if it did not exist.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// DeleteTerminalBefore removes terminal sessions last touched before the
// cutoff. Returns how many were removed. Used by the cleanup sweeper.
func (s *Store) DeleteTerminalBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Status.Terminal() && sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// SessionExists reports whether the id is registered. Satisfies the
// events.SessionChecker interface for WebSocket join validation.
func (s *Store) SessionExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CountActive returns how many sessions are running or paused. Feeds the
// sessions_active gauge.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.Status == models.SessionStatusRunning || sess.Status == models.SessionStatusPaused {
			n++
		}
	}
	return n
}
