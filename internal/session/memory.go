package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// Use the Sweeper to bound its growth.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*AuthSession
	challenges map[string]*Challenge
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*AuthSession),
		challenges: make(map[string]*Challenge),
	}
}

// PutSession stores a session
func (s *MemoryStore) PutSession(_ context.Context, sess *AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession retrieves a session by id
func (s *MemoryStore) GetSession(_ context.Context, id string) (*AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// DeleteSession removes a session
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// PutChallenge stores a challenge
func (s *MemoryStore) PutChallenge(_ context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	s.challenges[ch.ID] = &cp
	return nil
}

// GetChallenge retrieves a challenge by id
func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *ch
	return &cp, nil
}

// DeleteChallenge removes a challenge
func (s *MemoryStore) DeleteChallenge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}

// SweepExpired marks in_progress sessions past their expiry as expired and
// evicts sessions and challenges that have been terminal longer than
// retention. Returns how many sessions were marked or evicted.
func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for id, sess := range s.sessions {
		if sess.Status == StatusInProgress && now.After(sess.ExpiresAt) {
			sess.Status = StatusExpired
			swept++
			continue
		}
		if sess.Status.Terminal() && now.Sub(sess.ExpiresAt) > retention {
			delete(s.sessions, id)
			if sess.CurrentChallengeID != "" {
				delete(s.challenges, sess.CurrentChallengeID)
			}
			swept++
		}
	}

	for id, ch := range s.challenges {
		if _, ok := s.sessions[ch.SessionID]; !ok {
			delete(s.challenges, id)
		}
	}
	return swept, nil
}
