package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and single-node deployments
type MemoryStore struct {
	mu         sync.RWMutex
	device     map[string]*DeviceProfile
	biometric  map[string]*BiometricProfile
	behavioral map[string]*BehavioralProfile
}

// NewMemoryStore creates an empty in-memory profile store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		device:     make(map[string]*DeviceProfile),
		biometric:  make(map[string]*BiometricProfile),
		behavioral: make(map[string]*BehavioralProfile),
	}
}

// GetDevice retrieves a user's device profile
func (s *MemoryStore) GetDevice(_ context.Context, userID string) (*DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.device[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// PutDevice stores a user's device profile if the sample is not older than
// the stored one
func (s *MemoryStore) PutDevice(_ context.Context, p *DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.device[p.UserID]; ok && existing.SampledAt.After(p.SampledAt) {
		return nil
	}
	s.device[p.UserID] = p
	return nil
}

// GetBiometric retrieves a user's biometric profile
func (s *MemoryStore) GetBiometric(_ context.Context, userID string) (*BiometricProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.biometric[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// PutBiometric stores a user's biometric profile
func (s *MemoryStore) PutBiometric(_ context.Context, p *BiometricProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.biometric[p.UserID]; ok && existing.SampledAt.After(p.SampledAt) {
		return nil
	}
	s.biometric[p.UserID] = p
	return nil
}

// GetBehavioral retrieves a user's behavioral profile
func (s *MemoryStore) GetBehavioral(_ context.Context, userID string) (*BehavioralProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.behavioral[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// PutBehavioral stores a user's behavioral profile
func (s *MemoryStore) PutBehavioral(_ context.Context, p *BehavioralProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.behavioral[p.UserID]; ok && existing.SampledAt.After(p.SampledAt) {
		return nil
	}
	s.behavioral[p.UserID] = p
	return nil
}
