package session

import (
	"context"
	"errors"
)

// Store errors
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// Store persists authentication sessions and their challenges. Lookups for
// unknown or expired-and-evicted ids return ErrSessionNotFound /
// ErrChallengeNotFound.
type Store interface {
	PutSession(ctx context.Context, s *AuthSession) error
	GetSession(ctx context.Context, id string) (*AuthSession, error)
	DeleteSession(ctx context.Context, id string) error

	PutChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, id string) error
}
