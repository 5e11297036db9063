package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore persists sessions and challenges as JSON values with a TTL so
// abandoned sessions age out of redis without a sweeper.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a redis-backed store. ttl bounds how long any
// session or challenge key survives; it should exceed the longest challenge
// expiry so lazy expiry checks still find the record.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "session_store")),
	}
}

func sessionKey(id string) string   { return fmt.Sprintf("authn:session:%s", id) }
func challengeKey(id string) string { return fmt.Sprintf("authn:challenge:%s", id) }

// PutSession stores a session, refreshing its TTL
func (s *RedisStore) PutSession(ctx context.Context, sess *AuthSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id
func (s *RedisStore) GetSession(ctx context.Context, id string) (*AuthSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess AuthSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

// PutChallenge stores a challenge, refreshing its TTL
func (s *RedisStore) PutChallenge(ctx context.Context, ch *Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.client.Set(ctx, challengeKey(ch.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by id
func (s *RedisStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.client.Get(ctx, challengeKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &ch, nil
}

// DeleteChallenge removes a challenge
func (s *RedisStore) DeleteChallenge(ctx context.Context, id string) error {
	return s.client.Del(ctx, challengeKey(id)).Err()
}
