package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore implements Store using PostgreSQL. Profiles are stored as
// JSONB documents keyed by (user_id, profile_type); writes only win when the
// incoming sample is newer than the stored one.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL profile store
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "profile_store")),
	}
}

// Ping checks if the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) get(ctx context.Context, userID string, typ Type, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT profile FROM user_profiles WHERE user_id = $1 AND profile_type = $2`,
		userID, string(typ)).Scan(&data)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query profile: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) put(ctx context.Context, userID string, typ Type, sampledAt time.Time, p interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	// Last-write-wins on sampled_at keeps concurrent updates idempotent
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, profile_type, profile, sampled_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, profile_type) DO UPDATE
		 SET profile = EXCLUDED.profile,
		     sampled_at = EXCLUDED.sampled_at,
		     updated_at = NOW()
		 WHERE user_profiles.sampled_at <= EXCLUDED.sampled_at`,
		userID, string(typ), data, sampledAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetDevice retrieves a user's device profile
func (s *PostgresStore) GetDevice(ctx context.Context, userID string) (*DeviceProfile, error) {
	var p DeviceProfile
	if err := s.get(ctx, userID, TypeDevice, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutDevice stores a user's device profile
func (s *PostgresStore) PutDevice(ctx context.Context, p *DeviceProfile) error {
	return s.put(ctx, p.UserID, TypeDevice, p.SampledAt, p)
}

// GetBiometric retrieves a user's biometric profile
func (s *PostgresStore) GetBiometric(ctx context.Context, userID string) (*BiometricProfile, error) {
	var p BiometricProfile
	if err := s.get(ctx, userID, TypeBiometric, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutBiometric stores a user's biometric profile
func (s *PostgresStore) PutBiometric(ctx context.Context, p *BiometricProfile) error {
	return s.put(ctx, p.UserID, TypeBiometric, p.SampledAt, p)
}

// GetBehavioral retrieves a user's behavioral profile
func (s *PostgresStore) GetBehavioral(ctx context.Context, userID string) (*BehavioralProfile, error) {
	var p BehavioralProfile
	if err := s.get(ctx, userID, TypeBehavioral, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutBehavioral stores a user's behavioral profile
func (s *PostgresStore) PutBehavioral(ctx context.Context, p *BehavioralProfile) error {
	return s.put(ctx, p.UserID, TypeBehavioral, p.SampledAt, p)
}
