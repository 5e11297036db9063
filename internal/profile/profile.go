// Package profile provides device, biometric, and behavioral baseline storage
// for risk assessment. Profiles are advisory: a missing or stale profile
// degrades risk scoring, it never blocks authentication.
package profile

import (
	"context"
	"time"
)

// Type identifies the kind of profile stored for a user
type Type string

const (
	TypeDevice     Type = "device"
	TypeBiometric  Type = "biometric"
	TypeBehavioral Type = "behavioral"
)

// DeviceProfile tracks devices a user has authenticated from
type DeviceProfile struct {
	UserID    string             `json:"user_id"`
	Devices   map[string]*Device `json:"devices"` // keyed by fingerprint
	SampledAt time.Time          `json:"sampled_at"`
}

// Device is a single known device
type Device struct {
	Fingerprint string    `json:"fingerprint"`
	UserAgent   string    `json:"user_agent"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Trusted     bool      `json:"trusted"`
	LoginCount  int       `json:"login_count"`
}

// BiometricProfile stores enrolled biometric templates by type
type BiometricProfile struct {
	UserID    string            `json:"user_id"`
	Templates map[string][]byte `json:"templates"` // keyed by biometric type
	SampledAt time.Time         `json:"sampled_at"`
}

// BehavioralProfile stores a behavioral baseline for continuous verification
type BehavioralProfile struct {
	UserID         string      `json:"user_id"`
	TypicalHours   []int       `json:"typical_hours"`   // hours of day with observed logins
	KnownLocations []GeoPoint  `json:"known_locations"` // recent successful login coordinates
	LoginTimes     []time.Time `json:"login_times"`     // recent login timestamps for velocity
	SampledAt      time.Time   `json:"sampled_at"`
}

// GeoPoint is a latitude/longitude pair
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SeenAt    time.Time `json:"seen_at"`
}

// Store persists profiles keyed by user id and profile type. Updates use
// last-write-wins on SampledAt so that concurrent logins for the same user
// converge regardless of interleaving.
type Store interface {
	GetDevice(ctx context.Context, userID string) (*DeviceProfile, error)
	PutDevice(ctx context.Context, p *DeviceProfile) error
	GetBiometric(ctx context.Context, userID string) (*BiometricProfile, error)
	PutBiometric(ctx context.Context, p *BiometricProfile) error
	GetBehavioral(ctx context.Context, userID string) (*BehavioralProfile, error)
	PutBehavioral(ctx context.Context, p *BehavioralProfile) error
}

// ErrNotFound is returned by Store implementations when no profile exists
// for the given user. Callers treat it as an empty baseline.
type notFoundError struct{}

func (notFoundError) Error() string { return "profile not found" }

// ErrNotFound is the sentinel for missing profiles
var ErrNotFound error = notFoundError{}
