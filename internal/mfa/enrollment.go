package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrEnrollmentNotFound is returned when a user has no enrollment for a method
var ErrEnrollmentNotFound = errors.New("enrollment not found")

// Enrollment is a user's registration of one authentication method. Secret
// holds method-specific material: a bcrypt hash for password, a TOTP secret,
// a biometric template, or a serialized WebAuthn credential.
type Enrollment struct {
	UserID      string    `json:"user_id"`
	MethodID    string    `json:"method_id"`
	Destination string    `json:"destination,omitempty"`
	Secret      []byte    `json:"-"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// Directory answers what methods a user has enrolled and with what material
type Directory interface {
	EnrolledMethods(ctx context.Context, userID string) ([]string, error)
	Get(ctx context.Context, userID, methodID string) (*Enrollment, error)
}

// PostgresDirectory implements Directory over the mfa_enrollments table
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDirectory creates a PostgreSQL-backed enrollment directory
func NewPostgresDirectory(pool *pgxpool.Pool, logger *zap.Logger) *PostgresDirectory {
	return &PostgresDirectory{
		pool:   pool,
		logger: logger.With(zap.String("component", "enrollment_directory")),
	}
}

// EnrolledMethods returns the verified method ids for a user in enrollment order
func (d *PostgresDirectory) EnrolledMethods(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := d.pool.Query(ctx,
		`SELECT method_id FROM mfa_enrollments
		 WHERE user_id = $1 AND verified = true
		 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var methods []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// Get returns one enrollment record
func (d *PostgresDirectory) Get(ctx context.Context, userID, methodID string) (*Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var e Enrollment
	err := d.pool.QueryRow(ctx,
		`SELECT user_id, method_id, COALESCE(destination, ''), secret, verified, created_at
		 FROM mfa_enrollments
		 WHERE user_id = $1 AND method_id = $2`,
		userID, methodID).
		Scan(&e.UserID, &e.MethodID, &e.Destination, &e.Secret, &e.Verified, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}
	return &e, nil
}

// MemoryDirectory is an in-memory Directory used in tests
type MemoryDirectory struct {
	enrollments map[string]map[string]*Enrollment
	order       map[string][]string
}

// NewMemoryDirectory creates an empty in-memory directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		enrollments: make(map[string]map[string]*Enrollment),
		order:       make(map[string][]string),
	}
}

// Enroll registers a method for a user
func (d *MemoryDirectory) Enroll(e *Enrollment) {
	if d.enrollments[e.UserID] == nil {
		d.enrollments[e.UserID] = make(map[string]*Enrollment)
	}
	if _, exists := d.enrollments[e.UserID][e.MethodID]; !exists {
		d.order[e.UserID] = append(d.order[e.UserID], e.MethodID)
	}
	e.Verified = true
	d.enrollments[e.UserID][e.MethodID] = e
}

// EnrolledMethods returns the user's enrolled method ids in enrollment order
func (d *MemoryDirectory) EnrolledMethods(_ context.Context, userID string) ([]string, error) {
	out := make([]string, len(d.order[userID]))
	copy(out, d.order[userID])
	return out, nil
}

// Get returns one enrollment record
func (d *MemoryDirectory) Get(_ context.Context, userID, methodID string) (*Enrollment, error) {
	e, ok := d.enrollments[userID][methodID]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	return e, nil
}
