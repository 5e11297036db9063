// Package session holds the authentication session and challenge state
// machine data and its persistence backends
package session

import (
	"time"

	"github.com/stepgate/stepgate/internal/risk"
)

// Status is the lifecycle state of an authentication session
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// ChallengeStatus is the lifecycle state of a single challenge
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeActive   ChallengeStatus = "active"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeFailed   ChallengeStatus = "failed"
	ChallengeExpired  ChallengeStatus = "expired"
)

// Open reports whether the challenge can still be answered
func (s ChallengeStatus) Open() bool {
	return s == ChallengePending || s == ChallengeActive
}

// AuthSession is one stepwise authentication attempt. The risk score, tier
// and policy snapshot are frozen at creation and never recomputed; once the
// status is terminal the session is read-only.
type AuthSession struct {
	ID      string              `json:"id"`
	UserID  string              `json:"user_id"`
	Context *risk.SignalContext `json:"context"`

	RiskScore float64    `json:"risk_score"`
	RiskLevel risk.Level `json:"risk_level"`

	// Policy snapshot taken at creation
	PolicyName           string        `json:"policy_name"`
	SessionDuration      time.Duration `json:"session_duration"`
	BlockedActions       []string      `json:"blocked_actions"`
	RequireAdminApproval bool          `json:"require_admin_approval"`

	RequiredMethods  []string `json:"required_methods"`
	CompletedMethods []string `json:"completed_methods"`
	CurrentIndex     int      `json:"current_index"`

	// CurrentChallengeID points at the single outstanding challenge
	CurrentChallengeID string `json:"current_challenge_id,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CurrentMethod returns the method the session is waiting on
func (s *AuthSession) CurrentMethod() string {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.RequiredMethods) {
		return ""
	}
	return s.RequiredMethods[s.CurrentIndex]
}

// AllMethodsCompleted reports whether every required method has been satisfied
func (s *AuthSession) AllMethodsCompleted() bool {
	return len(s.CompletedMethods) >= len(s.RequiredMethods)
}

// Challenge is one issued factor verification. Attempts only grow; nil
// ExpiresAt and MaxAttempts mark continuous challenges.
type Challenge struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	MethodID  string `json:"method_id"`
	Kind      string `json:"kind"`

	// Expected answer material, never returned to clients
	Code      string `json:"code,omitempty"`
	PushToken string `json:"push_token,omitempty"`
	Nonce     string `json:"nonce,omitempty"`

	Status      ChallengeStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts *int            `json:"max_attempts,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TimedOut reports whether the challenge has passed its expiry. Continuous
// challenges never time out.
func (c *Challenge) TimedOut(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// AttemptsRemaining returns how many attempts are left, or -1 when unbounded
func (c *Challenge) AttemptsRemaining() int {
	if c.MaxAttempts == nil {
		return -1
	}
	remaining := *c.MaxAttempts - c.Attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AuthenticatedSession is the immutable artifact issued when every required
// factor has been verified
type AuthenticatedSession struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`

	RiskScore float64    `json:"risk_score"`
	RiskLevel risk.Level `json:"risk_level"`

	FactorsSatisfied      []string `json:"factors_satisfied"`
	Permissions           []string `json:"permissions"`
	RequiresAdminApproval bool     `json:"requires_admin_approval"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
