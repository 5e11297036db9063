package engine

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/stepgate/stepgate/internal/common/errors"
	"github.com/stepgate/stepgate/internal/metrics"
	"github.com/stepgate/stepgate/internal/profile"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/session"
)

// SampleSink receives profile samples for asynchronous baseline updates
type SampleSink interface {
	Enqueue(sample profile.Sample)
}

// Issuer materializes an AuthenticatedSession once every required factor is
// verified. It recomputes nothing about risk: duration and permissions come
// from the policy snapshot frozen at session creation.
type Issuer struct {
	secret      []byte
	tokenIssuer string
	baseline    []string
	profiles    SampleSink
	logger      *zap.Logger
	now         func() time.Time
}

// NewIssuer creates a session issuer. baseline is the full permission set
// granted at zero risk; policies subtract from it.
func NewIssuer(secret []byte, tokenIssuer string, baseline []string, profiles SampleSink, logger *zap.Logger) *Issuer {
	return &Issuer{
		secret:      secret,
		tokenIssuer: tokenIssuer,
		baseline:    baseline,
		profiles:    profiles,
		logger:      logger.With(zap.String("component", "session_issuer")),
		now:         time.Now,
	}
}

// Claims is the JWT payload of an issued session token
type Claims struct {
	jwt.RegisteredClaims
	RiskScore             float64  `json:"risk_score"`
	RiskLevel             string   `json:"risk_level"`
	AMR                   []string `json:"amr"`
	Permissions           []string `json:"permissions"`
	RequiresAdminApproval bool     `json:"requires_admin_approval,omitempty"`
}

// Issue builds the terminal session artifact from a completed AuthSession
func (i *Issuer) Issue(ctx context.Context, sess *session.AuthSession) (*session.AuthenticatedSession, error) {
	now := i.now().UTC()
	expiresAt := now.Add(sess.SessionDuration)

	permissions := subtract(i.baseline, sess.BlockedActions)
	requiresApproval := sess.RequireAdminApproval || sess.RiskLevel.AtLeast(risk.LevelHigh)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.tokenIssuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		RiskScore:             sess.RiskScore,
		RiskLevel:             string(sess.RiskLevel),
		AMR:                   sess.CompletedMethods,
		Permissions:           permissions,
		RequiresAdminApproval: requiresApproval,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, apperrors.Internal("sign session token", err)
	}

	authenticated := &session.AuthenticatedSession{
		Token:                 token,
		UserID:                sess.UserID,
		RiskScore:             sess.RiskScore,
		RiskLevel:             sess.RiskLevel,
		FactorsSatisfied:      sess.CompletedMethods,
		Permissions:           permissions,
		RequiresAdminApproval: requiresApproval,
		IssuedAt:              now,
		ExpiresAt:             expiresAt,
	}

	// Baseline updates are fire-and-forget: a failure here never touches
	// the success result already being returned
	if i.profiles != nil && sess.Context != nil {
		i.profiles.Enqueue(profile.Sample{
			UserID:            sess.UserID,
			DeviceFingerprint: sess.Context.DeviceFingerprint,
			UserAgent:         sess.Context.UserAgent,
			Latitude:          sess.Context.Latitude,
			Longitude:         sess.Context.Longitude,
			Timestamp:         now,
		})
	}

	metrics.SessionsIssuedTotal.WithLabelValues(string(sess.RiskLevel)).Inc()

	i.logger.Info("Session issued",
		zap.String("user_id", sess.UserID),
		zap.String("risk_level", string(sess.RiskLevel)),
		zap.Time("expires_at", expiresAt),
		zap.Bool("requires_admin_approval", requiresApproval),
	)

	return authenticated, nil
}

// ParseToken validates a session token and returns its claims
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// subtract returns base without any member of removed, preserving order
func subtract(base, removed []string) []string {
	blocked := make(map[string]bool, len(removed))
	for _, r := range removed {
		blocked[r] = true
	}
	out := make([]string, 0, len(base))
	for _, p := range base {
		if !blocked[p] {
			out = append(out, p)
		}
	}
	return out
}
