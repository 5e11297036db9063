// Package engine orchestrates stepwise authentication: risk assessment,
// policy selection, challenge issuance and verification, session issuance
package engine

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/audit"
	apperrors "github.com/stepgate/stepgate/internal/common/errors"
	"github.com/stepgate/stepgate/internal/metrics"
	"github.com/stepgate/stepgate/internal/mfa"
	"github.com/stepgate/stepgate/internal/policy"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/session"
)

const numLockStripes = 64

// errApprovalPending marks a push prompt that has not been answered yet
var errApprovalPending = errors.New("approval pending")

// TOTPChecker verifies a time-based one-time code for a user
type TOTPChecker interface {
	Verify(ctx context.Context, userID, code string) (bool, error)
}

// BiometricChecker matches a live sample against the enrolled template
type BiometricChecker interface {
	Match(ctx context.Context, userID string, sample []byte) (bool, error)
}

// Deps carries the engine's collaborators
type Deps struct {
	Store     session.Store
	Risk      *risk.Aggregator
	Policies  *policy.Selector
	Catalog   *mfa.Catalog
	Directory mfa.Directory

	Passwords  mfa.PasswordVerifier
	TOTP       TOTPChecker
	Biometrics BiometricChecker
	FIDO2      mfa.FIDO2Verifier
	Push       mfa.PushTransport
	Continuous mfa.ContinuousMonitor

	// CodeTransports keyed by method id (sms, email)
	CodeTransports map[string]mfa.CodeTransport

	Issuer *Issuer

	// Audit receives one record per decision. Optional; nil disables the trail
	Audit audit.Recorder

	// SessionWindow bounds how long an in_progress session may run
	SessionWindow time.Duration
}

// Engine drives authentication sessions. All state mutation for one session
// id goes through a striped lock so concurrent verify calls cannot
// double-advance the factor index.
type Engine struct {
	deps   Deps
	locks  [numLockStripes]sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an authentication engine
func NewEngine(deps Deps, logger *zap.Logger) *Engine {
	if deps.SessionWindow <= 0 {
		deps.SessionWindow = 10 * time.Minute
	}
	return &Engine{
		deps:   deps,
		logger: logger.With(zap.String("component", "authn_engine")),
		now:    time.Now,
	}
}

func (e *Engine) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &e.locks[h.Sum32()%numLockStripes]
}

// record writes one entry to the decision trail. Trail failures never block
// authentication, they are logged and dropped.
func (e *Engine) record(sess *session.AuthSession, action string, outcome audit.Outcome, reason string) {
	if e.deps.Audit == nil {
		return
	}
	err := e.deps.Audit.Record(audit.DecisionRecord{
		Action:     action,
		Outcome:    outcome,
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		RiskScore:  sess.RiskScore,
		RiskLevel:  string(sess.RiskLevel),
		PolicyName: sess.PolicyName,
		Methods:    sess.CompletedMethods,
		Reason:     reason,
	})
	if err != nil {
		e.logger.Error("Decision trail write failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}

// ChallengeInfo is the client-facing view of an issued challenge. It never
// carries the expected code or any profile contents.
type ChallengeInfo struct {
	ID                string          `json:"id"`
	MethodID          string          `json:"method_id"`
	Kind              string          `json:"kind"`
	Destination       string          `json:"destination,omitempty"`
	Options           json.RawMessage `json:"options,omitempty"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	AttemptsRemaining int             `json:"attempts_remaining"`
}

// StartResult is returned by StartAuthentication
type StartResult struct {
	SessionID       string         `json:"session_id"`
	RiskLevel       risk.Level     `json:"risk_level"`
	RequiredMethods []string       `json:"required_methods"`
	Challenge       *ChallengeInfo `json:"challenge"`
}

// VerifyResult is returned by VerifyChallenge. Either NextChallenge or
// Authenticated is set, never both.
type VerifyResult struct {
	SessionID        string                        `json:"session_id"`
	CompletedMethods []string                      `json:"completed_methods"`
	NextChallenge    *ChallengeInfo                `json:"next_challenge,omitempty"`
	Authenticated    *session.AuthenticatedSession `json:"authenticated,omitempty"`
}

// Response is the caller's answer to a challenge. Code carries passwords
// and one-time codes; Sample carries biometric samples or FIDO2 assertions.
// Push challenges need no payload, approval is checked out of band.
type Response struct {
	Code   string `json:"code,omitempty"`
	Sample []byte `json:"sample,omitempty"`
}

// StartAuthentication assesses risk, selects the policy, creates the
// session with its frozen method order, and issues the first challenge
func (e *Engine) StartAuthentication(ctx context.Context, userID string, sc *risk.SignalContext) (*StartResult, error) {
	sc.UserID = userID
	if sc.Timestamp.IsZero() {
		sc.Timestamp = e.now().UTC()
	}

	enrolled, err := e.deps.Directory.EnrolledMethods(ctx, userID)
	if err != nil {
		return nil, apperrors.StorageError("load enrollments", err)
	}

	assessment := e.deps.Risk.Assess(ctx, sc)

	selection, err := e.deps.Policies.Select(assessment.Score, enrolled)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	sess := &session.AuthSession{
		ID:                   uuid.New().String(),
		UserID:               userID,
		Context:              sc,
		RiskScore:            assessment.Score,
		RiskLevel:            assessment.Level,
		PolicyName:           selection.Policy.Name,
		SessionDuration:      selection.Policy.SessionDuration,
		BlockedActions:       selection.Policy.BlockedActions,
		RequireAdminApproval: selection.Policy.RequireAdminApproval,
		RequiredMethods:      selection.RequiredMethods,
		Status:               session.StatusInProgress,
		CreatedAt:            now,
		ExpiresAt:            now.Add(e.deps.SessionWindow),
	}

	info, err := e.issueChallenge(ctx, sess)
	if err != nil {
		return nil, err
	}

	if err := e.deps.Store.PutSession(ctx, sess); err != nil {
		return nil, apperrors.StorageError("store session", err)
	}

	e.logger.Info("Authentication started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.Float64("risk_score", assessment.Score),
		zap.String("risk_level", string(assessment.Level)),
		zap.Strings("required_methods", selection.RequiredMethods),
	)
	e.record(sess, audit.ActionStart, audit.OutcomeSuccess, "")

	return &StartResult{
		SessionID:       sess.ID,
		RiskLevel:       sess.RiskLevel,
		RequiredMethods: sess.RequiredMethods,
		Challenge:       info,
	}, nil
}

// issueChallenge generates a challenge for the session's current method and
// stores it. The session's CurrentChallengeID is updated in place; the
// caller persists the session.
func (e *Engine) issueChallenge(ctx context.Context, sess *session.AuthSession) (*ChallengeInfo, error) {
	methodID := sess.CurrentMethod()
	method, err := e.deps.Catalog.Get(methodID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	ch := &session.Challenge{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		MethodID:    methodID,
		Kind:        string(method.Challenge.Kind),
		Status:      session.ChallengePending,
		MaxAttempts: method.Challenge.MaxAttempts,
		CreatedAt:   now,
	}
	if method.Challenge.Expiry != nil {
		expires := now.Add(*method.Challenge.Expiry)
		ch.ExpiresAt = &expires
	}

	info := &ChallengeInfo{
		ID:       ch.ID,
		MethodID: methodID,
		Kind:     ch.Kind,
	}

	switch method.Challenge.Kind {
	case mfa.KindPassword, mfa.KindTOTP:
		// The caller already holds what it needs to answer

	case mfa.KindCode:
		code, err := generateCode(method.Challenge.CodeLength, method.Challenge.Format)
		if err != nil {
			return nil, apperrors.Internal("generate challenge code", err)
		}
		ch.Code = code

		enrollment, err := e.deps.Directory.Get(ctx, sess.UserID, methodID)
		if err != nil {
			return nil, apperrors.StorageError("load enrollment", err)
		}
		info.Destination = mfa.MaskDestination(enrollment.Destination)

		if transport := e.deps.CodeTransports[methodID]; transport != nil {
			// Delivery failure is logged, not surfaced: the challenge
			// stays answerable in case the code still arrives
			if err := transport.Send(ctx, enrollment.Destination, code); err != nil {
				e.logger.Error("Challenge code delivery failed",
					zap.String("session_id", sess.ID),
					zap.String("method", methodID),
					zap.Error(err),
				)
			}
		}

	case mfa.KindPush:
		enrollment, err := e.deps.Directory.Get(ctx, sess.UserID, methodID)
		if err != nil {
			return nil, apperrors.StorageError("load enrollment", err)
		}
		contextInfo := fmt.Sprintf("Sign-in attempt from %s", sess.Context.IPAddress)
		token, err := e.deps.Push.Send(ctx, enrollment.Destination, contextInfo)
		if err != nil {
			return nil, apperrors.Internal("send push prompt", err)
		}
		ch.PushToken = token

	case mfa.KindFIDO2:
		options, nonce, err := e.deps.FIDO2.BeginAssertion(ctx, sess.UserID)
		if err != nil {
			return nil, apperrors.Internal("begin fido2 assertion", err)
		}
		ch.Nonce = nonce
		info.Options = options

	case mfa.KindBiometric:
		// The client captures and submits a sample, nothing to send

	case mfa.KindContinuous:
		ch.Status = session.ChallengeActive

	default:
		return nil, apperrors.MethodUnsupported(methodID)
	}

	if err := e.deps.Store.PutChallenge(ctx, ch); err != nil {
		return nil, apperrors.StorageError("store challenge", err)
	}
	sess.CurrentChallengeID = ch.ID

	info.ExpiresAt = ch.ExpiresAt
	info.AttemptsRemaining = ch.AttemptsRemaining()
	metrics.ChallengesIssuedTotal.WithLabelValues(methodID).Inc()

	return info, nil
}

// VerifyChallenge checks a response against the session's outstanding
// challenge and advances the state machine
func (e *Engine) VerifyChallenge(ctx context.Context, sessionID, challengeID string, response *Response) (*VerifyResult, error) {
	mu := e.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.deps.Store.GetSession(ctx, sessionID)
	if err == session.ErrSessionNotFound {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	if err != nil {
		return nil, apperrors.StorageError("load session", err)
	}

	now := e.now().UTC()

	if sess.Status != session.StatusInProgress {
		return nil, apperrors.InvalidState(fmt.Sprintf("session is %s", sess.Status))
	}
	// Lazy session expiry
	if now.After(sess.ExpiresAt) {
		sess.Status = session.StatusExpired
		if err := e.deps.Store.PutSession(ctx, sess); err != nil {
			return nil, apperrors.StorageError("store session", err)
		}
		return nil, apperrors.InvalidState("session has expired")
	}

	if sess.CurrentChallengeID == "" || sess.CurrentChallengeID != challengeID {
		return nil, apperrors.InvalidState("no matching outstanding challenge")
	}

	ch, err := e.deps.Store.GetChallenge(ctx, challengeID)
	if err == session.ErrChallengeNotFound {
		return nil, apperrors.ChallengeNotFound(challengeID)
	}
	if err != nil {
		return nil, apperrors.StorageError("load challenge", err)
	}

	if !ch.Status.Open() {
		return nil, apperrors.InvalidState(fmt.Sprintf("challenge is %s", ch.Status))
	}

	// Lazy challenge expiry fails the whole session
	if ch.TimedOut(now) {
		ch.Status = session.ChallengeExpired
		sess.Status = session.StatusFailed
		if err := e.storeBoth(ctx, sess, ch); err != nil {
			return nil, err
		}
		metrics.SessionsFailedTotal.WithLabelValues("challenge_expired").Inc()
		e.record(sess, audit.ActionFail, audit.OutcomeFailure, "challenge_expired")
		return nil, apperrors.ChallengeExpired(challengeID)
	}

	// The attempt counts even if dispatch errors out
	ch.Attempts++

	ok, verr := e.dispatch(ctx, sess, ch, response)
	if verr == errApprovalPending {
		// Polling an unanswered push prompt is not an attempt; nothing is
		// persisted and the challenge budget stays intact
		return nil, apperrors.ApprovalPending(ch.ID)
	}
	if verr != nil {
		if err := e.deps.Store.PutChallenge(ctx, ch); err != nil {
			e.logger.Error("Failed to persist challenge attempt", zap.Error(err))
		}
		return nil, apperrors.Internal("verify challenge", verr)
	}

	if !ok {
		metrics.ChallengeVerificationsTotal.WithLabelValues(ch.MethodID, "failure").Inc()
		if ch.MaxAttempts != nil && ch.Attempts >= *ch.MaxAttempts {
			ch.Status = session.ChallengeFailed
			sess.Status = session.StatusFailed
			if err := e.storeBoth(ctx, sess, ch); err != nil {
				return nil, err
			}
			metrics.SessionsFailedTotal.WithLabelValues("attempts_exceeded").Inc()
			e.logger.Warn("Authentication failed, attempts exceeded",
				zap.String("session_id", sess.ID),
				zap.String("method", ch.MethodID),
			)
			e.record(sess, audit.ActionFail, audit.OutcomeFailure, "attempts_exceeded")
			return nil, apperrors.AttemptsExceeded(ch.MethodID)
		}

		if err := e.deps.Store.PutChallenge(ctx, ch); err != nil {
			return nil, apperrors.StorageError("store challenge", err)
		}
		return nil, apperrors.InvalidResponse(ch.AttemptsRemaining())
	}

	metrics.ChallengeVerificationsTotal.WithLabelValues(ch.MethodID, "success").Inc()
	ch.Status = session.ChallengeVerified
	sess.CompletedMethods = append(sess.CompletedMethods, ch.MethodID)
	sess.CurrentChallengeID = ""

	if err := e.deps.Store.PutChallenge(ctx, ch); err != nil {
		return nil, apperrors.StorageError("store challenge", err)
	}

	if sess.AllMethodsCompleted() {
		sess.Status = session.StatusCompleted
		authenticated, err := e.deps.Issuer.Issue(ctx, sess)
		if err != nil {
			return nil, err
		}
		if err := e.deps.Store.PutSession(ctx, sess); err != nil {
			return nil, apperrors.StorageError("store session", err)
		}

		e.logger.Info("Authentication completed",
			zap.String("session_id", sess.ID),
			zap.String("user_id", sess.UserID),
			zap.Strings("factors", sess.CompletedMethods),
		)
		e.record(sess, audit.ActionComplete, audit.OutcomeSuccess, "")
		return &VerifyResult{
			SessionID:        sess.ID,
			CompletedMethods: sess.CompletedMethods,
			Authenticated:    authenticated,
		}, nil
	}

	sess.CurrentIndex++
	next, err := e.issueChallenge(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := e.deps.Store.PutSession(ctx, sess); err != nil {
		return nil, apperrors.StorageError("store session", err)
	}

	return &VerifyResult{
		SessionID:        sess.ID,
		CompletedMethods: sess.CompletedMethods,
		NextChallenge:    next,
	}, nil
}

// CancelAuthentication marks an in_progress session failed. Abandoned
// sessions also simply expire; cancel is a convenience for clients that
// want an immediate terminal state.
func (e *Engine) CancelAuthentication(ctx context.Context, sessionID string) error {
	mu := e.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.deps.Store.GetSession(ctx, sessionID)
	if err == session.ErrSessionNotFound {
		return apperrors.SessionNotFound(sessionID)
	}
	if err != nil {
		return apperrors.StorageError("load session", err)
	}

	if sess.Status != session.StatusInProgress {
		return apperrors.InvalidState(fmt.Sprintf("session is %s", sess.Status))
	}

	sess.Status = session.StatusFailed
	if err := e.deps.Store.PutSession(ctx, sess); err != nil {
		return apperrors.StorageError("store session", err)
	}
	metrics.SessionsFailedTotal.WithLabelValues("cancelled").Inc()

	e.logger.Info("Authentication cancelled", zap.String("session_id", sessionID))
	e.record(sess, audit.ActionCancel, audit.OutcomeFailure, "cancelled")
	return nil
}

// dispatch routes verification by challenge kind
func (e *Engine) dispatch(ctx context.Context, sess *session.AuthSession, ch *session.Challenge, response *Response) (bool, error) {
	if response == nil {
		response = &Response{}
	}

	switch mfa.ChallengeKind(ch.Kind) {
	case mfa.KindPassword:
		return e.deps.Passwords.Verify(ctx, sess.UserID, response.Code)
	case mfa.KindCode:
		// Constant content, direct equality
		return response.Code != "" && response.Code == ch.Code, nil
	case mfa.KindTOTP:
		return e.deps.TOTP.Verify(ctx, sess.UserID, response.Code)
	case mfa.KindPush:
		decision, err := e.deps.Push.CheckApproval(ctx, ch.PushToken)
		if err != nil {
			return false, err
		}
		switch decision {
		case mfa.PushApproved:
			return true, nil
		case mfa.PushPending:
			return false, errApprovalPending
		default:
			return false, nil
		}
	case mfa.KindBiometric:
		return e.deps.Biometrics.Match(ctx, sess.UserID, response.Sample)
	case mfa.KindFIDO2:
		return e.deps.FIDO2.VerifyAssertion(ctx, sess.UserID, ch.Nonce, response.Sample)
	case mfa.KindContinuous:
		return e.deps.Continuous.Evaluate(ctx, sess.UserID, response.Sample)
	default:
		return false, fmt.Errorf("unknown challenge kind %q", ch.Kind)
	}
}

func (e *Engine) storeBoth(ctx context.Context, sess *session.AuthSession, ch *session.Challenge) error {
	if err := e.deps.Store.PutChallenge(ctx, ch); err != nil {
		return apperrors.StorageError("store challenge", err)
	}
	if err := e.deps.Store.PutSession(ctx, sess); err != nil {
		return apperrors.StorageError("store session", err)
	}
	return nil
}

const (
	numericDigits        = "0123456789"
	alphanumericAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// generateCode produces a random challenge code with crypto/rand
func generateCode(length int, format mfa.CodeFormat) (string, error) {
	if length <= 0 {
		length = 6
	}
	alphabet := numericDigits
	if format == mfa.FormatAlphanumeric {
		alphabet = alphanumericAlphabet
	}

	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
