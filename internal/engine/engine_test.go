package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/audit"
	"github.com/stepgate/stepgate/internal/common/config"
	apperrors "github.com/stepgate/stepgate/internal/common/errors"
	"github.com/stepgate/stepgate/internal/mfa"
	"github.com/stepgate/stepgate/internal/policy"
	"github.com/stepgate/stepgate/internal/profile"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/session"
)

type fixedSignal struct{ score float64 }

func (s fixedSignal) Assess(context.Context, *risk.SignalContext) (float64, error) {
	return s.score, nil
}

type brokenSignal struct{}

func (brokenSignal) Assess(context.Context, *risk.SignalContext) (float64, error) {
	return 0, errors.New("profile backend down")
}

type captureSink struct{ samples []profile.Sample }

func (c *captureSink) Enqueue(s profile.Sample) { c.samples = append(c.samples, s) }

type testHarness struct {
	engine    *Engine
	store     *session.MemoryStore
	directory *mfa.MemoryDirectory
	push      *mfa.MockPushTransport
	smsCodes  *mfa.MockTransport
	sink      *captureSink
	totp      *scriptedTOTP
	trail     *audit.Trail
}

// scriptedTOTP accepts a single fixed code, or fails with err when set
type scriptedTOTP struct {
	accept string
	err    error
}

func (s *scriptedTOTP) Verify(_ context.Context, _ string, code string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return code == s.accept, nil
}

func testConfigs() (config.RiskConfig, config.PolicyConfig) {
	return config.RiskConfig{
			MediumThreshold:   0.3,
			HighThreshold:     0.6,
			CriticalThreshold: 0.8,
		}, config.PolicyConfig{
			LowSessionMinutes:      480,
			MediumSessionMinutes:   240,
			HighSessionMinutes:     60,
			CriticalSessionMinutes: 15,
			BaselinePermissions:    []string{"read", "write", "profile_management", "financial_transactions", "admin_operations"},
		}
}

func newHarness(t *testing.T, signals []risk.Signal) *testHarness {
	t.Helper()
	riskCfg, policyCfg := testConfigs()
	logger := zap.NewNop()

	aggregator, err := risk.NewAggregator(signals, riskCfg, logger)
	require.NoError(t, err)

	catalog := mfa.DefaultCatalog()
	selector, err := policy.NewSelector(policy.DefaultPolicies(riskCfg, policyCfg), catalog, logger)
	require.NoError(t, err)

	directory := mfa.NewMemoryDirectory()
	hash, err := mfa.HashPassword("correct-password")
	require.NoError(t, err)
	directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodPassword, Secret: hash})

	store := session.NewMemoryStore()
	push := mfa.NewMockPushTransport(true)
	smsCodes := &mfa.MockTransport{}
	sink := &captureSink{}
	totp := &scriptedTOTP{accept: "654321"}
	trail, err := audit.NewTrail(filepath.Join(t.TempDir(), "decisions.log"), []byte("trail-secret"))
	require.NoError(t, err)

	issuer := NewIssuer(
		[]byte("unit-test-signing-secret-32bytes"),
		"stepgate-test",
		policyCfg.BaselinePermissions,
		sink,
		logger,
	)

	eng := NewEngine(Deps{
		Store:      store,
		Risk:       aggregator,
		Policies:   selector,
		Catalog:    catalog,
		Directory:  directory,
		Passwords:  mfa.NewBcryptVerifier(directory),
		TOTP:       totp,
		Biometrics: mfa.NewThresholdMatcher(mfa.HashMatcher{}, directory, 0.8),
		FIDO2:      mfa.NewStaticFIDO2Verifier(directory),
		Push:       push,
		Continuous: mfa.StaticMonitor{Decision: true},
		CodeTransports: map[string]mfa.CodeTransport{
			mfa.MethodSMS:   smsCodes,
			mfa.MethodEmail: smsCodes,
		},
		Issuer:        issuer,
		Audit:         trail,
		SessionWindow: 10 * time.Minute,
	}, logger)

	return &testHarness{
		engine:    eng,
		store:     store,
		directory: directory,
		push:      push,
		smsCodes:  smsCodes,
		sink:      sink,
		totp:      totp,
		trail:     trail,
	}
}

func singleSignal(score float64) []risk.Signal {
	return []risk.Signal{{Name: "test", Weight: 1.0, Provider: fixedSignal{score: score}}}
}

func startContext() *risk.SignalContext {
	return &risk.SignalContext{
		IPAddress:         "203.0.113.9",
		UserAgent:         "test-agent",
		DeviceFingerprint: "fp-1",
		Latitude:          52.52,
		Longitude:         13.40,
	}
}

func TestStartAuthentication_LowRiskSingleFactor(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	assert.Equal(t, risk.LevelLow, res.RiskLevel)
	assert.Equal(t, []string{mfa.MethodPassword}, res.RequiredMethods)
	require.NotNil(t, res.Challenge)
	assert.Equal(t, mfa.MethodPassword, res.Challenge.MethodID)

	verify, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, verify.Authenticated)
	assert.Nil(t, verify.NextChallenge)

	auth := verify.Authenticated
	assert.Equal(t, "user-1", auth.UserID)
	assert.Equal(t, []string{mfa.MethodPassword}, auth.FactorsSatisfied)
	assert.False(t, auth.RequiresAdminApproval)
	// Low risk blocks nothing and grants the 8 hour session
	assert.Contains(t, auth.Permissions, "admin_operations")
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), auth.ExpiresAt, time.Minute)
	assert.NotEmpty(t, auth.Token)
}

func TestMultiFactorFlow_MediumRisk(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodTOTP, Secret: []byte("secret")})
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodSMS, Destination: "+15551234567"})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	assert.Equal(t, risk.LevelMedium, res.RiskLevel)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodTOTP}, res.RequiredMethods)

	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	assert.Nil(t, step1.Authenticated)
	require.NotNil(t, step1.NextChallenge)
	assert.Equal(t, mfa.MethodTOTP, step1.NextChallenge.MethodID)

	step2, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: "654321"})
	require.NoError(t, err)
	require.NotNil(t, step2.Authenticated)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodTOTP}, step2.Authenticated.FactorsSatisfied)
	// Medium tier blocks admin operations
	assert.NotContains(t, step2.Authenticated.Permissions, "admin_operations")
	assert.Contains(t, step2.Authenticated.Permissions, "financial_transactions")
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), step2.Authenticated.ExpiresAt, time.Minute)
}

func TestVerify_WrongCodeExhaustsAttempts(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodSMS, Destination: "+15551234567"})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, step1.NextChallenge)
	assert.Equal(t, mfa.MethodSMS, step1.NextChallenge.MethodID)
	assert.NotEmpty(t, h.smsCodes.LastCode())

	chID := step1.NextChallenge.ID

	// Two wrong answers keep the session alive with a shrinking budget
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, chID, &Response{Code: "000000"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidResponse))
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 2, appErr.Metadata["attempts_remaining"])

	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, chID, &Response{Code: "111111"})
	require.Error(t, err)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 1, appErr.Metadata["attempts_remaining"])

	// Third failure is terminal
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, chID, &Response{Code: "222222"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrAttemptsExceeded))

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)

	// A failed session rejects further verification
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, chID, &Response{Code: h.smsCodes.LastCode()})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidState))
}

func TestVerify_CorrectCodeAfterMisses(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodSMS, Destination: "+15551234567"})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)

	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: "wrong"})
	require.Error(t, err)

	// The same challenge stays pending for retry
	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: h.smsCodes.LastCode()})
	require.NoError(t, err)
	require.NotNil(t, final.Authenticated)
}

func TestStart_DegradedSignalStillAuthenticates(t *testing.T) {
	// One dead provider at half weight pulls the composite toward 0.25:
	// still a decision, not an outage
	h := newHarness(t, []risk.Signal{
		{Name: "healthy", Weight: 0.5, Provider: fixedSignal{score: 0.0}},
		{Name: "dead", Weight: 0.5, Provider: brokenSignal{}},
	})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	assert.Equal(t, risk.LevelLow, res.RiskLevel)

	verify, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, verify.Authenticated)
}

func TestCriticalRisk_AdminApprovalAndBlockedActions(t *testing.T) {
	h := newHarness(t, singleSignal(0.9))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodFIDO2, Secret: []byte("credential-blob")})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	assert.Equal(t, risk.LevelCritical, res.RiskLevel)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodFIDO2}, res.RequiredMethods)

	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, step1.NextChallenge)
	assert.NotEmpty(t, step1.NextChallenge.Options)

	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Sample: []byte("credential-blob")})
	require.NoError(t, err)
	require.NotNil(t, final.Authenticated)
	assert.True(t, final.Authenticated.RequiresAdminApproval)
	assert.NotContains(t, final.Authenticated.Permissions, "financial_transactions")
	assert.NotContains(t, final.Authenticated.Permissions, "write")
	assert.Contains(t, final.Authenticated.Permissions, "read")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), final.Authenticated.ExpiresAt, time.Minute)
}

func TestRiskFrozenAtCreation(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	before := sess.RiskScore

	// A failed verify does not recompute risk
	_, _ = h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "wrong"})

	sess, err = h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, before, sess.RiskScore)
	assert.Equal(t, "low_risk", sess.PolicyName)
}

func TestVerify_ChallengeExpiryFailsSession(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	// Move the engine clock past the password challenge expiry
	h.engine.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrChallengeExpired))

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

func TestVerify_LazySessionExpiry(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	h.engine.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidState))

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, sess.Status)
}

func TestVerify_UnknownSessionAndChallenge(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	_, err := h.engine.VerifyChallenge(ctx, "missing", "whatever", &Response{})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrSessionNotFound))

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	// A challenge id that is not the session's outstanding one is rejected
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, "some-other-challenge", &Response{})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidState))
}

func TestPushChallenge_ApprovalFlow(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodPush, Destination: "device-token-1"})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodPush}, res.RequiredMethods)

	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, step1.NextChallenge)

	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, final.Authenticated)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodPush}, final.Authenticated.FactorsSatisfied)
}

func TestPushChallenge_PendingPollIsNotAnAttempt(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodPush, Destination: "device-token-1"})
	h.push.Decision = mfa.PushPending
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, step1.NextChallenge)
	assert.Equal(t, mfa.MethodPush, step1.NextChallenge.MethodID)

	// Polling before the user responds never consumes the single attempt
	for i := 0; i < 3; i++ {
		_, err = h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrApprovalPending))
	}

	ch, err := h.store.GetChallenge(ctx, step1.NextChallenge.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ch.Attempts)

	// Approval after the polling still completes the session
	h.push.Resolve(mfa.PushApproved)
	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, final.Authenticated)
}

func TestPushChallenge_DeniedFailsSession(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodPush, Destination: "device-token-1"})
	h.push.Decision = mfa.PushDenied
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)

	// An explicit denial consumes the only attempt and fails the session
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrAttemptsExceeded))

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

func TestVerify_VerifierOutageIsInternalError(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodTOTP, Secret: []byte("secret")})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	require.NotNil(t, step1.NextChallenge)

	// A verifier backend failure is an internal error, not a storage one
	h.totp.err = errors.New("replay cache unavailable")
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: "654321"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInternal))
	assert.False(t, apperrors.IsErrorCode(err, apperrors.ErrStorage))

	// The session survives the outage and accepts the code once it recovers
	h.totp.err = nil
	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: "654321"})
	require.NoError(t, err)
	require.NotNil(t, final.Authenticated)
}

func TestCancelAuthentication(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)

	require.NoError(t, h.engine.CancelAuthentication(ctx, res.SessionID))

	sess, err := h.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)

	// Cancelling twice is an invalid state transition
	err = h.engine.CancelAuthentication(ctx, res.SessionID)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrInvalidState))

	err = h.engine.CancelAuthentication(ctx, "missing")
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrSessionNotFound))
}

func TestIssue_EnqueuesProfileSample(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)

	require.Len(t, h.sink.samples, 1)
	assert.Equal(t, "user-1", h.sink.samples[0].UserID)
	assert.Equal(t, "fp-1", h.sink.samples[0].DeviceFingerprint)
}

func TestIssuedToken_Parses(t *testing.T) {
	h := newHarness(t, singleSignal(0.45))
	h.directory.Enroll(&mfa.Enrollment{UserID: "user-1", MethodID: mfa.MethodTOTP, Secret: []byte("secret")})
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	step1, err := h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)
	final, err := h.engine.VerifyChallenge(ctx, res.SessionID, step1.NextChallenge.ID, &Response{Code: "654321"})
	require.NoError(t, err)

	claims, err := h.engine.deps.Issuer.ParseToken(final.Authenticated.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "medium", claims.RiskLevel)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodTOTP}, claims.AMR)
	assert.NotContains(t, claims.Permissions, "admin_operations")
}

func TestGenerateCode(t *testing.T) {
	code, err := generateCode(6, mfa.FormatNumeric)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, c := range code {
		assert.Contains(t, numericDigits, string(c))
	}

	code, err = generateCode(8, mfa.FormatAlphanumeric)
	require.NoError(t, err)
	assert.Len(t, code, 8)

	// Two draws almost surely differ
	other, err := generateCode(8, mfa.FormatAlphanumeric)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestDecisionTrail_RecordsFlow(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	_, err = h.engine.VerifyChallenge(ctx, res.SessionID, res.Challenge.ID, &Response{Code: "correct-password"})
	require.NoError(t, err)

	records, err := h.trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.ActionStart, records[0].Action)
	assert.Equal(t, audit.ActionComplete, records[1].Action)
	assert.Equal(t, res.SessionID, records[0].SessionID)
	assert.Equal(t, "low_risk", records[1].PolicyName)
	assert.Equal(t, []string{mfa.MethodPassword}, records[1].Methods)

	bad, err := h.trail.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, -1, bad)
}

func TestDecisionTrail_RecordsCancellation(t *testing.T) {
	h := newHarness(t, singleSignal(0.1))
	ctx := context.Background()

	res, err := h.engine.StartAuthentication(ctx, "user-1", startContext())
	require.NoError(t, err)
	require.NoError(t, h.engine.CancelAuthentication(ctx, res.SessionID))

	records, err := h.trail.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.ActionCancel, records[1].Action)
	assert.Equal(t, audit.OutcomeFailure, records[1].Outcome)
	assert.Equal(t, "cancelled", records[1].Reason)
}
