package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/common/config"
	"github.com/stepgate/stepgate/internal/mfa"
	"github.com/stepgate/stepgate/internal/risk"
)

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

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	riskCfg, policyCfg := testConfigs()
	s, err := NewSelector(DefaultPolicies(riskCfg, policyCfg), mfa.DefaultCatalog(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestValidatePartition(t *testing.T) {
	riskCfg, policyCfg := testConfigs()
	assert.NoError(t, ValidatePartition(DefaultPolicies(riskCfg, policyCfg)))

	tests := []struct {
		name     string
		policies []*AdaptivePolicy
	}{
		{"empty", nil},
		{"gap", []*AdaptivePolicy{
			{Name: "a", Lo: 0, Hi: 0.4},
			{Name: "b", Lo: 0.5, Hi: 1.0},
		}},
		{"overlap", []*AdaptivePolicy{
			{Name: "a", Lo: 0, Hi: 0.6},
			{Name: "b", Lo: 0.5, Hi: 1.0},
		}},
		{"not starting at zero", []*AdaptivePolicy{
			{Name: "a", Lo: 0.1, Hi: 1.0},
		}},
		{"not ending at one", []*AdaptivePolicy{
			{Name: "a", Lo: 0, Hi: 0.9},
		}},
		{"empty interval", []*AdaptivePolicy{
			{Name: "a", Lo: 0, Hi: 0},
			{Name: "b", Lo: 0, Hi: 1.0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidatePartition(tt.policies))
		})
	}
}

func TestSelect_ExactlyOnePolicyPerScore(t *testing.T) {
	riskCfg, policyCfg := testConfigs()
	policies := DefaultPolicies(riskCfg, policyCfg)

	for score := 0.0; score <= 1.0; score += 0.01 {
		matches := 0
		for _, p := range policies {
			if p.Contains(score) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "score %f", score)
	}
	// Upper bound is inclusive for the top tier
	assert.True(t, policies[3].Contains(1.0))
}

func TestSelect_LowRiskPasswordOnly(t *testing.T) {
	s := newTestSelector(t)

	sel, err := s.Select(0.1, []string{mfa.MethodPassword})
	require.NoError(t, err)
	assert.Equal(t, "low_risk", sel.Policy.Name)
	assert.Equal(t, []string{mfa.MethodPassword}, sel.RequiredMethods)
	assert.Equal(t, 8*time.Hour, sel.Policy.SessionDuration)
	assert.Empty(t, sel.Policy.BlockedActions)
}

func TestSelect_MediumRiskPrefersTOTP(t *testing.T) {
	s := newTestSelector(t)

	sel, err := s.Select(0.45, []string{mfa.MethodPassword, mfa.MethodTOTP, mfa.MethodSMS})
	require.NoError(t, err)
	assert.Equal(t, "medium_risk", sel.Policy.Name)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodTOTP}, sel.RequiredMethods)
	assert.Equal(t, 4*time.Hour, sel.Policy.SessionDuration)
}

func TestSelect_CriticalRiskStrongFactor(t *testing.T) {
	s := newTestSelector(t)

	sel, err := s.Select(0.9, []string{mfa.MethodPassword, mfa.MethodFIDO2, mfa.MethodBiometric})
	require.NoError(t, err)
	assert.Equal(t, "critical_risk", sel.Policy.Name)
	assert.Equal(t, risk.LevelCritical, sel.Policy.Level)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodFIDO2}, sel.RequiredMethods)
	assert.True(t, sel.Policy.RequireAdminApproval)
	assert.Contains(t, sel.Policy.BlockedActions, "financial_transactions")
	assert.Equal(t, 15*time.Minute, sel.Policy.SessionDuration)
}

func TestSelect_StepUpFallback(t *testing.T) {
	s := newTestSelector(t)

	// Medium tier, no preferred factor enrolled: fallback order picks SMS
	sel, err := s.Select(0.45, []string{mfa.MethodPassword, mfa.MethodSMS, mfa.MethodEmail})
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodSMS}, sel.RequiredMethods)
}

func TestSelect_StepUpWithSingleEnrollment(t *testing.T) {
	s := newTestSelector(t)

	// Step-up demanded but only the password is enrolled: the list stays at
	// one factor, there is nothing to step up to
	sel, err := s.Select(0.45, []string{mfa.MethodPassword})
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.MethodPassword}, sel.RequiredMethods)
}

func TestSelect_StepUpTwoEnrolledGivesTwoFactors(t *testing.T) {
	s := newTestSelector(t)

	for score := 0.3; score < 1.0; score += 0.1 {
		sel, err := s.Select(score, []string{mfa.MethodPassword, mfa.MethodEmail})
		require.NoError(t, err)
		if sel.Policy.StepUp {
			assert.GreaterOrEqual(t, len(sel.RequiredMethods), 2, "score %f", score)
		}
	}
}

func TestSelect_StepUpFallsBackBeyondPossessionList(t *testing.T) {
	s := newTestSelector(t)

	// Medium tier prefers totp/push; a user enrolled with only a biometric
	// second factor still gets a two-factor list
	sel, err := s.Select(0.45, []string{mfa.MethodPassword, mfa.MethodBiometric})
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.MethodPassword, mfa.MethodBiometric}, sel.RequiredMethods)

	// Holds for every step-up policy and any enrolled non-knowledge factor
	for score := 0.3; score < 1.0; score += 0.1 {
		sel, err := s.Select(score, []string{mfa.MethodPassword, mfa.MethodBiometric})
		require.NoError(t, err)
		if sel.Policy.StepUp {
			assert.GreaterOrEqual(t, len(sel.RequiredMethods), 2, "score %f", score)
		}
	}
}

func TestSelect_SameScoreSamePolicy(t *testing.T) {
	s := newTestSelector(t)

	first, err := s.Select(0.7, []string{mfa.MethodPassword, mfa.MethodTOTP})
	require.NoError(t, err)
	second, err := s.Select(0.7, []string{mfa.MethodPassword, mfa.MethodTOTP})
	require.NoError(t, err)
	assert.Equal(t, first.Policy.Name, second.Policy.Name)
	assert.Equal(t, first.RequiredMethods, second.RequiredMethods)
}

func TestSelect_NothingEnrolled(t *testing.T) {
	s := newTestSelector(t)

	_, err := s.Select(0.1, nil)
	assert.Error(t, err)
}

func TestNewSelector_RejectsUnknownMethod(t *testing.T) {
	riskCfg, policyCfg := testConfigs()
	policies := DefaultPolicies(riskCfg, policyCfg)
	policies[0].RequiredMethods = []string{"retina_scan"}

	_, err := NewSelector(policies, mfa.DefaultCatalog(), zap.NewNop())
	assert.Error(t, err)
}
