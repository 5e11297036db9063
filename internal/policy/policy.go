// Package policy maps risk tiers onto adaptive authentication requirements
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/stepgate/stepgate/internal/common/config"
	"github.com/stepgate/stepgate/internal/mfa"
	"github.com/stepgate/stepgate/internal/risk"
)

// AdaptivePolicy is a declarative rule bound to a half-open risk interval
// [Lo, Hi). The highest policy's Hi of 1.0 is inclusive so a maximal score
// still matches. Policies carry data only; interpretation lives in Selector.
type AdaptivePolicy struct {
	Name  string     `json:"name"`
	Level risk.Level `json:"level"`
	Lo    float64    `json:"lo"`
	Hi    float64    `json:"hi"`

	RequiredMethods  []string `json:"required_methods"`
	PreferredMethods []string `json:"preferred_methods"`
	StepUp           bool     `json:"step_up"`

	SessionDuration      time.Duration `json:"session_duration"`
	BlockedActions       []string      `json:"blocked_actions"`
	RequireAdminApproval bool          `json:"require_admin_approval"`
}

// Contains reports whether the policy's interval covers score
func (p *AdaptivePolicy) Contains(score float64) bool {
	if score >= p.Lo && score < p.Hi {
		return true
	}
	// The top interval includes its upper bound
	return p.Hi == 1.0 && score == 1.0
}

// ValidatePartition checks that the policies cover [0,1] with no gaps or
// overlaps. Called once at startup; a violation is a configuration error.
func ValidatePartition(policies []*AdaptivePolicy) error {
	if len(policies) == 0 {
		return fmt.Errorf("no policies configured")
	}

	sorted := make([]*AdaptivePolicy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })

	if sorted[0].Lo != 0 {
		return fmt.Errorf("policy %s starts at %f, want 0", sorted[0].Name, sorted[0].Lo)
	}
	for i, p := range sorted {
		if p.Hi <= p.Lo {
			return fmt.Errorf("policy %s has empty interval [%f,%f)", p.Name, p.Lo, p.Hi)
		}
		if i > 0 && p.Lo != sorted[i-1].Hi {
			return fmt.Errorf("gap or overlap between %s and %s at %f",
				sorted[i-1].Name, p.Name, p.Lo)
		}
	}
	if last := sorted[len(sorted)-1]; last.Hi != 1.0 {
		return fmt.Errorf("policy %s ends at %f, want 1.0", last.Name, last.Hi)
	}
	return nil
}

// DefaultPolicies builds the four-tier policy table from configuration.
// Intervals follow the risk tier thresholds so classification and policy
// selection always agree.
func DefaultPolicies(riskCfg config.RiskConfig, policyCfg config.PolicyConfig) []*AdaptivePolicy {
	return []*AdaptivePolicy{
		{
			Name:             "low_risk",
			Level:            risk.LevelLow,
			Lo:               0,
			Hi:               riskCfg.MediumThreshold,
			RequiredMethods:  []string{mfa.MethodPassword},
			PreferredMethods: nil,
			StepUp:           false,
			SessionDuration:  time.Duration(policyCfg.LowSessionMinutes) * time.Minute,
			BlockedActions:   nil,
		},
		{
			Name:             "medium_risk",
			Level:            risk.LevelMedium,
			Lo:               riskCfg.MediumThreshold,
			Hi:               riskCfg.HighThreshold,
			RequiredMethods:  []string{mfa.MethodPassword},
			PreferredMethods: []string{mfa.MethodTOTP, mfa.MethodPush},
			StepUp:           true,
			SessionDuration:  time.Duration(policyCfg.MediumSessionMinutes) * time.Minute,
			BlockedActions:   []string{"admin_operations"},
		},
		{
			Name:                 "high_risk",
			Level:                risk.LevelHigh,
			Lo:                   riskCfg.HighThreshold,
			Hi:                   riskCfg.CriticalThreshold,
			RequiredMethods:      []string{mfa.MethodPassword},
			PreferredMethods:     []string{mfa.MethodFIDO2, mfa.MethodBiometric, mfa.MethodTOTP},
			StepUp:               true,
			SessionDuration:      time.Duration(policyCfg.HighSessionMinutes) * time.Minute,
			BlockedActions:       []string{"admin_operations", "financial_transactions"},
			RequireAdminApproval: true,
		},
		{
			Name:                 "critical_risk",
			Level:                risk.LevelCritical,
			Lo:                   riskCfg.CriticalThreshold,
			Hi:                   1.0,
			RequiredMethods:      []string{mfa.MethodPassword},
			PreferredMethods:     []string{mfa.MethodFIDO2, mfa.MethodBiometric},
			StepUp:               true,
			SessionDuration:      time.Duration(policyCfg.CriticalSessionMinutes) * time.Minute,
			BlockedActions:       []string{"admin_operations", "financial_transactions", "write"},
			RequireAdminApproval: true,
		},
	}
}
