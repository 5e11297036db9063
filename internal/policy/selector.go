package policy

import (
	"go.uber.org/zap"

	apperrors "github.com/stepgate/stepgate/internal/common/errors"
	"github.com/stepgate/stepgate/internal/mfa"
)

// stepUpFallbackOrder is the possession-factor priority used when a step-up
// policy would otherwise leave a single-factor list
var stepUpFallbackOrder = []string{mfa.MethodTOTP, mfa.MethodPush, mfa.MethodSMS, mfa.MethodEmail}

// Selection is the outcome of matching a score against the policy table
type Selection struct {
	Policy          *AdaptivePolicy
	RequiredMethods []string
}

// Selector matches risk scores to policies and builds the ordered factor
// list an authentication session must satisfy
type Selector struct {
	policies []*AdaptivePolicy
	catalog  *mfa.Catalog
	logger   *zap.Logger
}

// NewSelector validates the policy table and every method id it references
func NewSelector(policies []*AdaptivePolicy, catalog *mfa.Catalog, logger *zap.Logger) (*Selector, error) {
	if err := ValidatePartition(policies); err != nil {
		return nil, apperrors.Configuration("invalid policy table").WithDetails(err.Error())
	}
	for _, p := range policies {
		for _, id := range append(append([]string{}, p.RequiredMethods...), p.PreferredMethods...) {
			if !catalog.Has(id) {
				return nil, apperrors.MethodUnsupported(id)
			}
		}
	}
	return &Selector{
		policies: policies,
		catalog:  catalog,
		logger:   logger.With(zap.String("component", "policy_selector")),
	}, nil
}

// Select returns the policy for score and the ordered methods the user must
// complete. The order is fixed: knowledge baseline first, then one preferred
// factor, then remaining required factors, then a step-up fallback if the
// policy demands a second factor and none was added. Only enrolled methods
// are ever included.
func (s *Selector) Select(score float64, enrolled []string) (*Selection, error) {
	policy := s.match(score)

	enrolledSet := make(map[string]bool, len(enrolled))
	for _, id := range enrolled {
		enrolledSet[id] = true
	}

	var methods []string
	included := make(map[string]bool)
	add := func(id string) {
		if !included[id] && enrolledSet[id] {
			methods = append(methods, id)
			included[id] = true
		}
	}

	// Knowledge baseline comes first when enrolled
	add(mfa.MethodPassword)

	// One preferred factor, first enrolled match wins
	for _, id := range policy.PreferredMethods {
		if enrolledSet[id] {
			add(id)
			break
		}
	}

	// Remaining required factors
	for _, id := range policy.RequiredMethods {
		add(id)
	}

	// Step-up with a single-factor list falls back to the best enrolled
	// possession factor, then any other enrolled non-knowledge factor in
	// catalog order. A user with two or more enrollments never gets a
	// single-factor list from a step-up policy.
	if policy.StepUp && len(methods) == 1 {
		for _, id := range stepUpFallbackOrder {
			if !included[id] && enrolledSet[id] {
				add(id)
				break
			}
		}
	}
	if policy.StepUp && len(methods) == 1 {
		for _, id := range s.catalog.IDs() {
			if included[id] || !enrolledSet[id] {
				continue
			}
			if method, err := s.catalog.Get(id); err == nil && method.FactorClass != mfa.FactorKnowledge {
				add(id)
				break
			}
		}
	}

	if len(methods) == 0 {
		return nil, apperrors.MethodNotEnrolled(mfa.MethodPassword)
	}

	return &Selection{Policy: policy, RequiredMethods: methods}, nil
}

// match finds the unique policy containing score. The partition invariant
// makes a miss impossible for scores in [0,1]; if it happens anyway the
// medium policy is returned and the mismatch logged as a configuration error.
func (s *Selector) match(score float64) *AdaptivePolicy {
	for _, p := range s.policies {
		if p.Contains(score) {
			return p
		}
	}

	s.logger.Error("No policy matches risk score, falling back to medium tier",
		zap.Float64("score", score),
	)
	for _, p := range s.policies {
		if p.Name == "medium_risk" {
			return p
		}
	}
	// Degenerate table with no medium policy: take the first
	return s.policies[0]
}
