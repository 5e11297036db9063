package mfa

import "context"

// ContinuousMonitor evaluates an ongoing behavioral stream for a user.
// Continuous challenges delegate their verification here.
type ContinuousMonitor interface {
	Evaluate(ctx context.Context, userID string, sample []byte) (bool, error)
}

// StaticMonitor is a ContinuousMonitor with a fixed decision, used in tests
// and as a permissive default where no behavioral engine is deployed
type StaticMonitor struct {
	Decision bool
}

// Evaluate returns the fixed decision
func (m StaticMonitor) Evaluate(context.Context, string, []byte) (bool, error) {
	return m.Decision, nil
}
