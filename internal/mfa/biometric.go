package mfa

import (
	"bytes"
	"context"
	"crypto/sha256"
)

// BiometricMatcher compares a live sample against an enrolled template and
// returns a similarity score in [0,1]
type BiometricMatcher interface {
	Compare(ctx context.Context, template, sample []byte) (float64, error)
	CreateTemplate(ctx context.Context, raw []byte) ([]byte, error)
}

// ThresholdMatcher turns a similarity score into a match decision
type ThresholdMatcher struct {
	matcher   BiometricMatcher
	directory Directory
	threshold float64
}

// NewThresholdMatcher creates a matcher that accepts scores >= threshold
func NewThresholdMatcher(matcher BiometricMatcher, directory Directory, threshold float64) *ThresholdMatcher {
	return &ThresholdMatcher{
		matcher:   matcher,
		directory: directory,
		threshold: threshold,
	}
}

// Match compares a live sample against the user's enrolled template
func (m *ThresholdMatcher) Match(ctx context.Context, userID string, sample []byte) (bool, error) {
	e, err := m.directory.Get(ctx, userID, MethodBiometric)
	if err == ErrEnrollmentNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	score, err := m.matcher.Compare(ctx, e.Secret, sample)
	if err != nil {
		return false, err
	}
	return score >= m.threshold, nil
}

// HashMatcher is a deterministic BiometricMatcher used in tests and
// development: templates are SHA-256 digests, matching is exact. Production
// deployments plug in a vendor matcher behind the same interface.
type HashMatcher struct{}

// Compare returns 1.0 for an exact template match and 0.0 otherwise
func (HashMatcher) Compare(_ context.Context, template, sample []byte) (float64, error) {
	digest := sha256.Sum256(sample)
	if bytes.Equal(template, digest[:]) {
		return 1.0, nil
	}
	return 0.0, nil
}

// CreateTemplate digests the raw sample
func (HashMatcher) CreateTemplate(_ context.Context, raw []byte) ([]byte, error) {
	digest := sha256.Sum256(raw)
	return digest[:], nil
}
