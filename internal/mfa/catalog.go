// Package mfa provides the authentication method catalog and the
// verification capabilities behind each challenge kind
package mfa

import (
	"fmt"
	"time"

	apperrors "github.com/stepgate/stepgate/internal/common/errors"
)

// Method identifiers
const (
	MethodPassword   = "password"
	MethodSMS        = "sms"
	MethodEmail      = "email"
	MethodTOTP       = "totp"
	MethodPush       = "push"
	MethodBiometric  = "biometric"
	MethodFIDO2      = "fido2"
	MethodBehavioral = "behavioral"
)

// FactorClass groups methods by what the user proves
type FactorClass string

const (
	FactorKnowledge  FactorClass = "knowledge"
	FactorPossession FactorClass = "possession"
	FactorInherence  FactorClass = "inherence"
	FactorContextual FactorClass = "contextual"
)

// ChallengeKind selects the verification dispatch for a challenge
type ChallengeKind string

const (
	KindPassword   ChallengeKind = "password"
	KindCode       ChallengeKind = "code"
	KindTOTP       ChallengeKind = "totp"
	KindPush       ChallengeKind = "push"
	KindBiometric  ChallengeKind = "biometric"
	KindFIDO2      ChallengeKind = "fido2"
	KindContinuous ChallengeKind = "continuous"
)

// CodeFormat constrains generated challenge codes
type CodeFormat string

const (
	FormatNumeric      CodeFormat = "numeric"
	FormatAlphanumeric CodeFormat = "alphanumeric"
)

// ChallengeSpec describes how challenges for a method are generated and
// bounded. Nil Expiry and MaxAttempts mark continuous methods that never
// expire by timeout.
type ChallengeSpec struct {
	Kind        ChallengeKind
	CodeLength  int
	Format      CodeFormat
	Expiry      *time.Duration
	MaxAttempts *int
}

// Method describes one authentication factor. Methods are immutable after
// startup; quality scores are in [0,1] and exist for policy tie-breaking.
type Method struct {
	ID          string
	FactorClass FactorClass

	Reliability float64
	Convenience float64
	Security    float64
	Cost        float64

	// EnrollmentRequirements names what the user must register before the
	// method can be challenged (phone number, TOTP secret, credential).
	EnrollmentRequirements []string

	Challenge ChallengeSpec
}

// Catalog is the immutable registry of supported methods
type Catalog struct {
	methods map[string]Method
	order   []string
}

// NewCatalog builds a catalog from the given methods
func NewCatalog(methods []Method) (*Catalog, error) {
	c := &Catalog{
		methods: make(map[string]Method, len(methods)),
		order:   make([]string, 0, len(methods)),
	}
	for _, m := range methods {
		if m.ID == "" {
			return nil, fmt.Errorf("method with empty id")
		}
		if _, exists := c.methods[m.ID]; exists {
			return nil, fmt.Errorf("duplicate method id %q", m.ID)
		}
		c.methods[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c, nil
}

// Get returns the method for id or a configuration error for unknown ids
func (c *Catalog) Get(id string) (Method, error) {
	m, ok := c.methods[id]
	if !ok {
		return Method{}, apperrors.MethodUnsupported(id)
	}
	return m, nil
}

// Has reports whether the catalog contains id
func (c *Catalog) Has(id string) bool {
	_, ok := c.methods[id]
	return ok
}

// IDs returns method ids in registration order
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func durationPtr(d time.Duration) *time.Duration { return &d }
func intPtr(n int) *int                          { return &n }

// DefaultCatalog returns the standard method set
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Method{
		{
			ID:          MethodPassword,
			FactorClass: FactorKnowledge,
			Reliability: 0.95, Convenience: 0.9, Security: 0.5, Cost: 0.0,
			EnrollmentRequirements: []string{"password_hash"},
			Challenge: ChallengeSpec{
				Kind:        KindPassword,
				Expiry:      durationPtr(5 * time.Minute),
				MaxAttempts: intPtr(5),
			},
		},
		{
			ID:          MethodSMS,
			FactorClass: FactorPossession,
			Reliability: 0.9, Convenience: 0.85, Security: 0.6, Cost: 0.3,
			EnrollmentRequirements: []string{"phone_number"},
			Challenge: ChallengeSpec{
				Kind:        KindCode,
				CodeLength:  6,
				Format:      FormatNumeric,
				Expiry:      durationPtr(5 * time.Minute),
				MaxAttempts: intPtr(3),
			},
		},
		{
			ID:          MethodEmail,
			FactorClass: FactorPossession,
			Reliability: 0.9, Convenience: 0.8, Security: 0.55, Cost: 0.1,
			EnrollmentRequirements: []string{"email_address"},
			Challenge: ChallengeSpec{
				Kind:        KindCode,
				CodeLength:  8,
				Format:      FormatAlphanumeric,
				Expiry:      durationPtr(10 * time.Minute),
				MaxAttempts: intPtr(3),
			},
		},
		{
			ID:          MethodTOTP,
			FactorClass: FactorPossession,
			Reliability: 0.95, Convenience: 0.75, Security: 0.8, Cost: 0.0,
			EnrollmentRequirements: []string{"totp_secret"},
			Challenge: ChallengeSpec{
				Kind:        KindTOTP,
				CodeLength:  6,
				Format:      FormatNumeric,
				Expiry:      durationPtr(5 * time.Minute),
				MaxAttempts: intPtr(3),
			},
		},
		{
			ID:          MethodPush,
			FactorClass: FactorPossession,
			Reliability: 0.85, Convenience: 0.95, Security: 0.75, Cost: 0.2,
			EnrollmentRequirements: []string{"push_device_token"},
			Challenge: ChallengeSpec{
				Kind:        KindPush,
				Expiry:      durationPtr(2 * time.Minute),
				MaxAttempts: intPtr(1),
			},
		},
		{
			ID:          MethodBiometric,
			FactorClass: FactorInherence,
			Reliability: 0.9, Convenience: 0.95, Security: 0.9, Cost: 0.4,
			EnrollmentRequirements: []string{"biometric_template"},
			Challenge: ChallengeSpec{
				Kind:        KindBiometric,
				Expiry:      durationPtr(2 * time.Minute),
				MaxAttempts: intPtr(3),
			},
		},
		{
			ID:          MethodFIDO2,
			FactorClass: FactorPossession,
			Reliability: 0.95, Convenience: 0.85, Security: 0.95, Cost: 0.5,
			EnrollmentRequirements: []string{"webauthn_credential"},
			Challenge: ChallengeSpec{
				Kind:        KindFIDO2,
				Expiry:      durationPtr(2 * time.Minute),
				MaxAttempts: intPtr(3),
			},
		},
		{
			ID:          MethodBehavioral,
			FactorClass: FactorContextual,
			Reliability: 0.7, Convenience: 1.0, Security: 0.6, Cost: 0.2,
			EnrollmentRequirements: []string{"behavioral_baseline"},
			Challenge: ChallengeSpec{
				Kind: KindContinuous,
				// Continuous monitoring never expires by timeout
				Expiry:      nil,
				MaxAttempts: nil,
			},
		},
	})
	if err != nil {
		panic(err) // static data, unreachable
	}
	return c
}
