package mfa

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier checks the knowledge baseline factor
type PasswordVerifier interface {
	Verify(ctx context.Context, userID, password string) (bool, error)
}

// BcryptVerifier verifies passwords against the bcrypt hash stored in the
// user's password enrollment
type BcryptVerifier struct {
	directory Directory
}

// NewBcryptVerifier creates a bcrypt password verifier
func NewBcryptVerifier(directory Directory) *BcryptVerifier {
	return &BcryptVerifier{directory: directory}
}

// Verify compares password with the enrolled hash. A missing enrollment or
// a mismatch both report false without distinguishing the two to the caller.
func (v *BcryptVerifier) Verify(ctx context.Context, userID, password string) (bool, error) {
	e, err := v.directory.Get(ctx, userID, MethodPassword)
	if err == ErrEnrollmentNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword(e.Secret, []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

// HashPassword produces a bcrypt hash for enrollment
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
