package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FIDO2Verifier drives a WebAuthn assertion ceremony. BeginAssertion returns
// the client-facing challenge options plus an opaque nonce that ties the
// later VerifyAssertion call back to the ceremony state.
type FIDO2Verifier interface {
	BeginAssertion(ctx context.Context, userID string) (options []byte, nonce string, err error)
	VerifyAssertion(ctx context.Context, userID, nonce string, assertion []byte) (bool, error)
}

// WebAuthnVerifier implements FIDO2Verifier with the go-webauthn library.
// Ceremony state lives in redis under the nonce so verification can land on
// any instance.
type WebAuthnVerifier struct {
	webAuthn  *webauthn.WebAuthn
	directory Directory
	redis     *redis.Client
	logger    *zap.Logger
}

// NewWebAuthnVerifier creates a WebAuthn-backed FIDO2 verifier
func NewWebAuthnVerifier(rpID, rpDisplayName string, rpOrigins []string, directory Directory, redisClient *redis.Client, logger *zap.Logger) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: rpDisplayName,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("init webauthn: %w", err)
	}
	return &WebAuthnVerifier{
		webAuthn:  wa,
		directory: directory,
		redis:     redisClient,
		logger:    logger.With(zap.String("component", "fido2_verifier")),
	}, nil
}

// webAuthnUser adapts an enrollment record to the webauthn.User interface
type webAuthnUser struct {
	id          string
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *webAuthnUser) WebAuthnName() string                       { return u.id }
func (u *webAuthnUser) WebAuthnDisplayName() string                { return u.id }
func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
func (u *webAuthnUser) WebAuthnIcon() string                       { return "" }

func (v *WebAuthnVerifier) loadUser(ctx context.Context, userID string) (*webAuthnUser, error) {
	e, err := v.directory.Get(ctx, userID, MethodFIDO2)
	if err != nil {
		return nil, err
	}
	var credentials []webauthn.Credential
	if err := json.Unmarshal(e.Secret, &credentials); err != nil {
		return nil, fmt.Errorf("decode webauthn credentials: %w", err)
	}
	return &webAuthnUser{id: userID, credentials: credentials}, nil
}

func ceremonyKey(nonce string) string { return fmt.Sprintf("authn:fido2:ceremony:%s", nonce) }

// BeginAssertion starts a login ceremony and stashes its session data
func (v *WebAuthnVerifier) BeginAssertion(ctx context.Context, userID string) ([]byte, string, error) {
	user, err := v.loadUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	assertion, sessionData, err := v.webAuthn.BeginLogin(user)
	if err != nil {
		return nil, "", fmt.Errorf("begin webauthn login: %w", err)
	}

	nonce := uuid.New().String()
	stateJSON, err := json.Marshal(sessionData)
	if err != nil {
		return nil, "", fmt.Errorf("encode ceremony state: %w", err)
	}
	if err := v.redis.Set(ctx, ceremonyKey(nonce), stateJSON, 5*time.Minute).Err(); err != nil {
		return nil, "", fmt.Errorf("store ceremony state: %w", err)
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", fmt.Errorf("encode assertion options: %w", err)
	}
	return options, nonce, nil
}

// VerifyAssertion completes the ceremony. The nonce is consumed either way
// so an assertion cannot be retried against stale state.
func (v *WebAuthnVerifier) VerifyAssertion(ctx context.Context, userID, nonce string, assertion []byte) (bool, error) {
	stateJSON, err := v.redis.GetDel(ctx, ceremonyKey(nonce)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load ceremony state: %w", err)
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal(stateJSON, &sessionData); err != nil {
		return false, fmt.Errorf("decode ceremony state: %w", err)
	}

	user, err := v.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertion))
	if err != nil {
		v.logger.Debug("Malformed webauthn assertion", zap.String("user_id", userID), zap.Error(err))
		return false, nil
	}

	credential, err := v.webAuthn.ValidateLogin(user, sessionData, parsed)
	if err != nil {
		v.logger.Debug("WebAuthn assertion rejected", zap.String("user_id", userID), zap.Error(err))
		return false, nil
	}
	if credential.Authenticator.CloneWarning {
		v.logger.Warn("WebAuthn authenticator clone warning", zap.String("user_id", userID))
		return false, nil
	}
	return true, nil
}

// StaticFIDO2Verifier is a test fake: an assertion succeeds when it equals
// the enrolled credential material byte for byte
type StaticFIDO2Verifier struct {
	directory Directory
	nonces    map[string]string
}

// NewStaticFIDO2Verifier creates the test verifier
func NewStaticFIDO2Verifier(directory Directory) *StaticFIDO2Verifier {
	return &StaticFIDO2Verifier{
		directory: directory,
		nonces:    make(map[string]string),
	}
}

// BeginAssertion issues a nonce bound to the user
func (v *StaticFIDO2Verifier) BeginAssertion(_ context.Context, userID string) ([]byte, string, error) {
	nonce := uuid.New().String()
	v.nonces[nonce] = userID
	return []byte(`{"challenge":"` + nonce + `"}`), nonce, nil
}

// VerifyAssertion accepts the enrolled credential bytes once per nonce
func (v *StaticFIDO2Verifier) VerifyAssertion(ctx context.Context, userID, nonce string, assertion []byte) (bool, error) {
	owner, ok := v.nonces[nonce]
	if !ok || owner != userID {
		return false, nil
	}
	delete(v.nonces, nonce)

	e, err := v.directory.Get(ctx, userID, MethodFIDO2)
	if err == ErrEnrollmentNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(e.Secret, assertion), nil
}
