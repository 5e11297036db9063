package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/common/config"
)

// CodeTransport delivers a one-time code out of band. Delivery is
// fire-and-forget from the orchestrator's point of view: a send failure is
// logged but the challenge stays answerable in case the code arrives late.
type CodeTransport interface {
	Send(ctx context.Context, destination, code string) error
}

// PushDecision is the state of an approval prompt. Pending is not a failed
// attempt; the caller is expected to poll until the user responds or the
// challenge expires.
type PushDecision string

const (
	PushPending  PushDecision = "pending"
	PushApproved PushDecision = "approved"
	PushDenied   PushDecision = "denied"
)

// PushTransport delivers an approval prompt to an enrolled device and
// reports whether the user approved it
type PushTransport interface {
	Send(ctx context.Context, deviceToken, contextInfo string) (approvalToken string, err error)
	CheckApproval(ctx context.Context, approvalToken string) (PushDecision, error)
}

// MaskDestination hides most of a phone number or email address in logs
func MaskDestination(destination string) string {
	if at := strings.Index(destination, "@"); at > 0 {
		local := destination[:at]
		if len(local) <= 2 {
			return "**" + destination[at:]
		}
		return local[:2] + "***" + destination[at:]
	}
	if len(destination) > 4 {
		return "****" + destination[len(destination)-4:]
	}
	return "****"
}

// SMTPTransport sends codes by email
type SMTPTransport struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// NewSMTPTransport creates an SMTP code transport
func NewSMTPTransport(cfg config.SMTPConfig, logger *zap.Logger) *SMTPTransport {
	return &SMTPTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "smtp")),
	}
}

// Send delivers the code to an email address
func (t *SMTPTransport) Send(_ context.Context, destination, code string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\nYour verification code is: %s\r\nIt expires shortly. If you did not request it, ignore this message.\r\n",
		t.cfg.From, destination, code)

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, t.cfg.From, []string{destination}, []byte(message)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", MaskDestination(destination), err)
	}

	t.logger.Info("Verification code sent",
		zap.String("destination", MaskDestination(destination)),
	)
	return nil
}

// TwilioTransport sends codes by SMS through the Twilio REST API
type TwilioTransport struct {
	cfg        config.TwilioConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTwilioTransport creates a Twilio SMS code transport
func NewTwilioTransport(cfg config.TwilioConfig, logger *zap.Logger) *TwilioTransport {
	return &TwilioTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(zap.String("transport", "twilio")),
	}
}

// Send delivers the code to a phone number
func (t *TwilioTransport) Send(ctx context.Context, destination, code string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", t.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Body", fmt.Sprintf("Your verification code is: %s", code))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send to %s: %w", MaskDestination(destination), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("twilio send to %s: status %d", MaskDestination(destination), resp.StatusCode)
	}

	t.logger.Info("Verification code sent",
		zap.String("destination", MaskDestination(destination)),
	)
	return nil
}

// LogTransport writes codes to the log instead of delivering them. Only for
// development environments.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a log-only code transport
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger.With(zap.String("transport", "log"))}
}

// Send logs the code
func (t *LogTransport) Send(_ context.Context, destination, code string) error {
	t.logger.Info("Verification code (log transport)",
		zap.String("destination", MaskDestination(destination)),
		zap.String("code", code),
	)
	return nil
}

// MockTransport records sent codes for tests
type MockTransport struct {
	mu   sync.Mutex
	Sent []SentCode
	Err  error
}

// SentCode is one recorded delivery
type SentCode struct {
	Destination string
	Code        string
}

// Send records the delivery
func (t *MockTransport) Send(_ context.Context, destination, code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.Sent = append(t.Sent, SentCode{Destination: destination, Code: code})
	return nil
}

// LastCode returns the most recently sent code, or ""
func (t *MockTransport) LastCode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Sent) == 0 {
		return ""
	}
	return t.Sent[len(t.Sent)-1].Code
}

// HTTPPushTransport talks to the mobile push gateway over its REST API.
// Send creates a prompt; CheckApproval polls its state.
type HTTPPushTransport struct {
	cfg        config.PushConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPushTransport creates a gateway-backed push transport
func NewHTTPPushTransport(cfg config.PushConfig, logger *zap.Logger) *HTTPPushTransport {
	return &HTTPPushTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(zap.String("transport", "push_gateway")),
	}
}

// Send creates an approval prompt on the gateway
func (t *HTTPPushTransport) Send(ctx context.Context, deviceToken, contextInfo string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"device_token": deviceToken,
		"message":      contextInfo,
	})
	if err != nil {
		return "", fmt.Errorf("encode push prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(t.cfg.GatewayURL, "/")+"/v1/prompts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("push gateway send: status %d", resp.StatusCode)
	}

	var created struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode push gateway response: %w", err)
	}
	if created.PromptID == "" {
		return "", fmt.Errorf("push gateway returned no prompt id")
	}

	t.logger.Info("Push prompt created", zap.String("prompt_id", created.PromptID))
	return created.PromptID, nil
}

// CheckApproval polls the prompt state. Gateway errors fail closed.
func (t *HTTPPushTransport) CheckApproval(ctx context.Context, approvalToken string) (PushDecision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(t.cfg.GatewayURL, "/")+"/v1/prompts/"+url.PathEscape(approvalToken), nil)
	if err != nil {
		return PushDenied, fmt.Errorf("build push status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return PushDenied, fmt.Errorf("push gateway status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return PushDenied, fmt.Errorf("push gateway status: status %d", resp.StatusCode)
	}

	var state struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return PushDenied, fmt.Errorf("decode push gateway status: %w", err)
	}

	switch state.Status {
	case "approved":
		return PushApproved, nil
	case "pending":
		return PushPending, nil
	default:
		return PushDenied, nil
	}
}

// DisabledPushTransport rejects every prompt. It is the default when no
// gateway is configured, so the push factor fails closed instead of
// silently approving.
type DisabledPushTransport struct{}

// Send refuses to issue a prompt
func (DisabledPushTransport) Send(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("push gateway not configured")
}

// CheckApproval denies everything
func (DisabledPushTransport) CheckApproval(context.Context, string) (PushDecision, error) {
	return PushDenied, fmt.Errorf("push gateway not configured")
}

// MockPushTransport is a PushTransport for tests with a scriptable outcome
type MockPushTransport struct {
	mu      sync.Mutex
	prompts map[string]PushDecision
	// Decision is assigned to newly sent prompts
	Decision PushDecision
}

// NewMockPushTransport creates the test push transport; approve selects
// whether prompts resolve approved or denied
func NewMockPushTransport(approve bool) *MockPushTransport {
	decision := PushDenied
	if approve {
		decision = PushApproved
	}
	return &MockPushTransport{
		prompts:  make(map[string]PushDecision),
		Decision: decision,
	}
}

// Send issues an approval token for the prompt
func (t *MockPushTransport) Send(_ context.Context, _, _ string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := uuid.New().String()
	t.prompts[token] = t.Decision
	return token, nil
}

// CheckApproval reports the scripted outcome for the token
func (t *MockPushTransport) CheckApproval(_ context.Context, approvalToken string) (PushDecision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	decision, ok := t.prompts[approvalToken]
	if !ok {
		return PushDenied, fmt.Errorf("unknown approval token")
	}
	return decision, nil
}

// Resolve flips every outstanding prompt to the given decision
func (t *MockPushTransport) Resolve(decision PushDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for token := range t.prompts {
		t.prompts[token] = decision
	}
}
