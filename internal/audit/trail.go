// Package audit provides a tamper-evident trail of authentication decisions
// with HMAC-SHA256 chain linking
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action constants for decision records
const (
	ActionStart    = "authn.start"
	ActionComplete = "authn.complete"
	ActionFail     = "authn.fail"
	ActionCancel   = "authn.cancel"
)

// Outcome of a recorded decision
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DecisionRecord is one entry in the trail. Each record carries the HMAC of
// the previous record, so removing or altering any entry breaks the chain.
type DecisionRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Outcome      Outcome   `json:"outcome"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	RiskScore    float64   `json:"risk_score"`
	RiskLevel    string    `json:"risk_level"`
	PolicyName   string    `json:"policy_name"`
	Methods      []string  `json:"methods,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// ComputeHash calculates the HMAC-SHA256 over the record's canonical form
func (r *DecisionRecord) ComputeHash(secret []byte) string {
	canonical := strings.Join([]string{
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Action,
		string(r.Outcome),
		r.SessionID,
		r.UserID,
		fmt.Sprintf("%.6f", r.RiskScore),
		r.RiskLevel,
		r.PolicyName,
		strings.Join(r.Methods, ","),
		r.Reason,
		r.PreviousHash,
	}, "|")

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Recorder accepts decision records. Implementations must not block the
// caller on I/O errors; authentication proceeds even if the trail is down.
type Recorder interface {
	Record(rec DecisionRecord) error
}

// Trail is a file-backed append-only recorder. Records are JSON lines; the
// last hash is kept in memory and recovered from the file on open.
type Trail struct {
	mu       sync.Mutex
	filePath string
	secret   []byte
	lastHash string
}

// NewTrail opens or creates the trail file and recovers the chain head
func NewTrail(filePath string, secret []byte) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trail directory: %w", err)
	}

	t := &Trail{filePath: filePath, secret: secret}

	records, err := t.ReadAll()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(records) > 0 {
		t.lastHash = records[len(records)-1].Hash
	}
	return t, nil
}

// Record chains and appends one decision
func (t *Trail) Record(rec DecisionRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.PreviousHash = t.lastHash
	rec.Hash = rec.ComputeHash(t.secret)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	f, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trail: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	t.lastHash = rec.Hash
	return nil
}

// ReadAll returns every record in the trail in order
func (t *Trail) ReadAll() ([]DecisionRecord, error) {
	data, err := os.ReadFile(t.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read trail: %w", err)
	}

	var records []DecisionRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec DecisionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("corrupt trail entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// VerifyChain walks the trail and checks every hash and back-link.
// It returns the index of the first bad record, or -1 when intact.
func (t *Trail) VerifyChain() (int, error) {
	records, err := t.ReadAll()
	if err != nil {
		return 0, err
	}

	prev := ""
	for i := range records {
		rec := records[i]
		if rec.PreviousHash != prev {
			return i, fmt.Errorf("record %d: broken chain link", i)
		}
		stored := rec.Hash
		if !hmac.Equal([]byte(stored), []byte(rec.ComputeHash(t.secret))) {
			return i, fmt.Errorf("record %d: hash mismatch", i)
		}
		prev = stored
	}
	return -1, nil
}

// Discard is a Recorder that drops everything, for deployments that
// disable the trail
type Discard struct{}

func (Discard) Record(DecisionRecord) error { return nil }
