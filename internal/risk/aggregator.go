package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/common/config"
	"github.com/stepgate/stepgate/internal/metrics"
	"github.com/stepgate/stepgate/internal/profile"
)

// Level classifies a composite risk score into a tier
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// rank orders tiers for comparison
func (l Level) rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l is the same tier as other or a higher one
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// Contribution records one signal's part of a composite assessment
type Contribution struct {
	Signal   string  `json:"signal"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Degraded bool    `json:"degraded,omitempty"`
}

// Assessment is the frozen result of one composite risk evaluation
type Assessment struct {
	Score         float64        `json:"score"`
	Level         Level          `json:"level"`
	Contributions []Contribution `json:"contributions"`
	AssessedAt    time.Time      `json:"assessed_at"`
}

// Aggregator combines weighted signal providers into a single risk score.
// Assessment is a pure read: no provider mutates state and the same inputs
// produce the same score.
type Aggregator struct {
	signals    []Signal
	thresholds config.RiskConfig
	logger     *zap.Logger
}

// NewAggregator creates an aggregator over the given signals. The weights
// must sum to 1.0 within floating-point tolerance.
func NewAggregator(signals []Signal, cfg config.RiskConfig, logger *zap.Logger) (*Aggregator, error) {
	total := 0.0
	for _, s := range signals {
		if s.Weight < 0 {
			return nil, fmt.Errorf("signal %s has negative weight %f", s.Name, s.Weight)
		}
		total += s.Weight
	}
	if math.Abs(total-1.0) > 0.001 {
		return nil, fmt.Errorf("signal weights sum to %f, want 1.0", total)
	}

	return &Aggregator{
		signals:    signals,
		thresholds: cfg,
		logger:     logger.With(zap.String("component", "risk_aggregator")),
	}, nil
}

// DefaultSignals builds the standard signal set from configuration
func DefaultSignals(cfg config.RiskConfig, profiles profile.Store, logger *zap.Logger) []Signal {
	return []Signal{
		{Name: "device", Weight: cfg.DeviceWeight, Provider: NewDeviceSignal(profiles, logger)},
		{Name: "location", Weight: cfg.LocationWeight, Provider: NewLocationSignal(profiles, logger)},
		{Name: "behavioral", Weight: cfg.BehavioralWeight, Provider: NewBehavioralSignal(profiles, logger)},
		{Name: "network", Weight: cfg.NetworkWeight, Provider: NewNetworkSignal(cfg.DenylistedIPs, logger)},
		{Name: "velocity", Weight: cfg.VelocityWeight, Provider: NewVelocitySignal(profiles, logger)},
	}
}

// Assess evaluates every signal and returns the weighted composite. A signal
// that errors or panics contributes the neutral score at its own weight, so
// one broken provider shifts the composite toward the middle instead of
// blocking or waving through the login.
func (a *Aggregator) Assess(ctx context.Context, sc *SignalContext) *Assessment {
	if sc.Timestamp.IsZero() {
		sc.Timestamp = time.Now().UTC()
	}

	contributions := make([]Contribution, 0, len(a.signals))
	var weightedSum, totalWeight float64

	for _, signal := range a.signals {
		score, err := a.assessOne(ctx, signal, sc)
		degraded := err != nil
		if degraded {
			a.logger.Warn("Signal provider failed, substituting neutral score",
				zap.String("signal", signal.Name),
				zap.String("user_id", sc.UserID),
				zap.Error(err),
			)
			metrics.SignalFailuresTotal.WithLabelValues(signal.Name).Inc()
			score = neutralScore
		}

		score = clamp01(score)
		contributions = append(contributions, Contribution{
			Signal:   signal.Name,
			Score:    score,
			Weight:   signal.Weight,
			Degraded: degraded,
		})
		weightedSum += score * signal.Weight
		totalWeight += signal.Weight
	}

	composite := 0.0
	if totalWeight > 0 {
		composite = clamp01(weightedSum / totalWeight)
	}

	level := a.Classify(composite)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(level)).Inc()

	a.logger.Debug("Risk assessment completed",
		zap.String("user_id", sc.UserID),
		zap.Float64("score", composite),
		zap.String("level", string(level)),
	)

	return &Assessment{
		Score:         composite,
		Level:         level,
		Contributions: contributions,
		AssessedAt:    sc.Timestamp,
	}
}

// assessOne runs a single provider, converting a panic into an error
func (a *Aggregator) assessOne(ctx context.Context, signal Signal, sc *SignalContext) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal %s panicked: %v", signal.Name, r)
		}
	}()
	return signal.Provider.Assess(ctx, sc)
}

// Classify maps a composite score onto a tier using the configured thresholds
func (a *Aggregator) Classify(score float64) Level {
	switch {
	case score >= a.thresholds.CriticalThreshold:
		return LevelCritical
	case score >= a.thresholds.HighThreshold:
		return LevelHigh
	case score >= a.thresholds.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
