// Package risk provides risk signal providers and composite risk assessment
// for authentication attempts
package risk

import (
	"context"
	"math"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/profile"
)

// SignalContext carries the request context signal providers score against
type SignalContext struct {
	UserID            string    `json:"user_id"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	BehavioralSample  []byte    `json:"-"`
	Timestamp         time.Time `json:"timestamp"`
}

// SignalProvider contributes one weighted risk dimension. Assess returns a
// score in [0,1] where 0 is no risk. A provider error never blocks login:
// the aggregator substitutes a neutral contribution.
type SignalProvider interface {
	Assess(ctx context.Context, sc *SignalContext) (float64, error)
}

// Signal pairs a named provider with its weight fraction. Weights across
// all registered signals sum to 1.0.
type Signal struct {
	Name     string
	Weight   float64
	Provider SignalProvider
}

// neutralScore is the substituted contribution for an unavailable signal
const neutralScore = 0.5

// maxTravelSpeedKmH is the fastest plausible travel between two logins
const maxTravelSpeedKmH = 900.0

// haversineDistance returns the great-circle distance between two points in km
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DeviceSignal scores device familiarity against the stored device profile
type DeviceSignal struct {
	profiles profile.Store
	logger   *zap.Logger
}

// NewDeviceSignal creates a device familiarity signal
func NewDeviceSignal(profiles profile.Store, logger *zap.Logger) *DeviceSignal {
	return &DeviceSignal{
		profiles: profiles,
		logger:   logger.With(zap.String("signal", "device")),
	}
}

// Assess returns 0 for trusted devices and rises with unfamiliarity
func (s *DeviceSignal) Assess(ctx context.Context, sc *SignalContext) (float64, error) {
	if sc.DeviceFingerprint == "" {
		return 0.5, nil // no fingerprint supplied
	}

	p, err := s.profiles.GetDevice(ctx, sc.UserID)
	if err == profile.ErrNotFound {
		// First device ever seen for this user
		return 0.15, nil
	}
	if err != nil {
		return 0, err
	}

	dev, ok := p.Devices[sc.DeviceFingerprint]
	if !ok {
		// New device for a user with an established device history
		return 0.4, nil
	}
	if dev.Trusted {
		return 0.0, nil
	}
	// Known but not explicitly trusted
	return 0.1, nil
}

// LocationSignal scores geographic distance from the user's known locations
type LocationSignal struct {
	profiles profile.Store
	logger   *zap.Logger
}

// NewLocationSignal creates a geolocation signal
func NewLocationSignal(profiles profile.Store, logger *zap.Logger) *LocationSignal {
	return &LocationSignal{
		profiles: profiles,
		logger:   logger.With(zap.String("signal", "location")),
	}
}

// Assess returns 0 near known locations, rising with distance
func (s *LocationSignal) Assess(ctx context.Context, sc *SignalContext) (float64, error) {
	if sc.Latitude == 0 && sc.Longitude == 0 {
		return 0.1, nil // no location data
	}

	p, err := s.profiles.GetBehavioral(ctx, sc.UserID)
	if err == profile.ErrNotFound || (err == nil && len(p.KnownLocations) == 0) {
		// First login carrying a location
		return 0.15, nil
	}
	if err != nil {
		return 0, err
	}

	minDistance := math.MaxFloat64
	for _, known := range p.KnownLocations {
		distance := haversineDistance(known.Latitude, known.Longitude, sc.Latitude, sc.Longitude)
		if distance < minDistance {
			minDistance = distance
		}
	}

	switch {
	case minDistance < 50:
		return 0.0, nil
	case minDistance < 200:
		return 0.1, nil
	case minDistance < 1000:
		return 0.25, nil
	case minDistance < 5000:
		return 0.5, nil
	default:
		return 0.75, nil
	}
}

// NetworkSignal scores IP reputation heuristics
type NetworkSignal struct {
	blockedIPs map[string]bool
	logger     *zap.Logger
}

// NewNetworkSignal creates a network reputation signal. blockedIPs is a
// static denylist loaded at startup.
func NewNetworkSignal(blockedIPs []string, logger *zap.Logger) *NetworkSignal {
	blocked := make(map[string]bool, len(blockedIPs))
	for _, ip := range blockedIPs {
		blocked[ip] = true
	}
	return &NetworkSignal{
		blockedIPs: blocked,
		logger:     logger.With(zap.String("signal", "network")),
	}
}

// Assess returns 0 for private/loopback addresses and 1 for denylisted IPs
func (s *NetworkSignal) Assess(_ context.Context, sc *SignalContext) (float64, error) {
	if s.blockedIPs[sc.IPAddress] {
		return 1.0, nil
	}

	parsedIP := net.ParseIP(sc.IPAddress)
	if parsedIP == nil {
		return 0.5, nil // unknown IP, moderate risk
	}

	if parsedIP.IsLoopback() || parsedIP.IsPrivate() || parsedIP.IsLinkLocalUnicast() {
		return 0.0, nil
	}

	// Public address with no adverse intelligence
	return 0.1, nil
}

// VelocitySignal scores login frequency against the behavioral baseline
type VelocitySignal struct {
	profiles profile.Store
	logger   *zap.Logger
}

// NewVelocitySignal creates a login velocity signal
func NewVelocitySignal(profiles profile.Store, logger *zap.Logger) *VelocitySignal {
	return &VelocitySignal{
		profiles: profiles,
		logger:   logger.With(zap.String("signal", "velocity")),
	}
}

// Assess rises with rapid successive logins
func (s *VelocitySignal) Assess(ctx context.Context, sc *SignalContext) (float64, error) {
	p, err := s.profiles.GetBehavioral(ctx, sc.UserID)
	if err == profile.ErrNotFound {
		return 0.0, nil
	}
	if err != nil {
		return 0, err
	}

	var last5Minutes, lastHour int
	for _, t := range p.LoginTimes {
		age := sc.Timestamp.Sub(t)
		if age < 0 {
			continue
		}
		if age <= 5*time.Minute {
			last5Minutes++
		}
		if age <= time.Hour {
			lastHour++
		}
	}

	score := 0.0
	if last5Minutes > 5 {
		score += float64(last5Minutes-5) * 0.1
	}
	if lastHour > 10 {
		score += float64(lastHour-10) * 0.05
	}

	return math.Min(1.0, score), nil
}

// BehavioralSignal scores login-time patterns and impossible travel
type BehavioralSignal struct {
	profiles profile.Store
	logger   *zap.Logger
}

// NewBehavioralSignal creates a behavioral pattern signal
func NewBehavioralSignal(profiles profile.Store, logger *zap.Logger) *BehavioralSignal {
	return &BehavioralSignal{
		profiles: profiles,
		logger:   logger.With(zap.String("signal", "behavioral")),
	}
}

// Assess combines abnormal-hour and impossible-travel checks
func (s *BehavioralSignal) Assess(ctx context.Context, sc *SignalContext) (float64, error) {
	p, err := s.profiles.GetBehavioral(ctx, sc.UserID)
	if err == profile.ErrNotFound {
		return 0.1, nil // no baseline yet, slightly elevated
	}
	if err != nil {
		return 0, err
	}

	score := 0.0

	// Login hour outside the observed pattern
	hour := sc.Timestamp.UTC().Hour()
	if len(p.TypicalHours) > 0 && !nearTypicalHour(p.TypicalHours, hour) {
		score += 0.25
	}

	// Impossible travel against the most recent known location
	if (sc.Latitude != 0 || sc.Longitude != 0) && len(p.KnownLocations) > 0 {
		last := p.KnownLocations[len(p.KnownLocations)-1]
		distance := haversineDistance(last.Latitude, last.Longitude, sc.Latitude, sc.Longitude)
		elapsed := sc.Timestamp.Sub(last.SeenAt)

		minTravelTime := time.Duration(distance / maxTravelSpeedKmH * float64(time.Hour))
		if elapsed >= 0 && elapsed < minTravelTime && distance > 100 {
			s.logger.Warn("Impossible travel detected",
				zap.String("user_id", sc.UserID),
				zap.Float64("distance_km", distance),
				zap.Duration("elapsed", elapsed),
				zap.Duration("min_travel_time", minTravelTime),
			)
			score += 0.75
		}
	}

	return math.Min(1.0, score), nil
}

// nearTypicalHour allows one hour of slack on either side of observed hours
func nearTypicalHour(hours []int, hour int) bool {
	for _, h := range hours {
		diff := h - hour
		if diff < 0 {
			diff = -diff
		}
		if diff <= 1 || diff >= 23 {
			return true
		}
	}
	return false
}
