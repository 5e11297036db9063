package profile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/metrics"
)

const (
	// Bounds on behavioral history kept per user
	maxKnownLocations = 20
	maxLoginTimes     = 50

	updateQueueSize = 256
	updateTimeout   = 5 * time.Second
)

// Sample carries the context of a successful authentication into the
// background profile update pipeline
type Sample struct {
	UserID            string
	DeviceFingerprint string
	UserAgent         string
	Latitude          float64
	Longitude         float64
	Timestamp         time.Time
}

// Updater applies profile updates asynchronously. Enqueue never blocks the
// caller and failures never affect an already-returned authentication result.
type Updater struct {
	store   Store
	logger  *zap.Logger
	queue   chan Sample
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewUpdater creates a profile updater with the given worker count
func NewUpdater(store Store, workers int, logger *zap.Logger) *Updater {
	if workers < 1 {
		workers = 1
	}

	u := &Updater{
		store:  store,
		logger: logger.With(zap.String("component", "profile_updater")),
		queue:  make(chan Sample, updateQueueSize),
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel

	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker(ctx)
	}
	u.started = true

	return u
}

// Enqueue submits a sample for background processing. When the queue is
// full the sample is dropped with a warning; profiles are advisory and
// a dropped sample only delays baseline convergence.
func (u *Updater) Enqueue(sample Sample) {
	select {
	case u.queue <- sample:
	default:
		u.logger.Warn("Profile update queue full, dropping sample",
			zap.String("user_id", sample.UserID),
		)
		metrics.ProfileUpdatesTotal.WithLabelValues("all", "dropped").Inc()
	}
}

// Name implements server.Shutdownable
func (u *Updater) Name() string {
	return "profile_updater"
}

// Shutdown drains in-flight updates and stops the workers
func (u *Updater) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		close(u.queue)
		u.started = false
	}
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		u.cancel()
		return ctx.Err()
	}
	u.cancel()
	return nil
}

func (u *Updater) worker(ctx context.Context) {
	defer u.wg.Done()

	for sample := range u.queue {
		updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
		u.apply(updateCtx, sample)
		cancel()
	}
}

// apply updates the device and behavioral baselines for one sample. Each
// update is idempotent: replaying a sample converges to the same state.
func (u *Updater) apply(ctx context.Context, sample Sample) {
	if err := u.updateDevice(ctx, sample); err != nil {
		u.logger.Error("Device profile update failed",
			zap.String("user_id", sample.UserID),
			zap.Error(err),
		)
		metrics.ProfileUpdatesTotal.WithLabelValues(string(TypeDevice), "error").Inc()
	} else {
		metrics.ProfileUpdatesTotal.WithLabelValues(string(TypeDevice), "ok").Inc()
	}

	if err := u.updateBehavioral(ctx, sample); err != nil {
		u.logger.Error("Behavioral profile update failed",
			zap.String("user_id", sample.UserID),
			zap.Error(err),
		)
		metrics.ProfileUpdatesTotal.WithLabelValues(string(TypeBehavioral), "error").Inc()
	} else {
		metrics.ProfileUpdatesTotal.WithLabelValues(string(TypeBehavioral), "ok").Inc()
	}
}

func (u *Updater) updateDevice(ctx context.Context, sample Sample) error {
	if sample.DeviceFingerprint == "" {
		return nil
	}

	p, err := u.store.GetDevice(ctx, sample.UserID)
	if err == ErrNotFound {
		p = &DeviceProfile{
			UserID:  sample.UserID,
			Devices: make(map[string]*Device),
		}
	} else if err != nil {
		return err
	}
	if p.SampledAt.After(sample.Timestamp) {
		// A newer sample already landed
		return nil
	}

	dev, ok := p.Devices[sample.DeviceFingerprint]
	if !ok {
		dev = &Device{
			Fingerprint: sample.DeviceFingerprint,
			FirstSeen:   sample.Timestamp,
		}
		p.Devices[sample.DeviceFingerprint] = dev
	}
	dev.UserAgent = sample.UserAgent
	if sample.Timestamp.After(dev.LastSeen) {
		dev.LastSeen = sample.Timestamp
		dev.LoginCount++
	}

	p.SampledAt = sample.Timestamp
	return u.store.PutDevice(ctx, p)
}

func (u *Updater) updateBehavioral(ctx context.Context, sample Sample) error {
	p, err := u.store.GetBehavioral(ctx, sample.UserID)
	if err == ErrNotFound {
		p = &BehavioralProfile{UserID: sample.UserID}
	} else if err != nil {
		return err
	}
	if p.SampledAt.After(sample.Timestamp) {
		return nil
	}

	hour := sample.Timestamp.UTC().Hour()
	if !containsInt(p.TypicalHours, hour) {
		p.TypicalHours = append(p.TypicalHours, hour)
	}

	if sample.Latitude != 0 || sample.Longitude != 0 {
		p.KnownLocations = append(p.KnownLocations, GeoPoint{
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			SeenAt:    sample.Timestamp,
		})
		if len(p.KnownLocations) > maxKnownLocations {
			p.KnownLocations = p.KnownLocations[len(p.KnownLocations)-maxKnownLocations:]
		}
	}

	p.LoginTimes = append(p.LoginTimes, sample.Timestamp)
	if len(p.LoginTimes) > maxLoginTimes {
		p.LoginTimes = p.LoginTimes[len(p.LoginTimes)-maxLoginTimes:]
	}

	p.SampledAt = sample.Timestamp
	return u.store.PutBehavioral(ctx, p)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
