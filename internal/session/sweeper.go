package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is implemented by stores that need periodic expiry marking.
// The redis store relies on key TTLs instead and does not implement it.
type Sweepable interface {
	SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Sweeper periodically marks long-idle in_progress sessions expired so the
// store's memory stays bounded. Expiry is still checked lazily at verify
// time; the sweeper only reclaims abandoned sessions.
type Sweeper struct {
	store     Sweepable
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a sweeper; call Start to run it
func NewSweeper(store Sweepable, interval, retention time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger.With(zap.String("component", "session_sweeper")),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := s.store.SweepExpired(ctx, time.Now(), s.retention)
				if err != nil {
					s.logger.Error("Session sweep failed", zap.Error(err))
					continue
				}
				if swept > 0 {
					s.logger.Debug("Swept expired sessions", zap.Int("count", swept))
				}
			}
		}
	}()
}

// Name implements server.Shutdownable
func (s *Sweeper) Name() string {
	return "session_sweeper"
}

// Shutdown stops the sweep loop
func (s *Sweeper) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
