// Package server coordinates graceful shutdown of the authentication service
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable is a background component with cleanup to run at exit.
// The profile updater and the session sweeper implement it.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// Config configures the shutdown coordinator
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

// GracefulShutdown drains the HTTP server and then stops registered
// components when a termination signal arrives
type GracefulShutdown struct {
	server  *http.Server
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	components []Shutdownable
}

// New creates the shutdown coordinator
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:  cfg.Server,
		logger:  cfg.Logger,
		timeout: cfg.ShutdownTimeout,
	}
}

// AddShutdownable registers a component to stop after the server drains
func (g *GracefulShutdown) AddShutdownable(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.components = append(g.components, s)
}

// Start blocks until SIGINT/SIGTERM/SIGQUIT arrives, then runs the
// shutdown sequence
func (g *GracefulShutdown) Start() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	g.shutdown()
}

func (g *GracefulShutdown) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	// Stop accepting requests before tearing anything else down; in-flight
	// verifications get to finish against live stores.
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			if err == context.DeadlineExceeded {
				g.logger.Warn("Server drain timed out, forcing close")
				g.server.Close()
			} else {
				g.logger.Error("Server shutdown error", zap.Error(err))
			}
		}
	}

	g.mu.Lock()
	components := make([]Shutdownable, len(g.components))
	copy(components, g.components)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(s Shutdownable) {
			defer wg.Done()
			componentCtx, componentCancel := context.WithTimeout(ctx, 10*time.Second)
			defer componentCancel()

			if err := s.Shutdown(componentCtx); err != nil {
				g.logger.Error("Component shutdown error",
					zap.String("component", s.Name()),
					zap.Error(err))
				return
			}
			g.logger.Info("Component stopped", zap.String("component", s.Name()))
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("Graceful shutdown complete")
	case <-ctx.Done():
		g.logger.Warn("Shutdown timed out waiting for components")
	}
}
