// Package server provides graceful shutdown for TrustSignal services
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable is a component that participates in graceful shutdown.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc adapts a plain function to Shutdownable.
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc wraps fn as a named Shutdownable.
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

func (s *ShutdownFunc) Name() string                      { return s.name }
func (s *ShutdownFunc) Shutdown(ctx context.Context) error { return s.fn(ctx) }

// Config holds the graceful server configuration.
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	Shutdownables   []Shutdownable
	ShutdownTimeout time.Duration
}

// GracefulShutdown drains the HTTP server and closes its dependencies in
// order when a termination signal arrives. The server stops accepting new
// requests first so in-flight scoring calls can finish inside the timeout.
type GracefulShutdown struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownables   []Shutdownable
	shutdownTimeout time.Duration
	signalChan      chan os.Signal
}

// New creates a GracefulShutdown manager.
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &GracefulShutdown{
		server:          cfg.Server,
		logger:          cfg.Logger,
		shutdownables:   cfg.Shutdownables,
		shutdownTimeout: cfg.ShutdownTimeout,
		signalChan:      make(chan os.Signal, 1),
	}
}

// ListenAndServe starts the HTTP server, then blocks until a termination
// signal triggers the shutdown sequence.
func (g *GracefulShutdown) ListenAndServe() error {
	go func() {
		g.logger.Info("Server listening", zap.String("addr", g.server.Addr))
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Server error", zap.Error(err))
		}
	}()

	g.Start()
	return nil
}

// Start blocks until SIGINT, SIGTERM or SIGQUIT, then runs the shutdown
// sequence.
func (g *GracefulShutdown) Start() {
	signal.Notify(g.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-g.signalChan
	g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	g.shutdown()
}

// Shutdown triggers the shutdown sequence without an external signal.
func (g *GracefulShutdown) Shutdown() {
	select {
	case g.signalChan <- syscall.SIGTERM:
	default:
	}
}

func (g *GracefulShutdown) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				g.logger.Warn("Server drain timed out, forcing close")
				g.server.Close()
			} else {
				g.logger.Error("Server shutdown failed", zap.Error(err))
			}
		}
	}

	var wg sync.WaitGroup
	for _, component := range g.shutdownables {
		wg.Add(1)
		go func(s Shutdownable) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				g.logger.Error("Component shutdown failed",
					zap.String("component", s.Name()),
					zap.Error(err))
				return
			}
			g.logger.Info("Component shut down", zap.String("component", s.Name()))
		}(component)
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

// CloseDB wraps a database close method as a Shutdownable.
func CloseDB(db interface{ Close() error }) Shutdownable {
	return NewShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
}

// CloseRedis wraps a Redis client close method as a Shutdownable.
func CloseRedis(redis interface{ Close() error }) Shutdownable {
	return NewShutdownFunc("redis", func(context.Context) error {
		return redis.Close()
	})
}
