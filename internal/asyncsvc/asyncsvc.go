// Package asyncsvc provides idempotent start/stop scaffolding for one
// long-lived background goroutine. internal/cliserver.Server runs its
// accept loop through it; the trash janitor, the lifecycle sweeper and the
// sync controller run their own Run(ctx) loops and do not use it.
package asyncsvc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// RunLoop is the body a Service runs on its own goroutine. It must return
// when ctx is cancelled.
type RunLoop func(ctx context.Context)

// Service is an idempotent start/stop wrapper around a single background
// goroutine, grounded on the reference daemon's AsyncService base: start()
// and stop() are no-ops when called out of turn, and stop() blocks until
// the worker goroutine has actually exited.
type Service struct {
	name    string
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a named, stopped Service.
func New(name string) *Service {
	return &Service{name: name}
}

// IsRunning reports whether the service's goroutine is active.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Start launches loop on its own goroutine, derived from parent. Calling
// Start on an already-running Service is a no-op.
func (s *Service) Start(parent context.Context, loop RunLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	done := s.done
	go func() {
		defer close(done)
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				log.Error("service panicked", "service", s.name, "recover", r)
			}
		}()
		loop(ctx)
	}()

	log.Info("service started", "service", s.name)
}

// Stop signals the worker goroutine to exit and blocks until it has. Must
// not be called from loop's own goroutine, which would deadlock waiting on
// itself. Safe to call repeatedly and safe to call on a Service that was
// never started.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	log.Info("stopping service", "service", s.name)
	cancel()
	if done != nil {
		<-done
	}
	log.Info("service stopped", "service", s.name)
}

// Restart stops then starts the service with a fresh loop invocation.
func (s *Service) Restart(parent context.Context, loop RunLoop) {
	s.Stop()
	s.Start(parent, loop)
}
