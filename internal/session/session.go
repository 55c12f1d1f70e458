// Package session tracks the long-running services started by tasks.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ShutdownGrace bounds how long services get to stop once the session ends.
const ShutdownGrace = 5 * time.Second

// Service is anything a task leaves running.
type Service interface {
	Shutdown(ctx context.Context) error
}

// Reloader is a service that can reload connected browsers.
type Reloader interface {
	Reload(hash string)
	LiveReload() bool
}

type entry struct {
	name string
	svc  Service
}

// Session is shared by all tasks of one CLI invocation.
type Session struct {
	mu         sync.Mutex
	services   []entry
	enableSync bool
	logger     *slog.Logger
}

// New creates a session. enableSync marks it interactive even without a live-reload server.
func New(enableSync bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{enableSync: enableSync, logger: logger}
}

// Add registers a started service. Services stop in reverse order.
func (s *Session) Add(name string, svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, entry{name: name, svc: svc})
	s.logger.Debug("service started", "service", name)
}

// Has reports whether a service with the name is running.
func (s *Session) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.services {
		if e.name == name {
			return true
		}
	}
	return false
}

// Active reports whether anything is left running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.services) > 0
}

// Interactive reports whether live reload is active or sync is enabled.
// Lint failures do not stop the build in interactive sessions.
func (s *Session) Interactive() bool {
	if s.enableSync {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.services {
		if r, ok := e.svc.(Reloader); ok && r.LiveReload() {
			return true
		}
	}
	return false
}

// Reload forwards to every service that reloads browsers.
func (s *Session) Reload(hash string) {
	s.mu.Lock()
	services := append([]entry(nil), s.services...)
	s.mu.Unlock()
	for _, e := range services {
		if r, ok := e.svc.(Reloader); ok {
			r.Reload(hash)
		}
	}
}

// Wait blocks until ctx is done, then shuts every service down.
// It returns immediately when nothing is running.
func (s *Session) Wait(ctx context.Context) error {
	if !s.Active() {
		return nil
	}
	<-ctx.Done()
	s.logger.Info("Shutting down services...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops all services, newest first, and collects their errors.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	services := s.services
	s.services = nil
	s.mu.Unlock()

	var result *multierror.Error
	for i := len(services) - 1; i >= 0; i-- {
		e := services[i]
		if err := e.svc.Shutdown(ctx); err != nil {
			s.logger.Warn("service shutdown error", "service", e.name, "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
