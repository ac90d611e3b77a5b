// Package status holds the dev server's aggregated build and app state.
package status

import (
	"context"
	"sync"
)

// CompilationStatus is the overall build state.
type CompilationStatus string

const (
	Building             CompilationStatus = "building"
	Ready                CompilationStatus = "ready"
	CompiledWithWarnings CompilationStatus = "compiled-with-warnings"
	Error                CompilationStatus = "error"
)

// Status is the process-wide record served at the status endpoint and pushed
// to the runtime agent. Diagnostics are rendered strings.
type Status struct {
	AppServerPort     int               `json:"appServerPort"`
	AppServerLive     bool              `json:"appServerLive"`
	DevServerPort     int               `json:"devServerPort"`
	DevServerActive   bool              `json:"devServerActive"`
	FrontendCompiled  bool              `json:"frontendCompiled"`
	BackendCompiled   bool              `json:"backendCompiled"`
	CompilationStatus CompilationStatus `json:"compilationStatus"`
	FrontendErrors    []string          `json:"frontendErrors"`
	FrontendWarnings  []string          `json:"frontendWarnings"`
	BackendErrors     []string          `json:"backendErrors"`
	BackendWarnings   []string          `json:"backendWarnings"`
	HasErrors         bool              `json:"hasErrors"`
	HasWarnings       bool              `json:"hasWarnings"`
}

// New returns the initial status: nothing compiled, nothing live.
func New(devPort, appPort int) Status {
	return Refresh(Status{
		AppServerPort: appPort,
		DevServerPort: devPort,
	})
}

// Refresh recomputes the derived fields from the diagnostics and compiled
// flags.
func Refresh(s Status) Status {
	s.HasErrors = len(s.FrontendErrors) > 0 || len(s.BackendErrors) > 0
	s.HasWarnings = len(s.FrontendWarnings) > 0 || len(s.BackendWarnings) > 0

	switch {
	case !s.FrontendCompiled || !s.BackendCompiled:
		s.CompilationStatus = Building
	case s.HasErrors:
		s.CompilationStatus = Error
	case s.HasWarnings:
		s.CompilationStatus = CompiledWithWarnings
	default:
		s.CompilationStatus = Ready
	}
	return s
}

// Clone returns a copy that shares no slices with s.
func (s Status) Clone() Status {
	s.FrontendErrors = cloneStrings(s.FrontendErrors)
	s.FrontendWarnings = cloneStrings(s.FrontendWarnings)
	s.BackendErrors = cloneStrings(s.BackendErrors)
	s.BackendWarnings = cloneStrings(s.BackendWarnings)
	return s
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Store owns the single Status. Writers go through Update; readers take
// snapshots or wait on the change broadcast.
type Store struct {
	mu      sync.RWMutex
	status  Status
	changed chan struct{}
}

// NewStore creates a store seeded with initial.
func NewStore(initial Status) *Store {
	return &Store{
		status:  Refresh(initial).Clone(),
		changed: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current status.
func (s *Store) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Clone()
}

// Update applies fn, refreshes the derived fields and wakes every waiter.
// It returns the new snapshot.
func (s *Store) Update(fn func(*Status)) Status {
	s.mu.Lock()
	next := s.status.Clone()
	fn(&next)
	s.status = Refresh(next)
	close(s.changed)
	s.changed = make(chan struct{})
	snap := s.status.Clone()
	s.mu.Unlock()
	return snap
}

// Changed returns a channel closed on the next Update.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Wait blocks until pred holds for the current status or ctx is done.
func (s *Store) Wait(ctx context.Context, pred func(Status) bool) (Status, error) {
	for {
		s.mu.RLock()
		snap := s.status.Clone()
		ch := s.changed
		s.mu.RUnlock()

		if pred(snap) {
			return snap, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}
