// Package mock provides a scripted vad.Engine for tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates sessions that replay a scripted probability sequence.
// When the script runs out the last value repeats, so a script of {1} means
// "always speech" and {0} means "always silence".
type Engine struct {
	// Script is the probability sequence each new session replays.
	Script []float64

	mu       sync.Mutex
	sessions []*Session
}

// NewSession creates a session replaying the engine's script from the start.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("mock vad: window size %d must be positive", cfg.WindowSize)
	}
	s := &Session{
		windowSize: cfg.WindowSize,
		script:     e.Script,
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Sessions returns every session the engine has created, in creation order.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Session replays a probability script. Safe for concurrent use so tests can
// inspect counters while the pipeline runs.
type Session struct {
	windowSize int
	script     []float64

	mu      sync.Mutex
	pos     int
	windows int
	resets  int
	closed  bool
}

// ProcessWindow returns the next scripted probability.
func (s *Session) ProcessWindow(window []float32) (float64, error) {
	if len(window) != s.windowSize {
		return 0, fmt.Errorf("mock vad: window size %d, want %d", len(window), s.windowSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows++
	if len(s.script) == 0 {
		return 0, nil
	}
	p := s.script[min(s.pos, len(s.script)-1)]
	s.pos++
	return p, nil
}

// Reset rewinds the script and counts the reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.resets++
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Windows returns how many windows the session has scored.
func (s *Session) Windows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
