// Package energy implements a pure-Go VAD engine based on RMS energy with
// hysteresis. It needs no model files and no CGO, which makes it the default
// engine for development and for tests; production deployments typically
// swap in a model-backed engine via configuration.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

const (
	defaultSpeechRMS  = 0.015
	defaultSilenceRMS = 0.008
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThresholds overrides the RMS levels at which windows are classified as
// speech (upper) and silence (lower). The gap between the two is the
// hysteresis band that prevents flickering at the boundary.
func WithThresholds(speech, silence float64) Option {
	return func(e *Engine) {
		e.speechRMS = speech
		e.silenceRMS = silence
	}
}

// Engine produces RMS-based VAD sessions.
type Engine struct {
	speechRMS  float64
	silenceRMS float64
}

// New creates an energy VAD engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		speechRMS:  defaultSpeechRMS,
		silenceRMS: defaultSilenceRMS,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates a new detection session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("energy: window size %d must be positive", cfg.WindowSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d must be positive", cfg.SampleRate)
	}
	return &session{
		windowSize: cfg.WindowSize,
		speechRMS:  e.speechRMS,
		silenceRMS: e.silenceRMS,
	}, nil
}

// session scores windows by RMS level with hysteresis: once a stream is
// classified as speech it stays speech until the level drops below the lower
// threshold, and vice versa.
type session struct {
	windowSize int
	speechRMS  float64
	silenceRMS float64
	inSpeech   bool
}

// ProcessWindow returns a probability derived from the RMS level, shaped so
// that the configured thresholds land on either side of 0.5.
func (s *session) ProcessWindow(window []float32) (float64, error) {
	if len(window) != s.windowSize {
		return 0, fmt.Errorf("energy: window size %d, want %d", len(window), s.windowSize)
	}

	var sum float64
	for _, v := range window {
		sum += float64(v) * float64(v)
	}
	level := math.Sqrt(sum / float64(len(window)))

	// Hysteresis: the effective threshold depends on the current state.
	threshold := s.speechRMS
	if s.inSpeech {
		threshold = s.silenceRMS
	}
	s.inSpeech = level >= threshold

	// Map the level onto [0, 1] with the active threshold at 0.5.
	prob := level / (threshold * 2)
	if prob > 1 {
		prob = 1
	}
	return prob, nil
}

// Reset clears the hysteresis state.
func (s *session) Reset() {
	s.inSpeech = false
}

// Close is a no-op; the session holds no external resources.
func (s *session) Close() error {
	return nil
}
