// Package mock provides a tts.Synthesizer for tests that renders a silent
// WAV whose length tracks the input text, so duration-derived behaviour
// (echo-suppression windows) stays observable.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const sampleRate = 22050

// Synthesizer fabricates WAV blobs deterministically.
type Synthesizer struct {
	// PerChar is the synthetic audio duration per input character.
	// Defaults to 50 ms when zero.
	PerChar time.Duration

	// Delay simulates model latency before each result.
	Delay time.Duration

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// Synthesize returns a silent WAV sized by the text length.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	perChar := s.PerChar
	if perChar == 0 {
		perChar = 50 * time.Millisecond
	}
	dur := time.Duration(len(text)) * perChar
	samples := make([]float32, int(dur.Seconds()*sampleRate))
	return audio.EncodeWAV(samples, sampleRate)
}

// Languages mirrors the deployment's supported set.
func (s *Synthesizer) Languages() []string {
	return []string{"en", "es", "pt"}
}

// Calls returns how many syntheses were requested.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
