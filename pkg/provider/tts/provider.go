// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// The pipeline synthesises one complete translated utterance at a time and
// ships the result to the recipient as a single binary WAV frame, so the
// contract is a synchronous call returning a finished WAV blob rather than a
// streaming channel. Calls run on the shared worker pool.
//
// Implementations must be safe for concurrent invocation; multiple rooms
// synthesise in parallel.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text in the voice configured for language (ISO
	// 639-1) and returns a complete RIFF WAV blob (PCM16 mono at the voice
	// model's native rate). Empty text yields an empty blob and no error.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)

	// Languages returns the ISO 639-1 codes this backend has voices for.
	Languages() []string
}
