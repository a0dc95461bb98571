// Package asr defines the Provider interface for Automatic Speech Recognition
// backends.
//
// Unlike a streaming STT service, Parley's pipeline hands the recogniser one
// complete (or in-progress) utterance at a time: the voice segmenter already
// decides the endpoints, so the provider contract is a single synchronous
// Transcribe call over in-memory PCM. The stage pipeline is responsible for
// running these calls on the shared worker pool so the transport read loop
// never waits on a model.
//
// Implementations must be safe for concurrent invocation; if the underlying
// model context is single-threaded, the adapter serialises internally or
// creates a context per call.
package asr

import "context"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the transcript; empty when the audio contained no
	// recognisable speech.
	Text string

	// Language is the ISO 639-1 code the model detected (or was forced to),
	// e.g. "en". Empty if the model reports none.
	Language string
}

// Provider is the abstraction over any ASR backend.
type Provider interface {
	// Transcribe recognises a single utterance of 16 kHz mono float32 PCM in
	// [-1, 1]. language forces recognition in a specific ISO 639-1 language;
	// an empty string lets the model auto-detect.
	//
	// Transcribe blocks until recognition completes, ctx is cancelled, or the
	// deadline expires. Empty audio yields an empty Result and no error.
	Transcribe(ctx context.Context, pcm []float32, language string) (Result, error)
}
