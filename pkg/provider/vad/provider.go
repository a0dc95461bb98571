// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (an energy detector, a
// Silero-style model server, or a custom model) and surfaces it as a stateful
// per-stream session. Each session maintains its own internal state (smoothing
// history, recurrent model state) so multiple concurrent audio streams can be
// scored independently.
//
// VAD is synchronous by design: ProcessWindow returns immediately with a
// speech probability, making it suitable for the latency-sensitive stage that
// gates utterance segmentation.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is owned by one connection's read goroutine and is
// not shared.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM windows passed to ProcessWindow.
	SampleRate int

	// WindowSize is the number of samples per window. ProcessWindow returns an
	// error if the supplied window does not match this size.
	WindowSize int

	// SpeechThreshold is the probability at or above which a window counts as
	// speech. Range [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply scripted implementations
// without a live engine. Reset clears accumulated state without closing the
// session — required whenever the audio stream is interrupted or the room
// leaves the active phase, so stale recurrent state cannot bleed into the
// next segment.
type SessionHandle interface {
	// ProcessWindow scores a single window of float32 mono PCM in [-1, 1] and
	// returns the speech probability in [0, 1]. The window length must equal
	// the configured WindowSize.
	//
	// This method is called synchronously in the audio read loop; it must not
	// block.
	ProcessWindow(window []float32) (float64, error)

	// Reset clears all accumulated detection state.
	Reset()

	// Close releases session resources. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
// Multiple goroutines may call NewSession concurrently.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to score windows. Returns an error if the configuration is
	// invalid or resources cannot be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}
