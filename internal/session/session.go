// Package session implements the per-participant audio pipeline: encoded
// chunk ingestion, streaming decode, voice segmentation, and the staged
// ASR → MT → TTS flow that turns an utterance into transcripts and
// synthesised audio.
//
// Three rules shape the design:
//
//   - The transport read goroutine is never blocked on a model. Everything a
//     model touches runs on the shared worker pool; the read path only
//     decodes, segments, and enqueues.
//   - At most one interim ("partial") transcription is in flight per
//     participant. A partial that would overlap the previous one is skipped,
//     not queued, which bounds backpressure under load.
//   - Every utterance carries a monotonic generation number. The generation
//     increments when the utterance ends, and any partial result whose
//     generation is stale on arrival is dropped silently, so a slow partial
//     can never trail its own final transcript.
package session

import (
	"time"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/pkg/provider/asr"
	"github.com/MrWong99/parley/pkg/provider/mt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Role identifies a participant's position in its session.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
	RoleSolo  Role = "solo"
)

// Capabilities bundles the model adapters the pipeline drives. ASR is
// mandatory; a nil MT or TTS disables the corresponding stage, and a nil VAD
// is rejected by NewPipeline.
type Capabilities struct {
	VAD vad.Engine
	ASR asr.Provider
	MT  mt.Translator
	TTS tts.Synthesizer
}

// Config tunes the pipeline. Zero values select the documented defaults.
type Config struct {
	// SilenceHold is the silence duration that closes an utterance.
	// Default: 500 ms.
	SilenceHold time.Duration

	// PartialMin is the minimum accumulated speech before an interim
	// transcription is attempted. Default: 1 s.
	PartialMin time.Duration

	// PartialTranslation also translates interim transcripts when the route
	// has a target language.
	PartialTranslation bool

	// ASRTimeout bounds one transcription. Default: 15 s.
	ASRTimeout time.Duration

	// MTTimeout bounds one translation. Default: 5 s.
	MTTimeout time.Duration

	// TTSTimeout bounds one synthesis. Default: 10 s.
	TTSTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceHold <= 0 {
		c.SilenceHold = 500 * time.Millisecond
	}
	if c.PartialMin <= 0 {
		c.PartialMin = time.Second
	}
	if c.ASRTimeout <= 0 {
		c.ASRTimeout = 15 * time.Second
	}
	if c.MTTimeout <= 0 {
		c.MTTimeout = 5 * time.Second
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = 10 * time.Second
	}
	return c
}

// Conn is the transport half the pipeline writes to. Implementations enqueue
// onto a per-connection serialized writer, so a Send followed by a SendAudio
// reaches the client in that order.
type Conn interface {
	// Send enqueues a JSON text frame. Delivery is best effort: a closed or
	// overflowing connection drops the message and tears itself down.
	Send(msg protocol.Message)

	// SendAudio enqueues a binary frame carrying a complete WAV blob.
	SendAudio(data []byte)

	// CloseError sends an error payload and closes the connection.
	CloseError(kind protocol.ErrorKind, message string)

	// Close performs a graceful normal closure after queued frames flush.
	Close()
}

// Route describes where one utterance's results go: the language pair of the
// direction and whether synthesis is wanted. Resolved when the utterance
// ends, so a partner joining mid-utterance takes effect on the next one.
type Route struct {
	// SourceLang forces recognition in a language; empty auto-detects.
	SourceLang string

	// TargetLang is the translation target; empty disables MT and TTS.
	TargetLang string

	// TTS enables synthesis of the translation.
	TTS bool
}

// Outcome is one finished pipeline result handed to the participant's
// Director.
type Outcome struct {
	// Generation is the utterance generation the result belongs to.
	Generation uint64

	// Final distinguishes the end-of-utterance transcript from interims.
	Final bool

	// Text is the transcript in the detected source language.
	Text string

	// Language is the detected (or forced) source language.
	Language string

	// Translation and TargetLanguage are set when MT ran.
	Translation    string
	TargetLanguage string

	// Duration is the utterance speech duration; finals only.
	Duration time.Duration

	// Audio is the synthesised WAV blob; finals with TTS only.
	Audio []byte
}

// Director decides routing and receives outcomes for a participant. A room
// routes to the partner; a solo session routes back to the sender.
// Deliver is called from pipeline worker goroutines and must be safe for
// concurrent use.
type Director interface {
	Route(p *Participant) Route
	Deliver(p *Participant, out Outcome)
}
