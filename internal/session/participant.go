package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/pkg/audio"
)

// finalQueueDepth bounds the per-participant backlog of finished utterances
// waiting for a worker. A human cannot produce utterances faster than the
// pool drains them unless a model is wedged; beyond this depth the newest
// utterance is dropped and logged.
const finalQueueDepth = 8

// finalJob is one frozen utterance queued for the finals worker.
type finalJob struct {
	pcm        []float32
	generation uint64
	duration   time.Duration
	route      Route
}

// Participant is one connected speaker: its transport, its decode and
// segmentation state, and its position in the utterance pipeline.
//
// All audio state (decoder, segmenter, utterance accumulator) is owned by the
// connection's read goroutine; nothing else touches it. Worker completions
// only read the atomics and write to the connection through [Conn].
type Participant struct {
	ID       string
	Name     string
	Language string
	Role     Role

	Conn Conn
	Rec  *recording.Session

	dir Director

	// Read-goroutine-owned audio state.
	decoder   *audio.StreamDecoder
	seg       *audio.Segmenter
	utterance []float32

	// generation is the current utterance number; incremented at speech_end.
	generation atomic.Uint64

	// partialBusy enforces at most one in-flight interim transcription.
	partialBusy atomic.Bool

	// muted drops this participant's audio into the decoder discard.
	muted atomic.Bool

	// lockedUntil is the echo-suppression deadline in unix nanoseconds;
	// audio received before it is decoded into the discard.
	lockedUntil atomic.Int64

	finals chan finalJob

	ctx    context.Context
	cancel context.CancelFunc
}

// Generation returns the current utterance generation.
func (p *Participant) Generation() uint64 {
	return p.generation.Load()
}

// Muted reports whether the participant is muted.
func (p *Participant) Muted() bool {
	return p.muted.Load()
}

// SetMuted flips the mute flag. The caller (the participant's own read
// goroutine, via the MUTE/UNMT markers) also resets the segmenter.
func (p *Participant) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// MicLocked reports whether the echo-suppression window is active.
func (p *Participant) MicLocked() bool {
	return time.Now().UnixNano() < p.lockedUntil.Load()
}

// LockMic arms the echo-suppression window for d from now. Called from the
// partner's pipeline worker when synthesised audio is dispatched.
func (p *Participant) LockMic(d time.Duration) {
	p.lockedUntil.Store(time.Now().Add(d).UnixNano())
}

// ResetSegmentation clears the segmenter, the VAD recurrent state, and the
// current utterance. Must be called from the read goroutine.
func (p *Participant) ResetSegmentation() {
	p.seg.Reset()
	p.utterance = nil
}

// Context returns the participant's lifetime context; it is cancelled when
// the connection closes.
func (p *Participant) Context() context.Context {
	return p.ctx
}

// Close cancels in-flight work, closes the finals queue, releases the VAD
// session, and flushes the recording. Must be called from (or after) the
// read goroutine — never concurrently with audio handling.
func (p *Participant) Close() {
	p.cancel()
	close(p.finals)
	_ = p.seg.Close()
	p.Rec.Save()
}
