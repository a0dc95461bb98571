package audio

import (
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// VADWindowSize is the number of 16 kHz samples scored per VAD window (~32 ms).
const VADWindowSize = 512

// EventType marks a speech boundary detected by the segmenter.
type EventType int

const (
	// SpeechStart is emitted on the first speech window after silence.
	SpeechStart EventType = iota

	// SpeechEnd is emitted once the configured silence hold has elapsed
	// after the last speech window.
	SpeechEnd
)

// Event is a speech boundary. Duration is only set on SpeechEnd and covers
// the cumulative speech time of the utterance.
type Event struct {
	Type     EventType
	Duration time.Duration
}

// Window is the per-window result of feeding PCM through the segmenter. PCM
// aliases the segmenter's internal buffer and is only valid until the next
// Push call; callers that keep window audio must copy it.
type Window struct {
	// PCM is the exact [VADWindowSize]-sample window that was scored.
	PCM []float32

	// Event is the boundary crossed at this window, if any.
	Event *Event

	// Speaking is the state after this window: true from speech_start
	// through the silent windows of the hold, so the silence tail stays part
	// of the utterance; the window that emits speech_end reports false.
	Speaking bool
}

// SegmenterConfig tunes the silence state machine.
type SegmenterConfig struct {
	// SilenceHold is how long the stream must stay silent before an
	// utterance is closed. A ~500 ms hold tolerates short intra-utterance
	// pauses; less trades recall for latency.
	SilenceHold time.Duration

	// SpeechThreshold is the VAD probability at or above which a window
	// counts as speech.
	SpeechThreshold float64
}

// Segmenter converts per-window VAD probabilities into speech_start /
// speech_end events. Callers push arbitrary PCM slices; an internal carry
// buffer assembles exact [VADWindowSize]-sample windows so the VAD session
// always sees fixed-size input.
//
// Owned by one connection's read goroutine; not safe for concurrent use.
type Segmenter struct {
	vad       vad.SessionHandle
	threshold float64

	// silenceWindows is the number of consecutive non-speech windows that
	// closes an utterance.
	silenceWindows int

	carry    []float32
	speaking bool
	silent   int
	speechWn int // speech windows in the current utterance
}

// windowDuration is the wall-clock span of one VAD window.
const windowDuration = time.Duration(VADWindowSize) * time.Second / PipelineRate

// NewSegmenter creates a segmenter over an open VAD session.
func NewSegmenter(session vad.SessionHandle, cfg SegmenterConfig) (*Segmenter, error) {
	if session == nil {
		return nil, fmt.Errorf("audio: segmenter needs a vad session")
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = 500 * time.Millisecond
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = 0.5
	}

	hold := int((cfg.SilenceHold + windowDuration - 1) / windowDuration)
	if hold < 1 {
		hold = 1
	}

	return &Segmenter{
		vad:            session,
		threshold:      cfg.SpeechThreshold,
		silenceWindows: hold,
	}, nil
}

// Push feeds PCM into the segmenter and returns one [Window] per complete
// window it contained. Leftover samples smaller than one window are carried
// to the next call.
func (s *Segmenter) Push(pcm []float32) ([]Window, error) {
	s.carry = append(s.carry, pcm...)

	var windows []Window
	for len(s.carry) >= VADWindowSize {
		window := s.carry[:VADWindowSize:VADWindowSize]
		s.carry = s.carry[VADWindowSize:]

		prob, err := s.vad.ProcessWindow(window)
		if err != nil {
			return windows, fmt.Errorf("audio: vad window: %w", err)
		}

		w := Window{PCM: window}
		if ev, ok := s.update(prob >= s.threshold); ok {
			w.Event = &ev
		}
		w.Speaking = s.speaking
		windows = append(windows, w)
	}
	return windows, nil
}

// Speaking reports whether the segmenter is currently inside an utterance.
func (s *Segmenter) Speaking() bool {
	return s.speaking
}

// Reset clears the carry buffer, the state machine, and the VAD session's
// recurrent state. Called when the participant sends a MUTE or UNMT marker;
// a change of the room's phase does not reset the segmenter.
func (s *Segmenter) Reset() {
	s.carry = nil
	s.speaking = false
	s.silent = 0
	s.speechWn = 0
	s.vad.Reset()
}

// Close releases the underlying VAD session.
func (s *Segmenter) Close() error {
	return s.vad.Close()
}

// update advances the idle/speaking state machine by one window.
func (s *Segmenter) update(isSpeech bool) (Event, bool) {
	if isSpeech {
		s.silent = 0
		s.speechWn++
		if !s.speaking {
			s.speaking = true
			s.speechWn = 1
			return Event{Type: SpeechStart}, true
		}
		return Event{}, false
	}

	if !s.speaking {
		return Event{}, false
	}
	s.silent++
	if s.silent < s.silenceWindows {
		return Event{}, false
	}

	duration := time.Duration(s.speechWn) * windowDuration
	s.speaking = false
	s.silent = 0
	s.speechWn = 0
	return Event{Type: SpeechEnd, Duration: duration}, true
}
