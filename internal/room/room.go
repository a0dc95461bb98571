// Package room implements the two-participant conversation session: the
// phase state machine with host-privileged transitions, mute state, the
// per-direction routing that ships one participant's utterances to the
// other, and the echo-suppression coupling between the two.
package room

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
)

// Phase is the room's session-level state. It controls mic capture on the
// clients (via session_status) and which control markers the server accepts.
type Phase string

const (
	// PhaseWaiting — host connected, no guest yet.
	PhaseWaiting Phase = "waiting"

	// PhaseReady — both participants present, session not started.
	PhaseReady Phase = "ready"

	// PhaseActive — host started the session; mics are live.
	PhaseActive Phase = "active"

	// PhaseEnded — host left or the room idled out. Terminal.
	PhaseEnded Phase = "ended"
)

// Echo-suppression window bounds: the synthesised audio length plus a margin,
// clamped so a clock-skewed client can neither stay locked for seconds of
// slack nor unlock while its speaker is still playing.
const (
	echoMargin  = 300 * time.Millisecond
	echoMinLock = time.Second
	echoMaxLock = 4 * time.Second
)

// Room binds two participant pipelines under a shared phase. Every phase
// mutation, slot assignment, and broadcast happens under mu; model calls
// never do.
type Room struct {
	code      string
	langHost  string
	langGuest string

	mu         sync.Mutex
	host       *session.Participant
	guest      *session.Participant
	phase      Phase
	createdAt  time.Time
	lastActive time.Time

	log *slog.Logger
}

// newRoom is called by the registry with the code already allocated.
func newRoom(code, langHost, langGuest string, log *slog.Logger) *Room {
	now := time.Now()
	return &Room{
		code:       code,
		langHost:   langHost,
		langGuest:  langGuest,
		phase:      PhaseWaiting,
		createdAt:  now,
		lastActive: now,
		log:        log.With("room", code),
	}
}

// Code returns the room's short join code.
func (r *Room) Code() string {
	return r.code
}

// Languages returns the fixed (host, guest) language pair.
func (r *Room) Languages() (host, guest string) {
	return r.langHost, r.langGuest
}

// Phase returns the current phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// GuestLanguage is the language a joining guest will be assigned.
func (r *Room) GuestLanguage() string {
	return r.langGuest
}

// attachHost installs the host participant and announces the room to it.
func (r *Room) attachHost(p *session.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.host = p
	r.touchLocked()

	p.Conn.Send(protocol.Message{
		Type:            protocol.TypeRoomCreated,
		RoomID:          r.code,
		Language:        p.Language,
		PartnerLanguage: r.langGuest,
	})
	p.Conn.Send(protocol.SessionStatus(string(PhaseWaiting)))
	r.log.Info("room created", "host", p.Name, "languages", r.langHost+"↔"+r.langGuest)
}

// attachGuest installs the guest participant, announces the join to both
// sides, and moves waiting → ready. Returns false when the room cannot take
// a guest (full or ended); the registry surfaces the error kind.
func (r *Room) attachGuest(p *session.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseEnded || r.guest != nil || r.host == nil {
		return false
	}

	r.guest = p
	r.touchLocked()

	p.Conn.Send(protocol.Message{
		Type:            protocol.TypeRoomJoined,
		RoomID:          r.code,
		Language:        p.Language,
		PartnerName:     r.host.Name,
		PartnerLanguage: r.host.Language,
	})
	r.host.Conn.Send(protocol.Message{
		Type:     protocol.TypePartnerJoined,
		Name:     p.Name,
		Language: p.Language,
	})

	r.setPhaseLocked(PhaseReady)
	r.log.Info("guest joined", "guest", p.Name)
	return true
}

// HandleMarker applies one 4-byte control marker from p. START and END are
// host-gated: a non-host marker changes nothing and emits nothing.
func (r *Room) HandleMarker(p *session.Participant, m protocol.Marker) {
	switch m {
	case protocol.MarkerStart, protocol.MarkerEnd:
		r.handlePhaseMarker(p, m)
	case protocol.MarkerMute:
		r.setMuted(p, true)
	case protocol.MarkerUnmute:
		r.setMuted(p, false)
	}
}

// handlePhaseMarker drives waiting|ready → active (START) and active → ready (END).
func (r *Room) handlePhaseMarker(p *session.Participant, m protocol.Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Role != session.RoleHost {
		r.log.Warn("phase marker from non-host ignored", "participant", p.ID, "marker", string(m))
		return
	}
	r.touchLocked()

	switch {
	case m == protocol.MarkerStart && (r.phase == PhaseWaiting || r.phase == PhaseReady):
		r.setPhaseLocked(PhaseActive)
		r.log.Info("session started")
	case m == protocol.MarkerEnd && r.phase == PhaseActive:
		r.setPhaseLocked(PhaseReady)
		r.log.Info("session ended by host")
	default:
		r.log.Debug("phase marker ignored", "marker", string(m), "phase", string(r.phase))
	}
}

// setMuted flips p's mute flag and notifies the partner. The segmenter reset
// is safe here because markers arrive on p's own read goroutine.
func (r *Room) setMuted(p *session.Participant, muted bool) {
	p.SetMuted(muted)
	p.ResetSegmentation()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()

	if partner := r.partnerLocked(p); partner != nil {
		msgType := protocol.TypePartnerMuted
		if !muted {
			msgType = protocol.TypePartnerUnmuted
		}
		partner.Conn.Send(protocol.Message{Type: msgType})
	}
}

// HandleAudio routes one binary audio frame from p's read goroutine.
// Frames outside the active phase are dropped without decoding (the client
// restarts its encoder when capture resumes, so the decoder re-primes from
// the fresh header). Muted and echo-locked audio is decoded into the discard
// to keep the container state continuous.
func (r *Room) HandleAudio(pl *session.Pipeline, p *session.Participant, data []byte) {
	if r.Phase() != PhaseActive {
		observe.DefaultMetrics().RecordDroppedFrame(context.Background(), "phase")
		return
	}
	r.touch()

	p.Rec.AddChunk(data)

	switch {
	case p.Muted():
		observe.DefaultMetrics().RecordDroppedFrame(context.Background(), "muted")
		pl.DiscardAudio(p, data)
	case p.MicLocked():
		observe.DefaultMetrics().RecordDroppedFrame(context.Background(), "mic_locked")
		pl.DiscardAudio(p, data)
	default:
		pl.HandleAudio(p, data)
	}
}

// Leave removes p from the room and drives the departure transitions:
// host leaving ends the room; a guest leaving returns a ready room to
// waiting, and ends an active one. Returns the resulting phase.
func (r *Room) Leave(p *session.Participant) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner := r.partnerLocked(p)
	switch p {
	case r.host:
		r.host = nil
	case r.guest:
		r.guest = nil
	default:
		return r.phase
	}
	r.touchLocked()

	if partner != nil {
		partner.Conn.Send(protocol.Message{Type: protocol.TypePartnerLeft})
	}

	switch {
	case p.Role == session.RoleHost:
		r.setPhaseLocked(PhaseEnded)
	case r.phase == PhaseActive:
		// Scenario: guest drops mid-conversation. The session cannot resume
		// with a new guest, so the room ends.
		r.setPhaseLocked(PhaseEnded)
	case r.phase == PhaseReady:
		r.setPhaseLocked(PhaseWaiting)
	}

	r.log.Info("participant left", "participant", p.ID, "phase", string(r.phase))
	return r.phase
}

// Empty reports whether both slots are vacant.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host == nil && r.guest == nil
}

// IdleSince returns the last activity timestamp.
func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

// end force-ends the room (idle TTL or shutdown): both connections receive
// the terminal status and are then closed gracefully.
func (r *Room) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseEnded {
		r.setPhaseLocked(PhaseEnded)
	}
	if r.host != nil {
		r.host.Conn.Close()
	}
	if r.guest != nil {
		r.guest.Conn.Close()
	}
}

// Route implements [session.Director]: the target of p's utterances is the
// partner's language, with synthesis in the partner's voice. Same-language
// rooms never arise (the pair must differ at creation), but a missing
// partner disables translation so solo-talking in a waiting room stays
// cheap.
func (r *Room) Route(p *session.Participant) session.Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	route := session.Route{SourceLang: p.Language}
	if partner := r.partnerLocked(p); partner != nil {
		route.TargetLang = partner.Language
		route.TTS = true
	}
	return route
}

// Deliver implements [session.Director]: the speaker sees their own
// transcript (speaker "self"); the partner receives the translated payload,
// the synthesised audio, and the echo-suppression directive.
func (r *Room) Deliver(p *session.Participant, out session.Outcome) {
	r.mu.Lock()
	partner := r.partnerLocked(p)
	r.mu.Unlock()

	msgType := protocol.TypeTranscriptPartial
	if out.Final {
		msgType = protocol.TypeTranscript
	}

	self := protocol.Message{
		Type:           msgType,
		Speaker:        protocol.SpeakerSelf,
		Text:           out.Text,
		Language:       out.Language,
		Translation:    out.Translation,
		TargetLanguage: out.TargetLanguage,
	}
	if out.Final {
		self.Duration = roundSeconds(out.Duration)
	}
	p.Conn.Send(self)

	if partner == nil {
		return
	}

	toPartner := protocol.Message{
		Type:           msgType,
		Speaker:        protocol.SpeakerPartner,
		SpeakerName:    p.Name,
		Text:           out.Text,
		Language:       out.Language,
		Translation:    out.Translation,
		TargetLanguage: out.TargetLanguage,
	}
	if out.Final {
		toPartner.Duration = roundSeconds(out.Duration)
		toPartner.HasTTSAudio = len(out.Audio) > 0
	}
	partner.Conn.Send(toPartner)

	if len(out.Audio) == 0 {
		return
	}
	partner.Conn.SendAudio(out.Audio)
	partner.Rec.AddTTS(out.Audio)

	lock := echoLockDuration(out.Audio)
	partner.LockMic(lock)
	partner.Conn.Send(protocol.Message{
		Type:       protocol.TypeMicLocked,
		DurationMs: lock.Milliseconds(),
	})
	r.log.Debug("partner mic locked",
		"partner", partner.ID, "duration_ms", lock.Milliseconds())
}

// echoLockDuration sizes the mic-lock window from the synthesised audio:
// its play length plus a margin, clamped to [echoMinLock, echoMaxLock].
// An unreadable WAV header falls back to the minimum.
func echoLockDuration(wav []byte) time.Duration {
	d, err := audio.WAVDuration(wav)
	if err != nil {
		return echoMinLock
	}
	d += echoMargin
	if d < echoMinLock {
		d = echoMinLock
	}
	if d > echoMaxLock {
		d = echoMaxLock
	}
	return d
}

// setPhaseLocked mutates the phase and broadcasts session_status to both
// participants. Must be called with r.mu held, which is what makes the two
// enqueues atomic: both clients observe every transition in the same order.
func (r *Room) setPhaseLocked(next Phase) {
	r.phase = next
	status := protocol.SessionStatus(string(next))
	if r.host != nil {
		r.host.Conn.Send(status)
	}
	if r.guest != nil {
		r.guest.Conn.Send(status)
	}
}

// partnerLocked returns p's counterpart. Must be called with r.mu held.
func (r *Room) partnerLocked(p *session.Participant) *session.Participant {
	switch p {
	case r.host:
		return r.guest
	case r.guest:
		return r.host
	default:
		return nil
	}
}

// touch refreshes the activity timestamp.
func (r *Room) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()
}

// touchLocked must be called with r.mu held.
func (r *Room) touchLocked() {
	r.lastActive = time.Now()
}

// roundSeconds renders a duration as seconds with two decimals.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
