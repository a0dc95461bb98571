package session

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/recording"
)

// SoloOptions configures a single-participant session from the /ws/audio
// query parameters.
type SoloOptions struct {
	// SessionID names the session in payloads and recordings.
	SessionID string

	// Language forces recognition; empty auto-detects.
	Language string

	// TargetLanguage enables translation; empty disables it.
	TargetLanguage string

	// TTS enables synthesis of translations back to the same connection.
	TTS bool
}

// Solo is a participant pipeline without a partner: transcripts (and,
// when configured, translations plus synthesised audio) flow back to the
// connection that sent the audio. There is no phase machine and no echo
// suppression — the speaker hears their own translation on purpose.
type Solo struct {
	pipeline *Pipeline
	opts     SoloOptions
	p        *Participant
}

// NewSolo creates a solo session bound to conn.
func NewSolo(pl *Pipeline, conn Conn, rec *recording.Session, opts SoloOptions) (*Solo, error) {
	s := &Solo{pipeline: pl, opts: opts}

	p, err := pl.NewParticipant(opts.SessionID, "", opts.Language, RoleSolo, conn, rec, s)
	if err != nil {
		return nil, fmt.Errorf("session: create solo participant: %w", err)
	}
	s.p = p
	return s, nil
}

// HandleAudio feeds one encoded chunk from the connection's read loop.
func (s *Solo) HandleAudio(data []byte) {
	s.p.Rec.AddChunk(data)
	s.pipeline.HandleAudio(s.p, data)
}

// Close tears the session down; called when the read loop exits.
func (s *Solo) Close() {
	s.p.Close()
}

// Route implements [Director]: the direction is fixed by the query
// parameters for the whole session.
func (s *Solo) Route(*Participant) Route {
	return Route{
		SourceLang: s.opts.Language,
		TargetLang: s.opts.TargetLanguage,
		TTS:        s.opts.TTS,
	}
}

// Deliver implements [Director]: results go back to the sender. Solo
// payloads carry the session id and no speaker tag — with a single
// participant there is no partner to attribute speech to.
func (s *Solo) Deliver(p *Participant, out Outcome) {
	msg := protocol.Message{
		Type:           protocol.TypeTranscriptPartial,
		SessionID:      s.opts.SessionID,
		Text:           out.Text,
		Language:       out.Language,
		Translation:    out.Translation,
		TargetLanguage: out.TargetLanguage,
	}
	if out.Final {
		msg.Type = protocol.TypeTranscript
		msg.Duration = roundDuration(out.Duration)
		msg.HasTTSAudio = len(out.Audio) > 0
	}

	p.Conn.Send(msg)
	if len(out.Audio) > 0 {
		p.Conn.SendAudio(out.Audio)
		p.Rec.AddTTS(out.Audio)
	}
}

// roundDuration renders an utterance duration as seconds with two decimals,
// the precision clients display.
func roundDuration(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
