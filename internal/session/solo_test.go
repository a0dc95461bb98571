package session

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/work"
	"github.com/MrWong99/parley/pkg/provider/asr"
	asrmock "github.com/MrWong99/parley/pkg/provider/asr/mock"
	mtmock "github.com/MrWong99/parley/pkg/provider/mt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

func newSoloForTest(t *testing.T, conn Conn, opts SoloOptions) (*Solo, *Pipeline) {
	t.Helper()
	caps := Capabilities{
		VAD: &vadmock.Engine{Script: []float64{0.9}},
		ASR: &asrmock.Provider{Script: []asr.Result{{Text: "hola amigos", Language: "es"}}},
		MT:  &mtmock.Translator{},
		TTS: &ttsmock.Synthesizer{},
	}
	pl, err := NewPipeline(caps, Config{}, work.New(2), nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	solo, err := NewSolo(pl, conn, nil, opts)
	if err != nil {
		t.Fatalf("NewSolo: %v", err)
	}
	t.Cleanup(solo.Close)
	return solo, pl
}

func TestSolo_RouteReflectsOptions(t *testing.T) {
	solo, _ := newSoloForTest(t, &stubConn{}, SoloOptions{
		SessionID:      "s1",
		Language:       "es",
		TargetLanguage: "en",
		TTS:            true,
	})

	route := solo.Route(nil)
	if route.SourceLang != "es" || route.TargetLang != "en" || !route.TTS {
		t.Errorf("route = %+v, want es→en with tts", route)
	}
}

func TestSolo_DeliverFinalWithAudio(t *testing.T) {
	conn := &stubConn{}
	solo, pl := newSoloForTest(t, conn, SoloOptions{
		SessionID:      "s2",
		Language:       "es",
		TargetLanguage: "en",
		TTS:            true,
	})

	pl.finishUtteranceForTest(solo.p, pcmSeconds(1), 1*time.Second)
	waitFor(t, func() bool { return len(conn.messages()) == 1 }, "final transcript expected")

	msg := conn.messages()[0]
	if msg.Type != protocol.TypeTranscript {
		t.Fatalf("type = %q, want transcript", msg.Type)
	}
	if msg.SessionID != "s2" {
		t.Errorf("session_id = %q, want s2", msg.SessionID)
	}
	if msg.Speaker != "" {
		t.Errorf("speaker = %q, want unset — solo payloads carry session_id instead", msg.Speaker)
	}
	if msg.Text != "hola amigos" || msg.Language != "es" {
		t.Errorf("transcript = %q (%s)", msg.Text, msg.Language)
	}
	if msg.Translation != "[en] hola amigos" || msg.TargetLanguage != "en" {
		t.Errorf("translation = %q (%s)", msg.Translation, msg.TargetLanguage)
	}
	if msg.Duration != 1.0 {
		t.Errorf("duration = %v, want 1.0", msg.Duration)
	}
	if !msg.HasTTSAudio {
		t.Error("has_tts_audio should be set")
	}

	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.audio) == 1
	}, "binary audio frame expected after the transcript")
}

func TestSolo_NoTargetMeansNoTranslation(t *testing.T) {
	conn := &stubConn{}
	solo, pl := newSoloForTest(t, conn, SoloOptions{SessionID: "s3", Language: "es"})

	pl.finishUtteranceForTest(solo.p, pcmSeconds(1), 1*time.Second)
	waitFor(t, func() bool { return len(conn.messages()) == 1 }, "final transcript expected")

	msg := conn.messages()[0]
	if msg.Translation != "" || msg.HasTTSAudio {
		t.Errorf("unexpected translation %q / tts for a transcription-only session", msg.Translation)
	}
}

// finishUtteranceForTest injects a frozen utterance, standing in for the
// segmenter's speech_end path.
func (pl *Pipeline) finishUtteranceForTest(p *Participant, pcm []float32, d time.Duration) {
	p.utterance = pcm
	pl.finishUtterance(p, d)
}
