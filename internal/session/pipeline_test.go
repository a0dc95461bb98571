package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/work"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/asr"
	asrmock "github.com/MrWong99/parley/pkg/provider/asr/mock"
	mtmock "github.com/MrWong99/parley/pkg/provider/mt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

// stubConn records everything the pipeline writes.
type stubConn struct {
	mu    sync.Mutex
	msgs  []protocol.Message
	audio [][]byte
}

func (c *stubConn) Send(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *stubConn) SendAudio(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, data)
}

func (c *stubConn) CloseError(protocol.ErrorKind, string) {}
func (c *stubConn) Close()                                {}

func (c *stubConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

// collector is a Director with a fixed route that records outcomes.
type collector struct {
	route Route

	mu   sync.Mutex
	outs []Outcome
}

func (c *collector) Route(*Participant) Route { return c.route }

func (c *collector) Deliver(_ *Participant, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outs = append(c.outs, out)
}

func (c *collector) outcomes() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outcome(nil), c.outs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// newTestPipeline builds a pipeline over mocks plus one participant wired to
// the given collector.
func newTestPipeline(t *testing.T, asrP asr.Provider, cfg Config, col *collector) (*Pipeline, *Participant) {
	t.Helper()
	caps := Capabilities{
		VAD: &vadmock.Engine{Script: []float64{0.9}},
		ASR: asrP,
		MT:  &mtmock.Translator{},
		TTS: &ttsmock.Synthesizer{},
	}
	pl, err := NewPipeline(caps, cfg, work.New(4), nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p, err := pl.NewParticipant("p1", "Alice", "en", RoleHost, &stubConn{}, nil, col)
	if err != nil {
		t.Fatalf("NewParticipant: %v", err)
	}
	t.Cleanup(p.Close)
	return pl, p
}

// seconds of 16 kHz samples.
func pcmSeconds(s float64) []float32 {
	return make([]float32, int(s*audio.PipelineRate))
}

func TestPipeline_FinalRunsFullChain(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en", TargetLang: "es", TTS: true}}
	asrP := &asrmock.Provider{Script: []asr.Result{{Text: "hello world", Language: "en"}}}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	p.utterance = pcmSeconds(1.5)
	pl.finishUtterance(p, 1500*time.Millisecond)

	waitFor(t, func() bool { return len(col.outcomes()) == 1 }, "final outcome never arrived")

	out := col.outcomes()[0]
	if !out.Final {
		t.Error("outcome should be final")
	}
	if out.Generation != 0 {
		t.Errorf("generation = %d, want 0", out.Generation)
	}
	if out.Text != "hello world" || out.Language != "en" {
		t.Errorf("transcript = %q (%s)", out.Text, out.Language)
	}
	if out.Translation != "[es] hello world" || out.TargetLanguage != "es" {
		t.Errorf("translation = %q (%s)", out.Translation, out.TargetLanguage)
	}
	if len(out.Audio) == 0 {
		t.Error("expected synthesised audio")
	}
	if p.Generation() != 1 {
		t.Errorf("generation after speech_end = %d, want 1", p.Generation())
	}
}

func TestPipeline_FinalsDeliverInUtteranceOrder(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Delay: 20 * time.Millisecond}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	for range 3 {
		p.utterance = pcmSeconds(0.5)
		pl.finishUtterance(p, 500*time.Millisecond)
	}

	waitFor(t, func() bool { return len(col.outcomes()) == 3 }, "three finals expected")

	for i, out := range col.outcomes() {
		if out.Generation != uint64(i) {
			t.Errorf("outcome %d carries generation %d", i, out.Generation)
		}
	}
}

func TestPipeline_AtMostOnePartialInFlight(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Delay: 150 * time.Millisecond}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	// Enter the speaking state so partials are eligible.
	if _, err := p.seg.Push(make([]float32, audio.VADWindowSize)); err != nil {
		t.Fatalf("seg.Push: %v", err)
	}
	p.utterance = pcmSeconds(1.5)

	pl.maybeLaunchPartial(p)
	pl.maybeLaunchPartial(p)
	pl.maybeLaunchPartial(p)

	waitFor(t, func() bool { return len(col.outcomes()) >= 1 }, "partial outcome expected")
	time.Sleep(50 * time.Millisecond)

	if got := asrP.Calls(); got != 1 {
		t.Errorf("asr calls = %d, want 1 — overlapping partials must be skipped", got)
	}
	if got := len(col.outcomes()); got != 1 {
		t.Errorf("partial outcomes = %d, want 1", got)
	}
}

func TestPipeline_StalePartialDropped(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Delay: 80 * time.Millisecond}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	if _, err := p.seg.Push(make([]float32, audio.VADWindowSize)); err != nil {
		t.Fatalf("seg.Push: %v", err)
	}
	p.utterance = pcmSeconds(1.5)
	pl.maybeLaunchPartial(p)

	// The utterance ends while the partial is still transcribing.
	p.generation.Add(1)

	waitFor(t, func() bool { return asrP.Calls() == 1 && !p.partialBusy.Load() }, "partial never finished")
	time.Sleep(20 * time.Millisecond)

	if got := len(col.outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0 — stale partial must be dropped", got)
	}
}

func TestPipeline_ASRTimeoutDropsUtterance(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Delay: 300 * time.Millisecond}
	pl, p := newTestPipeline(t, asrP, Config{ASRTimeout: 30 * time.Millisecond}, col)

	p.utterance = pcmSeconds(0.5)
	pl.finishUtterance(p, 500*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	if got := len(col.outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0 — the timed-out utterance is discarded", got)
	}
	if p.Generation() != 1 {
		t.Errorf("generation = %d, want 1 — the session continues", p.Generation())
	}
}

func TestPipeline_SameLanguageSkipsTranslationAndTTS(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en", TargetLang: "en", TTS: true}}
	asrP := &asrmock.Provider{Script: []asr.Result{{Text: "same language", Language: "en"}}}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	p.utterance = pcmSeconds(0.5)
	pl.finishUtterance(p, 500*time.Millisecond)

	waitFor(t, func() bool { return len(col.outcomes()) == 1 }, "final outcome expected")

	out := col.outcomes()[0]
	if out.Translation != "" {
		t.Errorf("translation = %q, want empty for same-language route", out.Translation)
	}
	if len(out.Audio) != 0 {
		t.Error("no audio expected without a translation")
	}
}

func TestPipeline_EmptyTranscriptSuppressed(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Script: []asr.Result{{Text: "", Language: "en"}}}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	p.utterance = pcmSeconds(0.5)
	pl.finishUtterance(p, 500*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	if got := len(col.outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0 for an empty transcript", got)
	}
}

func TestPipeline_EmptyUtteranceIgnored(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	pl, p := newTestPipeline(t, &asrmock.Provider{}, Config{}, col)

	p.utterance = nil
	pl.finishUtterance(p, 0)

	if p.Generation() != 0 {
		t.Error("empty utterance must not consume a generation")
	}
}

func TestPipeline_ASRBreakerStopsHammeringFailedBackend(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{Err: errors.New("model crashed")}
	pl, p := newTestPipeline(t, asrP, Config{}, col)

	// The default breaker opens after 5 consecutive failures; utterances
	// past that point must be refused without reaching the provider.
	for range 8 {
		p.utterance = pcmSeconds(0.5)
		pl.finishUtterance(p, 500*time.Millisecond)
	}

	waitFor(t, func() bool { return p.Generation() == 8 && len(p.finals) == 0 }, "finals never drained")
	time.Sleep(50 * time.Millisecond)

	if got := asrP.Calls(); got != 5 {
		t.Errorf("asr calls = %d, want 5 — the breaker must refuse the rest", got)
	}
	if got := len(col.outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0 from a failing backend", got)
	}
}

func TestPipeline_PartialSkippedWhenPoolSaturated(t *testing.T) {
	col := &collector{route: Route{SourceLang: "en"}}
	asrP := &asrmock.Provider{}
	caps := Capabilities{
		VAD: &vadmock.Engine{Script: []float64{0.9}},
		ASR: asrP,
		MT:  &mtmock.Translator{},
		TTS: &ttsmock.Synthesizer{},
	}
	pool := work.New(1)
	pl, err := NewPipeline(caps, Config{}, pool, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p, err := pl.NewParticipant("p1", "Alice", "en", RoleHost, &stubConn{}, nil, col)
	if err != nil {
		t.Fatalf("NewParticipant: %v", err)
	}
	t.Cleanup(p.Close)

	// Occupy the pool's only slot so the partial cannot take one.
	release := make(chan struct{})
	occupied := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() {
			close(occupied)
			<-release
		})
	}()
	<-occupied

	if _, err := p.seg.Push(make([]float32, audio.VADWindowSize)); err != nil {
		t.Fatalf("seg.Push: %v", err)
	}
	p.utterance = pcmSeconds(1.5)
	pl.maybeLaunchPartial(p)

	waitFor(t, func() bool { return !p.partialBusy.Load() }, "partial attempt never resolved")
	close(release)

	if got := asrP.Calls(); got != 0 {
		t.Errorf("asr calls = %d, want 0 — a saturated pool skips the partial instead of queueing it", got)
	}
	if got := len(col.outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0", got)
	}
}
