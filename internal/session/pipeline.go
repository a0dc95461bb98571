package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/work"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/asr"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Pipeline drives participants through decode → segment → ASR → MT → TTS.
// One Pipeline serves the whole process; per-participant state lives on the
// [Participant].
type Pipeline struct {
	caps     Capabilities
	cfg      Config
	pool     *work.Pool
	breakers stageBreakers
	metrics  *observe.Metrics
	log      *slog.Logger
}

// stageBreakers holds one circuit breaker per capability, shared across all
// participants: a backend that keeps failing trips process-wide, so every
// session stops hammering it at once.
type stageBreakers struct {
	asr *resilience.Breaker
	mt  *resilience.Breaker
	tts *resilience.Breaker
}

// NewPipeline creates a pipeline over the given capabilities and pool.
func NewPipeline(caps Capabilities, cfg Config, pool *work.Pool, metrics *observe.Metrics, log *slog.Logger) (*Pipeline, error) {
	if caps.ASR == nil {
		return nil, fmt.Errorf("session: pipeline requires an ASR provider")
	}
	if caps.VAD == nil {
		return nil, fmt.Errorf("session: pipeline requires a VAD engine")
	}
	if pool == nil {
		return nil, fmt.Errorf("session: pipeline requires a worker pool")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		caps: caps,
		cfg:  cfg.withDefaults(),
		pool: pool,
		breakers: stageBreakers{
			asr: resilience.NewBreaker("asr", resilience.BreakerConfig{}),
			mt:  resilience.NewBreaker("mt", resilience.BreakerConfig{}),
			tts: resilience.NewBreaker("tts", resilience.BreakerConfig{}),
		},
		metrics: metrics,
		log:     log,
	}, nil
}

// Config returns the pipeline's effective configuration.
func (pl *Pipeline) Config() Config {
	return pl.cfg
}

// NewParticipant wires a participant into the pipeline: a fresh stream
// decoder, a VAD session, a segmenter, and the finals worker goroutine.
// The caller must Close the participant when its connection ends.
func (pl *Pipeline) NewParticipant(id, name, language string, role Role, conn Conn, rec *recording.Session, dir Director) (*Participant, error) {
	vadSession, err := pl.caps.VAD.NewSession(vad.Config{
		SampleRate:      audio.PipelineRate,
		WindowSize:      audio.VADWindowSize,
		SpeechThreshold: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create vad session: %w", err)
	}

	seg, err := audio.NewSegmenter(vadSession, audio.SegmenterConfig{
		SilenceHold: pl.cfg.SilenceHold,
	})
	if err != nil {
		_ = vadSession.Close()
		return nil, fmt.Errorf("session: create segmenter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := pl.log.With("participant", id)

	p := &Participant{
		ID:       id,
		Name:     name,
		Language: language,
		Role:     role,
		Conn:     conn,
		Rec:      rec,
		dir:      dir,
		decoder:  audio.NewStreamDecoder(log),
		seg:      seg,
		finals:   make(chan finalJob, finalQueueDepth),
		ctx:      ctx,
		cancel:   cancel,
	}

	go pl.finalsWorker(p)
	return p, nil
}

// HandleAudio advances the participant's pipeline with one encoded chunk.
// Called only from the participant's read goroutine; it decodes, segments,
// launches interim transcriptions, and enqueues finished utterances — but
// never waits on a model.
func (pl *Pipeline) HandleAudio(p *Participant, data []byte) {
	pcm, err := p.decoder.Ingest(data)
	if err != nil || len(pcm) == 0 {
		return
	}

	windows, err := p.seg.Push(pcm)
	if err != nil {
		pl.log.Warn("segmenter error", "participant", p.ID, "err", err)
		return
	}

	for _, w := range windows {
		if w.Event != nil && w.Event.Type == audio.SpeechStart {
			pl.log.Debug("speech started", "participant", p.ID, "generation", p.Generation())
			p.utterance = append(p.utterance[:0:0], w.PCM...)
			continue
		}
		if w.Speaking {
			p.utterance = append(p.utterance, w.PCM...)
		}
		if w.Event != nil && w.Event.Type == audio.SpeechEnd {
			pl.finishUtterance(p, w.Event.Duration)
		}
	}

	pl.maybeLaunchPartial(p)
}

// DiscardAudio decodes a chunk without segmenting it, keeping the decoder's
// container state continuous while the participant is muted or echo-locked.
func (pl *Pipeline) DiscardAudio(p *Participant, data []byte) {
	if _, err := p.decoder.Ingest(data); err != nil {
		pl.log.Debug("discard decode error", "participant", p.ID, "err", err)
	}
}

// finishUtterance freezes the accumulated PCM, bumps the generation so stale
// partials die, and enqueues the final job.
func (pl *Pipeline) finishUtterance(p *Participant, duration time.Duration) {
	pcm := p.utterance
	p.utterance = nil
	if len(pcm) == 0 {
		return
	}

	job := finalJob{
		pcm:        pcm,
		generation: p.generation.Load(),
		duration:   duration,
		route:      p.dir.Route(p),
	}
	p.generation.Add(1)

	select {
	case p.finals <- job:
	default:
		pl.log.Warn("finals queue full, dropping utterance",
			"participant", p.ID, "generation", job.generation)
		pl.metrics.RecordStageError(p.ctx, "asr", "queue_full")
	}
}

// maybeLaunchPartial starts an interim transcription when the participant has
// been speaking long enough and no other partial is in flight.
func (pl *Pipeline) maybeLaunchPartial(p *Participant) {
	minSamples := int(pl.cfg.PartialMin.Seconds() * audio.PipelineRate)
	if !p.seg.Speaking() || len(p.utterance) < minSamples {
		return
	}
	if !p.partialBusy.CompareAndSwap(false, true) {
		pl.metrics.RecordPartial(p.ctx, "skipped")
		return
	}

	pcm := append([]float32(nil), p.utterance...)
	generation := p.generation.Load()
	route := p.dir.Route(p)

	// Partials are droppable: when the pool is saturated the attempt is
	// skipped outright rather than queued behind finals. The goroutine only
	// exists to keep the model call off the read path.
	go func() {
		defer p.partialBusy.Store(false)
		if !pl.pool.TryDo(func() {
			pl.runPartial(p, pcm, generation, route)
		}) {
			pl.metrics.RecordPartial(p.ctx, "skipped")
		}
	}()
}

// runPartial executes the interim ASR (and optional MT) under a pool slot.
func (pl *Pipeline) runPartial(p *Participant, pcm []float32, generation uint64, route Route) {
	res, err := pl.transcribe(p.ctx, pcm, route.SourceLang)
	if err != nil {
		pl.recordStageFailure(p, "asr", err)
		return
	}
	if p.generation.Load() != generation {
		pl.metrics.RecordPartial(p.ctx, "stale")
		return
	}
	if res.Text == "" {
		return
	}

	out := Outcome{
		Generation: generation,
		Text:       res.Text,
		Language:   res.Language,
	}

	if pl.cfg.PartialTranslation && pl.wantsTranslation(route, res.Language) {
		translated, err := pl.translate(p.ctx, res.Text, res.Language, route.TargetLang)
		if err != nil {
			pl.recordStageFailure(p, "mt", err)
		} else if translated != "" {
			out.Translation = translated
			out.TargetLanguage = route.TargetLang
		}
	}

	if p.generation.Load() != generation {
		pl.metrics.RecordPartial(p.ctx, "stale")
		return
	}
	pl.metrics.RecordPartial(p.ctx, "emitted")
	p.dir.Deliver(p, out)
}

// finalsWorker processes one participant's finished utterances sequentially,
// which is what keeps final transcripts in utterance order on the wire.
func (pl *Pipeline) finalsWorker(p *Participant) {
	for job := range p.finals {
		if err := pl.pool.Do(p.ctx, func() { pl.runFinal(p, job) }); err != nil {
			return // context cancelled while waiting for a slot
		}
	}
}

// runFinal executes the full ASR → MT → TTS chain for one utterance under a
// pool slot. A stage timeout discards the utterance; the session continues.
func (pl *Pipeline) runFinal(p *Participant, job finalJob) {
	res, err := pl.transcribe(p.ctx, job.pcm, job.route.SourceLang)
	if err != nil {
		pl.recordStageFailure(p, "asr", err)
		return
	}
	if res.Text == "" {
		return
	}
	pl.metrics.RecordUtterance(p.ctx, res.Language)

	out := Outcome{
		Generation: job.generation,
		Final:      true,
		Text:       res.Text,
		Language:   res.Language,
		Duration:   job.duration,
	}

	if pl.wantsTranslation(job.route, res.Language) {
		translated, err := pl.translate(p.ctx, res.Text, res.Language, job.route.TargetLang)
		switch {
		case err != nil && resilience.IsTimeout(err):
			pl.recordStageFailure(p, "mt", err)
			return // budget blown — drop the utterance entirely
		case err != nil:
			pl.recordStageFailure(p, "mt", err)
			// Relay untranslated; the partner still sees the transcript.
		case translated != "":
			out.Translation = translated
			out.TargetLanguage = job.route.TargetLang
		}
	}

	if job.route.TTS && out.Translation != "" && pl.caps.TTS != nil {
		wav, err := pl.synthesize(p.ctx, out.Translation, out.TargetLanguage)
		switch {
		case err != nil && resilience.IsTimeout(err):
			pl.recordStageFailure(p, "tts", err)
			return
		case err != nil:
			pl.recordStageFailure(p, "tts", err)
		default:
			out.Audio = wav
		}
	}

	pl.log.Info("utterance finalised",
		"participant", p.ID,
		"generation", job.generation,
		"language", out.Language,
		"duration", job.duration,
		"translated", out.Translation != "",
		"tts_bytes", len(out.Audio),
	)
	p.dir.Deliver(p, out)
}

// wantsTranslation reports whether MT should run for this result.
func (pl *Pipeline) wantsTranslation(route Route, sourceLang string) bool {
	return pl.caps.MT != nil &&
		route.TargetLang != "" &&
		sourceLang != "" &&
		sourceLang != route.TargetLang
}

// transcribe runs ASR under its breaker and deadline.
func (pl *Pipeline) transcribe(ctx context.Context, pcm []float32, language string) (asr.Result, error) {
	if err := pl.breakers.asr.Allow(); err != nil {
		return asr.Result{}, err
	}
	var res asr.Result
	start := time.Now()
	err := resilience.WithTimeout(ctx, pl.cfg.ASRTimeout, "asr", func(ctx context.Context) error {
		var err error
		res, err = pl.caps.ASR.Transcribe(ctx, pcm, language)
		return err
	})
	pl.breakers.asr.Record(err)
	pl.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return asr.Result{}, err
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// translate runs MT under its breaker and deadline.
func (pl *Pipeline) translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := pl.breakers.mt.Allow(); err != nil {
		return "", err
	}
	var translated string
	start := time.Now()
	err := resilience.WithTimeout(ctx, pl.cfg.MTTimeout, "mt", func(ctx context.Context) error {
		var err error
		translated, err = pl.caps.MT.Translate(ctx, text, sourceLang, targetLang)
		return err
	})
	pl.breakers.mt.Record(err)
	pl.metrics.MTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(translated), nil
}

// synthesize runs TTS under its breaker and deadline.
func (pl *Pipeline) synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if err := pl.breakers.tts.Allow(); err != nil {
		return nil, err
	}
	var wav []byte
	start := time.Now()
	err := resilience.WithTimeout(ctx, pl.cfg.TTSTimeout, "tts", func(ctx context.Context) error {
		var err error
		wav, err = pl.caps.TTS.Synthesize(ctx, text, language)
		return err
	})
	pl.breakers.tts.Record(err)
	pl.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return wav, nil
}

// recordStageFailure logs and counts one stage failure. Timeouts and breaker
// refusals are classified separately: both are the recoverable
// capability_timeout / capability-unavailable family, not utterance bugs.
func (pl *Pipeline) recordStageFailure(p *Participant, stage string, err error) {
	reason := "error"
	switch {
	case resilience.IsOpen(err):
		reason = "circuit_open"
	case resilience.IsTimeout(err):
		reason = "timeout"
	}
	if p.ctx.Err() != nil {
		return // connection went away; not a capability problem
	}
	pl.log.Warn("pipeline stage failed", "participant", p.ID, "stage", stage, "reason", reason, "err", err)
	pl.metrics.RecordStageError(p.ctx, stage, reason)
}
