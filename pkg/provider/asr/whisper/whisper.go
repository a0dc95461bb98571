// Package whisper implements asr.Provider backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all concurrent
// transcriptions; each Transcribe call creates its own whisper context, which
// is the documented way to run the shared model from multiple goroutines.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/provider/asr"
)

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// autoLanguage is whisper.cpp's language-detection selector.
const autoLanguage = "auto"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTranslateToEnglish enables whisper's built-in translate task instead of
// plain transcription. Parley keeps this off and translates with a dedicated
// MT stage, but the knob is exposed for single-language deployments.
func WithTranslateToEnglish(enabled bool) Option {
	return func(p *Provider) { p.translate = enabled }
}

// Provider implements asr.Provider using a local whisper.cpp model.
type Provider struct {
	model     whisperlib.Model
	translate bool
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs inference over one utterance. language may be an ISO 639-1
// code or empty for auto-detection.
func (p *Provider) Transcribe(ctx context.Context, pcm []float32, language string) (asr.Result, error) {
	if len(pcm) == 0 {
		return asr.Result{Language: language}, nil
	}
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := language
	if lang == "" {
		lang = autoLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	wctx.SetTranslate(p.translate)

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return asr.Result{}, fmt.Errorf("whisper: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := language
	if lang := wctx.DetectedLanguage(); lang != "" {
		detected = lang
	}
	return asr.Result{
		Text:     strings.Join(parts, " "),
		Language: detected,
	}, nil
}
