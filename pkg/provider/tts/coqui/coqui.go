// Package coqui implements tts.Synthesizer against a locally-running Coqui
// TTS server (ghcr.io/coqui-ai/tts-cpu) via its GET /api/tts REST endpoint.
// The server answers with a complete WAV blob, which is exactly what the
// pipeline forwards, so the response passes through unmodified.
//
// One speaker is configured per language; multi-speaker models select the
// voice with the speaker_id query parameter.
package coqui

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	defaultTimeout = 15 * time.Second
	apiTTSEndpoint = "/api/tts"
)

// Voice selects the model speaker for one language.
type Voice struct {
	// SpeakerID is the speaker_id query value; empty for single-speaker
	// models.
	SpeakerID string

	// LanguageID is the language_id query value for multilingual models;
	// empty when the model is monolingual.
	LanguageID string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithVoice maps an ISO 639-1 language code to a model voice.
func WithVoice(language string, voice Voice) Option {
	return func(p *Provider) { p.voices[language] = voice }
}

// Provider implements tts.Synthesizer backed by a Coqui TTS server.
// Safe for concurrent use.
type Provider struct {
	serverURL  string
	httpClient *http.Client
	voices     map[string]Voice
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		voices:     make(map[string]Voice),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs one GET /api/tts request and returns the WAV response.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	voice, ok := p.voices[language]
	if !ok && len(p.voices) > 0 {
		return nil, fmt.Errorf("coqui: no voice configured for language %q", language)
	}

	params := url.Values{}
	params.Set("text", text)
	if voice.SpeakerID != "" {
		params.Set("speaker_id", voice.SpeakerID)
	}
	if voice.LanguageID != "" {
		params.Set("language_id", voice.LanguageID)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// Languages returns the codes a voice is configured for.
func (p *Provider) Languages() []string {
	langs := make([]string, 0, len(p.voices))
	for code := range p.voices {
		langs = append(langs, code)
	}
	return langs
}
