// Package elevenlabs implements tts.Synthesizer over the ElevenLabs HTTP
// synthesis API. The API is asked for raw PCM at 22.05 kHz, which the adapter
// wraps into the WAV container the pipeline ships to clients.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	ttsEndpointFmt = "https://api.elevenlabs.io/v1/text-to-speech/%s"
	defaultModel   = "eleven_flash_v2_5"

	// outputFormat requests raw PCM16 at 22.05 kHz; the adapter adds the
	// RIFF header itself.
	outputFormat = "pcm_22050"
	outputRate   = 22050
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice maps an ISO 639-1 language code to an ElevenLabs voice ID.
func WithVoice(language, voiceID string) Option {
	return func(p *Provider) { p.voices[language] = voiceID }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Synthesizer backed by the ElevenLabs API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	model      string
	voices     map[string]string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		voices:     make(map[string]string),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON body for the text-to-speech endpoint.
type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize performs one synthesis request and returns a WAV blob.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	voiceID, ok := p.voices[language]
	if !ok {
		return nil, fmt.Errorf("elevenlabs: no voice configured for language %q", language)
	}

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: p.model})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	reqURL := fmt.Sprintf(ttsEndpointFmt, voiceID) + "?output_format=" + outputFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: synthesis returned status %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}

	wav, err := audio.EncodePCM16WAV(pcm, outputRate)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: wrap wav: %w", err)
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
