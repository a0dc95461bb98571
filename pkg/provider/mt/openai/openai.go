// Package openai implements mt.Translator over the OpenAI chat completions
// API. It is the hosted alternative to a self-managed LibreTranslate server:
// one short completion per utterance, with the model instructed to return the
// translation and nothing else.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/provider/mt"
)

// Compile-time interface assertion.
var _ mt.Translator = (*Translator)(nil)

const defaultModel = "gpt-4o-mini"

// languageNames maps the deployment's ISO 639-1 codes to the names used in
// the translation prompt.
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"pt": "Portuguese",
}

// Option is a functional option for configuring a Translator.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel overrides the default completion model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target an
// OpenAI-compatible local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Translator implements mt.Translator using chat completions.
type Translator struct {
	client oai.Client
	model  string
}

// New constructs a Translator with the given API key and options.
func New(apiKey string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai mt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Translator{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Translate requests one completion that carries only the translated text.
func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		return text, nil
	}

	srcName, ok := languageNames[sourceLang]
	if !ok {
		srcName = sourceLang
	}
	tgtName, ok := languageNames[targetLang]
	if !ok {
		return "", fmt.Errorf("openai mt: unsupported target language %q", targetLang)
	}

	system := fmt.Sprintf(
		"You are a translation engine. Translate the user's message from %s to %s. "+
			"Reply with the translation only — no quotes, no commentary.",
		srcName, tgtName,
	)

	resp, err := t.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai mt: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai mt: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Languages returns the codes the prompt table covers.
func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(languageNames))
	for code := range languageNames {
		langs = append(langs, code)
	}
	return langs
}
