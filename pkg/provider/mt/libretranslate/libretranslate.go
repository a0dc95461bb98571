// Package libretranslate implements mt.Translator against a LibreTranslate-
// compatible HTTP endpoint (self-hosted LibreTranslate, or any server
// speaking its /translate contract such as an NLLB bridge).
package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/mt"
)

// Compile-time interface assertion.
var _ mt.Translator = (*Client)(nil)

const defaultTimeout = 8 * time.Second

// supportedLanguages is the language set the Parley deployment targets.
var supportedLanguages = []string{"en", "es", "pt"}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. Defaults to 8 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAPIKey sets the api_key field sent with every request, for hosted
// LibreTranslate instances that require one.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// Client implements mt.Translator over the LibreTranslate REST API.
// Safe for concurrent use.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// New creates a client for the server at base (e.g. "http://localhost:5000").
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("libretranslate: base URL must not be empty")
	}
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// translateRequest is the LibreTranslate /translate payload.
type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// translateResponse is the LibreTranslate /translate response body.
type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate posts one translation request. Identical source and target return
// the input unchanged without a network round trip.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		return text, nil
	}

	src := sourceLang
	if src == "" {
		src = "auto"
	}

	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: src,
		Target: targetLang,
		Format: "text",
		APIKey: c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("libretranslate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("libretranslate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("libretranslate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("libretranslate: http %d for %s→%s", resp.StatusCode, src, targetLang)
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("libretranslate: decode response: %w", err)
	}
	return strings.TrimSpace(tr.TranslatedText), nil
}

// Languages returns the deployment's supported language codes.
func (c *Client) Languages() []string {
	return append([]string(nil), supportedLanguages...)
}
