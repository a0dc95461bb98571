// Package mock provides a scripted mt.Translator for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/mt"
)

// Compile-time interface assertion.
var _ mt.Translator = (*Translator)(nil)

// Translator translates by table lookup, falling back to a deterministic
// "[tgt] text" rendering so assertions stay readable.
type Translator struct {
	// Table maps source text to its translation, keyed per target language.
	Table map[string]map[string]string

	// Delay simulates model latency before each result.
	Delay time.Duration

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// Translate returns the scripted translation.
func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if t.Err != nil {
		return "", t.Err
	}
	if sourceLang == targetLang {
		return text, nil
	}
	if byTarget, ok := t.Table[targetLang]; ok {
		if translated, ok := byTarget[text]; ok {
			return translated, nil
		}
	}
	return fmt.Sprintf("[%s] %s", targetLang, strings.TrimSpace(text)), nil
}

// Languages mirrors the deployment's supported set.
func (t *Translator) Languages() []string {
	return []string{"en", "es", "pt"}
}

// Calls returns how many translations were requested.
func (t *Translator) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
