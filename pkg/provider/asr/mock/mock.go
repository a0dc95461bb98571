// Package mock provides a scripted asr.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/asr"
)

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// Provider returns scripted transcripts in call order. When the script is
// exhausted the last entry repeats; an empty script echoes a fixed phrase so
// pipeline tests have something to assert on.
type Provider struct {
	// Script is the sequence of results returned by successive calls.
	Script []asr.Result

	// Delay simulates model latency before each result.
	Delay time.Duration

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// Transcribe returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, pcm []float32, language string) (asr.Result, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	if p.Err != nil {
		return asr.Result{}, p.Err
	}
	if len(pcm) == 0 {
		return asr.Result{Language: language}, nil
	}
	if len(p.Script) == 0 {
		lang := language
		if lang == "" {
			lang = "en"
		}
		return asr.Result{Text: "hello world", Language: lang}, nil
	}
	r := p.Script[min(call, len(p.Script)-1)]
	if r.Language == "" {
		r.Language = language
	}
	return r, nil
}

// Calls returns how many transcriptions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
