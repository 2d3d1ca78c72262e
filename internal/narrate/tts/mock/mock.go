// Package mock provides a scripted tts.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a deterministic synthesizer: every call returns Result after
// an optional Delay, or Err when set. All synthesized texts are recorded.
type Provider struct {
	mu     sync.Mutex
	texts  []string
	closed bool

	// Result is returned on every successful call.
	Result tts.Result

	// Delay is slept (cancellation-aware) before returning.
	Delay time.Duration

	// Err, when non-nil, fails every call.
	Err error
}

// New returns a mock producing 100 ms of silence at 22.05 kHz.
func New() *Provider {
	return &Provider{
		Result: tts.Result{
			PCM:        make([]byte, 22050/10*2),
			SampleRate: 22050,
			DurationMs: 100,
		},
	}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return tts.Result{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return tts.Result{}, p.Err
	}
	p.texts = append(p.texts, text)
	return p.Result, nil
}

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Texts returns a copy of all synthesized texts so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
