package resilience

import (
	"context"

	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker, so
// a repeatedly failing Piper instance is bypassed without stalling
// narration.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text using the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Result, error) {
		return p.Synthesize(ctx, text)
	})
}

// Close closes every registered provider, returning the first error.
func (f *TTSFallback) Close() error {
	var first error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
