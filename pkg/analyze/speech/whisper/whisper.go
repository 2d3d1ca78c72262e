// Package whisper provides a speech recognizer backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at startup and shared across all cameras; each
// Transcribe call runs on a fresh whisper context because contexts are not
// safe for concurrent use while the model is.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
	"github.com/shotcaller-ai/shotcaller/pkg/media"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ speech.Provider = (*Provider)(nil)

const defaultLanguage = "en"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements speech.Provider using the whisper.cpp Go bindings.
type Provider struct {
	model    whisperlib.Model
	language string
}

// New creates a Provider loading the whisper.cpp model from modelPath. The
// caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// WarmUp is a no-op; the model is loaded eagerly in [New].
func (p *Provider) WarmUp(ctx context.Context) error { return nil }

type inferResult struct {
	seg types.SpeechSegment
	err error
}

// Transcribe runs batch inference on one audio window. Inference is cgo and
// cannot be interrupted, so a deadline miss abandons the in-flight call and
// reports the window as unavailable; the goroutine finishes in the
// background and its result is discarded.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (types.SpeechSegment, error) {
	done := make(chan inferResult, 1)
	go func() {
		seg, err := p.infer(chunk)
		done <- inferResult{seg, err}
	}()

	select {
	case r := <-done:
		return r.seg, r.err
	case <-ctx.Done():
		return types.SpeechSegment{}, fmt.Errorf("whisper: %v: %w", ctx.Err(), analyze.ErrUnavailable)
	}
}

func (p *Provider) infer(chunk types.AudioChunk) (types.SpeechSegment, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return types.SpeechSegment{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		return types.SpeechSegment{}, fmt.Errorf("whisper: set language %q: %w", p.language, err)
	}

	if err := wctx.Process(pcmToFloat32(chunk.PCM), nil, nil, nil); err != nil {
		return types.SpeechSegment{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		words []types.WordTiming
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.SpeechSegment{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		words = append(words, types.WordTiming{
			Word:  text,
			Start: segment.Start,
			End:   segment.End,
		})
	}

	return types.SpeechSegment{
		Text:     strings.Join(parts, " "),
		StartTs:  chunk.Timestamp,
		EndTs:    chunk.Timestamp.Add(chunk.Duration()),
		Words:    words,
		EnergyDb: media.EnergyDb(chunk.PCM),
	}, nil
}

// Close releases the shared model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// pcmToFloat32 converts 16-bit little-endian mono PCM to the normalized
// float32 samples whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	samples := len(pcm) / 2
	out := make([]float32, samples)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
