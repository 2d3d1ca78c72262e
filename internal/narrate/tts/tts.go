// Package tts defines the speech synthesis provider contract used by the
// narration orchestrator.
package tts

import "context"

// Result is one synthesized utterance.
type Result struct {
	// PCM is 16-bit little-endian mono audio.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// DurationMs is the audio duration in milliseconds.
	DurationMs int
}

// Provider synthesizes speech from text. Implementations must be safe for
// concurrent use and must honour ctx cancellation.
type Provider interface {
	// Synthesize renders text to audio.
	Synthesize(ctx context.Context, text string) (Result, error)

	// Close releases provider resources.
	Close() error
}
