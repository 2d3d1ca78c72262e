// Package speech defines the Provider interface for speech recognition
// backends.
//
// A recognizer consumes one canonical audio window (16-bit mono PCM at the
// analysis sample rate) and returns the transcribed segment. Recognition
// runs in batch per window; the overlap between consecutive windows is what
// keeps words on window boundaries from being cut.
package speech

import (
	"context"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Provider is the abstraction over any speech recognition backend.
//
// Implementations must be safe for concurrent use: windows from several
// cameras are transcribed in parallel.
type Provider interface {
	// WarmUp loads the recognition model before the first call.
	WarmUp(ctx context.Context) error

	// Transcribe recognizes one audio window. An empty Text with a valid
	// EnergyDb is a legitimate result for silent or non-speech audio.
	// Returning an error wrapping [analyze.ErrUnavailable] means no
	// observation was produced for this window.
	Transcribe(ctx context.Context, chunk types.AudioChunk) (types.SpeechSegment, error)

	// Close releases the model and any sessions.
	Close() error
}
