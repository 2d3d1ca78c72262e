// Package scene defines the Provider interface for scene description
// backends.
//
// A scene describer turns one frame into semantic tags, a caption, and a
// coarse 1..5 interest level. It is the most expensive analyzer by far, so
// the sampling loop calls it at its own reduced cadence rather than every
// analysis tick; between calls the last description is reused with its
// interest decayed toward zero.
package scene

import (
	"context"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Provider is the abstraction over any scene description backend.
//
// Implementations must be safe for concurrent use: descriptions for several
// cameras may be requested in parallel.
type Provider interface {
	// WarmUp verifies credentials or loads models before the first call.
	WarmUp(ctx context.Context) error

	// Describe produces a scene description for one frame. Returning an
	// error wrapping [analyze.ErrUnavailable] means no description was
	// produced for this tick; the previous description stays in effect
	// until it decays.
	Describe(ctx context.Context, frame types.Frame) (types.SceneDescription, error)

	// Close releases provider resources.
	Close() error
}
