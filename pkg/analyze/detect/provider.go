// Package detect defines the Provider interface for per-frame object
// detection backends.
//
// A detector receives canonical RGB frames and returns bounding boxes with
// class labels and confidences. Detection is the hot path of the analysis
// tick, so providers get the tightest deadline of all analyzers; an
// implementation that cannot answer within the context deadline should
// return promptly rather than queue work.
package detect

import (
	"context"
	"slices"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Provider is the abstraction over any object detection backend.
//
// Implementations must be safe for concurrent use: the sampling loop calls
// Detect for several cameras in parallel.
type Provider interface {
	// WarmUp loads models or establishes connections so the first Detect
	// call does not pay setup cost. Called once before the analysis loop
	// starts.
	WarmUp(ctx context.Context) error

	// Detect runs object detection on one frame. An empty slice means "no
	// objects", which is a valid observation. Returning an error wrapping
	// [analyze.ErrUnavailable] means the detector produced no observation
	// for this tick.
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)

	// Close releases detector resources. Detect must not be called after
	// Close.
	Close() error
}

// Filter drops detections below minConfidence and, when classes is
// non-empty, detections whose class is not listed. The input slice is not
// modified.
func Filter(dets []types.Detection, minConfidence float64, classes []string) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < minConfidence {
			continue
		}
		if len(classes) > 0 && !slices.Contains(classes, d.Class) {
			continue
		}
		out = append(out, d)
	}
	return out
}
