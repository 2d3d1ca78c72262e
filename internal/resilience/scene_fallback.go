package resilience

import (
	"context"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// SceneFallback implements [scene.Provider] with automatic failover across
// multiple vision backends. The scene describer is the slowest and least
// reliable analyzer in the pipeline; breaking its circuit keeps the sampler
// tick from burning its budget on a dead endpoint.
type SceneFallback struct {
	group *FallbackGroup[scene.Provider]
}

var _ scene.Provider = (*SceneFallback)(nil)

// NewSceneFallback creates a [SceneFallback] with primary as the preferred
// backend.
func NewSceneFallback(primary scene.Provider, primaryName string, cfg FallbackConfig) *SceneFallback {
	return &SceneFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional scene provider as a fallback.
func (f *SceneFallback) AddFallback(name string, provider scene.Provider) {
	f.group.AddFallback(name, provider)
}

// WarmUp warms every registered provider; one healthy backend suffices.
func (f *SceneFallback) WarmUp(ctx context.Context) error {
	return f.group.Execute(func(p scene.Provider) error {
		return p.WarmUp(ctx)
	})
}

// Describe runs the first healthy provider against the frame.
func (f *SceneFallback) Describe(ctx context.Context, frame types.Frame) (types.SceneDescription, error) {
	return ExecuteWithResult(f.group, func(p scene.Provider) (types.SceneDescription, error) {
		return p.Describe(ctx, frame)
	})
}

// Close closes every registered provider, returning the first error.
func (f *SceneFallback) Close() error {
	var first error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
