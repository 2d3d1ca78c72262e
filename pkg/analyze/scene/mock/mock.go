// Package mock provides a scripted scene.Provider for tests and for running
// the pipeline without vision API credentials.
package mock

import (
	"context"
	"sync"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ scene.Provider = (*Provider)(nil)

// Provider returns scripted scene descriptions per camera, falling back to
// Static when no script entry remains.
type Provider struct {
	mu sync.Mutex

	// Static is returned for cameras without a script.
	Static types.SceneDescription

	// Err, when set, is returned by every Describe call.
	Err error

	scripts map[types.CameraID][]types.SceneDescription
	calls   int
}

// New returns a mock whose Static description is a neutral, low-interest
// scene.
func New() *Provider {
	return &Provider{
		Static:  types.SceneDescription{Interest: 1, Confidence: 1},
		scripts: make(map[types.CameraID][]types.SceneDescription),
	}
}

// Script queues descriptions for one camera, consumed in order.
func (p *Provider) Script(cam types.CameraID, descs ...types.SceneDescription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[cam] = append(p.scripts[cam], descs...)
}

// Calls reports how many Describe calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) WarmUp(ctx context.Context) error { return nil }

func (p *Provider) Describe(ctx context.Context, frame types.Frame) (types.SceneDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return types.SceneDescription{}, p.Err
	}
	if queue := p.scripts[frame.CamID]; len(queue) > 0 {
		next := queue[0]
		p.scripts[frame.CamID] = queue[1:]
		return next, nil
	}
	return p.Static, nil
}

func (p *Provider) Close() error { return nil }
