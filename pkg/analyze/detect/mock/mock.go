// Package mock provides a scripted detect.Provider for tests and for
// running the full pipeline without an inference sidecar.
package mock

import (
	"context"
	"sync"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

// Provider returns scripted detections. When a per-camera script exists the
// next scripted result is consumed per call; otherwise Static is returned.
type Provider struct {
	mu sync.Mutex

	// Static is returned for cameras without a script.
	Static []types.Detection

	// Err, when set, is returned by every Detect call.
	Err error

	// WarmUpErr, when set, is returned by WarmUp.
	WarmUpErr error

	scripts map[types.CameraID][][]types.Detection
	calls   int
	closed  bool
}

// New returns an empty mock that reports no detections.
func New() *Provider {
	return &Provider{scripts: make(map[types.CameraID][][]types.Detection)}
}

// Script queues detection results for one camera, consumed in order by
// subsequent Detect calls. After the script is exhausted, Static applies.
func (p *Provider) Script(cam types.CameraID, results ...[]types.Detection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[cam] = append(p.scripts[cam], results...)
}

// Calls reports how many Detect calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) WarmUp(ctx context.Context) error { return p.WarmUpErr }

func (p *Provider) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	if queue := p.scripts[frame.CamID]; len(queue) > 0 {
		next := queue[0]
		p.scripts[frame.CamID] = queue[1:]
		return next, nil
	}
	return p.Static, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
