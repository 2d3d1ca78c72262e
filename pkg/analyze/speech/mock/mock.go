// Package mock provides a scripted speech.Provider for tests and for
// running the pipeline without a loaded whisper model.
package mock

import (
	"context"
	"sync"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
	"github.com/shotcaller-ai/shotcaller/pkg/media"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ speech.Provider = (*Provider)(nil)

// Provider returns scripted transcriptions per camera. Cameras without a
// script get an empty transcript whose energy is computed from the actual
// PCM, which keeps energy-driven tests honest.
type Provider struct {
	mu sync.Mutex

	// Err, when set, is returned by every Transcribe call.
	Err error

	scripts map[types.CameraID][]types.SpeechSegment
	calls   int
}

// New returns an empty mock.
func New() *Provider {
	return &Provider{scripts: make(map[types.CameraID][]types.SpeechSegment)}
}

// Script queues segments for one camera, consumed in order.
func (p *Provider) Script(cam types.CameraID, segs ...types.SpeechSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[cam] = append(p.scripts[cam], segs...)
}

// Calls reports how many Transcribe calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) WarmUp(ctx context.Context) error { return nil }

func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (types.SpeechSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return types.SpeechSegment{}, p.Err
	}
	if queue := p.scripts[chunk.CamID]; len(queue) > 0 {
		next := queue[0]
		p.scripts[chunk.CamID] = queue[1:]
		return next, nil
	}
	return types.SpeechSegment{
		StartTs:  chunk.Timestamp,
		EndTs:    chunk.Timestamp.Add(chunk.Duration()),
		EnergyDb: media.EnergyDb(chunk.PCM),
	}, nil
}

func (p *Provider) Close() error { return nil }
