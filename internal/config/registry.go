package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shotcaller-ai/shotcaller/internal/narrate"
	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	detector map[string]func(ProviderEntry) (detect.Provider, error)
	scene    map[string]func(ProviderEntry) (scene.Provider, error)
	speech   map[string]func(ProviderEntry) (speech.Provider, error)
	tts      map[string]func(ProviderEntry) (tts.Provider, error)
	rewriter map[string]func(ProviderEntry) (narrate.Rewriter, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		detector: make(map[string]func(ProviderEntry) (detect.Provider, error)),
		scene:    make(map[string]func(ProviderEntry) (scene.Provider, error)),
		speech:   make(map[string]func(ProviderEntry) (speech.Provider, error)),
		tts:      make(map[string]func(ProviderEntry) (tts.Provider, error)),
		rewriter: make(map[string]func(ProviderEntry) (narrate.Rewriter, error)),
	}
}

// RegisterDetector registers an object detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDetector(name string, factory func(ProviderEntry) (detect.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector[name] = factory
}

// RegisterScene registers a scene describer factory under name.
func (r *Registry) RegisterScene(name string, factory func(ProviderEntry) (scene.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scene[name] = factory
}

// RegisterSpeech registers a speech recognizer factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterRewriter registers a narration rewriter factory under name.
func (r *Registry) RegisterRewriter(name string, factory func(ProviderEntry) (narrate.Rewriter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewriter[name] = factory
}

// CreateDetector builds the detector selected by entry.Name.
func (r *Registry) CreateDetector(entry ProviderEntry) (detect.Provider, error) {
	r.mu.RLock()
	factory, ok := r.detector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return factory(entry)
}

// CreateScene builds the scene describer selected by entry.Name.
func (r *Registry) CreateScene(entry ProviderEntry) (scene.Provider, error) {
	r.mu.RLock()
	factory, ok := r.scene[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scene %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return factory(entry)
}

// CreateSpeech builds the speech recognizer selected by entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("speech %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return factory(entry)
}

// CreateTTS builds the synthesizer selected by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tts %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return factory(entry)
}

// CreateRewriter builds the rewriter selected by entry.Name.
func (r *Registry) CreateRewriter(entry ProviderEntry) (narrate.Rewriter, error) {
	r.mu.RLock()
	factory, ok := r.rewriter[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rewriter %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return factory(entry)
}
