// Package sampler drives the per-camera analysis tick: it samples the
// latest media from ingress, fans the modalities out over a bounded worker
// pool, and maintains an immutable observation per camera for the ranker to
// read. A slow or failing analyzer costs its own modality only; the tick
// never waits past the per-modality deadlines.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech/keyword"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/track"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Source is the slice of the ingress adapter the sampler needs.
type Source interface {
	Cameras() []types.CameraID
	Sample(cam types.CameraID) (types.Frame, bool)
	AudioWindow(cam types.CameraID) (types.AudioChunk, bool)
	Degraded() bool
}

// speechRetention is how long transcribed segments and keyword hits stay in
// an observation before aging out.
const speechRetention = 5 * time.Second

// speechActiveGrace treats a camera as mid-speech for this long after its
// last transcribed word.
const speechActiveGrace = 300 * time.Millisecond

// Observation is one camera's current analysis state. Instances are
// immutable once published; a new tick swaps in a fresh value.
type Observation struct {
	Cam types.CameraID

	// FrameTs is the capture time of the frame analyzed last.
	FrameTs time.Time

	// Tracks are the camera's active tracks; MainSubject is the selected
	// subject among them, nil when none.
	Tracks      []types.Track
	MainSubject *types.Track

	// Scene is the most recent scene description with its production time.
	// Nil until the first successful describe.
	Scene   *types.SceneDescription
	SceneAt time.Time

	// Speech holds the retained recent segments, newest last. EnergyDb is
	// the latest window's energy; Keywords the keywords matched within the
	// retention span.
	Speech   []types.SpeechSegment
	EnergyDb float64
	Keywords []string

	// LastWordEnd is when the most recent transcribed speech ended.
	LastWordEnd time.Time

	// DetectOK, SceneOK and SpeechOK report whether each modality has a
	// usable observation. Degraded mirrors the ingress connection state at
	// analysis time.
	DetectOK bool
	SceneOK  bool
	SpeechOK bool
	Degraded bool

	// UpdatedAt is when this observation was published.
	UpdatedAt time.Time
}

// SpeechActive reports whether the camera is mid-speech at now.
func (o *Observation) SpeechActive(now time.Time) bool {
	return !o.LastWordEnd.IsZero() && now.Sub(o.LastWordEnd) < speechActiveGrace
}

// Config tunes the sampling loop.
type Config struct {
	AnalysisHz          float64
	MaxParallel         int
	ConfidenceThreshold float64
	ClassFilter         []string
	FrameWidth          int
	FrameHeight         int

	SceneInterval   time.Duration
	DetectorTimeout time.Duration
	SceneTimeout    time.Duration
	SpeechTimeout   time.Duration
}

type camAnalysis struct {
	tracker     *track.Tracker
	lastSceneAt time.Time
}

// Sampler owns the analysis loop. Construct with New, then Run.
type Sampler struct {
	src      Source
	detector detect.Provider
	scener   scene.Provider
	speecher speech.Provider
	keywords *keyword.Matcher
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics

	detectHealth *analyze.Tracker
	sceneHealth  *analyze.Tracker
	speechHealth *analyze.Tracker

	mu   sync.RWMutex
	cams map[types.CameraID]*camAnalysis
	obs  map[types.CameraID]*Observation

	now func() time.Time
}

// Option is a functional option for New.
type Option func(*Sampler)

// WithMetrics injects the metric instrument set. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// New assembles a Sampler. Any provider may be nil; the corresponding
// modality then reports unavailable for every camera.
func New(src Source, detector detect.Provider, scener scene.Provider, speecher speech.Provider, keywords *keyword.Matcher, cfg Config, log *slog.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		src:          src,
		detector:     detector,
		scener:       scener,
		speecher:     speecher,
		keywords:     keywords,
		cfg:          cfg,
		log:          log,
		detectHealth: analyze.NewTracker(0),
		sceneHealth:  analyze.NewTracker(0),
		speechHealth: analyze.NewTracker(0),
		cams:         make(map[types.CameraID]*camAnalysis),
		obs:          make(map[types.CameraID]*Observation),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// WarmUp brings all configured analyzers to Ready. A provider whose warm-up
// fails is marked dead and its modality stays unavailable; warm-up of the
// others continues.
func (s *Sampler) WarmUp(ctx context.Context) {
	warm := func(name string, health *analyze.Tracker, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		health.MarkWarming()
		if err := fn(ctx); err != nil {
			health.MarkDead()
			s.log.Error("analyzer warm up failed", "analyzer", name, "error", err)
			return
		}
		health.MarkReady()
		s.log.Info("analyzer ready", "analyzer", name)
	}

	if s.detector != nil {
		warm("detector", s.detectHealth, s.detector.WarmUp)
	}
	if s.scener != nil {
		warm("scene", s.sceneHealth, s.scener.WarmUp)
	}
	if s.speecher != nil {
		warm("speech", s.speechHealth, s.speecher.WarmUp)
	}
}

// Run executes analysis ticks until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / s.cfg.AnalysisHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick analyzes every current camera once. Exported so tests can step the
// loop deterministically.
func (s *Sampler) Tick(ctx context.Context) {
	cameras := s.src.Cameras()
	s.prune(cameras)

	limit := s.cfg.MaxParallel
	if limit <= 0 {
		limit = len(cameras) * 2
	}
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	g, gctx := errgroup.WithContext(ctx)
	for _, cam := range cameras {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			s.analyzeCamera(gctx, cam)
			return nil
		})
	}
	g.Wait()
}

// prune drops analysis state for cameras that left the room.
func (s *Sampler) prune(current []types.CameraID) {
	known := make(map[types.CameraID]bool, len(current))
	for _, cam := range current {
		known[cam] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for cam := range s.cams {
		if !known[cam] {
			delete(s.cams, cam)
			delete(s.obs, cam)
		}
	}
	for _, cam := range current {
		if _, ok := s.cams[cam]; !ok {
			s.cams[cam] = &camAnalysis{tracker: track.New()}
		}
	}
}

func (s *Sampler) analyzeCamera(ctx context.Context, cam types.CameraID) {
	s.mu.RLock()
	ca := s.cams[cam]
	prev := s.obs[cam]
	s.mu.RUnlock()
	if ca == nil {
		return
	}

	now := s.now()
	next := &Observation{Cam: cam, UpdatedAt: now, Degraded: s.src.Degraded()}
	if prev != nil {
		next.Scene = prev.Scene
		next.SceneAt = prev.SceneAt
		next.SceneOK = prev.SceneOK
		next.Speech = prev.Speech
		next.Keywords = prev.Keywords
		next.EnergyDb = prev.EnergyDb
		next.SpeechOK = prev.SpeechOK
		next.LastWordEnd = prev.LastWordEnd
		next.FrameTs = prev.FrameTs
	}

	frame, haveFrame := s.src.Sample(cam)

	var wg sync.WaitGroup
	var sceneMu sync.Mutex

	if haveFrame {
		next.FrameTs = frame.Timestamp

		if s.detector != nil && s.detectHealth.Callable() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dctx, cancel := context.WithTimeout(ctx, s.cfg.DetectorTimeout)
				defer cancel()
				start := time.Now()
				dets, err := s.detector.Detect(dctx, frame)
				s.metrics.RecordAnalyzerDuration(ctx, "detector", string(cam), time.Since(start).Seconds())
				if err != nil {
					s.modalityFailure(ctx, "detector", s.detectHealth, cam, err)
					return
				}
				s.detectHealth.MarkReady()
				dets = detect.Filter(dets, s.cfg.ConfidenceThreshold, s.cfg.ClassFilter)
				sceneMu.Lock()
				next.Tracks = ca.tracker.Update(frame.Timestamp, dets)
				if main, ok := ca.tracker.MainSubject(s.cfg.FrameWidth, s.cfg.FrameHeight); ok {
					next.MainSubject = &main
				}
				next.DetectOK = true
				sceneMu.Unlock()
			}()
		}

		if s.scener != nil && s.sceneHealth.Callable() && now.Sub(ca.lastSceneAt) >= s.cfg.SceneInterval {
			ca.lastSceneAt = now
			wg.Add(1)
			go func() {
				defer wg.Done()
				sctx, cancel := context.WithTimeout(ctx, s.cfg.SceneTimeout)
				defer cancel()
				start := time.Now()
				desc, err := s.scener.Describe(sctx, frame)
				s.metrics.RecordAnalyzerDuration(ctx, "scene", string(cam), time.Since(start).Seconds())
				if err != nil {
					s.modalityFailure(ctx, "scene", s.sceneHealth, cam, err)
					return
				}
				s.sceneHealth.MarkReady()
				sceneMu.Lock()
				next.Scene = &desc
				next.SceneAt = now
				next.SceneOK = true
				sceneMu.Unlock()
			}()
		}
	}

	if chunk, ok := s.src.AudioWindow(cam); ok && s.speecher != nil && s.speechHealth.Callable() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, s.cfg.SpeechTimeout)
			defer cancel()
			start := time.Now()
			seg, err := s.speecher.Transcribe(actx, chunk)
			s.metrics.RecordAnalyzerDuration(ctx, "speech", string(cam), time.Since(start).Seconds())
			if err != nil {
				s.modalityFailure(ctx, "speech", s.speechHealth, cam, err)
				return
			}
			s.speechHealth.MarkReady()
			if s.keywords != nil && seg.Text != "" {
				seg.Keywords = s.keywords.Match(seg.Text)
			}
			sceneMu.Lock()
			next.EnergyDb = seg.EnergyDb
			next.SpeechOK = true
			if seg.Text != "" {
				next.Speech = appendSegment(next.Speech, seg, now)
				next.Keywords = recentKeywords(next.Speech)
				next.LastWordEnd = seg.EndTs
			}
			sceneMu.Unlock()
		}()
	}

	wg.Wait()

	// Expire retained speech regardless of whether new audio arrived.
	next.Speech = expireSegments(next.Speech, now)
	next.Keywords = recentKeywords(next.Speech)

	s.mu.Lock()
	s.obs[cam] = next
	s.mu.Unlock()
}

func (s *Sampler) modalityFailure(ctx context.Context, name string, health *analyze.Tracker, cam types.CameraID, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.metrics.RecordAnalyzerError(ctx, name, string(cam))
	if health.MarkFailure() {
		s.log.Error("analyzer unavailable", "analyzer", name, "camId", cam, "error", err)
		return
	}
	s.log.Warn("analyzer call failed", "analyzer", name, "camId", cam, "error", err)
}

func appendSegment(segs []types.SpeechSegment, seg types.SpeechSegment, now time.Time) []types.SpeechSegment {
	out := append(append([]types.SpeechSegment(nil), segs...), seg)
	return expireSegments(out, now)
}

func expireSegments(segs []types.SpeechSegment, now time.Time) []types.SpeechSegment {
	cutoff := now.Add(-speechRetention)
	i := 0
	for i < len(segs) && segs[i].EndTs.Before(cutoff) {
		i++
	}
	if i == 0 {
		return segs
	}
	return append([]types.SpeechSegment(nil), segs[i:]...)
}

func recentKeywords(segs []types.SpeechSegment) []string {
	var out []string
	seen := make(map[string]bool)
	for _, seg := range segs {
		for _, kw := range seg.Keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

// Observation returns the current observation for cam, nil when unknown.
func (s *Sampler) Observation(cam types.CameraID) *Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs[cam]
}

// Observations returns a snapshot map of all current observations.
func (s *Sampler) Observations() map[types.CameraID]*Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.CameraID]*Observation, len(s.obs))
	for cam, o := range s.obs {
		out[cam] = o
	}
	return out
}

// Health reports the lifecycle state of each analyzer modality.
func (s *Sampler) Health() map[string]analyze.State {
	return map[string]analyze.State{
		"detector": s.detectHealth.State(),
		"scene":    s.sceneHealth.State(),
		"speech":   s.speechHealth.State(),
	}
}

// Close closes all configured providers.
func (s *Sampler) Close() error {
	var errs []error
	if s.detector != nil {
		errs = append(errs, s.detector.Close())
	}
	if s.scener != nil {
		errs = append(errs, s.scener.Close())
	}
	if s.speecher != nil {
		errs = append(errs, s.speecher.Close())
	}
	return errors.Join(errs...)
}
