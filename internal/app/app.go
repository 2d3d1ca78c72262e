// Package app wires all Shotcaller subsystems into a running auto-director.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises the pipeline loops, and Shutdown tears
// everything down in order.
//
// For testing, inject fakes via functional options (WithMediaRoom,
// WithClock). Providers come from main.go via the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/internal/config"
	"github.com/shotcaller-ai/shotcaller/internal/director"
	"github.com/shotcaller-ai/shotcaller/internal/health"
	"github.com/shotcaller-ai/shotcaller/internal/ingress"
	"github.com/shotcaller-ai/shotcaller/internal/narrate"
	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/internal/ranker"
	"github.com/shotcaller-ai/shotcaller/internal/sampler"
	"github.com/shotcaller-ai/shotcaller/internal/server"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech/keyword"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and its modality degrades gracefully.
// Populated by main.go via the config registry.
type Providers struct {
	Room     ingress.MediaRoom
	Detector detect.Provider
	Scene    scene.Provider
	Speech   speech.Provider
	TTS      tts.Provider
	Rewriter narrate.Rewriter
}

// App owns all subsystem lifetimes and supervises the pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	bus      *bus.Bus
	adapter  *ingress.Adapter
	sampler  *sampler.Sampler
	ranker   *ranker.Ranker
	director *director.Director
	narrator *narrate.Orchestrator
	server   *server.Server

	// ready flips once the pipeline loops are running; the control API
	// rejects mutations with 503 before that.
	ready atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics injects the metric instrument set. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go, populated via the config registry.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers.Room == nil {
		return nil, errors.New("app: no media room configured (ingress.url)")
	}

	a.initBus()
	a.initIngress()
	a.initAnalysis()
	if err := a.initRanking(); err != nil {
		return nil, err
	}
	a.initNarration()
	a.initServer()

	return a, nil
}

// initBus creates the event bus with the drop counter wired in.
func (a *App) initBus() {
	m := a.metrics
	a.bus = bus.New(bus.WithDropHandler(func(topic bus.Topic) {
		m.BusDropped.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("topic", string(topic))))
	}))
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		return nil
	})
}

// initIngress creates the room adapter producing canonical media.
func (a *App) initIngress() {
	ing := a.cfg.Ingress
	a.adapter = ingress.New(a.providers.Room, ingress.Config{
		CamPrefix:   ing.CamPrefix,
		MaxCameras:  ing.MaxCameras,
		FrameWidth:  ing.FrameWidth,
		FrameHeight: ing.FrameHeight,
		SampleRate:  ing.AudioSampleRate,
		WindowSec:   ing.AudioWindowSec,
		OverlapSec:  ing.AudioOverlapSec,
	}, a.log, ingress.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.adapter.Close)
}

// initAnalysis creates the analyzer sampling loop and the decision engine
// that consumes its speech activity.
func (a *App) initAnalysis() {
	an := a.cfg.Analyzers
	a.sampler = sampler.New(
		a.adapter,
		a.providers.Detector,
		a.providers.Scene,
		a.providers.Speech,
		keyword.New(a.cfg.Keywords),
		sampler.Config{
			AnalysisHz:          a.cfg.Rates.AnalysisHz,
			MaxParallel:         an.MaxParallel,
			ConfidenceThreshold: an.ConfidenceThreshold,
			ClassFilter:         an.ClassFilter,
			FrameWidth:          a.cfg.Ingress.FrameWidth,
			FrameHeight:         a.cfg.Ingress.FrameHeight,
			SceneInterval:       time.Duration(an.SceneIntervalMs) * time.Millisecond,
			DetectorTimeout:     time.Duration(an.DetectorTimeoutMs) * time.Millisecond,
			SceneTimeout:        time.Duration(an.SceneTimeoutMs) * time.Millisecond,
			SpeechTimeout:       time.Duration(an.SpeechTimeoutMs) * time.Millisecond,
		},
		a.log,
		sampler.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.sampler.Close)

	p := a.cfg.Policy
	a.director = director.New(director.Policy{
		MinHold:             durSec(p.MinHoldSec),
		Cooldown:            durSec(p.CooldownSec),
		DeltaSThreshold:     p.DeltaSThreshold,
		MaxShotDuration:     durSec(p.MaxShotDurationSec),
		EnableHysteresis:    p.EnableHysteresis,
		EnableCooldown:      p.EnableCooldown,
		EnableSpeech:        p.EnableSpeechAlign,
		PingPongWindow:      p.PingPongWindow,
		PingPongMaxRevisits: p.PingPongMaxRevisits,
		MaxDeferTicks:       p.MaxDeferTicks,
		StalenessWindow:     durSec(p.StalenessWindowSec),
		HoldPublishSample:   p.HoldPublishSample,
	}, a.cfg.Rates.DecisionHz, samplerSpeech{a.sampler}, a.bus, a.log,
		director.WithMetrics(a.metrics))
}

// initRanking creates the fusion scorer and the ranking loop.
func (a *App) initRanking() error {
	w := a.cfg.Weights
	scorer, err := ranker.NewScorer(a.cfg.Ranker.Scorer, ranker.Weights{
		FaceSalience:       w.FaceSalience,
		MotionSalience:     w.MotionSalience,
		MainSubjectOverlap: w.MainSubjectOverlap,
		SpeechEnergy:       w.SpeechEnergy,
		KeywordBoost:       w.KeywordBoost,
		FramingScore:       w.FramingScore,
		NoveltyDecay:       w.NoveltyDecay,
		ContinuityBonus:    w.ContinuityBonus,
		Interest:           w.Interest,
	})
	if err != nil {
		return fmt.Errorf("app: init ranker: %w", err)
	}

	r := a.cfg.Ranker
	a.ranker = ranker.New(a.sampler, a.director, scorer, ranker.FeatureParams{
		VMaxPxPerSec:  r.VMaxPxPerSec,
		NoveltyTau:    durSec(r.NoveltyTauSec),
		KeywordK:      r.KeywordK,
		InterestDecay: durSec(r.InterestDecaySec),
		FrameWidth:    a.cfg.Ingress.FrameWidth,
		FrameHeight:   a.cfg.Ingress.FrameHeight,
	}, a.cfg.Rates.RankingHz, a.bus, a.log)
	return nil
}

// initNarration creates the narration orchestrator. A nil TTS provider
// yields text-only narrations.
func (a *App) initNarration() {
	n := a.cfg.Narration
	a.narrator = narrate.New(a.providers.TTS, a.providers.Rewriter, narrate.Config{
		MaxWords: n.MaxWords,
		Budget:   time.Duration(n.MaxTTSLatencyMs) * time.Millisecond,
	}, a.bus, a.log, narrate.WithMetrics(a.metrics))
	if a.providers.TTS != nil {
		a.closers = append(a.closers, a.providers.TTS.Close)
	}
}

// initServer assembles the control API around the decision engine.
func (a *App) initServer() {
	checkers := []health.Checker{
		health.IngressChecker(a.adapter.Connected),
	}
	for _, modality := range []string{"detector", "scene", "speech"} {
		checkers = append(checkers, health.AnalyzerChecker(modality, a.analyzerReady(modality)))
	}

	a.server = server.New(a.cfg, a.director, a.bus,
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checkers...)),
		server.WithReadiness(a.ready.Load),
	)
}

// analyzerReady reports a modality as healthy while its provider is absent
// (nothing to probe) or its tracker is not dead.
func (a *App) analyzerReady(modality string) func() bool {
	return func() bool {
		state, ok := a.sampler.Health()[modality]
		if !ok {
			return true
		}
		return state != analyze.Dead
	}
}

// Run warms the analyzers, starts every pipeline loop, and blocks until ctx
// is cancelled or a loop fails. Context cancellation is a clean exit.
func (a *App) Run(ctx context.Context) error {
	a.adapter.Start(ctx)
	a.sampler.WarmUp(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sampler.Run(ctx) })
	g.Go(func() error { return a.ranker.Run(ctx) })
	g.Go(func() error { return a.director.Run(ctx) })
	g.Go(func() error { return a.narrator.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })

	a.ready.Store(true)
	a.log.Info("shotcaller running",
		"cameras_max", a.cfg.Ingress.MaxCameras,
		"listen", a.cfg.Server.ListenAddr)

	err := g.Wait()
	a.ready.Store(false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// Director exposes the decision engine for tests and tooling.
func (a *App) Director() *director.Director { return a.director }

// samplerSpeech adapts the sampler's observations to the decision engine's
// speech alignment query.
type samplerSpeech struct {
	s *sampler.Sampler
}

func (ss samplerSpeech) SpeechActive(cam types.CameraID, now time.Time) bool {
	obs := ss.s.Observation(cam)
	return obs != nil && obs.SpeechActive(now)
}

func durSec(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
