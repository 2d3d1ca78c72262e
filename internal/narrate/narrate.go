// Package narrate is the narration orchestrator: it reacts to program
// switches with a short spoken line describing the camera just cut to.
// Narration is strictly best-effort. A synthesis that misses its latency
// budget is dropped, a newer switch cancels the one in flight, and nothing
// here ever blocks the bus.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// blobKeep bounds the retained synthesized audio blobs.
const blobKeep = 8

// Config tunes the orchestrator.
type Config struct {
	// MaxWords caps the narration length.
	MaxWords int

	// Budget is the end-to-end latency allowance from switch receipt to
	// synthesized audio. Narrations exceeding it are dropped.
	Budget time.Duration
}

// Orchestrator consumes switch events and publishes narration events. A nil
// synthesizer produces text-only narrations; a nil rewriter keeps the
// deterministic template output.
type Orchestrator struct {
	synth    tts.Provider
	rewriter Rewriter
	cfg      Config
	bus      *bus.Bus
	log      *slog.Logger
	metrics  *observe.Metrics

	mu       sync.Mutex
	latest   map[types.CameraID]types.CameraScore
	cancel   context.CancelFunc
	blobs    map[string][]byte
	blobRing []string
	seq      int64

	wg  sync.WaitGroup
	now func() time.Time
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithMetrics sets the instrument set narration outcomes are recorded on.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New assembles an Orchestrator publishing to b.
func New(synth tts.Provider, rewriter Rewriter, cfg Config, b *bus.Bus, log *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = 12
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 600 * time.Millisecond
	}
	o := &Orchestrator{
		synth:    synth,
		rewriter: rewriter,
		cfg:      cfg,
		bus:      b,
		log:      log,
		latest:   make(map[types.CameraID]types.CameraScore),
		blobs:    make(map[string][]byte),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Run consumes the scores and switch topics until ctx is cancelled. Scores
// feed the per-camera feature cache the narration context is built from.
func (o *Orchestrator) Run(ctx context.Context) error {
	scoreSub := o.bus.Subscribe(bus.TopicScores, bus.DefaultQueueSize)
	switchSub := o.bus.Subscribe(bus.TopicSwitch, bus.DefaultQueueSize)
	if scoreSub == nil || switchSub == nil {
		return errors.New("narrate: event bus already closed")
	}
	defer scoreSub.Close()
	defer switchSub.Close()
	defer o.drain()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-scoreSub.C():
			if !ok {
				return nil
			}
			if ev.Type == types.EventScore && ev.Score != nil {
				o.observeScore(*ev.Score)
			}
		case ev, ok := <-switchSub.C():
			if !ok {
				return nil
			}
			if ev.Type == types.EventSwitch && ev.Decision != nil {
				o.OnSwitch(ctx, *ev.Decision)
			}
		}
	}
}

// drain cancels the in-flight synthesis and waits for it to finish.
func (o *Orchestrator) drain() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) observeScore(score types.CameraScore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latest[score.CamID] = score
}

// OnSwitch starts a narration for the switch target, cancelling any
// narration still in flight. Exported so tests can drive switches without a
// bus subscription.
func (o *Orchestrator) OnSwitch(ctx context.Context, dec types.SwitchDecision) {
	started := o.now()

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	nctx, cancel := context.WithDeadline(ctx, started.Add(o.cfg.Budget))
	o.cancel = cancel
	score := o.latest[dec.ToCam]
	o.mu.Unlock()

	nc := Context{
		Cam:        dec.ToCam,
		Tags:       score.Features.Tags,
		TopObjects: score.Features.TopObjects,
	}
	if clean, flagged := sanitizeSpeech(score.Features.RecentSpeechText); !flagged {
		nc.Speech = clean
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.narrate(nctx, nc, started)
	}()
}

func (o *Orchestrator) narrate(ctx context.Context, nc Context, started time.Time) {
	text := buildText(nc, o.cfg.MaxWords)

	if o.rewriter != nil {
		rewritten, err := o.rewriter.Rewrite(ctx, text, o.cfg.MaxWords)
		if err != nil {
			o.log.Debug("narration rewrite failed, keeping template text",
				"cam", nc.Cam, "error", err)
		} else {
			text = rewritten
		}
	}

	narration := types.Narration{Text: text}

	if o.synth != nil {
		synthStart := o.now()
		result, err := o.synth.Synthesize(ctx, text)
		o.metrics.TTSDuration.Record(context.Background(), o.now().Sub(synthStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled by a newer switch or the budget deadline.
				o.metrics.NarrationsDropped.Add(context.Background(), 1)
				return
			}
			o.log.Warn("narration synthesis failed", "cam", nc.Cam, "error", err)
			return
		}
		narration.DurationMs = result.DurationMs
		narration.AudioBlobRef = o.storeBlob(result.PCM)
	}

	elapsed := o.now().Sub(started)
	if elapsed > o.cfg.Budget {
		o.log.Warn("narration missed latency budget, dropped",
			"cam", nc.Cam, "elapsed", elapsed, "budget", o.cfg.Budget)
		o.metrics.NarrationsDropped.Add(context.Background(), 1)
		return
	}
	if ctx.Err() != nil {
		o.metrics.NarrationsDropped.Add(context.Background(), 1)
		return
	}

	narration.Timestamp = float64(o.now().UnixNano()) / float64(time.Second)
	o.bus.Publish(bus.TopicNarration, types.NewNarrationEvent(narration))
	o.log.Info("narration published", "cam", nc.Cam, "text", text, "latency", elapsed)
}

// storeBlob retains pcm under a fresh reference, evicting the oldest blob
// beyond the retention bound.
func (o *Orchestrator) storeBlob(pcm []byte) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	ref := fmt.Sprintf("narration-%d.pcm", o.seq)
	o.blobs[ref] = pcm
	o.blobRing = append(o.blobRing, ref)
	if len(o.blobRing) > blobKeep {
		delete(o.blobs, o.blobRing[0])
		o.blobRing = o.blobRing[1:]
	}
	return ref
}

// Audio returns the synthesized PCM stored under ref.
func (o *Orchestrator) Audio(ref string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pcm, ok := o.blobs[ref]
	return pcm, ok
}
