package narrate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	ttsmock "github.com/shotcaller-ai/shotcaller/internal/narrate/tts/mock"
	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

func newTestOrchestrator(synth *ttsmock.Provider, rw Rewriter, cfg Config) (*Orchestrator, *bus.Bus, *bus.Subscription) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicNarration, 16)
	var o *Orchestrator
	if synth != nil {
		o = New(synth, rw, cfg, b, slog.New(slog.DiscardHandler))
	} else {
		o = New(nil, rw, cfg, b, slog.New(slog.DiscardHandler))
	}
	return o, b, sub
}

func waitNarration(t *testing.T, sub *bus.Subscription) types.Narration {
	t.Helper()
	select {
	case ev := <-sub.C():
		if ev.Type != types.EventNarration || ev.Narration == nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		return *ev.Narration
	case <-time.After(2 * time.Second):
		t.Fatal("no narration published")
	}
	return types.Narration{}
}

func expectSilence(t *testing.T, sub *bus.Subscription, d time.Duration) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected narration %+v", ev)
	case <-time.After(d):
	}
}

func TestSwitchPublishesNarration(t *testing.T) {
	synth := ttsmock.New()
	o, b, sub := newTestOrchestrator(synth, nil, Config{})
	defer b.Close()

	o.observeScore(types.CameraScore{
		CamID: "cam-2",
		Features: types.CameraFeatures{
			Tags: []string{"goal celebration", "crowd"},
		},
	})
	o.OnSwitch(context.Background(), types.SwitchDecision{
		Action: types.ActionSwitch, FromCam: "cam-1", ToCam: "cam-2",
	})

	n := waitNarration(t, sub)
	if n.Text != "Over to camera 2, goal celebration and crowd." {
		t.Errorf("text = %q", n.Text)
	}
	if n.DurationMs != 100 {
		t.Errorf("durationMs = %d, want 100", n.DurationMs)
	}
	if n.AudioBlobRef == "" {
		t.Fatal("missing audio blob ref")
	}
	if pcm, ok := o.Audio(n.AudioBlobRef); !ok || len(pcm) == 0 {
		t.Error("blob not retrievable")
	}
}

func TestBudgetOverrunDropsNarration(t *testing.T) {
	synth := ttsmock.New()
	synth.Delay = 100 * time.Millisecond
	o, b, sub := newTestOrchestrator(synth, nil, Config{Budget: 20 * time.Millisecond})
	defer b.Close()

	o.OnSwitch(context.Background(), types.SwitchDecision{
		Action: types.ActionSwitch, ToCam: "cam-1",
	})
	expectSilence(t, sub, 300*time.Millisecond)
}

func TestSynthesisMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	synth := ttsmock.New()
	synth.Delay = 100 * time.Millisecond
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe(bus.TopicNarration, 16)
	o := New(synth, nil, Config{Budget: 20 * time.Millisecond}, b, slog.New(slog.DiscardHandler), WithMetrics(m))

	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-1"})
	expectSilence(t, sub, 300*time.Millisecond)
	o.drain()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	find := func(name string) *metricdata.Metrics {
		for _, sm := range rm.ScopeMetrics {
			for i := range sm.Metrics {
				if sm.Metrics[i].Name == name {
					return &sm.Metrics[i]
				}
			}
		}
		return nil
	}

	duration := find("shotcaller.tts.duration")
	if duration == nil {
		t.Fatal("no synthesis latency recorded")
	}
	if hist := duration.Data.(metricdata.Histogram[float64]); len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration data points = %+v", hist.DataPoints)
	}

	dropped := find("shotcaller.narrations.dropped")
	if dropped == nil {
		t.Fatal("no dropped narration recorded")
	}
	if sum := dropped.Data.(metricdata.Sum[int64]); len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("dropped data points = %+v", sum.DataPoints)
	}
}

func TestNewerSwitchCancelsInFlight(t *testing.T) {
	synth := ttsmock.New()
	synth.Delay = 50 * time.Millisecond
	o, b, sub := newTestOrchestrator(synth, nil, Config{})
	defer b.Close()

	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-1"})
	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-2"})

	n := waitNarration(t, sub)
	if !strings.Contains(n.Text, "camera 2") {
		t.Errorf("narration for cancelled switch won: %q", n.Text)
	}
	expectSilence(t, sub, 200*time.Millisecond)
}

func TestTextOnlyWithoutSynthesizer(t *testing.T) {
	o, b, sub := newTestOrchestrator(nil, nil, Config{})
	defer b.Close()

	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-3"})

	n := waitNarration(t, sub)
	if n.Text != "Switching to camera 3." {
		t.Errorf("text = %q", n.Text)
	}
	if n.DurationMs != 0 || n.AudioBlobRef != "" {
		t.Errorf("text-only narration carries audio: %+v", n)
	}
}

type fixedRewriter struct {
	text string
	err  error
}

func (r fixedRewriter) Rewrite(context.Context, string, int) (string, error) {
	return r.text, r.err
}

func TestRewriterRephrasesText(t *testing.T) {
	o, b, sub := newTestOrchestrator(nil, fixedRewriter{text: "And here comes camera one."}, Config{})
	defer b.Close()

	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-1"})
	if n := waitNarration(t, sub); n.Text != "And here comes camera one." {
		t.Errorf("text = %q", n.Text)
	}
}

func TestRewriterFailureKeepsTemplate(t *testing.T) {
	o, b, sub := newTestOrchestrator(nil, fixedRewriter{err: errors.New("backend down")}, Config{})
	defer b.Close()

	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-1"})
	if n := waitNarration(t, sub); n.Text != "Switching to camera 1." {
		t.Errorf("text = %q", n.Text)
	}
}

func TestFlaggedSpeechSkipsSpeechBranch(t *testing.T) {
	o, b, sub := newTestOrchestrator(nil, nil, Config{})
	defer b.Close()

	o.observeScore(types.CameraScore{
		CamID:    "cam-1",
		Features: types.CameraFeatures{RecentSpeechText: "email me at bob@example.com"},
	})
	o.OnSwitch(context.Background(), types.SwitchDecision{Action: types.ActionSwitch, ToCam: "cam-1"})

	// The flagged transcript falls through to the generic branch.
	if n := waitNarration(t, sub); n.Text != "Switching to camera 1." {
		t.Errorf("text = %q", n.Text)
	}
}

func TestRunConsumesBusEvents(t *testing.T) {
	synth := ttsmock.New()
	o, b, sub := newTestOrchestrator(synth, nil, Config{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()
	// Give Run a moment to subscribe before the first publish.
	time.Sleep(20 * time.Millisecond)

	b.Publish(bus.TopicScores, types.NewScoreEvent(types.CameraScore{
		CamID:    "cam-1",
		Features: types.CameraFeatures{TopObjects: []string{"person"}},
	}))
	// Give the score a moment to land in the cache before the switch.
	time.Sleep(20 * time.Millisecond)
	b.Publish(bus.TopicSwitch, types.NewDecisionEvent(types.SwitchDecision{
		Action: types.ActionSwitch, FromCam: "cam-2", ToCam: "cam-1",
	}))

	n := waitNarration(t, sub)
	if n.Text != "Over to camera 1 with person in view." {
		t.Errorf("text = %q", n.Text)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
