package director

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	obs "github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testPolicy() Policy {
	return Policy{
		MinHold:             2 * time.Second,
		Cooldown:            4 * time.Second,
		DeltaSThreshold:     0.15,
		MaxShotDuration:     15 * time.Second,
		EnableHysteresis:    true,
		EnableCooldown:      true,
		EnableSpeech:        false,
		PingPongWindow:      5,
		PingPongMaxRevisits: 2,
		MaxDeferTicks:       3,
		StalenessWindow:     2 * time.Second,
		HoldPublishSample:   10,
	}
}

func newTestDirector(policy Policy, b *bus.Bus) (*Director, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	d := New(policy, 10, nil, b, slog.New(slog.DiscardHandler))
	d.now = clk.Now
	return d, clk
}

// step evaluates one decision tick without going through the bus.
func step(d *Director) (types.SwitchDecision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decide()
}

func observe(d *Director, cam types.CameraID, score float64) {
	d.Observe(types.CameraScore{
		CamID:     cam,
		Score:     score,
		Reason:    "face .50",
		Timestamp: unixSeconds(d.now()),
	})
}

func TestInitialSelection(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, _ := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.55)

	dec, publish := step(d)
	if !publish || dec.Action != types.ActionSwitch {
		t.Fatalf("first decision = %+v publish=%v, want SWITCH", dec, publish)
	}
	if dec.ToCam != "cam-b" || dec.FromCam != "" || dec.Rationale != ReasonInitial {
		t.Errorf("initial switch = %+v", dec)
	}
	if cam, live := d.Program(); !live || cam != "cam-b" {
		t.Errorf("program = %v live=%v, want cam-b live", cam, live)
	}

	// Stable scores afterwards: hold on same-best.
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.55)
	dec, _ = step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonSameBest {
		t.Errorf("steady-state decision = %+v", dec)
	}
}

func TestHysteresisHoldsThenSwitches(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.55)
	step(d) // initial switch to cam-b

	// One second in: cam-a pulls ahead by 0.30, but the hold timer has a
	// second left.
	clk.Advance(time.Second)
	observe(d, "cam-a", 0.80)
	observe(d, "cam-b", 0.50)
	dec, _ := step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonMinHold {
		t.Fatalf("decision inside hold window = %+v", dec)
	}

	clk.Advance(time.Second)
	observe(d, "cam-a", 0.80)
	observe(d, "cam-b", 0.50)
	dec, _ = step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-a" {
		t.Fatalf("post-hold decision = %+v, want switch to cam-a", dec)
	}
	if dec.FromCam != "cam-b" || math.Abs(dec.DeltaScore-0.30) > 1e-9 {
		t.Errorf("switch = %+v", dec)
	}
	// Threshold switches carry confidence 0.5 + delta.
	if math.Abs(dec.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", dec.Confidence)
	}
	if dec.Rationale != "face .50" {
		t.Errorf("rationale = %q, want the winner's score reason", dec.Rationale)
	}
}

func TestCooldownBlocksReturn(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-b", 0.55)
	step(d) // initial: cam-b

	clk.Advance(3 * time.Second)
	observe(d, "cam-a", 0.80)
	observe(d, "cam-b", 0.50)
	dec, _ := step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-a" {
		t.Fatalf("setup switch = %+v", dec)
	}

	// cam-b flipped back ahead, but its cooldown runs another four seconds:
	// the best non-cooldown camera is the current one.
	clk.Advance(100 * time.Millisecond)
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	dec, _ = step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonSameBest {
		t.Fatalf("decision during cooldown = %+v", dec)
	}

	clk.Advance(5 * time.Second)
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	dec, _ = step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-b" {
		t.Errorf("post-cooldown decision = %+v, want switch to cam-b", dec)
	}
}

func TestMaxDurationForcesCut(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.90)
	step(d) // initial: cam-a

	clk.Advance(16 * time.Second)
	observe(d, "cam-a", 0.90)
	observe(d, "cam-c", 0.50)
	dec, _ := step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-c" {
		t.Fatalf("decision past max duration = %+v, want forced switch", dec)
	}
	if dec.Rationale != ReasonMaxDuration || dec.Confidence != 1 {
		t.Errorf("forced cut = %+v", dec)
	}
}

func TestPingPongGuard(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	step(d) // initial: cam-a
	clk.Advance(3 * time.Second)
	d.guardWindow = []types.CameraID{"cam-a", "cam-b", "cam-a", "cam-b", "cam-a"}

	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	dec, _ := step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonPingPong {
		t.Fatalf("decision with hot guard = %+v", dec)
	}

	// A forced max-duration cut resets the window; cam-b is reachable again
	// once its hold elapses.
	clk.Advance(13 * time.Second)
	observe(d, "cam-a", 0.40)
	observe(d, "cam-c", 0.30)
	dec, _ = step(d)
	if dec.Rationale != ReasonMaxDuration {
		t.Fatalf("forced cut = %+v", dec)
	}
	clk.Advance(3 * time.Second)
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	observe(d, "cam-c", 0.30)
	dec, _ = step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-b" {
		t.Errorf("decision after guard reset = %+v, want switch to cam-b", dec)
	}
}

func TestManualOverride(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.80)
	observe(d, "cam-c", 0.20)
	step(d) // initial: cam-a

	if err := d.SetManual("cam-x"); !errors.Is(err, ErrUnknownCamera) {
		t.Errorf("pinning an unknown camera: err = %v, want ErrUnknownCamera", err)
	}
	if err := d.SetManual("cam-c"); err != nil {
		t.Fatalf("pinning a live camera: %v", err)
	}

	dec, publish := step(d)
	if !publish || dec.Action != types.ActionSwitch {
		t.Fatalf("manual decision = %+v publish=%v", dec, publish)
	}
	if dec.FromCam != "cam-a" || dec.ToCam != "cam-c" || dec.Rationale != ReasonManual {
		t.Errorf("manual switch = %+v", dec)
	}
	if snap := d.Snapshot(); snap.State != Manual {
		t.Errorf("state = %v, want manual", snap.State)
	}

	// cam-a entered its switch-away cooldown and cannot be pinned yet.
	observe(d, "cam-a", 0.80)
	if err := d.SetManual("cam-a"); !errors.Is(err, ErrCameraCoolingDown) {
		t.Errorf("pinning a cooling camera: err = %v, want ErrCameraCoolingDown", err)
	}

	// Re-pinning the same camera emits no second switch.
	d.SetManual("cam-c")
	observe(d, "cam-a", 0.80)
	observe(d, "cam-c", 0.20)
	dec, _ = step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonManual {
		t.Errorf("pinned decision = %+v", dec)
	}

	// Clearing resumes automatic operation, with the hold timer anchored at
	// the manual switch. cam-a sits in its switch-away cooldown, so the
	// contender is a third camera.
	d.ClearManual()
	clk.Advance(time.Second)
	observe(d, "cam-c", 0.20)
	observe(d, "cam-d", 0.90)
	dec, _ = step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonMinHold {
		t.Errorf("decision after clear = %+v", dec)
	}
	if snap := d.Snapshot(); snap.State != Live {
		t.Errorf("state after clear = %v, want live", snap.State)
	}
}

func TestSingleCameraNeverChurns(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.30)
	dec, _ := step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-a" {
		t.Fatalf("initial = %+v", dec)
	}

	// Even past the max shot duration there is nowhere to cut to.
	for range 40 {
		clk.Advance(time.Second)
		observe(d, "cam-a", 0.30)
		dec, _ = step(d)
		if dec.Action != types.ActionHold {
			t.Fatalf("single-camera decision = %+v, want hold", dec)
		}
	}
	if cam, live := d.Program(); !live || cam != "cam-a" {
		t.Errorf("program = %v live=%v", cam, live)
	}
}

func TestAllCooldownHoldsNoCandidates(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	step(d)

	now := clk.Now()
	d.cooldowns["cam-a"] = now.Add(3 * time.Second)
	d.cooldowns["cam-b"] = now.Add(3 * time.Second)
	observe(d, "cam-a", 0.50)
	observe(d, "cam-b", 0.60)

	dec, _ := step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonNoCandidates {
		t.Fatalf("all-cooldown decision = %+v", dec)
	}
	if cam, live := d.Program(); !live || cam != "cam-a" {
		t.Errorf("program = %v live=%v, want cam-a still set", cam, live)
	}
}

func TestZeroPolicySwitchesEveryTick(t *testing.T) {
	policy := testPolicy()
	policy.MinHold = 0
	policy.Cooldown = 0
	policy.DeltaSThreshold = 0
	policy.PingPongWindow = 0

	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(policy, b)

	observe(d, "cam-a", 0.60)
	observe(d, "cam-b", 0.40)
	step(d) // initial: cam-a

	want := []types.CameraID{"cam-b", "cam-a", "cam-b"}
	scores := map[types.CameraID]float64{"cam-a": 0.40, "cam-b": 0.60}
	for _, target := range want {
		clk.Advance(100 * time.Millisecond)
		observe(d, "cam-a", scores["cam-a"])
		observe(d, "cam-b", scores["cam-b"])
		dec, _ := step(d)
		if dec.Action != types.ActionSwitch || dec.ToCam != target {
			t.Fatalf("zero-policy decision = %+v, want switch to %s", dec, target)
		}
		scores["cam-a"], scores["cam-b"] = scores["cam-b"], scores["cam-a"]
	}
}

func TestStaleCurrentAndIdleTransition(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	observe(d, "cam-b", 0.40)
	step(d) // initial: cam-a

	// cam-a stops scoring; cam-b keeps publishing.
	clk.Advance(3 * time.Second)
	observe(d, "cam-b", 0.40)
	dec, _ := step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-b" || dec.Rationale != ReasonCurrentStale {
		t.Fatalf("stale-current decision = %+v", dec)
	}

	// Everything goes stale: back to idle with the program unset.
	clk.Advance(3 * time.Second)
	dec, _ = step(d)
	if dec.Action != types.ActionHold || dec.Rationale != ReasonNoCandidates {
		t.Fatalf("all-stale decision = %+v", dec)
	}
	if _, live := d.Program(); live {
		t.Error("program should be unset after all cameras went stale")
	}
	if snap := d.Snapshot(); snap.State != Idle {
		t.Errorf("state = %v, want idle", snap.State)
	}
}

func TestHoldPublishSampling(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	step(d)

	published := 0
	for i := range 20 {
		clk.Advance(50 * time.Millisecond)
		observe(d, "cam-a", 0.50)
		dec, publish := step(d)
		if dec.Rationale != ReasonSameBest {
			t.Fatalf("hold %d = %+v", i, dec)
		}
		if publish {
			published++
		}
	}
	// First hold publishes, then every tenth repeat.
	if published != 2 {
		t.Errorf("published holds = %d, want 2", published)
	}

	// A reason change always publishes.
	clk.Advance(50 * time.Millisecond)
	observe(d, "cam-a", 0.50)
	observe(d, "cam-b", 0.55)
	dec, publish := step(d)
	if dec.Rationale != ReasonMinHold || !publish {
		t.Errorf("reason change = %+v publish=%v, want published min-hold", dec, publish)
	}
}

type panickySpeech struct{}

func (panickySpeech) SpeechActive(types.CameraID, time.Time) bool { panic("speech source broke") }

func TestTickPanicEmitsInternalError(t *testing.T) {
	policy := testPolicy()
	policy.EnableSpeech = true

	b := bus.New()
	defer b.Close()
	sub := b.Subscribe(bus.TopicSwitch, 16)
	defer sub.Close()

	d, clk := newTestDirector(policy, b)
	d.speech = panickySpeech{}

	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.55)
	d.Tick() // initial switch, speech source untouched
	<-sub.C()

	// Reaching the alignment step trips the panic.
	clk.Advance(3 * time.Second)
	observe(d, "cam-a", 0.90)
	observe(d, "cam-b", 0.55)
	before := d.Snapshot()
	d.Tick()

	ev := <-sub.C()
	if ev.Type != types.EventHold || ev.Decision.Rationale != ReasonInternalError {
		t.Fatalf("panic decision = %+v", ev)
	}
	after := d.Snapshot()
	if after.CurrentCam != before.CurrentCam || after.State != before.State {
		t.Errorf("panic mutated program state: %+v -> %+v", before, after)
	}
}

func TestSpeechAlignDefersBounded(t *testing.T) {
	policy := testPolicy()
	policy.EnableSpeech = true

	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(policy, b)
	active := true
	d.speech = speechFunc(func(types.CameraID, time.Time) bool { return active })

	observe(d, "cam-a", 0.40)
	step(d)
	clk.Advance(3 * time.Second)

	for i := range 3 {
		observe(d, "cam-a", 0.40)
		observe(d, "cam-b", 0.90)
		dec, _ := step(d)
		if dec.Action != types.ActionHold || dec.Rationale != ReasonMidWord {
			t.Fatalf("deferral %d = %+v", i, dec)
		}
	}
	// The fourth tick switches regardless of ongoing speech.
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	dec, _ := step(d)
	if dec.Action != types.ActionSwitch || dec.ToCam != "cam-b" {
		t.Errorf("post-cap decision = %+v, want switch", dec)
	}
}

type speechFunc func(types.CameraID, time.Time) bool

func (f speechFunc) SpeechActive(cam types.CameraID, now time.Time) bool { return f(cam, now) }

func TestResetRestoresStartupState(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	step(d)
	clk.Advance(time.Second)
	d.Reset()

	snap := d.Snapshot()
	if snap.State != Idle || snap.CurrentCam != "" || len(snap.Scores) != 0 ||
		len(snap.Cooldowns) != 0 || len(snap.History) != 0 || snap.Switches != 0 {
		t.Errorf("post-reset snapshot = %+v", snap)
	}
	if _, live := d.Program(); live {
		t.Error("program should be unset after reset")
	}
}

func TestLastProgramAt(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, clk := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.60)
	observe(d, "cam-b", 0.40)
	step(d) // initial: cam-a

	if _, ok := d.LastProgramAt("cam-b"); ok {
		t.Error("cam-b has never been program")
	}

	clk.Advance(3 * time.Second)
	observe(d, "cam-a", 0.40)
	observe(d, "cam-b", 0.90)
	step(d) // switch to cam-b
	switchAt := clk.Now()

	at, ok := d.LastProgramAt("cam-a")
	if !ok || !at.Equal(switchAt) {
		t.Errorf("LastProgramAt(cam-a) = %v %v, want %v", at, ok, switchAt)
	}
	// The current program camera reports the present instant.
	clk.Advance(time.Second)
	at, ok = d.LastProgramAt("cam-b")
	if !ok || !at.Equal(clk.Now()) {
		t.Errorf("LastProgramAt(cam-b) = %v %v, want now", at, ok)
	}
}

func TestTickRecordsDecisionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := obs.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	b := bus.New()
	defer b.Close()
	d := New(testPolicy(), 10, nil, b, slog.New(slog.DiscardHandler), WithMetrics(m))
	clk := &fakeClock{t: time.Unix(1000, 0)}
	d.now = clk.Now

	observe(d, "cam-a", 0.60)
	d.Tick() // initial switch
	observe(d, "cam-a", 0.60)
	d.Tick() // same-best hold

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

	switches := find("shotcaller.switches")
	if switches == nil {
		t.Fatal("no switch counter recorded")
	}
	if sum := switches.Data.(metricdata.Sum[int64]); len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("switch data points = %+v", sum.DataPoints)
	}
	holds := find("shotcaller.holds")
	if holds == nil {
		t.Fatal("no hold counter recorded")
	}

	duration := find("shotcaller.decision.duration")
	if duration == nil {
		t.Fatal("no decision duration recorded")
	}
	if hist := duration.Data.(metricdata.Histogram[float64]); len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("duration data points = %+v", hist.DataPoints)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	b := bus.New()
	defer b.Close()
	d, _ := newTestDirector(testPolicy(), b)

	observe(d, "cam-a", 0.50)
	step(d)

	snap := d.Snapshot()
	snap.Scores["cam-a"] = types.CameraScore{CamID: "cam-a", Score: 0.99}
	snap.History = append(snap.History, SwitchRecord{Cam: "cam-z"})

	again := d.Snapshot()
	if again.Scores["cam-a"].Score == 0.99 {
		t.Error("snapshot shares the score map with the engine")
	}
	if len(again.History) != 1 {
		t.Errorf("history = %d entries, want 1", len(again.History))
	}
}
