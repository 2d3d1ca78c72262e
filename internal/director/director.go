// Package director is the decision engine: the single writer of program
// state. It consumes camera scores, evaluates the switching policy on a
// fixed decision tick, and publishes SWITCH/HOLD decisions. All other
// components read program state through snapshots; nothing mutates it from
// outside.
package director

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	obs "github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// State is the engine's top-level mode.
type State string

const (
	// Idle means no camera has been selected yet, or every camera went
	// stale.
	Idle State = "idle"
	// Live means automatic switching is active.
	Live State = "live"
	// Manual means an operator pinned the program camera.
	Manual State = "manual"
)

// Decision rationale strings. These are part of the wire contract and must
// stay stable.
const (
	ReasonInitial       = "initial"
	ReasonCurrentStale  = "current-stale"
	ReasonMaxDuration   = "max-duration"
	ReasonSameBest      = "same-best"
	ReasonMinHold       = "min-hold"
	ReasonDeltaBelow    = "delta-below-threshold"
	ReasonPingPong      = "ping-pong"
	ReasonMidWord       = "mid-word"
	ReasonManual        = "manual"
	ReasonNoCandidates  = "no-candidates"
	ReasonInternalError = "internal-error"
)

// Policy is the immutable switching policy for one run.
type Policy struct {
	MinHold          time.Duration
	Cooldown         time.Duration
	DeltaSThreshold  float64
	MaxShotDuration  time.Duration
	EnableHysteresis bool
	EnableCooldown   bool
	EnableSpeech     bool

	PingPongWindow      int
	PingPongMaxRevisits int
	MaxDeferTicks       int

	StalenessWindow time.Duration

	// HoldPublishSample publishes every Nth consecutive HOLD with an
	// unchanged reason; a reason change always publishes.
	HoldPublishSample int
}

// SpeechSource reports whether a camera is mid-speech, for boundary-aligned
// switching. A nil source disables the alignment step.
type SpeechSource interface {
	SpeechActive(cam types.CameraID, now time.Time) bool
}

// SwitchRecord is one historical switch.
type SwitchRecord struct {
	Cam types.CameraID `json:"camId"`
	At  time.Time      `json:"at"`
}

// historyCap bounds the retained switch history.
const historyCap = 64

// Sentinel errors returned by SetManual, mapped to HTTP status codes by the
// control API.
var (
	ErrUnknownCamera     = errors.New("unknown camera")
	ErrCameraCoolingDown = errors.New("camera in cooldown")
)

type scoreEntry struct {
	score      types.CameraScore
	receivedAt time.Time
}

// Director owns the program state. Construct with New, feed scores via the
// bus subscription inside Run, read via Snapshot.
type Director struct {
	policy  Policy
	rate    float64
	speech  SpeechSource
	bus     *bus.Bus
	log     *slog.Logger
	metrics *obs.Metrics

	mu            sync.Mutex
	state         State
	currentCam    types.CameraID
	shotStart     time.Time
	manualCam     types.CameraID
	manualSet     bool
	scores        map[types.CameraID]*scoreEntry
	cooldowns     map[types.CameraID]time.Time
	history       []SwitchRecord
	guardWindow   []types.CameraID
	lastProgram   map[types.CameraID]time.Time
	deferStreak   int
	holdReason    string
	holdStreak    int
	switchCount   int64
	decisionCount int64

	now func() time.Time
}

// Option configures optional Director collaborators.
type Option func(*Director)

// WithMetrics sets the instrument set decisions are recorded on.
func WithMetrics(m *obs.Metrics) Option {
	return func(d *Director) { d.metrics = m }
}

// New assembles a Director publishing decisions to b at rateHz.
func New(policy Policy, rateHz float64, speech SpeechSource, b *bus.Bus, log *slog.Logger, opts ...Option) *Director {
	d := &Director{
		policy: policy,
		rate:   rateHz,
		speech: speech,
		bus:    b,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = obs.DefaultMetrics()
	}
	d.resetLocked()
	return d
}

func (d *Director) resetLocked() {
	d.state = Idle
	d.currentCam = ""
	d.shotStart = time.Time{}
	d.manualCam = ""
	d.manualSet = false
	d.scores = make(map[types.CameraID]*scoreEntry)
	d.cooldowns = make(map[types.CameraID]time.Time)
	d.history = nil
	d.guardWindow = nil
	d.lastProgram = make(map[types.CameraID]time.Time)
	d.deferStreak = 0
	d.holdReason = ""
	d.holdStreak = 0
	d.switchCount = 0
	d.decisionCount = 0
}

// Run consumes score events and evaluates the policy on the decision tick
// until ctx is cancelled.
func (d *Director) Run(ctx context.Context) error {
	sub := d.bus.Subscribe(bus.TopicScores, bus.DefaultQueueSize)
	if sub == nil {
		return errors.New("director: event bus already closed")
	}
	defer sub.Close()

	interval := time.Duration(float64(time.Second) / d.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.Type == types.EventScore && ev.Score != nil {
				d.Observe(*ev.Score)
			}
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Observe records the latest score for a camera.
func (d *Director) Observe(score types.CameraScore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scores[score.CamID] = &scoreEntry{score: score, receivedAt: d.now()}
}

// Tick evaluates the policy once. A panic inside the evaluation is
// contained: the program state stays as it was and a HOLD with the
// internal-error rationale is published.
func (d *Director) Tick() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("decision tick panicked", "panic", r, "stack", string(debug.Stack()))
			d.publish(d.hold(ReasonInternalError, d.now()))
		}
	}()

	start := d.now()
	decision, publish := func() (types.SwitchDecision, bool) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.decide()
	}()
	d.metrics.DecisionDuration.Record(context.Background(), d.now().Sub(start).Seconds())
	if publish {
		d.publish(decision)
	}
}

// decide runs the policy steps. Caller holds d.mu.
func (d *Director) decide() (types.SwitchDecision, bool) {
	now := d.now()
	d.decisionCount++

	// Stale scores are removed entirely; a camera without a fresh score
	// does not compete.
	for cam, entry := range d.scores {
		if now.Sub(entry.receivedAt) > d.policy.StalenessWindow {
			delete(d.scores, cam)
		}
	}
	for cam, notBefore := range d.cooldowns {
		if !notBefore.After(now) {
			delete(d.cooldowns, cam)
		}
	}

	if d.manualSet {
		return d.decideManual(now)
	}
	if d.state == Manual {
		d.state = Live
	}

	// All cameras stale: back to Idle, program unset.
	if len(d.scores) == 0 {
		if d.state == Live {
			d.log.Info("all cameras stale, program unset", "fromCam", d.currentCam)
			d.clearProgram(now)
		}
		return d.sampleHold(ReasonNoCandidates, now)
	}

	best, ok := d.best(now, "")
	if !ok {
		return d.sampleHold(ReasonNoCandidates, now)
	}

	if d.state == Idle {
		return d.switchTo(best, ReasonInitial, 1, now), true
	}

	current, haveCurrent := d.scores[d.currentCam]
	if !haveCurrent {
		return d.switchTo(best, ReasonCurrentStale, 1, now), true
	}

	shotDuration := now.Sub(d.shotStart)
	if shotDuration > d.policy.MaxShotDuration {
		if other, ok := d.best(now, d.currentCam); ok {
			dec := d.switchTo(other, ReasonMaxDuration, 1, now)
			// A forced cut resets the ping-pong window.
			d.guardWindow = nil
			return dec, true
		}
		return d.sampleHold(ReasonSameBest, now)
	}

	if best.score.CamID == d.currentCam {
		return d.sampleHold(ReasonSameBest, now)
	}
	if d.policy.EnableHysteresis && shotDuration < d.policy.MinHold {
		return d.sampleHold(ReasonMinHold, now)
	}

	delta := best.score.Score - current.score.Score
	if delta < d.policy.DeltaSThreshold {
		return d.sampleHold(ReasonDeltaBelow, now)
	}

	if d.pingPong(best.score.CamID) {
		return d.sampleHold(ReasonPingPong, now)
	}

	if d.policy.EnableSpeech && d.speech != nil && d.deferStreak < d.policy.MaxDeferTicks &&
		d.speech.SpeechActive(d.currentCam, now) {
		d.deferStreak++
		return d.sampleHold(ReasonMidWord, now)
	}
	d.deferStreak = 0

	confidence := min(1, 0.5+delta)
	dec := d.switchTo(best, best.score.Reason, confidence, now)
	dec.DeltaScore = delta
	return dec, true
}

func (d *Director) decideManual(now time.Time) (types.SwitchDecision, bool) {
	if d.currentCam != d.manualCam {
		dec := d.switchTo(&scoreEntry{score: types.CameraScore{CamID: d.manualCam}}, ReasonManual, 1, now)
		d.state = Manual
		// Manual cuts do not count toward ping-pong.
		d.guardWindow = nil
		return dec, true
	}
	d.state = Manual
	return d.sampleHold(ReasonManual, now)
}

// best returns the highest fresh score outside cooldown, excluding exclude
// when non-empty. Ties break by camera id for determinism.
func (d *Director) best(now time.Time, exclude types.CameraID) (*scoreEntry, bool) {
	var cams []types.CameraID
	for cam := range d.scores {
		cams = append(cams, cam)
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i] < cams[j] })

	var best *scoreEntry
	for _, cam := range cams {
		if cam == exclude {
			continue
		}
		if d.policy.EnableCooldown {
			if notBefore, ok := d.cooldowns[cam]; ok && notBefore.After(now) {
				continue
			}
		}
		entry := d.scores[cam]
		if best == nil || entry.score.Score > best.score.Score {
			best = entry
		}
	}
	return best, best != nil
}

// pingPong reports whether switching to target would exceed the revisit
// budget within the sliding window of recent switches.
func (d *Director) pingPong(target types.CameraID) bool {
	if d.policy.PingPongWindow < 1 {
		return false
	}
	window := d.guardWindow
	if len(window) > d.policy.PingPongWindow {
		window = window[len(window)-d.policy.PingPongWindow:]
	}
	revisits := 0
	for _, cam := range window {
		if cam == target {
			revisits++
		}
	}
	return revisits >= d.policy.PingPongMaxRevisits
}

// switchTo commits the program change. Caller holds d.mu.
func (d *Director) switchTo(target *scoreEntry, rationale string, confidence float64, now time.Time) types.SwitchDecision {
	from := d.currentCam
	to := target.score.CamID

	if d.state == Live || d.state == Manual {
		d.cooldowns[from] = now.Add(d.policy.Cooldown)
		d.lastProgram[from] = now
	}
	d.currentCam = to
	d.shotStart = now
	d.state = Live
	d.deferStreak = 0
	d.holdReason = ""
	d.holdStreak = 0
	d.switchCount++

	d.history = append(d.history, SwitchRecord{Cam: to, At: now})
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
	d.guardWindow = append(d.guardWindow, to)
	if len(d.guardWindow) > d.policy.PingPongWindow {
		d.guardWindow = d.guardWindow[len(d.guardWindow)-d.policy.PingPongWindow:]
	}

	d.log.Info("program switch",
		"fromCam", from, "toCam", to, "rationale", rationale, "confidence", confidence)

	return types.SwitchDecision{
		Timestamp:  unixSeconds(now),
		Action:     types.ActionSwitch,
		FromCam:    from,
		ToCam:      to,
		Rationale:  rationale,
		Confidence: confidence,
	}
}

func (d *Director) clearProgram(now time.Time) {
	if d.currentCam != "" {
		d.lastProgram[d.currentCam] = now
	}
	d.currentCam = ""
	d.shotStart = time.Time{}
	d.state = Idle
}

func (d *Director) hold(reason string, now time.Time) types.SwitchDecision {
	return types.SwitchDecision{
		Timestamp:  unixSeconds(now),
		Action:     types.ActionHold,
		Rationale:  reason,
		Confidence: 1,
	}
}

// sampleHold applies the hold publish discipline: a changed reason always
// publishes; an unchanged reason publishes every Nth occurrence.
func (d *Director) sampleHold(reason string, now time.Time) (types.SwitchDecision, bool) {
	if reason != d.holdReason {
		d.holdReason = reason
		d.holdStreak = 1
		return d.hold(reason, now), true
	}
	d.holdStreak++
	sample := d.policy.HoldPublishSample
	if sample < 1 {
		sample = 1
	}
	return d.hold(reason, now), d.holdStreak%sample == 1 || sample == 1
}

func (d *Director) publish(dec types.SwitchDecision) {
	d.metrics.RecordDecision(context.Background(), string(dec.Action), dec.Rationale)
	d.bus.Publish(bus.TopicSwitch, types.NewDecisionEvent(dec))
}

// SetManual pins the program to cam. Setting the same camera twice is a
// no-op after the first alignment. A camera without a fresh score cannot be
// pinned ([ErrUnknownCamera]); a camera still cooling down cannot either
// ([ErrCameraCoolingDown]).
func (d *Director) SetManual(cam types.CameraID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.scores[cam]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cam)
	}
	if until, ok := d.cooldowns[cam]; ok && d.now().Before(until) && cam != d.currentCam {
		return fmt.Errorf("%w: %s", ErrCameraCoolingDown, cam)
	}
	d.manualCam = cam
	d.manualSet = true
	return nil
}

// ClearManual resumes automatic operation. The next automatic switch still
// respects the hold timer started by the manual switch.
func (d *Director) ClearManual() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manualCam = ""
	d.manualSet = false
}

// Reset returns the engine to its post-startup state.
func (d *Director) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.log.Info("decision engine reset")
}

// Program implements ranker.ProgramInfo.
func (d *Director) Program() (types.CameraID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentCam, d.state != Idle
}

// LastProgramAt implements ranker.ProgramInfo. The current program camera
// reports the present instant.
func (d *Director) LastProgramAt(cam types.CameraID) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Idle && cam == d.currentCam {
		return d.now(), true
	}
	at, ok := d.lastProgram[cam]
	return at, ok
}

// Snapshot is a deep copy of the observable engine state.
type Snapshot struct {
	State      State                                `json:"state"`
	CurrentCam types.CameraID                       `json:"currentCam,omitempty"`
	ShotStart  time.Time                            `json:"shotStart,omitzero"`
	ManualCam  types.CameraID                       `json:"manualCam,omitempty"`
	Scores     map[types.CameraID]types.CameraScore `json:"scores"`
	Cooldowns  map[types.CameraID]time.Time         `json:"cooldowns"`
	History    []SwitchRecord                       `json:"history"`
	Switches   int64                                `json:"switches"`
	Decisions  int64                                `json:"decisions"`
}

// Snapshot returns a copy of the current state; mutating it does not
// affect the engine.
func (d *Director) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		State:      d.state,
		CurrentCam: d.currentCam,
		ShotStart:  d.shotStart,
		Scores:     make(map[types.CameraID]types.CameraScore, len(d.scores)),
		Cooldowns:  make(map[types.CameraID]time.Time, len(d.cooldowns)),
		History:    append([]SwitchRecord(nil), d.history...),
		Switches:   d.switchCount,
		Decisions:  d.decisionCount,
	}
	if d.manualSet {
		snap.ManualCam = d.manualCam
	}
	for cam, entry := range d.scores {
		snap.Scores[cam] = entry.score
	}
	for cam, at := range d.cooldowns {
		snap.Cooldowns[cam] = at
	}
	return snap
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
