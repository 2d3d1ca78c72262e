package ranker

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/internal/sampler"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

type fakeObsSource struct {
	obs map[types.CameraID]*sampler.Observation
}

func (f *fakeObsSource) Observations() map[types.CameraID]*sampler.Observation {
	return f.obs
}

type fakeProgram struct {
	cam  types.CameraID
	live bool
	last map[types.CameraID]time.Time
}

func (f *fakeProgram) Program() (types.CameraID, bool) { return f.cam, f.live }

func (f *fakeProgram) LastProgramAt(cam types.CameraID) (time.Time, bool) {
	at, ok := f.last[cam]
	return at, ok
}

func newTestRanker(src ObservationSource, program ProgramInfo, b *bus.Bus) *Ranker {
	scorer := NewWeightedScorer(defaultWeights())
	return New(src, program, scorer, testParams(), 10, b, slog.New(slog.DiscardHandler))
}

func TestTickPublishesOneScorePerCamera(t *testing.T) {
	now := time.Now()
	src := &fakeObsSource{obs: map[types.CameraID]*sampler.Observation{
		"cam-1": {Cam: "cam-1", DetectOK: true, UpdatedAt: now},
		"cam-2": {Cam: "cam-2", DetectOK: true, UpdatedAt: now},
	}}
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe(bus.TopicScores, 16)

	r := newTestRanker(src, nil, b)
	r.now = func() time.Time { return now }
	scores := r.Tick()

	if len(scores) != 2 {
		t.Fatalf("scores = %d, want 2", len(scores))
	}
	// Deterministic camera order.
	if scores[0].CamID != "cam-1" || scores[1].CamID != "cam-2" {
		t.Errorf("score order = %v, %v", scores[0].CamID, scores[1].CamID)
	}
	for range 2 {
		select {
		case ev := <-sub.C():
			if ev.Type != types.EventScore {
				t.Errorf("published event type = %v", ev.Type)
			}
		default:
			t.Fatal("score event not published")
		}
	}
}

func TestNoDataScore(t *testing.T) {
	now := time.Now()
	src := &fakeObsSource{obs: map[types.CameraID]*sampler.Observation{
		"cam-1": {Cam: "cam-1", UpdatedAt: now}, // no modality succeeded yet
	}}
	b := bus.New()
	defer b.Close()

	r := newTestRanker(src, nil, b)
	scores := r.Tick()
	if len(scores) != 1 {
		t.Fatal("expected one score")
	}
	s := scores[0]
	if s.Reason != "no-data" || s.Score != 0 {
		t.Errorf("no-data score = %+v", s)
	}
	if !reflect.DeepEqual(s.Features, types.CameraFeatures{}) {
		t.Errorf("no-data features = %+v, want zero", s.Features)
	}
}

func TestDegradedScoreForcedToZero(t *testing.T) {
	now := time.Now()
	src := &fakeObsSource{obs: map[types.CameraID]*sampler.Observation{
		"cam-1": {
			Cam: "cam-1", DetectOK: true, Degraded: true, UpdatedAt: now,
			Tracks: []types.Track{personTrack(1, 100, 100, 200, 200, 10, 0)},
		},
	}}
	b := bus.New()
	defer b.Close()

	r := newTestRanker(src, nil, b)
	scores := r.Tick()
	if !scores[0].Degraded || scores[0].Score != 0 {
		t.Errorf("degraded score = %+v, want score 0 and degraded flag", scores[0])
	}
}

func TestScoreBounds(t *testing.T) {
	now := time.Now()
	big := personTrack(1, 0, 0, 640, 360, 50, 500)
	src := &fakeObsSource{obs: map[types.CameraID]*sampler.Observation{
		"cam-1": {
			Cam: "cam-1", DetectOK: true, SpeechOK: true, SceneOK: true,
			Tracks: []types.Track{big}, MainSubject: &big,
			Scene: &types.SceneDescription{Interest: 5, Confidence: 1}, SceneAt: now,
			EnergyDb: 0, Keywords: []string{"a", "b", "c"},
			Speech:    []types.SpeechSegment{{Text: "x", EndTs: now}},
			UpdatedAt: now,
		},
	}}
	b := bus.New()
	defer b.Close()

	r := newTestRanker(src, &fakeProgram{}, b)
	r.now = func() time.Time { return now }
	s := r.Tick()[0]
	if s.Score < 0 || s.Score > 1 {
		t.Errorf("score out of bounds: %v", s.Score)
	}
	for _, v := range []float64{
		s.Features.FaceSalience, s.Features.MotionSalience, s.Features.MainSubjectOverlap,
		s.Features.SpeechEnergy, s.Features.KeywordBoost, s.Features.FramingScore,
		s.Features.NoveltyDecay, s.Features.ContinuityBonus, s.Features.Interest,
	} {
		if v < 0 || v > 1 {
			t.Errorf("feature out of bounds: %+v", s.Features)
		}
	}
	if len(s.Reason) > 140 {
		t.Errorf("rationale too long: %d", len(s.Reason))
	}
}
