package ranker

import (
	"math"
	"strings"
	"testing"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

func defaultWeights() Weights {
	return Weights{
		FaceSalience:       0.25,
		MotionSalience:     0.15,
		MainSubjectOverlap: 0.15,
		SpeechEnergy:       0.15,
		KeywordBoost:       0.10,
		FramingScore:       0.10,
		NoveltyDecay:       0.05,
		ContinuityBonus:    0.05,
		Interest:           0.10,
	}
}

func allAvailable() Availability {
	return Availability{
		FaceSalience: true, MotionSalience: true, MainSubjectOverlap: true,
		SpeechEnergy: true, KeywordBoost: true, FramingScore: true,
		NoveltyDecay: true, ContinuityBonus: true, Interest: true,
	}
}

func TestWeightedScoreAllOnes(t *testing.T) {
	s := NewWeightedScorer(defaultWeights())
	f := types.CameraFeatures{
		FaceSalience: 1, MotionSalience: 1, MainSubjectOverlap: 1,
		SpeechEnergy: 1, KeywordBoost: 1, FramingScore: 1,
		NoveltyDecay: 1, ContinuityBonus: 1, Interest: 1,
	}
	score, contribs := s.Score(f, allAvailable())
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("all-ones score = %v, want 1", score)
	}
	if len(contribs) != 9 {
		t.Errorf("contributions = %d, want 9", len(contribs))
	}
}

func TestWeightedScoreNormalizesWeights(t *testing.T) {
	// Unnormalized weights: 2 and 6 behave like 0.25 and 0.75.
	s := NewWeightedScorer(Weights{FaceSalience: 2, Interest: 6})
	f := types.CameraFeatures{FaceSalience: 1, Interest: 0}
	score, _ := s.Score(f, Availability{FaceSalience: true, Interest: true})
	if math.Abs(score-0.25) > 1e-9 {
		t.Errorf("score = %v, want 0.25", score)
	}
}

func TestWeightRedistribution(t *testing.T) {
	s := NewWeightedScorer(defaultWeights())
	f := types.CameraFeatures{FaceSalience: 0.8, NoveltyDecay: 0.8}

	// Only face and novelty available: their weights 0.25 and 0.05
	// renormalize to 5/6 and 1/6, so equal values fuse to the same value.
	avail := Availability{FaceSalience: true, NoveltyDecay: true}
	score, _ := s.Score(f, avail)
	if math.Abs(score-0.8) > 1e-9 {
		t.Errorf("redistributed score = %v, want 0.8", score)
	}
}

func TestScoreNothingAvailable(t *testing.T) {
	s := NewWeightedScorer(defaultWeights())
	score, contribs := s.Score(types.CameraFeatures{}, Availability{})
	if score != 0 || contribs != nil {
		t.Errorf("empty availability = (%v, %v), want (0, nil)", score, contribs)
	}
}

func TestContributionsSorted(t *testing.T) {
	s := NewWeightedScorer(defaultWeights())
	f := types.CameraFeatures{FaceSalience: 0.1, Interest: 1}
	_, contribs := s.Score(f, Availability{FaceSalience: true, Interest: true})
	if contribs[0].Name != "interest" {
		t.Errorf("top contribution = %s, want interest", contribs[0].Name)
	}
}

func TestFormatRationale(t *testing.T) {
	contribs := []Contribution{
		{Name: "face", Value: 0.72, Weighted: 0.18},
		{Name: "keyword", Value: 1, Weighted: 0.10},
		{Name: "novelty", Value: 0.5, Weighted: 0.02},
	}
	got := formatRationale(contribs, []string{"goal"})
	if got != "face .72, keyword 'goal'" {
		t.Errorf("rationale = %q", got)
	}

	// Without keywords the keyword term falls back to its numeric value.
	got = formatRationale(contribs, nil)
	if got != "face .72, keyword 1.00" {
		t.Errorf("rationale = %q", got)
	}

	if got := formatRationale(nil, nil); got != "no-data" {
		t.Errorf("empty rationale = %q", got)
	}

	// Rationale never exceeds its length bound.
	long := []Contribution{
		{Name: "keyword", Value: 1, Weighted: 1},
		{Name: "face", Value: 1, Weighted: 0.5},
	}
	huge := strings.Repeat("x", 200)
	if got := formatRationale(long, []string{huge}); len(got) > 140 {
		t.Errorf("rationale length = %d, want <= 140", len(got))
	}
}

func TestNewScorer(t *testing.T) {
	if _, err := NewScorer("weighted", defaultWeights()); err != nil {
		t.Errorf("weighted scorer: %v", err)
	}
	if _, err := NewScorer("", defaultWeights()); err != nil {
		t.Errorf("default scorer: %v", err)
	}
	if _, err := NewScorer("xgboost", defaultWeights()); err == nil {
		t.Error("unknown scorer should fail")
	}
}
