package ranker

import (
	"fmt"
	"strings"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Weights holds the fusion weights. Only relative magnitudes matter; the
// scorer normalizes the sum to 1 at construction.
type Weights struct {
	FaceSalience       float64
	MotionSalience     float64
	MainSubjectOverlap float64
	SpeechEnergy       float64
	KeywordBoost       float64
	FramingScore       float64
	NoveltyDecay       float64
	ContinuityBonus    float64
	Interest           float64
}

// Contribution is one feature's share of a fused score, used to build the
// rationale string.
type Contribution struct {
	// Name is the short stable feature label ("face", "keyword", ...).
	Name string

	// Value is the raw feature value in [0,1].
	Value float64

	// Weighted is the feature's weighted contribution to the score.
	Weighted float64
}

// Scorer fuses a feature vector into one scalar in [0,1]. Implementations
// must treat unavailable features as absent, not as zero.
type Scorer interface {
	Score(f types.CameraFeatures, avail Availability) (float64, []Contribution)
}

// NewScorer builds the scorer registered under name.
func NewScorer(name string, w Weights) (Scorer, error) {
	switch name {
	case "", "weighted":
		return NewWeightedScorer(w), nil
	}
	return nil, fmt.Errorf("ranker: unknown scorer %q", name)
}

// WeightedScorer is the rule-based weighted-sum fusion.
type WeightedScorer struct {
	w Weights
}

// NewWeightedScorer returns a WeightedScorer with w normalized to sum 1.
func NewWeightedScorer(w Weights) *WeightedScorer {
	sum := w.FaceSalience + w.MotionSalience + w.MainSubjectOverlap +
		w.SpeechEnergy + w.KeywordBoost + w.FramingScore +
		w.NoveltyDecay + w.ContinuityBonus + w.Interest
	if sum > 0 {
		w.FaceSalience /= sum
		w.MotionSalience /= sum
		w.MainSubjectOverlap /= sum
		w.SpeechEnergy /= sum
		w.KeywordBoost /= sum
		w.FramingScore /= sum
		w.NoveltyDecay /= sum
		w.ContinuityBonus /= sum
		w.Interest /= sum
	}
	return &WeightedScorer{w: w}
}

type term struct {
	name      string
	value     float64
	weight    float64
	available bool
}

// Score computes the weighted sum over available features, redistributing
// the weight of unavailable ones proportionally over the rest. The returned
// contributions are sorted by weighted share, largest first.
func (s *WeightedScorer) Score(f types.CameraFeatures, avail Availability) (float64, []Contribution) {
	terms := []term{
		{"face", f.FaceSalience, s.w.FaceSalience, avail.FaceSalience},
		{"motion", f.MotionSalience, s.w.MotionSalience, avail.MotionSalience},
		{"subject", f.MainSubjectOverlap, s.w.MainSubjectOverlap, avail.MainSubjectOverlap},
		{"speech", f.SpeechEnergy, s.w.SpeechEnergy, avail.SpeechEnergy},
		{"keyword", f.KeywordBoost, s.w.KeywordBoost, avail.KeywordBoost},
		{"framing", f.FramingScore, s.w.FramingScore, avail.FramingScore},
		{"novelty", f.NoveltyDecay, s.w.NoveltyDecay, avail.NoveltyDecay},
		{"continuity", f.ContinuityBonus, s.w.ContinuityBonus, avail.ContinuityBonus},
		{"interest", f.Interest, s.w.Interest, avail.Interest},
	}

	var availableWeight float64
	for _, t := range terms {
		if t.available {
			availableWeight += t.weight
		}
	}
	if availableWeight == 0 {
		return 0, nil
	}

	var score float64
	contribs := make([]Contribution, 0, len(terms))
	for _, t := range terms {
		if !t.available {
			continue
		}
		weighted := (t.weight / availableWeight) * t.value
		score += weighted
		contribs = append(contribs, Contribution{Name: t.name, Value: t.value, Weighted: weighted})
	}

	// Insertion-stable sort keeps the rationale deterministic for equal
	// contributions.
	for i := 1; i < len(contribs); i++ {
		for j := i; j > 0 && contribs[j].Weighted > contribs[j-1].Weighted; j-- {
			contribs[j], contribs[j-1] = contribs[j-1], contribs[j]
		}
	}
	return clip01(score), contribs
}

// maxRationaleLen bounds the published rationale string.
const maxRationaleLen = 140

// formatRationale renders the top two contributions in the stable
// "face .72, keyword 'goal'" form. The keyword term names the first matched
// keyword instead of its numeric value when one is present.
func formatRationale(contribs []Contribution, keywords []string) string {
	if len(contribs) == 0 {
		return "no-data"
	}
	n := min(2, len(contribs))
	parts := make([]string, 0, n)
	for _, c := range contribs[:n] {
		if c.Name == "keyword" && len(keywords) > 0 {
			parts = append(parts, fmt.Sprintf("keyword '%s'", keywords[0]))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", c.Name, trimFloat(c.Value)))
	}
	out := strings.Join(parts, ", ")
	if len(out) > maxRationaleLen {
		out = out[:maxRationaleLen]
	}
	return out
}

// trimFloat formats v to two decimals without a leading zero: 0.72 → ".72".
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	return strings.TrimPrefix(s, "0")
}
