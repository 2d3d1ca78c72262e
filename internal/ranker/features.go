package ranker

import (
	"math"
	"sort"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/sampler"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Speech energy normalization floor and ceiling in dBFS.
const (
	energyFloorDb   = -60.0
	energyCeilingDb = -10.0
)

// hotSubjectWindow is how recent an observation must be for its main
// subject to compete for globally hottest.
const hotSubjectWindow = time.Second

// continuitySaturationAge is the main subject track age at which the
// continuity bonus saturates.
const continuitySaturationAge = 30

// Availability marks which features have a usable observation behind them.
// Unavailable features are excluded from fusion and their weight is
// redistributed; they are never treated as zero.
type Availability struct {
	FaceSalience       bool
	MainSubjectOverlap bool
	MotionSalience     bool
	SpeechEnergy       bool
	KeywordBoost       bool
	FramingScore       bool
	NoveltyDecay       bool
	ContinuityBonus    bool
	Interest           bool
}

// FeatureParams tunes the feature computations.
type FeatureParams struct {
	// VMaxPxPerSec saturates motionSalience.
	VMaxPxPerSec float64

	// NoveltyTau is the novelty decay time constant.
	NoveltyTau time.Duration

	// KeywordK is the keyword count that saturates keywordBoost.
	KeywordK int

	// InterestDecay is how long a stale scene interest takes to decay
	// linearly to zero.
	InterestDecay time.Duration

	// FrameWidth and FrameHeight are the analysis frame dimensions.
	FrameWidth  int
	FrameHeight int
}

// hotSubject is the globally most prominent main subject across cameras.
type hotSubject struct {
	cam      types.CameraID
	class    string
	quadrant int
	weight   float64
}

// quadrantOf maps a centroid to one of four frame quadrants.
func quadrantOf(box types.BBox, frameW, frameH int) int {
	cx, cy := box.Centroid()
	q := 0
	if cx >= float64(frameW)/2 {
		q |= 1
	}
	if cy >= float64(frameH)/2 {
		q |= 2
	}
	return q
}

// findHotSubject picks the most prominent main subject among observations
// fresher than the hot-subject window. Prominence is box area weighted by
// detection score; ties resolve in favor of the program camera.
func findHotSubject(observations map[types.CameraID]*sampler.Observation, program types.CameraID, now time.Time, p FeatureParams) *hotSubject {
	var best *hotSubject
	for cam, obs := range observations {
		if obs == nil || obs.MainSubject == nil || !obs.DetectOK {
			continue
		}
		if now.Sub(obs.UpdatedAt) > hotSubjectWindow {
			continue
		}
		w := obs.MainSubject.Box.Area() * obs.MainSubject.Score
		better := best == nil || w > best.weight ||
			(w == best.weight && cam == program && best.cam != program)
		if better {
			best = &hotSubject{
				cam:      cam,
				class:    obs.MainSubject.Class,
				quadrant: quadrantOf(obs.MainSubject.Box, p.FrameWidth, p.FrameHeight),
				weight:   w,
			}
		}
	}
	return best
}

// featureContext carries the cross-camera inputs of one ranking tick.
type featureContext struct {
	now         time.Time
	hot         *hotSubject
	program     types.CameraID
	haveProgram bool
}

// computeFeatures derives the feature vector and its availability mask for
// one camera. lastProgramAt is zero when the camera has never been program.
func computeFeatures(obs *sampler.Observation, fc featureContext, lastProgramAt time.Time, p FeatureParams) (types.CameraFeatures, Availability) {
	var f types.CameraFeatures
	var avail Availability

	frameArea := float64(p.FrameWidth * p.FrameHeight)

	if obs.DetectOK {
		avail.FaceSalience = true
		avail.MotionSalience = true
		avail.MainSubjectOverlap = true
		avail.FramingScore = true
		avail.ContinuityBonus = true

		var faceSum float64
		var largest *types.Track
		var motionSum float64
		var motionN int
		for i := range obs.Tracks {
			tr := &obs.Tracks[i]
			if tr.Class == "person" || tr.Class == "face" {
				faceSum += (tr.Box.Area() / frameArea) * tr.Score
			}
			if largest == nil || tr.Box.Area() > largest.Box.Area() {
				largest = tr
			}
			if tr.Age >= 3 {
				motionSum += math.Min(tr.Velocity/p.VMaxPxPerSec, 1)
				motionN++
			}
		}
		f.FaceSalience = clip01(faceSum)
		if motionN > 0 {
			f.MotionSalience = motionSum / float64(motionN)
		}
		if largest != nil {
			f.FramingScore = framingScore(largest.Box, p.FrameWidth, p.FrameHeight)
		}
		if obs.MainSubject != nil {
			f.ContinuityBonus = math.Min(float64(obs.MainSubject.Age)/continuitySaturationAge, 1)
			if fc.hot != nil &&
				obs.MainSubject.Class == fc.hot.class &&
				quadrantOf(obs.MainSubject.Box, p.FrameWidth, p.FrameHeight) == fc.hot.quadrant {
				f.MainSubjectOverlap = 1
			}
		}
	}

	if obs.SpeechOK {
		avail.SpeechEnergy = true
		avail.KeywordBoost = true
		if len(obs.Speech) > 0 {
			f.SpeechEnergy = clip01((obs.EnergyDb - energyFloorDb) / (energyCeilingDb - energyFloorDb))
		}
		f.KeywordBoost = math.Min(float64(len(obs.Keywords))/float64(p.KeywordK), 1)
	}

	// Novelty is always computable: it depends on program history only.
	avail.NoveltyDecay = true
	if lastProgramAt.IsZero() {
		f.NoveltyDecay = 1
	} else {
		dt := fc.now.Sub(lastProgramAt).Seconds()
		f.NoveltyDecay = math.Exp(-dt / p.NoveltyTau.Seconds())
	}

	if obs.Scene != nil {
		avail.Interest = true
		f.Interest = obs.Scene.NormalizedInterest()
		// Linear decay toward zero when the description goes stale.
		if age := fc.now.Sub(obs.SceneAt); age > 0 && p.InterestDecay > 0 {
			factor := 1 - age.Seconds()/p.InterestDecay.Seconds()
			if factor < 0 {
				factor = 0
			}
			f.Interest *= factor
		}
	}

	f.Tags = carryTags(obs)
	f.TopObjects = topObjects(obs)
	f.RecentSpeechText = recentSpeechText(obs)
	return f, avail
}

// framingScore measures the largest box's centroid proximity to the
// nearest rule-of-thirds intersection. Distance is normalized by a third of
// the frame diagonal, so a subject centered on an intersection scores 1 and
// anything farther than that normalization scores 0.
func framingScore(box types.BBox, frameW, frameH int) float64 {
	cx, cy := box.Centroid()
	if cx < 0 || cy < 0 || cx > float64(frameW) || cy > float64(frameH) {
		return 0
	}

	w := float64(frameW)
	h := float64(frameH)
	minDist := math.Inf(1)
	for _, tx := range []float64{w / 3, 2 * w / 3} {
		for _, ty := range []float64{h / 3, 2 * h / 3} {
			if d := math.Hypot(cx-tx, cy-ty); d < minDist {
				minDist = d
			}
		}
	}
	norm := math.Hypot(w, h) / 3
	return clip01(1 - minDist/norm)
}

func carryTags(obs *sampler.Observation) []string {
	if obs.Scene == nil || len(obs.Scene.Tags) == 0 {
		return nil
	}
	return append([]string(nil), obs.Scene.Tags...)
}

// topObjects lists the distinct track classes by summed area, largest
// first, capped at three entries.
func topObjects(obs *sampler.Observation) []string {
	if len(obs.Tracks) == 0 {
		return nil
	}
	areas := make(map[string]float64)
	for _, tr := range obs.Tracks {
		areas[tr.Class] += tr.Box.Area()
	}
	classes := make([]string, 0, len(areas))
	for class := range areas {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if areas[classes[i]] != areas[classes[j]] {
			return areas[classes[i]] > areas[classes[j]]
		}
		return classes[i] < classes[j]
	})
	if len(classes) > 3 {
		classes = classes[:3]
	}
	return classes
}

func recentSpeechText(obs *sampler.Observation) string {
	if len(obs.Speech) == 0 {
		return ""
	}
	return obs.Speech[len(obs.Speech)-1].Text
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
