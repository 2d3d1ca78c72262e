// Package ranker fuses per-camera observations into one CameraScore per
// camera per ranking tick. Feature rules live in features.go, fusion in
// scorer.go; this file owns the tick loop and publish discipline: exactly
// one score per (camera, tick), including explicit no-data scores so the
// stream stays aligned for every subscriber.
package ranker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/internal/sampler"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// ObservationSource provides the per-camera observations of the current
// tick. Implemented by the sampler.
type ObservationSource interface {
	Observations() map[types.CameraID]*sampler.Observation
}

// ProgramInfo exposes the slice of director state the feature rules need.
// Implemented by the decision engine; a nil ProgramInfo means no camera has
// ever been program.
type ProgramInfo interface {
	Program() (types.CameraID, bool)
	LastProgramAt(cam types.CameraID) (time.Time, bool)
}

// Ranker runs the ranking tick loop.
type Ranker struct {
	src     ObservationSource
	program ProgramInfo
	scorer  Scorer
	params  FeatureParams
	rate    float64
	bus     *bus.Bus
	log     *slog.Logger

	now func() time.Time
}

// New assembles a Ranker publishing to b.
func New(src ObservationSource, program ProgramInfo, scorer Scorer, params FeatureParams, rateHz float64, b *bus.Bus, log *slog.Logger) *Ranker {
	return &Ranker{
		src:     src,
		program: program,
		scorer:  scorer,
		params:  params,
		rate:    rateHz,
		bus:     b,
		log:     log,
		now:     time.Now,
	}
}

// Run executes ranking ticks until ctx is cancelled.
func (r *Ranker) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / r.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick scores every camera once and publishes the results. Exported so
// tests can step the loop deterministically.
func (r *Ranker) Tick() []types.CameraScore {
	now := r.now()
	observations := r.src.Observations()

	fc := featureContext{now: now}
	if r.program != nil {
		fc.program, fc.haveProgram = r.program.Program()
	}
	fc.hot = findHotSubject(observations, fc.program, now, r.params)

	cams := make([]types.CameraID, 0, len(observations))
	for cam := range observations {
		cams = append(cams, cam)
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i] < cams[j] })

	scores := make([]types.CameraScore, 0, len(cams))
	for _, cam := range cams {
		score := r.scoreCamera(cam, observations[cam], fc)
		scores = append(scores, score)
		r.bus.Publish(bus.TopicScores, types.NewScoreEvent(score))
	}
	return scores
}

func (r *Ranker) scoreCamera(cam types.CameraID, obs *sampler.Observation, fc featureContext) types.CameraScore {
	ts := float64(fc.now.UnixNano()) / float64(time.Second)
	if obs == nil || (!obs.DetectOK && !obs.SceneOK && !obs.SpeechOK) {
		degraded := obs != nil && obs.Degraded
		return types.CameraScore{CamID: cam, Timestamp: ts, Reason: "no-data", Degraded: degraded}
	}

	var lastProgramAt time.Time
	if r.program != nil {
		if at, ok := r.program.LastProgramAt(cam); ok {
			lastProgramAt = at
		}
	}

	features, avail := computeFeatures(obs, fc, lastProgramAt, r.params)
	value, contribs := r.scorer.Score(features, avail)

	score := types.CameraScore{
		CamID:     cam,
		Timestamp: ts,
		Score:     value,
		Reason:    formatRationale(contribs, obs.Keywords),
		Features:  features,
	}
	if obs.Degraded {
		score.Score = 0
		score.Degraded = true
	}
	return score
}
