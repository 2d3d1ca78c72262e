// Package track maintains per-camera object tracks over consecutive
// detection ticks. Matching is greedy intersection-over-union with a
// centroid-distance fallback, which is enough at analysis cadence: the
// tracker's job is stable ids, ages, and velocities for the feature rules,
// not broadcast-grade re-identification. Track ids carry no meaning across
// cameras.
package track

import (
	"math"
	"sort"
	"time"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

const (
	// defaultMinIoU is the minimum overlap to match a detection to a track.
	defaultMinIoU = 0.3

	// defaultMaxLost is how many ticks a track survives without a matched
	// detection before it is dropped.
	defaultMaxLost = 30

	// centroidGate is the matching fallback distance in units of box
	// diagonal. Fast movers can lose box overlap entirely between ticks
	// while staying near their previous centroid.
	centroidGate = 1.5
)

// Option is a functional option for configuring a Tracker.
type Option func(*Tracker)

// WithMinIoU sets the minimum IoU for detection-track matching.
func WithMinIoU(v float64) Option {
	return func(t *Tracker) { t.minIoU = v }
}

// WithMaxLost sets how many ticks a track may go unmatched before removal.
func WithMaxLost(n int) Option {
	return func(t *Tracker) { t.maxLost = n }
}

type trackState struct {
	track    types.Track
	lost     int
	lastSeen time.Time
}

// Tracker tracks objects on a single camera. It is not safe for concurrent
// use; the sampling loop owns one Tracker per camera and calls it from that
// camera's analysis goroutine only.
type Tracker struct {
	minIoU  float64
	maxLost int
	nextID  int
	tracks  []*trackState
}

// New returns an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		minIoU:  defaultMinIoU,
		maxLost: defaultMaxLost,
		nextID:  1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b types.BBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type candidate struct {
	trackIdx int
	detIdx   int
	iou      float64
}

// Update advances the tracker by one tick. ts is the frame capture time,
// used to derive velocities in pixels per second. It returns the tracks
// matched or created this tick, sorted by id.
func (t *Tracker) Update(ts time.Time, dets []types.Detection) []types.Track {
	// Rank all above-threshold pairs by IoU and match greedily.
	var cands []candidate
	for ti, st := range t.tracks {
		for di, d := range dets {
			if d.Class != st.track.Class {
				continue
			}
			if iou := IoU(st.track.Box, d.Box); iou >= t.minIoU {
				cands = append(cands, candidate{ti, di, iou})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].iou > cands[j].iou })

	matchedTrack := make(map[int]bool, len(t.tracks))
	matchedDet := make(map[int]bool, len(dets))
	for _, c := range cands {
		if matchedTrack[c.trackIdx] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackIdx] = true
		matchedDet[c.detIdx] = true
		t.advance(t.tracks[c.trackIdx], dets[c.detIdx], ts)
	}

	// Centroid fallback for tracks that lost all box overlap.
	for ti, st := range t.tracks {
		if matchedTrack[ti] {
			continue
		}
		gate := centroidGate * math.Hypot(st.track.Box.W, st.track.Box.H)
		bestDet, bestDist := -1, gate
		cx, cy := st.track.Box.Centroid()
		for di, d := range dets {
			if matchedDet[di] || d.Class != st.track.Class {
				continue
			}
			dx, dy := d.Box.Centroid()
			if dist := math.Hypot(dx-cx, dy-cy); dist < bestDist {
				bestDet, bestDist = di, dist
			}
		}
		if bestDet >= 0 {
			matchedTrack[ti] = true
			matchedDet[bestDet] = true
			t.advance(st, dets[bestDet], ts)
		}
	}

	// Age out unmatched tracks; spawn new ones from unmatched detections.
	kept := t.tracks[:0]
	for ti, st := range t.tracks {
		if !matchedTrack[ti] {
			st.lost++
			if st.lost > t.maxLost {
				continue
			}
		}
		kept = append(kept, st)
	}
	t.tracks = kept

	for di, d := range dets {
		if matchedDet[di] {
			continue
		}
		t.tracks = append(t.tracks, &trackState{
			track: types.Track{
				ID:    t.nextID,
				Class: d.Class,
				Box:   d.Box,
				Age:   1,
				Score: d.Confidence,
			},
			lastSeen: ts,
		})
		t.nextID++
	}

	return t.Active()
}

func (t *Tracker) advance(st *trackState, d types.Detection, ts time.Time) {
	prevCx, prevCy := st.track.Box.Centroid()
	newCx, newCy := d.Box.Centroid()
	if dt := ts.Sub(st.lastSeen).Seconds(); dt > 0 {
		st.track.Velocity = math.Hypot(newCx-prevCx, newCy-prevCy) / dt
	}
	st.track.Box = d.Box
	st.track.Score = d.Confidence
	st.track.Age++
	st.lost = 0
	st.lastSeen = ts
}

// Active returns the tracks matched in the most recent tick, sorted by id.
func (t *Tracker) Active() []types.Track {
	out := make([]types.Track, 0, len(t.tracks))
	for _, st := range t.tracks {
		if st.lost == 0 {
			out = append(out, st.track)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MainSubject selects the camera's main subject among currently active
// tracks: the longest-lived track wins; ties break by distance to frame
// center, then by box area. The second return is false when no track is
// active.
func (t *Tracker) MainSubject(frameW, frameH int) (types.Track, bool) {
	cx := float64(frameW) / 2
	cy := float64(frameH) / 2

	var best types.Track
	bestDist := math.Inf(1)
	found := false
	for _, st := range t.tracks {
		if st.lost != 0 {
			continue
		}
		tx, ty := st.track.Box.Centroid()
		dist := math.Hypot(tx-cx, ty-cy)
		switch {
		case !found,
			st.track.Age > best.Age,
			st.track.Age == best.Age && dist < bestDist,
			st.track.Age == best.Age && dist == bestDist && st.track.Box.Area() > best.Box.Area():
			best = st.track
			bestDist = dist
			found = true
		}
	}
	return best, found
}
