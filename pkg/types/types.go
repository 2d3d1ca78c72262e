// Package types defines the shared types used across all Shotcaller packages.
//
// These types form the lingua franca between the ingress adapter, the
// analyzers, the ranker, the decision engine, and the narration orchestrator.
// They are intentionally minimal — each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// CameraID is the opaque, stable identifier of a participant acting as a
// camera. It is assigned by the SFU and matched by the agreed identity
// prefix convention (see ingress).
type CameraID string

// Frame is a single video frame in the canonical analysis format: 8-bit RGB,
// tightly packed, at the configured analysis resolution (default 640×360).
// The ingress adapter produces frames in this format regardless of the
// source track's pixel format or bit depth.
type Frame struct {
	// CamID identifies the producing camera.
	CamID CameraID

	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// Pixels is tightly packed 8-bit RGB, Width*Height*3 bytes.
	Pixels []byte

	// Timestamp is the monotonic capture time of this frame.
	Timestamp time.Time
}

// AudioChunk is a window of canonical audio: 16-bit little-endian PCM, mono,
// at the configured analysis rate (default 16 kHz).
type AudioChunk struct {
	// CamID identifies the producing camera.
	CamID CameraID

	// PCM is 16-bit little-endian mono samples.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Timestamp is the capture time of the first sample in the chunk.
	Timestamp time.Time
}

// Duration returns the audio duration represented by the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// BBox is an axis-aligned bounding box in frame pixel coordinates.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 { return b.W * b.H }

// Centroid returns the box center point.
func (b BBox) Centroid() (cx, cy float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Detection is a single object detection from the detector analyzer.
type Detection struct {
	// Class is the detector's label (e.g. "person", "face", "ball").
	Class string `json:"class"`

	// Confidence is the detector confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Box is the detection bounding box in frame coordinates.
	Box BBox `json:"bbox"`

	// FrameID is a per-frame integer id when the underlying engine provides
	// one; -1 otherwise.
	FrameID int `json:"frameId,omitempty"`
}

// Track is a tracked object on a single camera. Track IDs are stable across
// consecutive frames of the same camera only — they carry no meaning across
// cameras.
type Track struct {
	// ID is the tracker-assigned stable id.
	ID int `json:"trackId"`

	// Class is the detection class carried from the matched detection.
	Class string `json:"class"`

	// Box is the current bounding box.
	Box BBox `json:"bbox"`

	// Age is the number of ticks this track has been seen.
	Age int `json:"age"`

	// Score is the matched detection confidence in [0,1].
	Score float64 `json:"score"`

	// Velocity is the centroid speed in pixels per second, derived from
	// consecutive box positions. Zero for freshly created tracks.
	Velocity float64 `json:"velocity,omitempty"`
}

// SceneDescription is the scene describer's output for one frame.
type SceneDescription struct {
	// Tags are short semantic labels ("presentation", "crowd", "close-up").
	Tags []string `json:"tags"`

	// Caption is a one-sentence description of the scene.
	Caption string `json:"caption"`

	// Interest is the raw interest level, clipped to [1,5].
	Interest int `json:"interest"`

	// Confidence is the describer's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// NormalizedInterest maps the 1..5 interest level onto [0,1].
func (s SceneDescription) NormalizedInterest() float64 {
	i := s.Interest
	if i < 1 {
		i = 1
	}
	if i > 5 {
		i = 5
	}
	return float64(i-1) / 4
}

// WordTiming holds per-word timing from speech recognizers that support it.
type WordTiming struct {
	Word  string        `json:"word"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// SpeechSegment is a transcribed span of audio from one camera.
type SpeechSegment struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// StartTs and EndTs are absolute times of the segment boundaries.
	StartTs time.Time `json:"startTs"`
	EndTs   time.Time `json:"endTs"`

	// Words contains word-level timings when the recognizer provides them.
	Words []WordTiming `json:"wordTimings,omitempty"`

	// Keywords are the configured keywords matched in this segment.
	Keywords []string `json:"keywords,omitempty"`

	// EnergyDb is the RMS energy of the source audio window in dBFS.
	EnergyDb float64 `json:"energyDb"`
}

// CameraFeatures is the fixed-width feature vector computed per camera per
// ranking tick, plus the auxiliary carry-through fields the narrator uses.
// Every scalar is in [0,1].
type CameraFeatures struct {
	FaceSalience       float64 `json:"faceSalience"`
	MainSubjectOverlap float64 `json:"mainSubjectOverlap"`
	MotionSalience     float64 `json:"motionSalience"`
	SpeechEnergy       float64 `json:"speechEnergy"`
	KeywordBoost       float64 `json:"keywordBoost"`
	FramingScore       float64 `json:"framingScore"`
	NoveltyDecay       float64 `json:"noveltyDecay"`
	ContinuityBonus    float64 `json:"continuityBonus"`
	Interest           float64 `json:"interest"`

	// Carry-through fields for the narration orchestrator.
	Tags             []string `json:"tags,omitempty"`
	TopObjects       []string `json:"topObjects,omitempty"`
	RecentSpeechText string   `json:"recentSpeechText,omitempty"`
}

// CameraScore is one fused ranking result for a camera at a tick.
type CameraScore struct {
	CamID CameraID `json:"camId"`

	// Timestamp is the tick time, seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`

	// Score is the fused scalar in [0,1].
	Score float64 `json:"score"`

	// Reason is a short, stable rationale (≤140 chars), e.g.
	// "face .72, keyword 'goal'".
	Reason string `json:"reason"`

	// Features is the full feature vector behind the score.
	Features CameraFeatures `json:"features"`

	// Degraded marks a camera whose ingress has failed repeatedly; the
	// score is forced to 0 while set.
	Degraded bool `json:"degraded,omitempty"`
}

// SwitchAction enumerates decision engine outcomes.
type SwitchAction string

const (
	ActionSwitch SwitchAction = "SWITCH"
	ActionHold   SwitchAction = "HOLD"
)

// SwitchDecision is one decision engine outcome, published on the switch
// topic. FromCam and ToCam are set only for SWITCH actions.
type SwitchDecision struct {
	// Timestamp is the decision time, seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`

	Action SwitchAction `json:"action"`

	FromCam CameraID `json:"fromCam,omitempty"`
	ToCam   CameraID `json:"toCam,omitempty"`

	// DeltaScore is best.score − current.score for threshold switches.
	DeltaScore float64 `json:"deltaScore,omitempty"`

	// Rationale is the stable reason string ("initial", "min-hold",
	// "max-duration", "ping-pong", ...).
	Rationale string `json:"rationale"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`
}

// Narration is a synthesized commentary event tied to a switch.
type Narration struct {
	// Text is the narration text (≤ the configured word budget).
	Text string `json:"text"`

	// DurationMs is the synthesized audio duration in milliseconds.
	DurationMs int `json:"durationMs"`

	// Timestamp is the publish time, seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`

	// AudioBlobRef references the synthesized audio blob, when present.
	AudioBlobRef string `json:"audioBlobRef,omitempty"`
}
