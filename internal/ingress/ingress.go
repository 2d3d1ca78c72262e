// Package ingress owns the connection to the media room and turns whatever
// the SFU delivers into canonical per-camera observations: the latest
// analysis-resolution RGB frame and fixed-size overlapping audio windows.
// Analyzers read from here and never touch the transport.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/media"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// EventKind discriminates room events.
type EventKind int

const (
	// CameraJoined announces a new camera participant.
	CameraJoined EventKind = iota
	// CameraLeft announces a departed camera participant.
	CameraLeft
	// VideoFrame carries one decoded RGB frame at source resolution.
	VideoFrame
	// AudioPacket carries decoded PCM at source rate and channel count.
	AudioPacket
)

// RoomEvent is one occurrence inside the media room.
type RoomEvent struct {
	Kind EventKind
	Cam  types.CameraID

	// Frame is set for VideoFrame events. Pixels are packed RGB at the
	// source resolution; the adapter rescales to the analysis resolution.
	Frame *types.Frame

	// PCM, Channels and SampleRate are set for AudioPacket events. The
	// adapter downmixes and resamples to the canonical analysis format.
	PCM        []byte
	Channels   int
	SampleRate int
	Timestamp  time.Time
}

// MediaRoom is the transport behind the adapter. Connect returns a channel
// of room events; the channel closing signals that the session ended and
// the adapter should reconnect.
type MediaRoom interface {
	Connect(ctx context.Context) (<-chan RoomEvent, error)
	Close() error
}

const (
	// failureThreshold is how many consecutive connect failures mark the
	// adapter degraded.
	failureThreshold = 5

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config shapes the canonical output formats.
type Config struct {
	// CamPrefix marks participant identities that act as cameras; others
	// are ignored.
	CamPrefix string

	// MaxCameras bounds concurrently tracked cameras. Joins beyond the
	// bound are refused.
	MaxCameras int

	// FrameWidth and FrameHeight set the analysis resolution.
	FrameWidth  int
	FrameHeight int

	// SampleRate is the canonical audio rate in Hz.
	SampleRate int

	// WindowSec and OverlapSec shape the audio windows handed to speech
	// analysis.
	WindowSec  float64
	OverlapSec float64
}

type camState struct {
	mu        sync.Mutex
	frame     *types.Frame
	sampledTs time.Time
	audio     []byte
	audioTs   time.Time
	lastSeen  time.Time
}

// Adapter subscribes to a MediaRoom and maintains per-camera canonical
// state. Start is idempotent; reads are safe for concurrent use.
type Adapter struct {
	room    MediaRoom
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	windowBytes int
	hopBytes    int

	mu   sync.RWMutex
	cams map[types.CameraID]*camState

	started   atomic.Bool
	connected atomic.Bool
	degraded  atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures optional Adapter collaborators.
type Option func(*Adapter)

// WithMetrics sets the instrument set camera membership is recorded on.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New creates an Adapter over room. The adapter does not connect until
// Start is called.
func New(room MediaRoom, cfg Config, log *slog.Logger, opts ...Option) *Adapter {
	windowSamples := int(cfg.WindowSec * float64(cfg.SampleRate))
	hopSamples := int((cfg.WindowSec - cfg.OverlapSec) * float64(cfg.SampleRate))
	if hopSamples < 1 {
		hopSamples = windowSamples
	}
	a := &Adapter{
		room:        room,
		cfg:         cfg,
		log:         log,
		windowBytes: windowSamples * 2,
		hopBytes:    hopSamples * 2,
		cams:        make(map[types.CameraID]*camState),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Start connects to the room and consumes events until ctx is cancelled,
// reconnecting with capped exponential backoff on session loss. Repeated
// calls after the first are no-ops.
func (a *Adapter) Start(ctx context.Context) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// Close tears down the room session and waits for the event loop to exit.
func (a *Adapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	err := a.room.Close()
	a.wg.Wait()
	return err
}

// Connected reports whether a room session is currently live.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// Degraded reports whether the adapter has exhausted its failure budget and
// is reconnecting in the background. Scores derived while degraded carry
// the degraded marker.
func (a *Adapter) Degraded() bool { return a.degraded.Load() }

func (a *Adapter) run(ctx context.Context) {
	failures := 0
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := a.room.Connect(ctx)
		if err != nil {
			failures++
			if failures >= failureThreshold && !a.degraded.Swap(true) {
				a.log.Error("media room degraded", "failures", failures, "error", err)
			}
			a.log.Warn("media room connect failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}

		failures = 0
		backoff = initialBackoff
		a.connected.Store(true)
		if a.degraded.Swap(false) {
			a.log.Info("media room recovered")
		}
		a.consume(ctx, events)
		a.connected.Store(false)
		if ctx.Err() == nil {
			a.log.Warn("media room session ended, reconnecting")
		}
	}
}

func (a *Adapter) consume(ctx context.Context, events <-chan RoomEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ev)
		}
	}
}

func (a *Adapter) handle(ev RoomEvent) {
	if a.cfg.CamPrefix != "" && !strings.HasPrefix(string(ev.Cam), a.cfg.CamPrefix) {
		return
	}
	switch ev.Kind {
	case CameraJoined:
		a.join(ev.Cam)
	case CameraLeft:
		a.leave(ev.Cam)
	case VideoFrame:
		if ev.Frame != nil {
			a.storeFrame(ev)
		}
	case AudioPacket:
		a.storeAudio(ev)
	}
}

func (a *Adapter) join(cam types.CameraID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cams[cam]; ok {
		return
	}
	if len(a.cams) >= a.cfg.MaxCameras {
		a.log.Warn("camera refused, room full", "camId", cam, "max", a.cfg.MaxCameras)
		return
	}
	a.cams[cam] = &camState{}
	a.metrics.ActiveCameras.Add(context.Background(), 1)
	a.log.Info("camera joined", "camId", cam, "cameras", len(a.cams))
}

func (a *Adapter) leave(cam types.CameraID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cams[cam]; !ok {
		return
	}
	delete(a.cams, cam)
	a.metrics.ActiveCameras.Add(context.Background(), -1)
	a.log.Info("camera left", "camId", cam, "cameras", len(a.cams))
}

func (a *Adapter) state(cam types.CameraID) *camState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cams[cam]
}

func (a *Adapter) storeFrame(ev RoomEvent) {
	st := a.state(ev.Cam)
	if st == nil {
		return
	}
	src := ev.Frame
	pixels := media.ScaleRGB(src.Pixels, src.Width, src.Height, a.cfg.FrameWidth, a.cfg.FrameHeight)
	frame := &types.Frame{
		CamID:     ev.Cam,
		Width:     a.cfg.FrameWidth,
		Height:    a.cfg.FrameHeight,
		Pixels:    pixels,
		Timestamp: src.Timestamp,
	}
	st.mu.Lock()
	st.frame = frame
	st.lastSeen = src.Timestamp
	st.mu.Unlock()
}

func (a *Adapter) storeAudio(ev RoomEvent) {
	st := a.state(ev.Cam)
	if st == nil || len(ev.PCM) == 0 {
		return
	}
	pcm := media.ToAnalysisPCM(ev.PCM, ev.Channels, ev.SampleRate, a.cfg.SampleRate)

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.audio) == 0 {
		st.audioTs = ev.Timestamp
	}
	st.audio = append(st.audio, pcm...)
	st.lastSeen = ev.Timestamp
}

// Cameras returns the currently joined camera ids in unspecified order.
func (a *Adapter) Cameras() []types.CameraID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.CameraID, 0, len(a.cams))
	for cam := range a.cams {
		out = append(out, cam)
	}
	return out
}

// Sample returns the latest canonical frame for cam. The second return is
// false when the camera is unknown, has not produced a frame yet, or has
// produced nothing newer than the previous sample: a frozen feed is "no
// data", not a repeat of the last frame. Sampling never blocks and never
// returns the same allocation twice for different frames; callers may hold
// the frame across ticks.
func (a *Adapter) Sample(cam types.CameraID) (types.Frame, bool) {
	st := a.state(cam)
	if st == nil {
		return types.Frame{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.frame == nil || !st.frame.Timestamp.After(st.sampledTs) {
		return types.Frame{}, false
	}
	st.sampledTs = st.frame.Timestamp
	return *st.frame, true
}

// AudioWindow returns the next canonical audio window for cam when a full
// window has accumulated. Consecutive windows overlap by the configured
// amount: each call consumes one hop, not one window.
func (a *Adapter) AudioWindow(cam types.CameraID) (types.AudioChunk, bool) {
	st := a.state(cam)
	if st == nil {
		return types.AudioChunk{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.audio) < a.windowBytes {
		return types.AudioChunk{}, false
	}

	chunk := types.AudioChunk{
		CamID:      cam,
		PCM:        append([]byte(nil), st.audio[:a.windowBytes]...),
		SampleRate: a.cfg.SampleRate,
		Timestamp:  st.audioTs,
	}

	st.audio = st.audio[a.hopBytes:]
	st.audioTs = st.audioTs.Add(time.Duration(a.hopBytes/2) * time.Second / time.Duration(a.cfg.SampleRate))
	return chunk, true
}

// LastSeen returns the time of the most recent media from cam.
func (a *Adapter) LastSeen(cam types.CameraID) (time.Time, bool) {
	st := a.state(cam)
	if st == nil {
		return time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSeen, !st.lastSeen.IsZero()
}

// ErrRoomClosed is returned by MediaRoom implementations whose session was
// closed locally.
var ErrRoomClosed = errors.New("ingress: room closed")
