// Package webrtc implements ingress.MediaRoom over a WHEP-style SFU: the
// room offers receive-only audio and video transceivers, posts the SDP
// offer over HTTP with a bearer token, and fans decoded media out as room
// events. Opus audio is decoded in-process; H.264 video is depacketized
// with pion's sample builder and decoded through the openh264 bindings.
//
// Camera identity is the remote track's stream id, so one SFU participant
// publishing an audio and a video track appears as a single camera.
package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp/codecs"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"layeh.com/gopus"

	"github.com/shotcaller-ai/shotcaller/internal/ingress"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ ingress.MediaRoom = (*Room)(nil)

const (
	// SFU audio is 48 kHz Opus; frame size is 20 ms per channel.
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate * 20 / 1000

	videoClockRate = 90000

	// sampleBuilderDepth is how many packets the H.264 sample builder may
	// hold back waiting for reordered packets.
	sampleBuilderDepth = 32

	eventBuf       = 256
	signalTimeout  = 10 * time.Second
	whepEndpoint   = "/whep"
	sdpContentType = "application/sdp"
)

// Option is a functional option for configuring a Room.
type Option func(*Room)

// WithHTTPClient replaces the signalling HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Room) { r.httpClient = c }
}

// WithLogger sets the room logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Room) { r.log = log }
}

// session owns one WHEP event stream. Every producer routes its events
// through send, which holds the session mutex, so ending the stream can
// never race a send on the closed channel: track readers keep running after
// a remote connection failure, and their late events must be discarded, not
// delivered to a closed channel.
type session struct {
	mu     sync.Mutex
	events chan ingress.RoomEvent
	closed bool
}

func newSession() *session {
	return &session{events: make(chan ingress.RoomEvent, eventBuf)}
}

// send drops the event when the buffer is full; a slow consumer must not
// stall RTP reads. Sends after end are discarded.
func (s *session) send(ev ingress.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// end closes the event stream. Safe to call more than once and concurrently
// with send.
func (s *session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Room is a WHEP subscriber session.
type Room struct {
	url        string
	token      string
	httpClient *http.Client
	log        *slog.Logger

	mu   sync.Mutex
	pc   *pion.PeerConnection
	sess *session
	// trackRefs counts live tracks per camera so CameraLeft fires when the
	// last one ends.
	trackRefs map[types.CameraID]int
	closed    bool
}

// New creates a Room for the SFU at url using the subscribe-only token.
func New(url, token string, opts ...Option) *Room {
	r := &Room{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: signalTimeout},
		log:        slog.Default(),
		trackRefs:  make(map[types.CameraID]int),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect establishes the peer connection and returns the event stream. The
// stream closes when the session ends for any reason.
func (r *Room) Connect(ctx context.Context) (<-chan ingress.RoomEvent, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ingress.ErrRoomClosed
	}
	r.mu.Unlock()

	me := &pion.MediaEngine{}
	if err := me.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType: pion.MimeTypeOpus, ClockRate: opusSampleRate, Channels: opusChannels,
		},
		PayloadType: 111,
	}, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("webrtc: register opus: %w", err)
	}
	if err := me.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType: pion.MimeTypeH264, ClockRate: videoClockRate,
		},
		PayloadType: 102,
	}, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("webrtc: register h264: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("webrtc: register interceptors: %w", err)
	}

	api := pion.NewAPI(pion.WithMediaEngine(me), pion.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(pion.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: add audio transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: add video transceiver: %w", err)
	}

	sess := newSession()

	pc.OnTrack(func(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
		cam := types.CameraID(remote.StreamID())
		r.addTrack(cam, sess)
		switch remote.Kind() {
		case pion.RTPCodecTypeAudio:
			go r.readAudio(remote, cam, sess)
		case pion.RTPCodecTypeVideo:
			go r.readVideo(remote, cam, sess)
		}
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			sess.end()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: create offer: %w", err)
	}
	gatherDone := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	answer, err := r.signal(ctx, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: set remote description: %w", err)
	}

	r.mu.Lock()
	r.pc = pc
	r.sess = sess
	r.mu.Unlock()
	return sess.events, nil
}

// signal posts the offer SDP and returns the answer SDP.
func (r *Room) signal(ctx context.Context, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+whepEndpoint, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("webrtc: build signal request: %w", err)
	}
	req.Header.Set("Content-Type", sdpContentType)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webrtc: signal: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webrtc: signal status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("webrtc: read answer: %w", err)
	}
	return string(body), nil
}

func (r *Room) addTrack(cam types.CameraID, sess *session) {
	r.mu.Lock()
	first := false
	r.trackRefs[cam]++
	if r.trackRefs[cam] == 1 {
		first = true
	}
	r.mu.Unlock()
	if first {
		sess.send(ingress.RoomEvent{Kind: ingress.CameraJoined, Cam: cam})
	}
}

func (r *Room) dropTrack(cam types.CameraID, sess *session) {
	r.mu.Lock()
	last := false
	r.trackRefs[cam]--
	if r.trackRefs[cam] <= 0 {
		delete(r.trackRefs, cam)
		last = true
	}
	r.mu.Unlock()
	if last {
		sess.send(ingress.RoomEvent{Kind: ingress.CameraLeft, Cam: cam})
	}
}

func (r *Room) readAudio(remote *pion.TrackRemote, cam types.CameraID, sess *session) {
	defer r.dropTrack(cam, sess)

	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		r.log.Error("create opus decoder", "camId", cam, "error", err)
		return
	}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warn("audio track read failed", "camId", cam, "error", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt.Payload, opusFrameSize, false)
		if err != nil {
			r.log.Warn("opus decode failed", "camId", cam, "error", err)
			continue
		}
		sess.send(ingress.RoomEvent{
			Kind:       ingress.AudioPacket,
			Cam:        cam,
			PCM:        int16sToBytes(pcm),
			Channels:   opusChannels,
			SampleRate: opusSampleRate,
			Timestamp:  time.Now(),
		})
	}
}

func (r *Room) readVideo(remote *pion.TrackRemote, cam types.CameraID, sess *session) {
	defer r.dropTrack(cam, sess)

	dec, err := newH264Decoder()
	if err != nil {
		r.log.Error("create h264 decoder", "camId", cam, "error", err)
		return
	}
	defer dec.close()

	builder := samplebuilder.New(sampleBuilderDepth, &codecs.H264Packet{}, videoClockRate)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warn("video track read failed", "camId", cam, "error", err)
			}
			return
		}
		builder.Push(pkt)
		for {
			sample := builder.Pop()
			if sample == nil {
				break
			}
			frame, err := dec.decode(sample.Data)
			if err != nil {
				r.log.Warn("h264 decode failed", "camId", cam, "error", err)
				continue
			}
			if frame == nil {
				// Decoder is buffering; no picture for this access unit.
				continue
			}
			frame.CamID = cam
			frame.Timestamp = time.Now()
			sess.send(ingress.RoomEvent{Kind: ingress.VideoFrame, Cam: cam, Frame: frame})
		}
	}
}

// Close tears down the peer connection and ends the event stream.
func (r *Room) Close() error {
	r.mu.Lock()
	r.closed = true
	pc := r.pc
	sess := r.sess
	r.pc = nil
	r.sess = nil
	r.mu.Unlock()

	var err error
	if pc != nil {
		err = pc.Close()
	}
	if sess != nil {
		sess.end()
	}
	return err
}

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
