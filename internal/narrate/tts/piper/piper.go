// Package piper provides a tts.Provider backed by a Piper HTTP synthesis
// server. Synthesis is one POST /synthesize call per utterance with a JSON
// body; the response is a RIFF/WAVE file whose PCM payload is extracted and
// returned. The audio duration comes from the X-Audio-Duration response
// header when present, otherwise it is derived from the sample count.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout     = 10 * time.Second
	synthesizeEndpoint = "/synthesize"

	// durationHeader carries the audio duration in seconds as a decimal
	// string, set by recent Piper HTTP wrappers.
	durationHeader = "X-Audio-Duration"

	// maxResponseBytes bounds a single WAV response.
	maxResponseBytes = 8 << 20
)

// Option configures a Provider.
type Option func(*Provider)

// WithVoice selects a specific voice model on multi-voice servers.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against a Piper HTTP server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	voice      string
	httpClient *http.Client
}

// New creates a Provider targeting the Piper server at serverURL
// (e.g. "http://localhost:5000").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesizeRequest is the JSON body sent to POST /synthesize.
type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize renders text through one POST /synthesize call.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Result{}, errors.New("piper: text must not be empty")
	}

	data, err := json.Marshal(synthesizeRequest{Text: text, Voice: p.voice})
	if err != nil {
		return tts.Result{}, fmt.Errorf("piper: marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+synthesizeEndpoint, bytes.NewReader(data))
	if err != nil {
		return tts.Result{}, fmt.Errorf("piper: create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Result{}, fmt.Errorf("piper: POST %s: %w", synthesizeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Result{}, fmt.Errorf("piper: POST %s returned status %d", synthesizeEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return tts.Result{}, fmt.Errorf("piper: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return tts.Result{}, err
	}
	pcm := wav[info.DataOffset:]

	result := tts.Result{
		PCM:        pcm,
		SampleRate: info.SampleRate,
	}
	if secs, err := strconv.ParseFloat(resp.Header.Get(durationHeader), 64); err == nil && secs > 0 {
		result.DurationMs = int(secs * 1000)
	} else if info.SampleRate > 0 && info.Channels > 0 {
		samples := len(pcm) / 2 / info.Channels
		result.DurationMs = samples * 1000 / info.SampleRate
	}
	return result, nil
}

// Close implements tts.Provider. The provider holds no persistent
// connections.
func (p *Provider) Close() error { return nil }

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV walks the RIFF chunks to locate the fmt and data sub-chunks.
// This is more robust than assuming a fixed 44-byte header because the fmt
// chunk size may vary between encoders.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("piper: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("piper: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("piper: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				// fmt should precede data; fall back to Piper's default rate.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by one byte when the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("piper: WAV response missing data chunk")
}
