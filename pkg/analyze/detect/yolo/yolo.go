// Package yolo provides an object detector backed by a YOLO inference
// sidecar over HTTP. The sidecar accepts raw RGB frames on POST /v1/detect
// and answers with a JSON detection list; model choice and GPU placement are
// the sidecar's business, which keeps this process free of native inference
// dependencies.
//
// Typical usage:
//
//	p := yolo.New("http://localhost:9001",
//	    yolo.WithTimeout(50*time.Millisecond),
//	)
//	dets, err := p.Detect(ctx, frame)
package yolo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ detect.Provider = (*Provider)(nil)

const (
	detectEndpoint = "/v1/detect"
	healthEndpoint = "/v1/health"

	defaultTimeout = 50 * time.Millisecond
	warmUpTimeout  = 30 * time.Second
)

// Option is a functional option for configuring a YOLO Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 50 ms; the
// sampling loop passes a context deadline as well, and the shorter of the
// two wins.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to reuse a
// transport with tuned connection pooling.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider calls a YOLO inference sidecar over HTTP.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the sidecar at baseURL.
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WarmUp polls the sidecar health endpoint until it reports ready. The
// sidecar loads its model lazily on first boot, so this can take seconds.
func (p *Provider) WarmUp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()

	backoff := 250 * time.Millisecond
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthEndpoint, nil)
		if err != nil {
			return fmt.Errorf("yolo: build health request: %w", err)
		}
		// Health polling bypasses the short per-detect timeout.
		resp, err := (&http.Client{Transport: p.httpClient.Transport}).Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("yolo: warm up: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

type detectResponse struct {
	Detections []types.Detection `json:"detections"`
}

// Detect posts the raw RGB frame to the sidecar and decodes the detection
// list. Deadline misses and server errors are reported as unavailability so
// the caller degrades the affected features instead of failing the tick.
func (p *Provider) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+detectEndpoint, bytes.NewReader(frame.Pixels))
	if err != nil {
		return nil, fmt.Errorf("yolo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	req.Header.Set("X-Frame-Height", strconv.Itoa(frame.Height))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("yolo: %v: %w", err, analyze.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yolo: status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(body), analyze.ErrUnavailable)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("yolo: decode response: %w", err)
	}
	return dr.Detections, nil
}

// Close is a no-op; the sidecar owns all heavyweight state.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
