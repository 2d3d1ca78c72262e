// Package openai provides a scene describer backed by the OpenAI vision
// API. Frames are JPEG-encoded and sent as low-detail image parts; the model
// is instructed to answer with a single JSON object so the response parses
// without free-text scraping.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/shotcaller-ai/shotcaller/pkg/analyze"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Compile-time interface assertion.
var _ scene.Provider = (*Provider)(nil)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 5 * time.Second
	jpegQuality    = 70
	maxTokens      = 200
)

const systemPrompt = `You are a camera director's scene analyst. Given one video frame, respond with a single JSON object and nothing else:
{"tags": ["up to 4 short labels"], "caption": "one sentence, present tense", "interest": 1-5, "confidence": 0.0-1.0}
interest rates how visually compelling the shot is right now: 1 = static or empty, 5 = peak action or strong emotion.`

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target a
// compatible local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 5 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements scene.Provider using the OpenAI vision API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs an OpenAI scene Provider. model may be empty to use the
// default vision-capable model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// WarmUp is a no-op; the API needs no session setup and a probe request
// would spend tokens for nothing.
func (p *Provider) WarmUp(ctx context.Context) error { return nil }

type sceneReply struct {
	Tags       []string `json:"tags"`
	Caption    string   `json:"caption"`
	Interest   int      `json:"interest"`
	Confidence float64  `json:"confidence"`
}

// Describe sends the frame to the vision model and parses the JSON reply.
func (p *Provider) Describe(ctx context.Context, frame types.Frame) (types.SceneDescription, error) {
	dataURL, err := frameToDataURL(frame)
	if err != nil {
		return types.SceneDescription{}, fmt.Errorf("openai: encode frame: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.model),
		MaxTokens: oai.Int(maxTokens),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart("Analyze this frame."),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL:    dataURL,
					Detail: "low",
				}),
			}),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return types.SceneDescription{}, err
		}
		return types.SceneDescription{}, fmt.Errorf("openai: %v: %w", err, analyze.ErrUnavailable)
	}
	if len(resp.Choices) == 0 {
		return types.SceneDescription{}, fmt.Errorf("openai: empty response: %w", analyze.ErrUnavailable)
	}

	var reply sceneReply
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return types.SceneDescription{}, fmt.Errorf("openai: parse reply %q: %w", content, err)
	}

	return types.SceneDescription{
		Tags:       reply.Tags,
		Caption:    reply.Caption,
		Interest:   reply.Interest,
		Confidence: reply.Confidence,
	}, nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// frameToDataURL JPEG-encodes the packed RGB frame into a base64 data URL.
func frameToDataURL(frame types.Frame) (string, error) {
	if len(frame.Pixels) < frame.Width*frame.Height*3 {
		return "", fmt.Errorf("frame pixel buffer too short: %d for %dx%d", len(frame.Pixels), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4] = frame.Pixels[i*3]
		img.Pix[i*4+1] = frame.Pixels[i*3+1]
		img.Pix[i*4+2] = frame.Pixels[i*3+2]
		img.Pix[i*4+3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
