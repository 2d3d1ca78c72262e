package narrate

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Rewriter rephrases a template narration before synthesis. Implementations
// must return text within the word budget or an error; on error the caller
// keeps the deterministic template text.
type Rewriter interface {
	Rewrite(ctx context.Context, text string, maxWords int) (string, error)
}

var _ Rewriter = (*LLMRewriter)(nil)

const rewriteSystemPrompt = "You are a live sports and event commentator. " +
	"Rephrase the given camera-switch line so it sounds natural when spoken. " +
	"Keep every factual detail. Reply with the rephrased line only, no quotes."

// LLMRewriter rewrites narrations through an any-llm-go backend.
type LLMRewriter struct {
	backend anyllmlib.Provider
	model   string
}

// NewLLMRewriter creates a rewriter for the named provider, one of:
// "openai", "anthropic", "gemini", "ollama", "mistral", "groq".
// Without an API key option the backend falls back to its usual
// environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func NewLLMRewriter(providerName, model string, opts ...anyllmlib.Option) (*LLMRewriter, error) {
	if providerName == "" {
		return nil, fmt.Errorf("narrate: rewriter provider name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("narrate: rewriter model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("narrate: create %q rewriter backend: %w", providerName, err)
	}
	return &LLMRewriter{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
}

// Rewrite implements Rewriter. The rewritten line is re-capped to maxWords
// since models do not reliably respect word budgets.
func (r *LLMRewriter) Rewrite(ctx context.Context, text string, maxWords int) (string, error) {
	temperature := 0.7
	maxTokens := 60
	params := anyllmlib.CompletionParams{
		Model: r.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: rewriteSystemPrompt},
			{Role: anyllmlib.RoleUser, Content: fmt.Sprintf("Maximum %d words: %s", maxWords, text)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	resp, err := r.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("narrate: rewrite completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("narrate: rewrite returned no choices")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if out == "" {
		return "", fmt.Errorf("narrate: rewrite returned empty text")
	}
	return capWords(out, maxWords), nil
}
