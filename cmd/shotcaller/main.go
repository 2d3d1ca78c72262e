// Command shotcaller is the main entry point for the Shotcaller
// auto-director server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/shotcaller-ai/shotcaller/internal/app"
	"github.com/shotcaller-ai/shotcaller/internal/config"
	"github.com/shotcaller-ai/shotcaller/internal/ingress/webrtc"
	"github.com/shotcaller-ai/shotcaller/internal/narrate"
	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
	ttsmock "github.com/shotcaller-ai/shotcaller/internal/narrate/tts/mock"
	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts/piper"
	"github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/internal/resilience"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect"
	detectmock "github.com/shotcaller-ai/shotcaller/pkg/analyze/detect/mock"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/detect/yolo"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/scene"
	scenemock "github.com/shotcaller-ai/shotcaller/pkg/analyze/scene/mock"
	sceneopenai "github.com/shotcaller-ai/shotcaller/pkg/analyze/scene/openai"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech"
	speechmock "github.com/shotcaller-ai/shotcaller/pkg/analyze/speech/mock"
	"github.com/shotcaller-ai/shotcaller/pkg/analyze/speech/whisper"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("shotcaller", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shotcaller: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("shotcaller starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics + tracing. The Prometheus bridge feeds GET /metrics.
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "shotcaller",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		obsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(obsCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownGraceSec*float64(time.Second))+5*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Shotcaller. Used for startup logging.
var builtinProviders = map[string][]string{
	"detector": {"yolo-http", "mock"},
	"scene":    {"openai", "mock"},
	"speech":   {"whisper-native", "mock"},
	"tts":      {"piper", "mock"},
	"rewriter": {"openai", "anthropic", "gemini", "ollama", "mistral", "groq"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Detector ──────────────────────────────────────────────────────────────

	reg.RegisterDetector("yolo-http", func(entry config.ProviderEntry) (detect.Provider, error) {
		if entry.BaseURL == "" {
			return nil, errors.New("yolo-http detector requires base_url")
		}
		return yolo.New(entry.BaseURL), nil
	})
	reg.RegisterDetector("mock", func(config.ProviderEntry) (detect.Provider, error) {
		return detectmock.New(), nil
	})

	// ── Scene ─────────────────────────────────────────────────────────────────

	reg.RegisterScene("openai", func(entry config.ProviderEntry) (scene.Provider, error) {
		var opts []sceneopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sceneopenai.WithBaseURL(entry.BaseURL))
		}
		return sceneopenai.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterScene("mock", func(config.ProviderEntry) (scene.Provider, error) {
		return scenemock.New(), nil
	})

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("whisper-native", func(entry config.ProviderEntry) (speech.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})
	reg.RegisterSpeech("mock", func(config.ProviderEntry) (speech.Provider, error) {
		return speechmock.New(), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, piper.WithVoice(voice))
		}
		return piper.New(entry.BaseURL, opts...)
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return ttsmock.New(), nil
	})

	// ── Rewriter ──────────────────────────────────────────────────────────────
	// All any-llm backends share the same pattern: optional APIKey + BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "ollama", "mistral", "groq",
	} {
		reg.RegisterRewriter(providerName, func(entry config.ProviderEntry) (narrate.Rewriter, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return narrate.NewLLMRewriter(providerName, entry.Model, opts...)
		})
	}

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if cfg.Ingress.URL != "" {
		ps.Room = webrtc.New(cfg.Ingress.URL, cfg.Ingress.Token)
		slog.Info("media room configured", "url", cfg.Ingress.URL)
	}

	if name := cfg.Analyzers.Detector.Name; name != "" {
		p, err := reg.CreateDetector(cfg.Analyzers.Detector)
		if err != nil {
			return nil, fmt.Errorf("create detector %q: %w", name, err)
		}
		ps.Detector = p
		slog.Info("provider created", "kind", "detector", "name", name)
	}

	if name := cfg.Analyzers.Scene.Name; name != "" {
		p, err := reg.CreateScene(cfg.Analyzers.Scene)
		if err != nil {
			return nil, fmt.Errorf("create scene describer %q: %w", name, err)
		}
		ps.Scene = p
		if fbName := optString(cfg.Analyzers.Scene.Options, "fallback"); fbName != "" {
			fb, err := reg.CreateScene(config.ProviderEntry{Name: fbName})
			if err != nil {
				return nil, fmt.Errorf("create scene fallback %q: %w", fbName, err)
			}
			group := resilience.NewSceneFallback(p, name, resilience.FallbackConfig{})
			group.AddFallback(fbName, fb)
			ps.Scene = group
			slog.Info("scene fallback enabled", "primary", name, "fallback", fbName)
		}
		slog.Info("provider created", "kind", "scene", "name", name)
	}

	if name := cfg.Analyzers.Speech.Name; name != "" {
		p, err := reg.CreateSpeech(cfg.Analyzers.Speech)
		if err != nil {
			return nil, fmt.Errorf("create speech recognizer %q: %w", name, err)
		}
		ps.Speech = p
		slog.Info("provider created", "kind", "speech", "name", name)
	}

	if name := cfg.Narration.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Narration.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts %q: %w", name, err)
		}
		ps.TTS = p
		if fbName := optString(cfg.Narration.TTS.Options, "fallback"); fbName != "" {
			fb, err := reg.CreateTTS(config.ProviderEntry{Name: fbName})
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fbName, err)
			}
			group := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
			group.AddFallback(fbName, fb)
			ps.TTS = group
			slog.Info("tts fallback enabled", "primary", name, "fallback", fbName)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Narration.LLM.Name; name != "" {
		p, err := reg.CreateRewriter(cfg.Narration.LLM)
		if err != nil {
			return nil, fmt.Errorf("create rewriter %q: %w", name, err)
		}
		ps.Rewriter = p
		slog.Info("provider created", "kind", "rewriter", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Shotcaller — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Detector", cfg.Analyzers.Detector.Name, cfg.Analyzers.Detector.Model)
	printProvider("Scene", cfg.Analyzers.Scene.Name, cfg.Analyzers.Scene.Model)
	printProvider("Speech", cfg.Analyzers.Speech.Name, cfg.Analyzers.Speech.Model)
	printProvider("TTS", cfg.Narration.TTS.Name, "")
	printProvider("Rewriter", cfg.Narration.LLM.Name, cfg.Narration.LLM.Model)
	fmt.Printf("║  Cameras max     : %-19d ║\n", cfg.Ingress.MaxCameras)
	fmt.Printf("║  Decision rate   : %-16.1f Hz ║\n", cfg.Rates.DecisionHz)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
