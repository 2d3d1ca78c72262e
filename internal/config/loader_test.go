package config

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty) error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Rates.DecisionHz != 10 {
		t.Errorf("default decision_hz = %v, want 10", cfg.Rates.DecisionHz)
	}
	if cfg.Policy.DeltaSThreshold != 0.15 {
		t.Errorf("default delta_s_threshold = %v, want 0.15", cfg.Policy.DeltaSThreshold)
	}
	if !cfg.Policy.EnableHysteresis || !cfg.Policy.EnableCooldown || !cfg.Policy.EnableSpeechAlign {
		t.Error("policy toggles should default to enabled")
	}
	if cfg.Ingress.MaxCameras != 16 {
		t.Errorf("default max_cameras = %d, want 16", cfg.Ingress.MaxCameras)
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	const doc = `
server:
  listen_addr: ":9000"
  log_level: debug
policy:
  min_hold_sec: 1.5
  enable_speech_align: false
weights:
  face_salience: 0.5
analyzers:
  detector:
    name: yolo-http
    base_url: http://localhost:9001
keywords: [goal, penalty]
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Policy.MinHoldSec != 1.5 {
		t.Errorf("min_hold_sec = %v, want 1.5", cfg.Policy.MinHoldSec)
	}
	if cfg.Policy.EnableSpeechAlign {
		t.Error("enable_speech_align should be false")
	}
	if cfg.Weights.FaceSalience != 0.5 {
		t.Errorf("face_salience = %v, want 0.5", cfg.Weights.FaceSalience)
	}
	// Untouched sibling defaults must survive a partial override.
	if cfg.Policy.CooldownSec != 4.0 {
		t.Errorf("cooldown_sec = %v, want default 4.0", cfg.Policy.CooldownSec)
	}
	if cfg.Analyzers.Detector.Name != "yolo-http" {
		t.Errorf("detector name = %q, want yolo-http", cfg.Analyzers.Detector.Name)
	}
	if len(cfg.Keywords) != 2 || cfg.Keywords[0] != "goal" {
		t.Errorf("keywords = %v, want [goal penalty]", cfg.Keywords)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("polcy:\n  min_hold_sec: 2\n"))
	if err == nil {
		t.Fatal("misspelled top-level key should fail decoding")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DECISION_RATE_HZ":      "5",
		"DELTA_S_THRESHOLD":     "0.3",
		"MIN_HOLD_SEC":          "3.5",
		"PING_PONG_WINDOW":      "7",
		"MAX_TTS_LATENCY_MS":    "450",
		"W_FACE_SALIENCE":       "0.4",
		"MAX_SHOT_DURATION_SEC": "not-a-number",
	}
	cfg := Default()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Rates.DecisionHz != 5 {
		t.Errorf("DECISION_RATE_HZ: got %v, want 5", cfg.Rates.DecisionHz)
	}
	if cfg.Policy.DeltaSThreshold != 0.3 {
		t.Errorf("DELTA_S_THRESHOLD: got %v, want 0.3", cfg.Policy.DeltaSThreshold)
	}
	if cfg.Policy.MinHoldSec != 3.5 {
		t.Errorf("MIN_HOLD_SEC: got %v, want 3.5", cfg.Policy.MinHoldSec)
	}
	if cfg.Policy.PingPongWindow != 7 {
		t.Errorf("PING_PONG_WINDOW: got %d, want 7", cfg.Policy.PingPongWindow)
	}
	if cfg.Narration.MaxTTSLatencyMs != 450 {
		t.Errorf("MAX_TTS_LATENCY_MS: got %d, want 450", cfg.Narration.MaxTTSLatencyMs)
	}
	if cfg.Weights.FaceSalience != 0.4 {
		t.Errorf("W_FACE_SALIENCE: got %v, want 0.4", cfg.Weights.FaceSalience)
	}
	// Unparseable values leave the default intact.
	if cfg.Policy.MaxShotDurationSec != 15.0 {
		t.Errorf("bad MAX_SHOT_DURATION_SEC overwrote default: got %v", cfg.Policy.MaxShotDurationSec)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"negative min hold", func(c *Config) { c.Policy.MinHoldSec = -1 }, "min_hold_sec"},
		{"threshold above one", func(c *Config) { c.Policy.DeltaSThreshold = 1.5 }, "delta_s_threshold"},
		{"hold exceeds max shot", func(c *Config) { c.Policy.MinHoldSec = 20 }, "max_shot_duration_sec"},
		{"zero decision rate", func(c *Config) { c.Rates.DecisionHz = 0 }, "decision_hz"},
		{"negative weight", func(c *Config) { c.Weights.Interest = -0.1 }, "weights.interest"},
		{"zero weight sum", func(c *Config) { c.Weights = WeightsConfig{} }, "sum"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "log_level"},
		{"overlap >= window", func(c *Config) { c.Ingress.AudioOverlapSec = 1.0 }, "audio_overlap_sec"},
		{"zero cameras", func(c *Config) { c.Ingress.MaxCameras = 0 }, "max_cameras"},
		{"zero hold sample", func(c *Config) { c.Policy.HoldPublishSample = 0 }, "hold_publish_sample"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Errorf("error %q does not mention %q", err, tc.substr)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidateJoinsAllFailures(t *testing.T) {
	cfg := Default()
	cfg.Policy.MinHoldSec = -1
	cfg.Rates.AnalysisHz = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"min_hold_sec", "analysis_hz"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestRegistryCreateUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateDetector(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateDetector(unknown) = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateTTS(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS(unknown) = %v, want ErrProviderNotRegistered", err)
	}
}
