package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, layers environment
// overrides on top, and returns a validated [Config]. A missing file is not
// an error: the documented defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults + env only.
	default:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML config from r over the defaults and validates
// the result. Environment overrides are not applied. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv layers the documented environment keys over cfg. getenv is
// injectable for tests; pass os.Getenv in production. Unparseable values are
// ignored rather than fatal — the subsequent Validate pass catches
// out-of-range results.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setF := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setI := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setF("ANALYSIS_RATE_HZ", &cfg.Rates.AnalysisHz)
	setF("RANKING_RATE_HZ", &cfg.Rates.RankingHz)
	setF("DECISION_RATE_HZ", &cfg.Rates.DecisionHz)
	setF("MIN_HOLD_SEC", &cfg.Policy.MinHoldSec)
	setF("COOLDOWN_SEC", &cfg.Policy.CooldownSec)
	setF("DELTA_S_THRESHOLD", &cfg.Policy.DeltaSThreshold)
	setF("MAX_SHOT_DURATION_SEC", &cfg.Policy.MaxShotDurationSec)
	setI("PING_PONG_WINDOW", &cfg.Policy.PingPongWindow)
	setI("PING_PONG_MAX_REVISITS", &cfg.Policy.PingPongMaxRevisits)
	setI("MAX_DEFER_TICKS", &cfg.Policy.MaxDeferTicks)
	setI("MAX_TTS_LATENCY_MS", &cfg.Narration.MaxTTSLatencyMs)
	setI("MAX_NARRATION_WORDS", &cfg.Narration.MaxWords)

	// Weight overrides: W_<FEATURE> in upper snake case.
	setF("W_FACE_SALIENCE", &cfg.Weights.FaceSalience)
	setF("W_MOTION_SALIENCE", &cfg.Weights.MotionSalience)
	setF("W_MAIN_SUBJECT_OVERLAP", &cfg.Weights.MainSubjectOverlap)
	setF("W_SPEECH_ENERGY", &cfg.Weights.SpeechEnergy)
	setF("W_KEYWORD_BOOST", &cfg.Weights.KeywordBoost)
	setF("W_FRAMING_SCORE", &cfg.Weights.FramingScore)
	setF("W_NOVELTY_DECAY", &cfg.Weights.NoveltyDecay)
	setF("W_CONTINUITY_BONUS", &cfg.Weights.ContinuityBonus)
	setF("W_INTEREST", &cfg.Weights.Interest)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Any error here is
// fatal at startup.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownGraceSec < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_grace_sec %.2f must not be negative", cfg.Server.ShutdownGraceSec))
	}

	if cfg.Rates.AnalysisHz <= 0 {
		errs = append(errs, fmt.Errorf("rates.analysis_hz %.2f must be positive", cfg.Rates.AnalysisHz))
	}
	if cfg.Rates.RankingHz <= 0 {
		errs = append(errs, fmt.Errorf("rates.ranking_hz %.2f must be positive", cfg.Rates.RankingHz))
	}
	if cfg.Rates.DecisionHz <= 0 {
		errs = append(errs, fmt.Errorf("rates.decision_hz %.2f must be positive", cfg.Rates.DecisionHz))
	}

	p := cfg.Policy
	if p.MinHoldSec < 0 {
		errs = append(errs, fmt.Errorf("policy.min_hold_sec %.2f must not be negative", p.MinHoldSec))
	}
	if p.CooldownSec < 0 {
		errs = append(errs, fmt.Errorf("policy.cooldown_sec %.2f must not be negative", p.CooldownSec))
	}
	if p.DeltaSThreshold < 0 || p.DeltaSThreshold > 1 {
		errs = append(errs, fmt.Errorf("policy.delta_s_threshold %.2f is out of range [0,1]", p.DeltaSThreshold))
	}
	if p.MaxShotDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("policy.max_shot_duration_sec %.2f must be positive", p.MaxShotDurationSec))
	}
	if p.MaxShotDurationSec > 0 && p.MinHoldSec > p.MaxShotDurationSec {
		errs = append(errs, fmt.Errorf("policy.min_hold_sec %.2f exceeds policy.max_shot_duration_sec %.2f", p.MinHoldSec, p.MaxShotDurationSec))
	}
	if p.PingPongWindow < 1 {
		errs = append(errs, fmt.Errorf("policy.ping_pong_window %d must be at least 1", p.PingPongWindow))
	}
	if p.PingPongMaxRevisits < 1 {
		errs = append(errs, fmt.Errorf("policy.ping_pong_max_revisits %d must be at least 1", p.PingPongMaxRevisits))
	}
	if p.MaxDeferTicks < 0 {
		errs = append(errs, fmt.Errorf("policy.max_defer_ticks %d must not be negative", p.MaxDeferTicks))
	}
	if p.StalenessWindowSec <= 0 {
		errs = append(errs, fmt.Errorf("policy.staleness_window_sec %.2f must be positive", p.StalenessWindowSec))
	}
	if p.HoldPublishSample < 1 {
		errs = append(errs, fmt.Errorf("policy.hold_publish_sample %d must be at least 1", p.HoldPublishSample))
	}

	w := cfg.Weights
	sum := w.FaceSalience + w.MotionSalience + w.MainSubjectOverlap +
		w.SpeechEnergy + w.KeywordBoost + w.FramingScore +
		w.NoveltyDecay + w.ContinuityBonus + w.Interest
	if sum <= 0 {
		errs = append(errs, errors.New("weights must sum to a positive value"))
	}
	for name, v := range map[string]float64{
		"face_salience": w.FaceSalience, "motion_salience": w.MotionSalience,
		"main_subject_overlap": w.MainSubjectOverlap, "speech_energy": w.SpeechEnergy,
		"keyword_boost": w.KeywordBoost, "framing_score": w.FramingScore,
		"novelty_decay": w.NoveltyDecay, "continuity_bonus": w.ContinuityBonus,
		"interest": w.Interest,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("weights.%s %.2f must not be negative", name, v))
		}
	}

	if cfg.Ingress.MaxCameras < 1 {
		errs = append(errs, fmt.Errorf("ingress.max_cameras %d must be at least 1", cfg.Ingress.MaxCameras))
	}
	if cfg.Ingress.FrameWidth < 16 || cfg.Ingress.FrameHeight < 16 {
		errs = append(errs, fmt.Errorf("ingress frame size %dx%d is too small", cfg.Ingress.FrameWidth, cfg.Ingress.FrameHeight))
	}
	if cfg.Ingress.AudioSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("ingress.audio_sample_rate %d must be positive", cfg.Ingress.AudioSampleRate))
	}
	if cfg.Ingress.AudioWindowSec <= 0 {
		errs = append(errs, fmt.Errorf("ingress.audio_window_sec %.2f must be positive", cfg.Ingress.AudioWindowSec))
	}
	if cfg.Ingress.AudioOverlapSec < 0 || cfg.Ingress.AudioOverlapSec >= cfg.Ingress.AudioWindowSec {
		errs = append(errs, fmt.Errorf("ingress.audio_overlap_sec %.2f must be in [0, audio_window_sec)", cfg.Ingress.AudioOverlapSec))
	}

	a := cfg.Analyzers
	if a.ConfidenceThreshold < 0 || a.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("analyzers.confidence_threshold %.2f is out of range [0,1]", a.ConfidenceThreshold))
	}
	if a.SceneIntervalMs < 0 || a.DetectorTimeoutMs < 0 || a.SceneTimeoutMs < 0 || a.SpeechTimeoutMs < 0 {
		errs = append(errs, errors.New("analyzer intervals and timeouts must not be negative"))
	}
	if a.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("analyzers.max_parallel %d must not be negative", a.MaxParallel))
	}

	r := cfg.Ranker
	if r.VMaxPxPerSec <= 0 {
		errs = append(errs, fmt.Errorf("ranker.vmax_px_per_sec %.2f must be positive", r.VMaxPxPerSec))
	}
	if r.NoveltyTauSec <= 0 {
		errs = append(errs, fmt.Errorf("ranker.novelty_tau_sec %.2f must be positive", r.NoveltyTauSec))
	}
	if r.KeywordK < 1 {
		errs = append(errs, fmt.Errorf("ranker.keyword_k %d must be at least 1", r.KeywordK))
	}
	if r.InterestDecaySec <= 0 {
		errs = append(errs, fmt.Errorf("ranker.interest_decay_sec %.2f must be positive", r.InterestDecaySec))
	}

	n := cfg.Narration
	if n.MaxWords < 1 {
		errs = append(errs, fmt.Errorf("narration.max_words %d must be at least 1", n.MaxWords))
	}
	if n.MaxTTSLatencyMs < 1 {
		errs = append(errs, fmt.Errorf("narration.max_tts_latency_ms %d must be at least 1", n.MaxTTSLatencyMs))
	}

	return errors.Join(errs...)
}
