// Package config provides the configuration schema, loader, and provider
// registry for the Shotcaller auto-director.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file via [Load], after which environment overrides are layered on
// top. All durations expressed as "...Sec" fields are plain float seconds to
// match the environment key contract.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Rates     RatesConfig     `yaml:"rates"`
	Policy    PolicyConfig    `yaml:"policy"`
	Weights   WeightsConfig   `yaml:"weights"`
	Ingress   IngressConfig   `yaml:"ingress"`
	Analyzers AnalyzersConfig `yaml:"analyzers"`
	Ranker    RankerConfig    `yaml:"ranker"`
	Narration NarrationConfig `yaml:"narration"`

	// Keywords is the bag matched against speech tokens for keywordBoost.
	Keywords []string `yaml:"keywords"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownGraceSec bounds the graceful-drain window at shutdown.
	ShutdownGraceSec float64 `yaml:"shutdown_grace_sec"`
}

// RatesConfig holds the three pipeline tick rates in Hz.
type RatesConfig struct {
	AnalysisHz float64 `yaml:"analysis_hz"`
	RankingHz  float64 `yaml:"ranking_hz"`
	DecisionHz float64 `yaml:"decision_hz"`
}

// PolicyConfig is the switching policy. It is immutable for the lifetime of
// a run. Invalid values are fatal at startup.
type PolicyConfig struct {
	MinHoldSec          float64 `yaml:"min_hold_sec"`
	CooldownSec         float64 `yaml:"cooldown_sec"`
	DeltaSThreshold     float64 `yaml:"delta_s_threshold"`
	MaxShotDurationSec  float64 `yaml:"max_shot_duration_sec"`
	EnableHysteresis    bool    `yaml:"enable_hysteresis"`
	EnableCooldown      bool    `yaml:"enable_cooldown"`
	EnableSpeechAlign   bool    `yaml:"enable_speech_align"`
	PingPongWindow      int     `yaml:"ping_pong_window"`
	PingPongMaxRevisits int     `yaml:"ping_pong_max_revisits"`
	MaxDeferTicks       int     `yaml:"max_defer_ticks"`
	StalenessWindowSec  float64 `yaml:"staleness_window_sec"`

	// HoldPublishSample publishes every Nth consecutive HOLD with an
	// unchanged reason; reason changes always publish.
	HoldPublishSample int `yaml:"hold_publish_sample"`
}

// WeightsConfig holds the fusion weights. The ranker normalizes the sum
// to 1 at startup, so only relative magnitudes matter.
type WeightsConfig struct {
	FaceSalience       float64 `yaml:"face_salience"`
	MotionSalience     float64 `yaml:"motion_salience"`
	MainSubjectOverlap float64 `yaml:"main_subject_overlap"`
	SpeechEnergy       float64 `yaml:"speech_energy"`
	KeywordBoost       float64 `yaml:"keyword_boost"`
	FramingScore       float64 `yaml:"framing_score"`
	NoveltyDecay       float64 `yaml:"novelty_decay"`
	ContinuityBonus    float64 `yaml:"continuity_bonus"`
	Interest           float64 `yaml:"interest"`
}

// IngressConfig configures the media room session and canonical formats.
type IngressConfig struct {
	// URL is the SFU endpoint; Token is the subscribe-only grant.
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// CamPrefix marks participant identities that act as cameras.
	CamPrefix string `yaml:"cam_prefix"`

	// MaxCameras bounds the number of concurrently tracked cameras.
	MaxCameras int `yaml:"max_cameras"`

	// FrameWidth/FrameHeight is the analysis resolution.
	FrameWidth  int `yaml:"frame_width"`
	FrameHeight int `yaml:"frame_height"`

	// AudioSampleRate is the canonical analysis rate in Hz.
	AudioSampleRate int `yaml:"audio_sample_rate"`

	// AudioWindowSec/AudioOverlapSec shape the speech analysis windows.
	AudioWindowSec  float64 `yaml:"audio_window_sec"`
	AudioOverlapSec float64 `yaml:"audio_overlap_sec"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field selects the constructor registered in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai",
	// "whisper-native", "piper", "mock").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// AnalyzersConfig selects the analyzer providers and their call budgets.
type AnalyzersConfig struct {
	Detector ProviderEntry `yaml:"detector"`
	Scene    ProviderEntry `yaml:"scene"`
	Speech   ProviderEntry `yaml:"speech"`

	// ConfidenceThreshold drops detections below it; ClassFilter, when
	// non-empty, keeps only the listed classes.
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	ClassFilter         []string `yaml:"class_filter"`

	// SceneIntervalMs is the per-camera cadence of the expensive scene
	// describer.
	SceneIntervalMs int `yaml:"scene_interval_ms"`

	// Per-modality call deadlines.
	DetectorTimeoutMs int `yaml:"detector_timeout_ms"`
	SceneTimeoutMs    int `yaml:"scene_timeout_ms"`
	SpeechTimeoutMs   int `yaml:"speech_timeout_ms"`

	// MaxParallel bounds the analyzer worker pool. 0 means camera count × 2.
	MaxParallel int `yaml:"max_parallel"`
}

// RankerConfig tunes the feature computations.
type RankerConfig struct {
	// Scorer selects the fusion implementation ("weighted" by default).
	Scorer string `yaml:"scorer"`

	// VMaxPxPerSec is the track velocity that saturates motionSalience.
	VMaxPxPerSec float64 `yaml:"vmax_px_per_sec"`

	// NoveltyTauSec is the noveltyDecay time constant.
	NoveltyTauSec float64 `yaml:"novelty_tau_sec"`

	// KeywordK is the keyword count that saturates keywordBoost.
	KeywordK int `yaml:"keyword_k"`

	// InterestDecaySec is how long a stale scene interest takes to decay
	// linearly to zero.
	InterestDecaySec float64 `yaml:"interest_decay_sec"`
}

// NarrationConfig configures the narration orchestrator.
type NarrationConfig struct {
	// TTS selects the synthesis backend. Empty disables narration audio.
	TTS ProviderEntry `yaml:"tts"`

	// LLM optionally rewrites template text before synthesis. Empty keeps
	// the deterministic template output.
	LLM ProviderEntry `yaml:"llm"`

	MaxWords        int `yaml:"max_words"`
	MaxTTSLatencyMs int `yaml:"max_tts_latency_ms"`
}

// Default returns a Config populated with every documented default. Loading
// YAML and environment overrides layer on top of this.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			LogLevel:         LogInfo,
			ShutdownGraceSec: 5,
		},
		Rates: RatesConfig{
			AnalysisHz: 10,
			RankingHz:  10,
			DecisionHz: 10,
		},
		Policy: PolicyConfig{
			MinHoldSec:          2.0,
			CooldownSec:         4.0,
			DeltaSThreshold:     0.15,
			MaxShotDurationSec:  15.0,
			EnableHysteresis:    true,
			EnableCooldown:      true,
			EnableSpeechAlign:   true,
			PingPongWindow:      5,
			PingPongMaxRevisits: 2,
			MaxDeferTicks:       3,
			StalenessWindowSec:  2.0,
			HoldPublishSample:   10,
		},
		Weights: WeightsConfig{
			FaceSalience:       0.25,
			MotionSalience:     0.15,
			MainSubjectOverlap: 0.15,
			SpeechEnergy:       0.15,
			KeywordBoost:       0.10,
			FramingScore:       0.10,
			NoveltyDecay:       0.05,
			ContinuityBonus:    0.05,
			Interest:           0.10,
		},
		Ingress: IngressConfig{
			CamPrefix:       "cam-",
			MaxCameras:      16,
			FrameWidth:      640,
			FrameHeight:     360,
			AudioSampleRate: 16000,
			AudioWindowSec:  1.0,
			AudioOverlapSec: 0.5,
		},
		Analyzers: AnalyzersConfig{
			ConfidenceThreshold: 0.4,
			SceneIntervalMs:     700,
			DetectorTimeoutMs:   50,
			SceneTimeoutMs:      1000,
			SpeechTimeoutMs:     800,
		},
		Ranker: RankerConfig{
			Scorer:           "weighted",
			VMaxPxPerSec:     100,
			NoveltyTauSec:    8,
			KeywordK:         3,
			InterestDecaySec: 2,
		},
		Narration: NarrationConfig{
			MaxWords:        12,
			MaxTTSLatencyMs: 600,
		},
	}
}
