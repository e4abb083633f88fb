package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription providers
const (
	ProviderGemini   = "gemini"
	ProviderDeepgram = "deepgram"
	ProviderOpenAI   = "openai"
)

// Config holds all configuration for the voice studio service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL used when building playback URLs (e.g. https://studio.example.com).
	// Optional; if unset, playback URLs are relative.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// Provider selection
	TranscriptionProvider string `envconfig:"TRANSCRIPTION_PROVIDER" default:"gemini"` // gemini, deepgram
	SynthesisProvider     string `envconfig:"SYNTHESIS_PROVIDER" default:"gemini"`     // gemini, openai

	// Gemini configuration (Live transcription and speech generation)
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiLiveModel string `envconfig:"GEMINI_LIVE_MODEL" default:"gemini-2.0-flash-live-001"`
	GeminiTTSModel  string `envconfig:"GEMINI_TTS_MODEL" default:"gemini-2.5-flash-preview-tts"`
	GeminiVoice     string `envconfig:"GEMINI_VOICE" default:"Kore"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// OpenAI TTS API configuration
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAITTSModel string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAIVoice    string `envconfig:"OPENAI_VOICE" default:"alloy"`

	// Audio pipeline configuration
	CaptureBlockSize   int     `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"`   // Samples per capture block / file chunk
	FileChunkDelay     int     `envconfig:"FILE_CHUNK_DELAY_MS" default:"50"`    // Pacing between file chunks in milliseconds
	FileSettleDelay    int     `envconfig:"FILE_SETTLE_DELAY_MS" default:"2000"` // Wait for trailing events in milliseconds
	AudioQueueSize     int     `envconfig:"AUDIO_QUEUE_SIZE" default:"256"`      // Encoded units buffered per session
	ResampleQuality    string  `envconfig:"RESAMPLE_QUALITY" default:"linear"`   // linear, high
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.02"` // RMS threshold on normalised samples
	VADSilenceBlocks   int     `envconfig:"VAD_SILENCE_BLOCKS" default:"3"`      // Blocks of silence to mark speech end

	// Uploads and playback
	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"26214400"` // 25 MiB
	PlaybackTTL    int   `envconfig:"PLAYBACK_TTL" default:"1800"`         // seconds

	// Resilience configuration
	ConnectTimeout             int `envconfig:"CONNECT_TIMEOUT" default:"10"`               // seconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Connect attempts on transient errors
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
// API keys are optional here: a missing key is reported when an operation
// needs it, not at startup.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks provider names and numeric ranges.
func (c *Config) Validate() error {
	c.TranscriptionProvider = strings.ToLower(strings.TrimSpace(c.TranscriptionProvider))
	c.SynthesisProvider = strings.ToLower(strings.TrimSpace(c.SynthesisProvider))
	c.ResampleQuality = strings.ToLower(strings.TrimSpace(c.ResampleQuality))

	switch c.TranscriptionProvider {
	case ProviderGemini, ProviderDeepgram:
	default:
		return fmt.Errorf("TRANSCRIPTION_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderDeepgram, c.TranscriptionProvider)
	}

	switch c.SynthesisProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("SYNTHESIS_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.SynthesisProvider)
	}

	switch c.ResampleQuality {
	case "linear", "high":
	default:
		return fmt.Errorf("RESAMPLE_QUALITY must be \"linear\" or \"high\", got %q", c.ResampleQuality)
	}

	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.CaptureBlockSize)
	}
	if c.AudioQueueSize <= 0 {
		return fmt.Errorf("AUDIO_QUEUE_SIZE must be positive, got %d", c.AudioQueueSize)
	}
	if c.FileChunkDelay < 0 || c.FileSettleDelay < 0 {
		return fmt.Errorf("file delays must not be negative")
	}

	return nil
}

// TranscriptionCredential returns the API key of the selected transcription provider.
func (c *Config) TranscriptionCredential() string {
	if c.TranscriptionProvider == ProviderDeepgram {
		return c.DeepgramAPIKey
	}
	return c.GeminiAPIKey
}

// SynthesisCredential returns the API key of the selected synthesis provider.
func (c *Config) SynthesisCredential() string {
	if c.SynthesisProvider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func (c *Config) FileChunkDelayDuration() time.Duration {
	return time.Duration(c.FileChunkDelay) * time.Millisecond
}

func (c *Config) FileSettleDelayDuration() time.Duration {
	return time.Duration(c.FileSettleDelay) * time.Millisecond
}

func (c *Config) PlaybackTTLDuration() time.Duration {
	return time.Duration(c.PlaybackTTL) * time.Second
}

func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
