package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the relay server and the voice chat client
type Config struct {
	// Relay server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// Upstream realtime API (relay only)
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	RealtimeAPIURL string `envconfig:"REALTIME_API_URL" default:"wss://api.openai.com/v1/realtime"`
	RealtimeModel  string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview-2024-10-01"`

	// Voice session settings sent upstream in session.update
	VoiceInstructions     string  `envconfig:"VOICE_INSTRUCTIONS" default:"You are a friendly and energetic AI assistant. Keep the conversation natural and answer quickly and concisely."`
	VoiceName             string  `envconfig:"VOICE_NAME" default:"alloy"`
	TranscriptionModel    string  `envconfig:"TRANSCRIPTION_MODEL" default:"whisper-1"`
	TranscriptionLanguage string  `envconfig:"TRANSCRIPTION_LANGUAGE" default:""`
	VADThreshold          float64 `envconfig:"VAD_THRESHOLD" default:"0.6"`
	VADPrefixPaddingMs    int     `envconfig:"VAD_PREFIX_PADDING_MS" default:"200"`
	VADSilenceDurationMs  int     `envconfig:"VAD_SILENCE_DURATION_MS" default:"150"`
	VoiceTemperature      float64 `envconfig:"VOICE_TEMPERATURE" default:"0.7"`
	VoiceMaxOutputTokens  int     `envconfig:"VOICE_MAX_OUTPUT_TOKENS" default:"2048"`

	// Text session settings
	TextInstructions         string  `envconfig:"TEXT_INSTRUCTIONS" default:"You are a friendly and energetic AI assistant. You may use Markdown (headings, lists, code blocks) to format detailed, useful answers."`
	TextResponseInstructions string  `envconfig:"TEXT_RESPONSE_INSTRUCTIONS" default:"Reply in the user's language; Markdown formatting is welcome."`
	TextTemperature          float64 `envconfig:"TEXT_TEMPERATURE" default:"0.8"`
	TextMaxOutputTokens      int     `envconfig:"TEXT_MAX_OUTPUT_TOKENS" default:"4096"`

	// Client endpoints (the relay's websocket routes)
	VoiceEndpoint string `envconfig:"VOICE_ENDPOINT" default:"ws://localhost:8000/realtime-voice"`
	TextEndpoint  string `envconfig:"TEXT_ENDPOINT" default:"ws://localhost:8000/text-chat"`

	// Audio configuration
	SampleRate       int     `envconfig:"SAMPLE_RATE" default:"24000"`       // Hz, both directions
	Channels         int     `envconfig:"CHANNELS" default:"1"`              // Mono
	CaptureFrameSize int     `envconfig:"CAPTURE_FRAME_SIZE" default:"4096"` // Samples per capture frame
	PlaybackGain     float64 `envconfig:"PLAYBACK_GAIN" default:"0.8"`       // Initial output volume, 0.0-1.0
	PlaybackGapMs    int     `envconfig:"PLAYBACK_GAP_MS" default:"10"`      // Pause between played fragments

	// Audio devices (ffmpeg for capture, ffplay for output)
	FFmpegPath     string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFplayPath     string `envconfig:"FFPLAY_PATH" default:"ffplay"`
	MicInputFormat string `envconfig:"MIC_INPUT_FORMAT" default:""` // e.g. pulse, avfoundation; empty picks per OS
	MicInputDevice string `envconfig:"MIC_INPUT_DEVICE" default:""` // e.g. default, :0; empty picks per OS

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
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validateAudio(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateRelay checks the settings only the relay server needs
func (c *Config) ValidateRelay() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.RealtimeAPIURL == "" {
		return fmt.Errorf("REALTIME_API_URL is required")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("CHANNELS must be 1, got %d", c.Channels)
	}
	if c.CaptureFrameSize <= 0 {
		return fmt.Errorf("CAPTURE_FRAME_SIZE must be positive, got %d", c.CaptureFrameSize)
	}
	if c.PlaybackGain < 0 || c.PlaybackGain > 1 {
		return fmt.Errorf("PLAYBACK_GAIN must be within [0, 1], got %f", c.PlaybackGain)
	}
	if c.PlaybackGapMs < 0 {
		return fmt.Errorf("PLAYBACK_GAP_MS must not be negative, got %d", c.PlaybackGapMs)
	}
	return nil
}

// UpstreamURL returns the realtime API URL with the model query parameter
func (c *Config) UpstreamURL() string {
	if c.RealtimeModel == "" {
		return c.RealtimeAPIURL
	}
	return fmt.Sprintf("%s?model=%s", c.RealtimeAPIURL, c.RealtimeModel)
}

// PlaybackGap returns the pause inserted between played fragments
func (c *Config) PlaybackGap() time.Duration {
	return time.Duration(c.PlaybackGapMs) * time.Millisecond
}
