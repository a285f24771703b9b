package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interview gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only for logging the stream endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Cartesia TTS API configuration
	CartesiaAPIKey      string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaModelID     string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaVoiceFemale string `envconfig:"CARTESIA_VOICE_FEMALE" default:"sonic-english-female"`
	CartesiaVoiceMale   string `envconfig:"CARTESIA_VOICE_MALE" default:"sonic-english-male"`
	CartesiaVoiceID     string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"` // fallback voice

	// Directory holding interviewer greeting recordings (16-bit PCM WAV, 24kHz)
	GreetingAssetDir string `envconfig:"GREETING_ASSET_DIR" default:"./assets/greetings"`

	// Interview turn-taking
	SilenceWindowMs             int `envconfig:"SILENCE_WINDOW_MS" default:"2000"`              // silence after final text that ends a user turn
	RecognitionRestartBackoffMs int `envconfig:"RECOGNITION_RESTART_BACKOFF_MS" default:"1000"` // delay before restarting STT after a network fault
	RecognitionMaxRestarts      int `envconfig:"RECOGNITION_MAX_RESTARTS" default:"5"`          // restarts per listening turn before giving up
	AnswerTimeoutSeconds        int `envconfig:"ANSWER_TIMEOUT_SECONDS" default:"60"`           // forced advance when no answer is captured
	WatchdogTickMs              int `envconfig:"WATCHDOG_TICK_MS" default:"250"`
	DefaultTimeLimitSeconds     int `envconfig:"DEFAULT_TIME_LIMIT_SECONDS" default:"600"`

	// Audio output
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"16384"` // Ring buffer size in bytes for outgoing audio

	// Analytics gRPC endpoint
	AnalyticsURL        string `envconfig:"ANALYTICS_URL" default:"localhost:50051"`
	AnalyticsTLSEnabled bool   `envconfig:"ANALYTICS_TLS_ENABLED" default:"false"`
	AnalyticsTimeout    int    `envconfig:"ANALYTICS_TIMEOUT" default:"60"` // seconds

	// Persistence: postgres:// selects PostgreSQL, sqlite:// or file: selects SQLite,
	// an empty DSN selects the in-memory store
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`

	// Call lifecycle notifications; an empty broker disables publishing
	MQTTBrokerURL   string `envconfig:"MQTT_BROKER_URL" default:""`
	MQTTClientID    string `envconfig:"MQTT_CLIENT_ID" default:"interview-gateway"`
	MQTTUsername    string `envconfig:"MQTT_USERNAME" default:""`
	MQTTPassword    string `envconfig:"MQTT_PASSWORD" default:""`
	MQTTTopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX" default:"interviews"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
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
// without attempting to load .env file (useful for containerized deployments)
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

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.SilenceWindowMs <= 0 {
		return fmt.Errorf("SILENCE_WINDOW_MS must be positive, got %d", c.SilenceWindowMs)
	}
	if c.WatchdogTickMs <= 0 {
		return fmt.Errorf("WATCHDOG_TICK_MS must be positive, got %d", c.WatchdogTickMs)
	}
	if c.DefaultTimeLimitSeconds <= 0 {
		return fmt.Errorf("DEFAULT_TIME_LIMIT_SECONDS must be positive, got %d", c.DefaultTimeLimitSeconds)
	}
	return nil
}

// SilenceWindow is the debounce that ends a user turn.
func (c *Config) SilenceWindow() time.Duration {
	return time.Duration(c.SilenceWindowMs) * time.Millisecond
}

// RestartBackoff is the initial delay before a recognition restart.
func (c *Config) RestartBackoff() time.Duration {
	return time.Duration(c.RecognitionRestartBackoffMs) * time.Millisecond
}

// AnswerTimeout force-advances a listening turn that yields no answer.
func (c *Config) AnswerTimeout() time.Duration {
	return time.Duration(c.AnswerTimeoutSeconds) * time.Second
}

func (c *Config) WatchdogTick() time.Duration {
	return time.Duration(c.WatchdogTickMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
