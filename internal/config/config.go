// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	SessionTTL  time.Duration

	Login  LoginConfig
	OpenAI OpenAIConfig
	Speech SpeechConfig

	// ContextWindow is the number of recent messages sent to the assistant.
	ContextWindow        int
	SynthesisConcurrency int
	Playback             PlaybackConfig
	RateLimit            RateLimitConfig

	// TerminalContainer is the Docker container isolated on infection.
	// Empty disables network isolation.
	TerminalContainer  string
	GRPCHealthAddr     string
	MaxRequestBodySize int64
	ConversationLog    ConversationLogConfig
}

// LoginConfig is the fixed demo credential pair.
type LoginConfig struct {
	Username string
	Password string
}

// OpenAIConfig selects the OpenAI-compatible endpoint and models.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	ChatModel string
}

// SpeechConfig controls synthesis and transcription.
type SpeechConfig struct {
	TTSModel    string
	TTSVoice    string
	TTSFormat   string
	STTModel    string
	STTLanguage string
	TTSTimeout  time.Duration
	STTTimeout  time.Duration
}

// PlaybackConfig controls the per-session playback queue.
type PlaybackConfig struct {
	AckTimeout time.Duration
	ErrorDelay time.Duration
	Rate       string
}

// RateLimitConfig holds per-session rate limiting for chat and voice submissions.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Login: LoginConfig{
			Username: getEnv("LOGIN_USERNAME", "aice"),
			Password: getEnv("LOGIN_PASSWORD", "aice"),
		},
		OpenAI: OpenAIConfig{
			APIKey:    getEnv("OPENAI_API_KEY", ""),
			BaseURL:   getEnv("OPENAI_BASE_URL", ""),
			ChatModel: getEnv("CHAT_MODEL", "gpt-4o"),
		},
		Speech: SpeechConfig{
			TTSModel:    getEnv("TTS_MODEL", "tts-1"),
			TTSVoice:    getEnv("TTS_VOICE", "nova"),
			TTSFormat:   getEnv("TTS_FORMAT", "mp3"),
			STTModel:    getEnv("STT_MODEL", "whisper-1"),
			STTLanguage: getEnv("STT_LANGUAGE", "ja"),
			TTSTimeout:  getEnvDuration("TTS_TIMEOUT", 30*time.Second),
			STTTimeout:  getEnvDuration("STT_TIMEOUT", 30*time.Second),
		},
		ContextWindow:        getEnvInt("CONTEXT_WINDOW", 10),
		SynthesisConcurrency: getEnvInt("SYNTHESIS_CONCURRENCY", 2),
		Playback: PlaybackConfig{
			AckTimeout: getEnvDuration("PLAYBACK_ACK_TIMEOUT", 60*time.Second),
			ErrorDelay: getEnvDuration("PLAYBACK_ERROR_DELAY", 100*time.Millisecond),
			Rate:       getEnv("PLAYBACK_RATE", "1.5"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		TerminalContainer:  getEnv("TERMINAL_CONTAINER", ""),
		GRPCHealthAddr:     getEnv("GRPC_HEALTH_ADDR", ""),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 10<<20)),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Login.Username == "" || c.Login.Password == "" {
		return fmt.Errorf("LOGIN_USERNAME and LOGIN_PASSWORD cannot be empty")
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	if c.SynthesisConcurrency <= 0 {
		return fmt.Errorf("SYNTHESIS_CONCURRENCY must be > 0")
	}
	if c.Speech.TTSTimeout <= 0 || c.Speech.STTTimeout <= 0 {
		return fmt.Errorf("TTS_TIMEOUT and STT_TIMEOUT must be > 0")
	}
	if c.Playback.AckTimeout <= 0 {
		return fmt.Errorf("PLAYBACK_ACK_TIMEOUT must be > 0")
	}
	if c.Playback.ErrorDelay < 0 {
		return fmt.Errorf("PLAYBACK_ERROR_DELAY cannot be negative")
	}
	if _, err := strconv.ParseFloat(c.Playback.Rate, 64); err != nil {
		return fmt.Errorf("PLAYBACK_RATE must be a number: %w", err)
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether an OpenAI API key is configured.
func (c *Config) AIEnabled() bool {
	return c.OpenAI.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
