package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt is sent ahead of every windowed transcript unless
// SYSTEM_PROMPT overrides it.
const DefaultSystemPrompt = "You are a helpful, friendly assistant. Answer concisely and in the language the user writes in."

// Config contains all runtime settings for the chat proxy.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         slog.Level

	AllowedOrigins []string
	AllowAnyOrigin bool
	DebugToken     string

	MaxMessageLength int
	WindowSize       int
	SessionIdleTTL   time.Duration
	SweepInterval    time.Duration

	CompletionProvider     string
	CompletionModel        string
	CompletionTimeout      time.Duration
	CompletionMaxTokens    int
	CompletionMaxRetries   int
	CompletionRetryBackoff time.Duration
	SystemPrompt           string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	GCPProject       string
	GCPLocation      string

	TranscriptStore string
	DatabaseURL     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "janela"),
		AllowedOrigins:     listFromEnv("APP_ALLOWED_ORIGINS"),
		DebugToken:         stringsTrimSpace("APP_DEBUG_TOKEN"),
		CompletionProvider: strings.ToLower(envOrDefault("COMPLETION_PROVIDER", "anthropic")),
		CompletionModel:    stringsTrimSpace("COMPLETION_MODEL"),
		SystemPrompt:       envOrDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:   stringsTrimSpace("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      stringsTrimSpace("OPENAI_BASE_URL"),
		GeminiAPIKey:       stringsTrimSpace("GEMINI_API_KEY"),
		GCPProject:         stringsTrimSpace("GOOGLE_CLOUD_PROJECT"),
		GCPLocation:        stringsTrimSpace("GOOGLE_CLOUD_LOCATION"),
		TranscriptStore:    strings.ToLower(envOrDefault("TRANSCRIPT_STORE", "none")),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:        15 * time.Second,
		MaxMessageLength:       2000,
		WindowSize:             20,
		SessionIdleTTL:         5 * time.Minute,
		SweepInterval:          30 * time.Second,
		CompletionTimeout:      30 * time.Second,
		CompletionMaxTokens:    1024,
		CompletionMaxRetries:   1,
		CompletionRetryBackoff: 500 * time.Millisecond,
	}

	var err error
	if cfg.LogLevel, err = levelFromEnv("APP_LOG_LEVEL", slog.LevelInfo); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageLength, err = intFromEnv("MAX_MESSAGE_LENGTH", cfg.MaxMessageLength); err != nil {
		return Config{}, err
	}
	if cfg.WindowSize, err = intFromEnv("SLIDING_WINDOW_SIZE", cfg.WindowSize); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTTL, err = durationFromEnv("SESSION_IDLE_TTL", cfg.SessionIdleTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.CompletionMaxRetries, err = intFromEnv("COMPLETION_MAX_RETRIES", cfg.CompletionMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.CompletionRetryBackoff, err = durationFromEnv("COMPLETION_RETRY_BACKOFF", cfg.CompletionRetryBackoff); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("SLIDING_WINDOW_SIZE must be positive")
	}
	if c.SessionIdleTTL < 5*time.Second {
		return fmt.Errorf("SESSION_IDLE_TTL must be at least 5s")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if c.CompletionMaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if c.CompletionMaxRetries < 0 || c.CompletionMaxRetries > 3 {
		return fmt.Errorf("COMPLETION_MAX_RETRIES must be between 0 and 3")
	}
	if c.CompletionRetryBackoff < 0 {
		return fmt.Errorf("COMPLETION_RETRY_BACKOFF must be >= 0")
	}

	switch c.CompletionProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when COMPLETION_PROVIDER=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when COMPLETION_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" && (c.GCPProject == "" || c.GCPLocation == "") {
			return fmt.Errorf("GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION are required when COMPLETION_PROVIDER=gemini")
		}
	case "mock":
	default:
		return fmt.Errorf("COMPLETION_PROVIDER %q is not supported", c.CompletionProvider)
	}

	switch c.TranscriptStore {
	case "none", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when TRANSCRIPT_STORE=postgres")
		}
	default:
		return fmt.Errorf("TRANSCRIPT_STORE %q is not supported", c.TranscriptStore)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a comma separated value, dropping empty items.
func listFromEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return level, nil
}

// CredentialConfigured reports whether the selected provider has what it
// needs to authenticate. It never exposes the credential itself.
func (c Config) CredentialConfigured() bool {
	switch c.CompletionProvider {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "gemini":
		return c.GeminiAPIKey != "" || (c.GCPProject != "" && c.GCPLocation != "")
	case "mock":
		return true
	default:
		return false
	}
}
