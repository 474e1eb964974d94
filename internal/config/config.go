// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Backend gateway settings
	GatewayMode     string // "memory" or "rest"
	GatewayBaseURL  string
	GatewayAppID    string
	GatewayAPIKey   string
	GatewayTimeout  time.Duration
	GatewayRPS      float64
	GatewayBurst    int
	GatewayLiveFeed bool

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// CORS
	AllowedOrigins []string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Polling and notifications
	Poll         PollConfig
	Notification NotificationConfig

	// Last-seen persistence; empty RedisAddr keeps it in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LastSeenTTL   time.Duration

	// Saved reports and comparisons
	SavedStorePath string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// PollConfig holds the fixed polling intervals.
type PollConfig struct {
	Artifacts          time.Duration
	ActiveConversation time.Duration
	Conversations      time.Duration
}

// NotificationConfig holds notification rendering settings.
type NotificationConfig struct {
	PreviewLength int
	RecentWindow  int
}

// Load reads configuration from a .env file, environment variables, and
// the optional YAML file named by CONFIG_FILE, in that order of precedence
// (YAML values win for the sections it sets).
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// Gateway
		GatewayMode:     getEnv("GATEWAY_MODE", "memory"),
		GatewayBaseURL:  getEnv("GATEWAY_BASE_URL", ""),
		GatewayAppID:    getEnv("GATEWAY_APP_ID", ""),
		GatewayAPIKey:   getEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout:  getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayRPS:      getFloatEnv("GATEWAY_RPS", 20),
		GatewayBurst:    getIntEnv("GATEWAY_BURST", 40),
		GatewayLiveFeed: getBoolEnv("GATEWAY_LIVE_FEED", false),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		Poll: PollConfig{
			Artifacts:          getDurationEnv("POLL_ARTIFACTS_INTERVAL", 3*time.Second),
			ActiveConversation: getDurationEnv("POLL_ACTIVE_CONVERSATION_INTERVAL", 15*time.Second),
			Conversations:      getDurationEnv("POLL_CONVERSATIONS_INTERVAL", 20*time.Second),
		},
		Notification: NotificationConfig{
			PreviewLength: getIntEnv("NOTIFICATION_PREVIEW_LENGTH", 100),
			RecentWindow:  getIntEnv("NOTIFICATION_RECENT_WINDOW", 10),
		},

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		LastSeenTTL:   getDurationEnv("LAST_SEEN_TTL", 30*24*time.Hour),

		SavedStorePath: getEnv("SAVED_STORE_PATH", "./data/saved"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fileConfig mirrors the subset of settings a YAML file may override.
type fileConfig struct {
	Poll struct {
		Artifacts          string `yaml:"artifacts"`
		ActiveConversation string `yaml:"active_conversation"`
		Conversations      string `yaml:"conversations"`
	} `yaml:"poll"`
	Notification struct {
		PreviewLength int `yaml:"preview_length"`
		RecentWindow  int `yaml:"recent_window"`
	} `yaml:"notification"`
	Gateway struct {
		Mode    string `yaml:"mode"`
		BaseURL string `yaml:"base_url"`
		AppID   string `yaml:"app_id"`
	} `yaml:"gateway"`
}

func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Poll.Artifacts, &c.Poll.Artifacts},
		{fc.Poll.ActiveConversation, &c.Poll.ActiveConversation},
		{fc.Poll.Conversations, &c.Poll.Conversations},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid poll interval %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	if fc.Notification.PreviewLength > 0 {
		c.Notification.PreviewLength = fc.Notification.PreviewLength
	}
	if fc.Notification.RecentWindow > 0 {
		c.Notification.RecentWindow = fc.Notification.RecentWindow
	}
	if fc.Gateway.Mode != "" {
		c.GatewayMode = fc.Gateway.Mode
	}
	if fc.Gateway.BaseURL != "" {
		c.GatewayBaseURL = fc.Gateway.BaseURL
	}
	if fc.Gateway.AppID != "" {
		c.GatewayAppID = fc.Gateway.AppID
	}

	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.GatewayMode {
	case "memory":
	case "rest":
		if c.GatewayBaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL is required when GATEWAY_MODE=rest")
		}
	default:
		return fmt.Errorf("unknown gateway mode %q", c.GatewayMode)
	}
	if c.Poll.Artifacts <= 0 || c.Poll.ActiveConversation <= 0 || c.Poll.Conversations <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Notification.PreviewLength <= 0 {
		return fmt.Errorf("notification preview length must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
