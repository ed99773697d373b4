// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the gateway configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	FilesDir         string
	ScriptPath       string // "" uses the embedded demo script
	AgentGRPCAddr    string // remote agent; empty runs the script processor
	TaskTimeout      time.Duration
	MaxMessageBytes  int64
	RateLimit        RateLimitConfig
	SessionRetention time.Duration
	RecorderQueue    int
}

// RateLimitConfig controls the per-IP limiter on POST /api/message.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ConsoleConfig holds the operator console configuration.
type ConsoleConfig struct {
	GatewayURL       string
	AutoplayInterval time.Duration
	HTTPFallback     bool
}

// Load reads gateway configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8000"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/researchdeck.db"),
		FilesDir:         getEnv("FILES_DIR", "./data/exports"),
		ScriptPath:       getEnv("SCRIPT_PATH", ""),
		AgentGRPCAddr:    getEnv("AGENT_GRPC_ADDR", ""),
		TaskTimeout:      getEnvDuration("TASK_TIMEOUT", 300*time.Second),
		MaxMessageBytes:  int64(getEnvInt("MAX_MESSAGE_BYTES", 32<<20)),
		SessionRetention: getEnvDuration("SESSION_RETENTION", 7*24*time.Hour),
		RecorderQueue:    getEnvInt("RECORDER_QUEUE_SIZE", 1000),
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.FilesDir == "" {
		return fmt.Errorf("FILES_DIR cannot be empty")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("TASK_TIMEOUT must be > 0")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be > 0")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if c.RecorderQueue <= 0 {
		return fmt.Errorf("RECORDER_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// LoadConsole reads console configuration from environment variables.
func LoadConsole() (*ConsoleConfig, error) {
	cfg := &ConsoleConfig{
		GatewayURL:       getEnv("RESEARCHDECK_URL", "http://localhost:8000"),
		AutoplayInterval: getEnvDuration("AUTOPLAY_INTERVAL", 3*time.Second),
		HTTPFallback:     getEnvBool("HTTP_FALLBACK", true),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the console settings.
func (c *ConsoleConfig) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("RESEARCHDECK_URL cannot be empty")
	}
	if c.AutoplayInterval <= 0 {
		return fmt.Errorf("AUTOPLAY_INTERVAL must be > 0")
	}
	return nil
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
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
