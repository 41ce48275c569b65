package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Backend BackendConfig
	Auth    AuthConfig
	Chat    ChatConfig
	Stub    StubConfig
}

// BackendConfig holds chat backend connection settings.
type BackendConfig struct {
	URL         string
	HTTPTimeout time.Duration
}

// AuthConfig holds development token settings. Production deployments
// inject a real token source instead.
type AuthConfig struct {
	DevSecret string //nolint:gosec // G117: dev-only signing secret config
	DevTTL    time.Duration
}

// ChatConfig holds default turn parameters.
type ChatConfig struct {
	OrchestrationType string
	AgentIDs          []string
}

// StubConfig holds settings for the local development backend.
type StubConfig struct {
	Addr          string
	Secret        string //nolint:gosec // G117: dev-only signing secret config
	ChunksPerSec  float64
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	CORSOrigins   []string
	DefaultAgents []string
}

var validOrchestrations = map[string]struct{}{ //nolint:gochecknoglobals // lookup table
	"single":     {},
	"sequential": {},
	"concurrent": {},
	"magentic":   {},
	"group_chat": {},
}

// Load reads configuration from environment variables. Defaults are safe
// for local development against the stub backend.
func Load() (*Config, error) {
	httpTimeout, err := getEnvDuration("WEFT_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	devTTL, err := getEnvDuration("WEFT_DEV_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	chunksPerSec, err := getEnvFloat("WEFT_STUB_CHUNKS_PER_SEC", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("WEFT_STUB_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// Streaming responses hold the connection open; the write timeout
	// bounds one whole scripted stream, not one chunk.
	writeTimeout, err := getEnvDuration("WEFT_STUB_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Backend: BackendConfig{
			URL:         getEnv("WEFT_BACKEND_URL", "http://localhost:8714"),
			HTTPTimeout: httpTimeout,
		},
		Auth: AuthConfig{
			DevSecret: getEnv("WEFT_DEV_SECRET", "weft-local-development-secret-00"),
			DevTTL:    devTTL,
		},
		Chat: ChatConfig{
			OrchestrationType: getEnv("WEFT_ORCHESTRATION", "sequential"),
			AgentIDs:          getEnvList("WEFT_AGENT_IDS", nil),
		},
		Stub: StubConfig{
			Addr:          getEnv("WEFT_STUB_ADDR", ":8714"),
			Secret:        getEnv("WEFT_DEV_SECRET", "weft-local-development-secret-00"),
			ChunksPerSec:  chunksPerSec,
			ReadTimeout:   readTimeout,
			WriteTimeout:  writeTimeout,
			CORSOrigins:   getEnvList("WEFT_STUB_CORS_ORIGINS", []string{"http://localhost:4200"}),
			DefaultAgents: getEnvList("WEFT_STUB_AGENTS", []string{"Researcher", "Writer"}),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("WEFT_BACKEND_URL must be an absolute URL, got %q", c.Backend.URL)
	}

	if len(c.Auth.DevSecret) < 32 {
		return errors.New("WEFT_DEV_SECRET must be at least 32 characters")
	}

	if _, ok := validOrchestrations[c.Chat.OrchestrationType]; !ok {
		return fmt.Errorf("WEFT_ORCHESTRATION must be one of single|sequential|concurrent|magentic|group_chat, got %q", c.Chat.OrchestrationType)
	}

	if c.Backend.HTTPTimeout <= 0 {
		return fmt.Errorf("WEFT_HTTP_TIMEOUT must be positive, got %s", c.Backend.HTTPTimeout)
	}
	if c.Auth.DevTTL <= 0 {
		return fmt.Errorf("WEFT_DEV_TOKEN_TTL must be positive, got %s", c.Auth.DevTTL)
	}
	if c.Stub.ChunksPerSec <= 0 {
		return fmt.Errorf("WEFT_STUB_CHUNKS_PER_SEC must be positive, got %g", c.Stub.ChunksPerSec)
	}
	if c.Stub.ReadTimeout <= 0 {
		return fmt.Errorf("WEFT_STUB_READ_TIMEOUT must be positive, got %s", c.Stub.ReadTimeout)
	}
	if c.Stub.WriteTimeout <= 0 {
		return fmt.Errorf("WEFT_STUB_WRITE_TIMEOUT must be positive, got %s", c.Stub.WriteTimeout)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
