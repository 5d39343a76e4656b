package infra

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Artifact store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// GeneratorConfig describes one external generator endpoint and its polling
// bounds. Polling stops at whichever bound is configured (> 0) first.
type GeneratorConfig struct {
	BaseURL      string
	APIKey       string
	VendorID     string
	PollInterval time.Duration
	MaxAttempts  int
	MaxElapsed   time.Duration
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	ArtifactStore string
	DatabaseURL   string
	DBMaxConns    int32
	RedisURL      string

	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	NormalizerTimeout time.Duration
	EnricherTimeout   time.Duration

	Model              GeneratorConfig
	Skybox             GeneratorConfig
	GeneratorRatePerS  float64
	GeneratorTimeout   time.Duration
	QuotaLimits        map[string]int
	RecoveryLogPath    string
	ReconcileOnStartup bool
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		ArtifactStore: strings.ToLower(getEnv("ARTIFACT_STORE", StoreMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		NormalizerTimeout: time.Millisecond * time.Duration(getEnvInt("NORMALIZER_TIMEOUT_MS", 4000)),
		EnricherTimeout:   time.Millisecond * time.Duration(getEnvInt("ENRICHER_TIMEOUT_MS", 10000)),

		Model: GeneratorConfig{
			BaseURL:      getEnv("GENERATOR_MODEL_BASE_URL", "https://api.meshy.ai/openapi/v2"),
			APIKey:       os.Getenv("GENERATOR_MODEL_API_KEY"),
			VendorID:     getEnv("GENERATOR_MODEL_VENDOR", "meshy"),
			PollInterval: time.Millisecond * time.Duration(getEnvInt("MODEL_POLL_INTERVAL_MS", 5000)),
			MaxAttempts:  getEnvInt("MODEL_POLL_MAX_ATTEMPTS", 60),
		},
		Skybox: GeneratorConfig{
			BaseURL:      getEnv("GENERATOR_SKYBOX_BASE_URL", "https://backend.blockadelabs.com/api/v1"),
			APIKey:       os.Getenv("GENERATOR_SKYBOX_API_KEY"),
			VendorID:     getEnv("GENERATOR_SKYBOX_VENDOR", "blockade"),
			PollInterval: time.Millisecond * time.Duration(getEnvInt("SKYBOX_POLL_INTERVAL_MS", 3000)),
			MaxElapsed:   time.Second * time.Duration(getEnvInt("SKYBOX_POLL_MAX_ELAPSED_SECONDS", 180)),
		},
		GeneratorRatePerS:  getEnvFloat("GENERATOR_RATE_PER_SECOND", 2),
		GeneratorTimeout:   time.Second * time.Duration(getEnvInt("GENERATOR_TIMEOUT_SECONDS", 30)),
		RecoveryLogPath:    getEnv("RECOVERY_LOG_PATH", "./storage/recovery.log"),
		ReconcileOnStartup: getEnvBool("RECONCILE_ON_STARTUP", true),
	}

	limits, err := ParseQuotaLimits(getEnv("QUOTA_LIMITS", "model=50,skybox=20"))
	if err != nil {
		return nil, err
	}
	cfg.QuotaLimits = limits

	switch cfg.ArtifactStore {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when ARTIFACT_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported ARTIFACT_STORE %q", cfg.ArtifactStore)
	}

	return cfg, nil
}

// ParseQuotaLimits parses "provider=limit" pairs separated by commas.
func ParseQuotaLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, fmt.Errorf("QUOTA_LIMITS: malformed entry %q", part)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("QUOTA_LIMITS: invalid limit for %q", name)
		}
		limits[name] = limit
	}
	return limits, nil
}

// QuotaProviders returns the configured providers in a stable order.
func (c *Config) QuotaProviders() []string {
	names := make([]string, 0, len(c.QuotaLimits))
	for name := range c.QuotaLimits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
