package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string
	ServiceName string

	// M365MasterKey is the process-wide 64-hex-character key used for every
	// Microsoft 365 secret at rest. Never per-tenant.
	M365MasterKey string

	PlatformJWTSecret string

	// M365RedirectURL is this service's own OAuth callback URL, registered
	// on the identity-provider application.
	M365RedirectURL          string
	DefaultStatusRedirectURL string
	M365StateTTL             time.Duration
	M365TokenTimeout         time.Duration

	GraphBaseURL string
	GraphTimeout time.Duration

	VaultIdleTimeout time.Duration

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		Environment:              getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		ServiceName:              getEnv("SERVICE_NAME", "studio-m365"),
		M365MasterKey:            os.Getenv("M365_MASTER_KEY"),
		PlatformJWTSecret:        os.Getenv("PLATFORM_JWT_SECRET"),
		M365RedirectURL:          os.Getenv("M365_REDIRECT_URL"),
		DefaultStatusRedirectURL: getEnv("M365_STATUS_REDIRECT_URL", "/settings/microsoft365"),
		M365StateTTL:             getDuration("M365_STATE_TTL", 10*time.Minute),
		M365TokenTimeout:         getDuration("M365_TOKEN_TIMEOUT", 15*time.Second),
		GraphBaseURL:             os.Getenv("GRAPH_BASE_URL"),
		GraphTimeout:             getDuration("GRAPH_TIMEOUT", 30*time.Second),
		VaultIdleTimeout:         getDuration("VAULT_IDLE_TIMEOUT", 15*time.Minute),
		RateLimitRPM:             getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:        getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:       getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:       getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
		CORSAllowedHeaders:       getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Tenant-ID"}),
		CORSAllowCredentials:     getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.M365MasterKey == "" {
		return Config{}, fmt.Errorf("M365_MASTER_KEY is required")
	}
	if cfg.PlatformJWTSecret == "" {
		return Config{}, fmt.Errorf("PLATFORM_JWT_SECRET is required")
	}
	if cfg.M365RedirectURL == "" {
		return Config{}, fmt.Errorf("M365_REDIRECT_URL is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
