package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	ServiceName          string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ZodForgeAPIURL       string
	ZodForgeAdminKey     string
	UpstreamTimeout      time.Duration
	GitHubClientID       string
	GitHubClientSecret   string
	OAuthRedirectURL     string
	SessionIssuer        string
	SessionTTL           time.Duration
	BillingPortalURL     string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		ServiceName:          getEnv("SERVICE_NAME", "zodforge-dashboard"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		ZodForgeAPIURL:       strings.TrimSpace(os.Getenv("ZODFORGE_API_URL")),
		ZodForgeAdminKey:     strings.TrimSpace(os.Getenv("ZODFORGE_ADMIN_API_KEY")),
		UpstreamTimeout:      getDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		GitHubClientID:       strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
		GitHubClientSecret:   strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET")),
		OAuthRedirectURL:     strings.TrimSpace(os.Getenv("OAUTH_REDIRECT_URL")),
		SessionIssuer:        getEnv("SESSION_ISSUER", "zodforge-dashboard"),
		SessionTTL:           getDuration("SESSION_TTL", 24*time.Hour),
		BillingPortalURL:     getEnv("BILLING_PORTAL_URL", "https://zodforge.dev/#pricing"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	for _, required := range []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"ZODFORGE_API_URL", cfg.ZodForgeAPIURL},
		{"ZODFORGE_ADMIN_API_KEY", cfg.ZodForgeAdminKey},
		{"GITHUB_CLIENT_ID", cfg.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", cfg.GitHubClientSecret},
		{"OAUTH_REDIRECT_URL", cfg.OAuthRedirectURL},
	} {
		if required.value == "" {
			return Config{}, fmt.Errorf("%s is required", required.key)
		}
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
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
