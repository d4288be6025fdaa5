package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, loaded from the environment.
type Config struct {
	Profile string
	Addr    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	SweepInterval    time.Duration
	TempGrantMaxSecs int

	APIRateLimitRPM int
	CORSOrigins     []string
	LogLevel        string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment, applies defaults and
// validates the result.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Profile: getEnv("APP_PROFILE", "dev"),
		Addr:    getEnv("SERVER_ADDR", ":8080"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "tabletop-session-service"),
		JWTAudience: getEnv("JWT_AUDIENCE", "tabletop-clients"),

		APIRateLimitRPM: 300,
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		SweepInterval:    time.Minute,
		TempGrantMaxSecs: 3600,

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "tabletop-session-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         getBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           getBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: 15 * time.Second,
	}

	var err error
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = getDuration("OTEL_METRICS_EXPORT_INTERVAL", cfg.OTELMetricsExportInterval); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if cfg.APIRateLimitRPM, err = getInt("API_RATE_LIMIT_RPM", cfg.APIRateLimitRPM); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if cfg.TempGrantMaxSecs, err = getInt("TEMP_GRANT_MAX_SECONDS", cfg.TempGrantMaxSecs); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Profile != "dev" && c.Profile != "prod" {
		return fmt.Errorf("validate config: unknown profile %q", c.Profile)
	}
	if c.JWTSecret == "" {
		if c.Profile == "prod" {
			return fmt.Errorf("validate config: JWT_SECRET is required in prod")
		}
		c.JWTSecret = "dev-insecure-secret"
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("validate config: SWEEP_INTERVAL must be positive")
	}
	if c.TempGrantMaxSecs <= 0 {
		return fmt.Errorf("validate config: TEMP_GRANT_MAX_SECONDS must be positive")
	}
	if c.APIRateLimitRPM <= 0 {
		return fmt.Errorf("validate config: API_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
