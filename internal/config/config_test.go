package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every key Load reads so the host environment cannot leak
// into the test. t.Setenv restores the originals.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_PROFILE", "SERVER_ADDR",
		"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE",
		"SWEEP_INTERVAL", "TEMP_GRANT_MAX_SECONDS",
		"API_RATE_LIMIT_RPM", "CORS_ORIGINS", "LOG_LEVEL",
		"OTEL_SERVICE_NAME", "OTEL_ENVIRONMENT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_METRICS_ENABLED", "OTEL_TRACES_ENABLED", "OTEL_LOGS_ENABLED",
		"OTEL_METRICS_EXPORT_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Profile != "dev" || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults: profile=%q addr=%q", cfg.Profile, cfg.Addr)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("sweep interval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.TempGrantMaxSecs != 3600 {
		t.Fatalf("temp grant max = %d, want 3600", cfg.TempGrantMaxSecs)
	}
	if cfg.APIRateLimitRPM != 300 {
		t.Fatalf("rate limit = %d, want 300", cfg.APIRateLimitRPM)
	}
	if cfg.JWTSecret != "dev-insecure-secret" {
		t.Fatal("dev profile should fall back to the dev secret")
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected CORS defaults: %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("TEMP_GRANT_MAX_SECONDS", "600")
	t.Setenv("API_RATE_LIMIT_RPM", "60")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com,")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.SweepInterval != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.TempGrantMaxSecs != 600 || cfg.APIRateLimitRPM != 60 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if len(cfg.CORSOrigins) != len(want) || cfg.CORSOrigins[0] != want[0] || cfg.CORSOrigins[1] != want[1] {
		t.Fatalf("CORS origins = %v, want %v", cfg.CORSOrigins, want)
	}
}

func TestLoadProdRequiresSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PROFILE", "prod")

	if _, err := Load(context.Background()); err == nil {
		t.Fatal("prod without JWT_SECRET must fail")
	}

	t.Setenv("JWT_SECRET", "prod-secret")
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "prod-secret" {
		t.Fatalf("secret = %q", cfg.JWTSecret)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown profile", "APP_PROFILE", "staging"},
		{"unparsable interval", "SWEEP_INTERVAL", "soon"},
		{"negative interval", "SWEEP_INTERVAL", "-10s"},
		{"unparsable rpm", "API_RATE_LIMIT_RPM", "many"},
		{"zero rpm", "API_RATE_LIMIT_RPM", "0"},
		{"zero grant max", "TEMP_GRANT_MAX_SECONDS", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(context.Background()); err == nil {
				t.Fatalf("%s=%q should fail validation", tc.key, tc.value)
			}
		})
	}
}

func TestLoadParseErrorShape(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWEEP_INTERVAL", "soon")
	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected parse failure")
	}
	if !strings.HasPrefix(err.Error(), "parse SWEEP_INTERVAL") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# comment",
		"",
		"SERVER_ADDR=:7070",
		`JWT_SECRET="quoted-secret"`,
		"SWEEP_INTERVAL = 45s",
		"malformed line without equals",
		"=no-key",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// An already-set variable wins over the file; the rest must be unset
	// for the file to apply (t.Setenv in clearEnv still restores them).
	t.Setenv("SERVER_ADDR", ":6060")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("SWEEP_INTERVAL")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("SERVER_ADDR"); got != ":6060" {
		t.Fatalf("existing env should win, got %q", got)
	}
	if got := os.Getenv("JWT_SECRET"); got != "quoted-secret" {
		t.Fatalf("quotes should be stripped, got %q", got)
	}
	if got := os.Getenv("SWEEP_INTERVAL"); got != "45s" {
		t.Fatalf("whitespace should be trimmed, got %q", got)
	}
}

func TestLoadEnvFileMissingIsFine(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}
