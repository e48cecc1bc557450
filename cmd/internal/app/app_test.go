package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validConfig() Config {
	cfg := LoadConfig()
	cfg.AccessTokenSecret = "access-secret-0123456789-0123456789-abc"
	cfg.RefreshTokenSecret = "refresh-secret-0123456789-0123456789-ab"
	cfg.DatabaseURL = ""
	return cfg
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing access secret", func(c *Config) { c.AccessTokenSecret = "" }, true},
		{"missing refresh secret", func(c *Config) { c.RefreshTokenSecret = "" }, true},
		{"short access secret", func(c *Config) { c.AccessTokenSecret = "short" }, true},
		{"equal secrets", func(c *Config) { c.RefreshTokenSecret = c.AccessTokenSecret }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := ValidateSecurityConfig(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewAppFailsFastWithoutSecrets(t *testing.T) {
	cfg := LoadConfig()
	cfg.AccessTokenSecret = ""
	cfg.RefreshTokenSecret = ""

	if _, err := New(cfg, discardLogger()); err == nil {
		t.Fatal("expected startup failure without token secrets")
	}
}

func TestNewAppWiresInMemoryMode(t *testing.T) {
	a, err := New(validConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.dbEnabled {
		t.Fatal("expected in-memory mode without DATABASE_URL")
	}
	if a.sessions == nil || a.auth == nil || a.ws == nil {
		t.Fatal("incomplete wiring")
	}
}

func TestRegisterHTTPEndpoints(t *testing.T) {
	a, err := New(validConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth, a.metricsReg)

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: got %d want %d", tc.path, rec.Code, tc.want)
		}
	}

	// Auth routes are mounted.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("/auth/login GET: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestReadyzRequiresDBWhenConfigured(t *testing.T) {
	a, err := New(validConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := a.cfg
	cfg.ReadinessRequireDB = true

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, cfg, nil, false, a.ws, a.auth, a.metricsReg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: got %d want 503", rec.Code)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BANDROOM_TEST_STR", "  value  ")
	t.Setenv("BANDROOM_TEST_BOOL", "true")
	t.Setenv("BANDROOM_TEST_INT", "42")
	t.Setenv("BANDROOM_TEST_DUR", "250ms")
	t.Setenv("BANDROOM_TEST_BAD", "not-a-number")

	if got := EnvString("BANDROOM_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString: %q", got)
	}
	if got := EnvString("BANDROOM_TEST_UNSET", "def"); got != "def" {
		t.Fatalf("EnvString default: %q", got)
	}
	if !EnvBool("BANDROOM_TEST_BOOL", false) {
		t.Fatal("EnvBool")
	}
	if got := EnvInt("BANDROOM_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt: %d", got)
	}
	if got := EnvInt("BANDROOM_TEST_BAD", 7); got != 7 {
		t.Fatalf("EnvInt fallback: %d", got)
	}
	if got := EnvDuration("BANDROOM_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration: %v", got)
	}
	if got := EnvInt32("BANDROOM_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt32: %d", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"  Info ": slog.LevelInfo,
	} {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLoggingPreservesStatus(t *testing.T) {
	t.Parallel()

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stout") {
		t.Fatalf("body: %q", rec.Body.String())
	}
}
