package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "downloads", cfg.DownloadsDir)
	require.Equal(t, 5, cfg.MaxParallel)
	require.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	require.Equal(t, 5, cfg.MaxRedirects)
	require.Equal(t, 4, cfg.CopyBufferMB)
	require.Equal(t, "mirrord", cfg.PutioFolder)
	require.Equal(t, 24*time.Hour, cfg.KeepDownloadedFor)
	require.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	require.Equal(t, "0.0.0.0:3000", cfg.Web.BindAddress)
	require.Equal(t, time.Duration(0), cfg.Web.WriteTimeout)
	require.False(t, cfg.Telemetry.Enabled)
	require.Equal(t, "prometheus", cfg.Telemetry.Exporter)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOWNLOADS_DIR", "/var/lib/mirrord")
	t.Setenv("MAX_PARALLEL", "2")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("TELEMETRY_EXPORTER", "otlp")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "/var/lib/mirrord", cfg.DownloadsDir)
	require.Equal(t, 2, cfg.MaxParallel)
	require.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "otlp", cfg.Telemetry.Exporter)
	require.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		public  string
		bind    string
		wantURL string
	}{
		{name: "public base wins", public: "https://files.example.com", bind: "0.0.0.0:3000", wantURL: "https://files.example.com"},
		{name: "public base trailing slash trimmed", public: "https://files.example.com/", bind: "0.0.0.0:3000", wantURL: "https://files.example.com"},
		{name: "wildcard host becomes localhost", bind: "0.0.0.0:3000", wantURL: "http://localhost:3000"},
		{name: "empty host becomes localhost", bind: ":3000", wantURL: "http://localhost:3000"},
		{name: "explicit host kept", bind: "192.168.1.10:3000", wantURL: "http://192.168.1.10:3000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			cfg.PublicBaseURL = tc.public
			cfg.Web.BindAddress = tc.bind

			require.Equal(t, tc.wantURL, cfg.BaseURL())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		cfg := Config{LogLevel: tc.level}
		require.Equal(t, tc.want, cfg.SlogLevel(), "level %q", tc.level)
	}
}
