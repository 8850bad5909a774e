package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadsDir  string `envconfig:"DOWNLOADS_DIR" default:"downloads"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`

	MaxParallel  int           `envconfig:"MAX_PARALLEL" default:"5"`
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`
	MaxRedirects int           `envconfig:"MAX_REDIRECTS" default:"5"`
	CopyBufferMB int           `envconfig:"COPY_BUFFER_MB" default:"4"`

	PutioToken  string `envconfig:"PUTIO_TOKEN"`
	PutioFolder string `envconfig:"PUTIO_FOLDER" default:"mirrord"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"false"`
		Exporter       string `split_words:"true" default:"prometheus"`
		OTLPEndpoint   string `split_words:"true"`
		ServiceName    string `split_words:"true" default:"mirrord"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:3000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// BaseURL is the address download links are built from. When no public base
// URL is configured it is derived from the bind address, with wildcard hosts
// rewritten to localhost so the links stay dialable.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}

	host, port, err := net.SplitHostPort(c.Web.BindAddress)
	if err != nil {
		return "http://" + c.Web.BindAddress
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return "http://" + net.JoinHostPort(host, port)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
