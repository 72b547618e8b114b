package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/movie_request_server/internal/volume"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadClient string `envconfig:"DOWNLOAD_CLIENT" default:"qbittorrent"`

	QBittorrentBaseURL  string `envconfig:"QBITTORRENT_BASE_URL" default:"http://localhost:8080"`
	QBittorrentUsername string `envconfig:"QBITTORRENT_USERNAME"`
	QBittorrentPassword string `envconfig:"QBITTORRENT_PASSWORD"`
	QBittorrentCategory string `envconfig:"QBITTORRENT_CATEGORY"`

	DelugeBaseURL    string `envconfig:"DELUGE_BASE_URL"`
	DelugeAPIURLPath string `envconfig:"DELUGE_API_URL_PATH" default:"/json"`
	DelugePassword   string `envconfig:"DELUGE_PASSWORD"`
	DelugeLabel      string `envconfig:"DELUGE_LABEL"`

	InsecureSkipVerify bool `envconfig:"INSECURE_SKIP_VERIFY" default:"false"`

	LedgerBackend    string             `envconfig:"LEDGER_BACKEND" default:"json"`
	DBPath           string             `envconfig:"DB_PATH" default:"db.json"`
	ClearDBOnStartup bool               `envconfig:"CLEAR_DB_ON_STARTUP" default:"false"`
	MountPoints      volume.MountPoints `envconfig:"MOUNT_POINTS"`

	RemoveTimeout  time.Duration `envconfig:"REMOVE_TIMEOUT" default:"30s"`
	ResolveTimeout time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"50s"`
	MaxTorrentSize int64         `envconfig:"MAX_TORRENT_SIZE" default:"10485760"`

	OrphanSweepInterval time.Duration `envconfig:"ORPHAN_SWEEP_INTERVAL" default:"0"`
	OrphanGracePeriod   time.Duration `envconfig:"ORPHAN_GRACE_PERIOD" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Auth struct {
		UserIDHeader   string `envconfig:"USER_ID_HEADER" default:"Remote-User-Id"`
		UsernameHeader string `envconfig:"USERNAME_HEADER" default:"Remote-User"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"90s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"movie_request_server"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DownloadClient {
	case "qbittorrent", "deluge":
	default:
		return fmt.Errorf("invalid DOWNLOAD_CLIENT %q: expected qbittorrent or deluge", c.DownloadClient)
	}

	switch c.LedgerBackend {
	case "json", "sqlite", "bolt":
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND %q: expected json, sqlite or bolt", c.LedgerBackend)
	}

	if c.DownloadClient == "deluge" && c.DelugeBaseURL == "" {
		return fmt.Errorf("DELUGE_BASE_URL is required for the deluge client")
	}

	if c.MaxTorrentSize <= 0 {
		return fmt.Errorf("MAX_TORRENT_SIZE must be positive")
	}

	// Without a category the client lists every torrent it holds, not only ours.
	if c.OrphanSweepInterval > 0 && c.ClientCategory() == "" {
		return fmt.Errorf("ORPHAN_SWEEP_INTERVAL requires QBITTORRENT_CATEGORY or DELUGE_LABEL for the %s client", c.DownloadClient)
	}

	return nil
}

// ClientCategory returns the category or label the active download client files torrents under.
func (c *Config) ClientCategory() string {
	if c.DownloadClient == "deluge" {
		return c.DelugeLabel
	}

	return c.QBittorrentCategory
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
