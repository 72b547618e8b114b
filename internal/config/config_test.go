package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/italolelis/movie_request_server/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "qbittorrent", cfg.DownloadClient)
	assert.Equal(t, "json", cfg.LedgerBackend)
	assert.Equal(t, "db.json", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.RemoveTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxTorrentSize)
	assert.Zero(t, cfg.OrphanSweepInterval)
	assert.Equal(t, "Remote-User-Id", cfg.Auth.UserIDHeader)
	assert.Equal(t, "0.0.0.0:8000", cfg.Web.BindAddress)
	assert.Empty(t, cfg.MountPoints)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DOWNLOAD_CLIENT", "deluge")
	t.Setenv("DELUGE_BASE_URL", "http://deluge:8112")
	t.Setenv("LEDGER_BACKEND", "bolt")
	t.Setenv("MOUNT_POINTS", "/downloads/disk1|/mnt/disk1;/mnt/disk2")
	t.Setenv("ORPHAN_SWEEP_INTERVAL", "15m")
	t.Setenv("DELUGE_LABEL", "movies")
	t.Setenv("AUTH_USER_ID_HEADER", "X-User-Id")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9000")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "deluge", cfg.DownloadClient)
	assert.Equal(t, "bolt", cfg.LedgerBackend)
	assert.Equal(t, volume.MountPoints{
		{ExternalID: "/downloads/disk1", LocalPath: "/mnt/disk1"},
		{ExternalID: "/mnt/disk2", LocalPath: "/mnt/disk2"},
	}, cfg.MountPoints)
	assert.Equal(t, 15*time.Minute, cfg.OrphanSweepInterval)
	assert.Equal(t, "movies", cfg.ClientCategory())
	assert.Equal(t, "X-User-Id", cfg.Auth.UserIDHeader)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:9000", cfg.Web.BindAddress)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown client", map[string]string{"DOWNLOAD_CLIENT": "transmission"}},
		{"unknown backend", map[string]string{"LEDGER_BACKEND": "redis"}},
		{"deluge without url", map[string]string{"DOWNLOAD_CLIENT": "deluge"}},
		{"malformed mounts", map[string]string{"MOUNT_POINTS": "a|b|c"}},
		{"non-positive torrent size", map[string]string{"MAX_TORRENT_SIZE": "0"}},
		{"sweep without category", map[string]string{"ORPHAN_SWEEP_INTERVAL": "15m"}},
		{"sweep with the other client's category", map[string]string{
			"ORPHAN_SWEEP_INTERVAL": "15m",
			"DOWNLOAD_CLIENT":       "deluge",
			"DELUGE_BASE_URL":       "http://deluge:8112",
			"QBITTORRENT_CATEGORY":  "movies",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_SweepWithCategory(t *testing.T) {
	t.Setenv("ORPHAN_SWEEP_INTERVAL", "15m")
	t.Setenv("QBITTORRENT_CATEGORY", "movies")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "movies", cfg.ClientCategory())
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for level, want := range tests {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
