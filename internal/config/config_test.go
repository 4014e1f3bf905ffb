package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every key Load reads so host settings cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "SERVER_ADDR", "LOG_LEVEL", "CORS_ORIGINS", "WIREGUARD_DIR", "WG_PATH",
		"WG_QUICK_PATH", "VPN_USE_SUDO", "VPN_TIMEOUT", "YTDLP_PATH", "DOWNLOAD_DIR",
		"DOWNLOAD_TIMEOUT", "INFO_TIMEOUT", "DEFAULT_FORMAT", "WORKER_IDLE_INTERVAL",
		"HISTORY_WINDOW", "REDIS_URL", "EVENTS_CHANNEL", "INFO_CACHE_TTL", "MCP_STDIO",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	// Keep stray .env files in the package directory out of the picture
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != ":8080" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.WireGuardDir != "/etc/wireguard" {
		t.Errorf("WireGuardDir = %q", cfg.WireGuardDir)
	}
	if cfg.DownloadTimeout != 10*time.Minute || cfg.InfoTimeout != 30*time.Second || cfg.VPNTimeout != 30*time.Second {
		t.Errorf("unexpected timeouts %+v", cfg)
	}
	if cfg.HistoryWindow != 10 || cfg.WorkerIdleInterval != time.Second {
		t.Errorf("unexpected queue settings %+v", cfg)
	}
	if !cfg.VPNUseSudo {
		t.Error("sudo should be on by default")
	}
	if cfg.RedisURL != "" {
		t.Error("redis should be disabled by default")
	}
	if strings.HasPrefix(cfg.DownloadDir, "~") {
		t.Errorf("DownloadDir not expanded: %q", cfg.DownloadDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("WIREGUARD_DIR", "/tmp/wg")
	t.Setenv("VPN_USE_SUDO", "false")
	t.Setenv("DOWNLOAD_TIMEOUT", "5m")
	t.Setenv("HISTORY_WINDOW", "25")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("REDIS_URL", "redis://localhost:6380")
	t.Setenv("MCP_STDIO", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != ":9090" || cfg.WireGuardDir != "/tmp/wg" {
		t.Errorf("string overrides not applied: %+v", cfg)
	}
	if cfg.VPNUseSudo {
		t.Error("VPN_USE_SUDO=false not applied")
	}
	if cfg.DownloadTimeout != 5*time.Minute {
		t.Errorf("DownloadTimeout = %s", cfg.DownloadTimeout)
	}
	if cfg.HistoryWindow != 25 {
		t.Errorf("HistoryWindow = %d", cfg.HistoryWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RedisURL != "redis://localhost:6380" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if !cfg.MCPStdio {
		t.Error("MCP_STDIO=true not applied")
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server_addr: ":7000"
wireguard_dir: /srv/wg
download_timeout: 20m
history_window: 5
allowed_origins:
  - http://ui.test
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_WINDOW", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != ":7000" || cfg.WireGuardDir != "/srv/wg" {
		t.Errorf("YAML values not applied: %+v", cfg)
	}
	if cfg.DownloadTimeout != 20*time.Minute {
		t.Errorf("DownloadTimeout = %s", cfg.DownloadTimeout)
	}
	if cfg.HistoryWindow != 7 {
		t.Errorf("environment should win over YAML, HistoryWindow = %d", cfg.HistoryWindow)
	}
	if cfg.InfoTimeout != 30*time.Second {
		t.Errorf("keys absent from YAML keep defaults, InfoTimeout = %s", cfg.InfoTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("DEFAULT_FORMAT")

	if err := os.WriteFile(".env", []byte("DEFAULT_FORMAT=bestaudio\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("DEFAULT_FORMAT") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultFormat != "bestaudio" {
		t.Errorf("DefaultFormat = %q, want bestaudio from .env", cfg.DefaultFormat)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad duration", "VPN_TIMEOUT", "soon", "invalid VPN_TIMEOUT"},
		{"bad int", "HISTORY_WINDOW", "ten", "invalid HISTORY_WINDOW"},
		{"bad bool", "VPN_USE_SUDO", "maybe", "invalid VPN_USE_SUDO"},
		{"zero timeout", "DOWNLOAD_TIMEOUT", "0s", "DOWNLOAD_TIMEOUT must be positive"},
		{"negative window", "HISTORY_WINDOW", "-1", "HISTORY_WINDOW must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
