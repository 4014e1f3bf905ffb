package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process settings. Precedence is defaults, then the YAML file
// named by CONFIG_FILE, then the environment.
type Config struct {
	ServerAddr     string   `yaml:"server_addr"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MCPStdio serves MCP over stdin/stdout instead of listening on ServerAddr
	MCPStdio bool `yaml:"mcp_stdio"`

	WireGuardDir string        `yaml:"wireguard_dir"`
	WGPath       string        `yaml:"wg_path"`
	WGQuickPath  string        `yaml:"wg_quick_path"`
	VPNUseSudo   bool          `yaml:"vpn_use_sudo"`
	VPNTimeout   time.Duration `yaml:"vpn_timeout"`

	YtdlpPath       string        `yaml:"ytdlp_path"`
	DownloadDir     string        `yaml:"download_dir"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	InfoTimeout     time.Duration `yaml:"info_timeout"`
	DefaultFormat   string        `yaml:"default_format"`

	WorkerIdleInterval time.Duration `yaml:"worker_idle_interval"`
	HistoryWindow      int           `yaml:"history_window"`

	RedisURL      string        `yaml:"redis_url"`
	EventsChannel string        `yaml:"events_channel"`
	InfoCacheTTL  time.Duration `yaml:"info_cache_ttl"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		ServerAddr:         ":8080",
		LogLevel:           "info",
		WireGuardDir:       "/etc/wireguard",
		WGPath:             "wg",
		WGQuickPath:        "wg-quick",
		VPNUseSudo:         true,
		VPNTimeout:         30 * time.Second,
		YtdlpPath:          "yt-dlp",
		DownloadDir:        "~/Downloads",
		DownloadTimeout:    10 * time.Minute,
		InfoTimeout:        30 * time.Second,
		DefaultFormat:      "best",
		WorkerIdleInterval: time.Second,
		HistoryWindow:      10,
		EventsChannel:      "ytdlp-vpn:jobs",
		InfoCacheTTL:       10 * time.Minute,
	}
}

// Load reads .env files, the optional YAML file and the environment
func Load() (*Config, error) {
	loadEnvFile()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.DownloadDir = expandHome(cfg.DownloadDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile loads .env.local, then .env; existing variables win
func loadEnvFile() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.ServerAddr = getEnvOrDefault("SERVER_ADDR", c.ServerAddr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	errs = append(errs, envBool("MCP_STDIO", &c.MCPStdio))

	c.WireGuardDir = getEnvOrDefault("WIREGUARD_DIR", c.WireGuardDir)
	c.WGPath = getEnvOrDefault("WG_PATH", c.WGPath)
	c.WGQuickPath = getEnvOrDefault("WG_QUICK_PATH", c.WGQuickPath)
	errs = append(errs, envBool("VPN_USE_SUDO", &c.VPNUseSudo))
	errs = append(errs, envDuration("VPN_TIMEOUT", &c.VPNTimeout))

	c.YtdlpPath = getEnvOrDefault("YTDLP_PATH", c.YtdlpPath)
	c.DownloadDir = getEnvOrDefault("DOWNLOAD_DIR", c.DownloadDir)
	errs = append(errs, envDuration("DOWNLOAD_TIMEOUT", &c.DownloadTimeout))
	errs = append(errs, envDuration("INFO_TIMEOUT", &c.InfoTimeout))
	c.DefaultFormat = getEnvOrDefault("DEFAULT_FORMAT", c.DefaultFormat)

	errs = append(errs, envDuration("WORKER_IDLE_INTERVAL", &c.WorkerIdleInterval))
	errs = append(errs, envInt("HISTORY_WINDOW", &c.HistoryWindow))

	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.EventsChannel = getEnvOrDefault("EVENTS_CHANNEL", c.EventsChannel)
	errs = append(errs, envDuration("INFO_CACHE_TTL", &c.InfoCacheTTL))

	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"VPN_TIMEOUT":          c.VPNTimeout,
		"DOWNLOAD_TIMEOUT":     c.DownloadTimeout,
		"INFO_TIMEOUT":         c.InfoTimeout,
		"WORKER_IDLE_INTERVAL": c.WorkerIdleInterval,
	}
	for _, key := range []string{"VPN_TIMEOUT", "DOWNLOAD_TIMEOUT", "INFO_TIMEOUT", "WORKER_IDLE_INTERVAL"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, positive[key]))
		}
	}
	if c.InfoCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("INFO_CACHE_TTL must not be negative, got %s", c.InfoCacheTTL))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_WINDOW must be positive, got %d", c.HistoryWindow))
	}
	if c.ServerAddr == "" {
		errs = append(errs, errors.New("SERVER_ADDR is required"))
	}
	if c.YtdlpPath == "" {
		errs = append(errs, errors.New("YTDLP_PATH is required"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
