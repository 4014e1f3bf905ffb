package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

const (
	// DefaultDownloadTimeout bounds a single fetch
	DefaultDownloadTimeout = 10 * time.Minute
	// DefaultInfoTimeout bounds a metadata lookup
	DefaultInfoTimeout = 30 * time.Second
	// DefaultFormat is the format selector used when a request names none
	DefaultFormat = "best"
	// OutputTemplate names downloaded files after their title
	OutputTemplate = "%(title)s.%(ext)s"
)

// Config holds configuration for the yt-dlp service
type Config struct {
	// YtdlpPath is the path to yt-dlp binary (default: "yt-dlp")
	YtdlpPath string
	// DownloadDir is used when a request has no output directory
	// (default: ~/Downloads)
	DownloadDir string
	// DownloadTimeout bounds each download invocation
	DownloadTimeout time.Duration
	// InfoTimeout bounds each --dump-json invocation
	InfoTimeout time.Duration
	// DefaultFormat is passed to -f when a request has none
	DefaultFormat string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		YtdlpPath:       "yt-dlp",
		DownloadDir:     DefaultDownloadDir(),
		DownloadTimeout: DefaultDownloadTimeout,
		InfoTimeout:     DefaultInfoTimeout,
		DefaultFormat:   DefaultFormat,
	}
}

// DefaultDownloadDir returns ~/Downloads, or ./Downloads when the home
// directory cannot be determined.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Service wraps yt-dlp for video downloads and metadata lookups
type Service struct {
	cfg    *Config
	runner command.Runner
	log    *logger.Logger
}

// New creates a new yt-dlp service. Missing config values fall back to
// DefaultConfig. The binary is not required to exist yet; use Available to
// check.
func New(cfg *Config, runner command.Runner) *Service {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = def.YtdlpPath
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = def.DownloadDir
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.InfoTimeout <= 0 {
		cfg.InfoTimeout = def.InfoTimeout
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = def.DefaultFormat
	}
	if runner == nil {
		runner = command.NewExecRunner()
	}

	return &Service{
		cfg:    cfg,
		runner: runner,
		log:    logger.Default().WithComponent("ytdlp"),
	}
}

// Binary returns the configured yt-dlp executable
func (s *Service) Binary() string {
	return s.cfg.YtdlpPath
}

// Available reports whether the yt-dlp executable can be found
func (s *Service) Available() bool {
	return command.Available(s.cfg.YtdlpPath)
}

// DownloadTimeout returns the bound applied to each download
func (s *Service) DownloadTimeout() time.Duration {
	return s.cfg.DownloadTimeout
}

// DownloadRequest describes a single fetch
type DownloadRequest struct {
	URL       string
	Format    string
	OutputDir string
}

// DownloadResult contains the result of a download operation
type DownloadResult struct {
	Stdout    string
	OutputDir string
	Duration  time.Duration
}

// Download fetches req.URL into the output directory, creating it if needed.
// A non-zero exit yields a *DownloadError whose Stderr is the raw tool output;
// a bounded-wait expiry yields an error matching ErrTimeout.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = s.cfg.DownloadDir
	}
	outputDir = ExpandHome(outputDir)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, &DownloadError{URL: req.URL, Message: "failed to create output directory", Err: err}
	}

	format := req.Format
	if format == "" {
		format = s.cfg.DefaultFormat
	}

	args := []string{
		"-f", format,
		"-o", filepath.Join(outputDir, OutputTemplate),
		req.URL,
	}

	s.log.Info(ctx, "download started", map[string]interface{}{
		"url":        req.URL,
		"format":     format,
		"output_dir": outputDir,
	})

	result, err := s.runner.Run(ctx, s.cfg.DownloadTimeout, s.cfg.YtdlpPath, args...)
	if err != nil {
		dlErr := s.categorizeError(req.URL, result, err)
		s.log.Warn(ctx, "download failed", map[string]interface{}{
			"url":   req.URL,
			"error": dlErr.Error(),
		})
		return nil, dlErr
	}

	s.log.Info(ctx, "download finished", map[string]interface{}{
		"url":         req.URL,
		"duration_ms": result.Duration.Milliseconds(),
	})

	return &DownloadResult{
		Stdout:    result.Stdout,
		OutputDir: outputDir,
		Duration:  result.Duration,
	}, nil
}

// Info retrieves metadata for a URL without downloading
func (s *Service) Info(ctx context.Context, sourceURL string) (*VideoInfo, error) {
	if err := ValidateURL(sourceURL); err != nil {
		return nil, err
	}

	result, err := s.runner.Run(ctx, s.cfg.InfoTimeout, s.cfg.YtdlpPath, "--dump-json", sourceURL)
	if err != nil {
		return nil, s.categorizeError(sourceURL, result, err)
	}

	var info VideoInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return nil, &DownloadError{URL: sourceURL, Message: "failed to parse metadata", Err: err}
	}

	return &info, nil
}

// ValidateURL rejects blank input. Anything else goes to yt-dlp as is, which
// also accepts bare hosts and search prefixes like "ytsearch1:"; its stderr
// decides whether the URL is supported.
func ValidateURL(sourceURL string) error {
	if strings.TrimSpace(sourceURL) == "" {
		return &DownloadError{URL: sourceURL, Message: "url is required", Err: ErrInvalidURL}
	}
	return nil
}

// categorizeError converts runner failures into specific error types
func (s *Service) categorizeError(sourceURL string, result *command.Result, err error) *DownloadError {
	if command.IsTimeout(err) {
		return &DownloadError{URL: sourceURL, Message: "yt-dlp timed out", Err: ErrTimeout}
	}
	if errors.Is(err, command.ErrNotFound) {
		return &DownloadError{URL: sourceURL, Message: "failed to run yt-dlp", Err: ErrYtdlpNotFound}
	}

	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		return &DownloadError{URL: sourceURL, Message: "failed to run yt-dlp", Err: err}
	}

	stderr := exitErr.Stderr
	if stderr == "" && result != nil {
		stderr = result.Stderr
	}

	dlErr := &DownloadError{
		URL:      sourceURL,
		Stderr:   stderr,
		ExitCode: exitErr.ExitCode,
	}
	if dlErr.ExitCode == 0 {
		dlErr.ExitCode = 1
	}

	stderrLower := strings.ToLower(stderr)

	switch {
	case strings.Contains(stderrLower, "private video") ||
		strings.Contains(stderrLower, "is private"):
		dlErr.Message, dlErr.Err = "video is private", ErrVideoPrivate

	case strings.Contains(stderrLower, "video unavailable") ||
		strings.Contains(stderrLower, "this video is unavailable"):
		dlErr.Message, dlErr.Err = "video unavailable", ErrVideoUnavailable

	case strings.Contains(stderrLower, "age-restricted") ||
		strings.Contains(stderrLower, "sign in to confirm your age"):
		dlErr.Message, dlErr.Err = "content is age-restricted", ErrAgeRestricted

	case strings.Contains(stderrLower, "unsupported url") ||
		strings.Contains(stderrLower, "no suitable extractor"):
		dlErr.Message, dlErr.Err = "url not supported", ErrURLNotSupported

	case strings.Contains(stderrLower, "unable to download") ||
		strings.Contains(stderrLower, "connection") ||
		strings.Contains(stderrLower, "network"):
		dlErr.Message, dlErr.Err = "network error", ErrNetworkError

	default:
		dlErr.Message = "download failed"
		dlErr.Err = fmt.Errorf("%w: exit code %d", ErrDownloadFailed, dlErr.ExitCode)
	}

	return dlErr
}
