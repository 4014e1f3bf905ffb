package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// CheckFunc probes one component
type CheckFunc func(ctx context.Context) ComponentHealth

// Checker performs health checks on the downloader's dependencies
type Checker struct {
	checks       map[string]CheckFunc
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	// FetcherBinary must be installed for the service to be ready
	FetcherBinary string
	// VPNBinaries are needed only for VPN routing; missing ones degrade
	VPNBinaries []string
	// ConfigDir holds the WireGuard configs
	ConfigDir string
	// Redis is optional; nil skips the check
	Redis   *redis.Client
	Version string
	Timeout time.Duration
	// Available reports whether an executable is on PATH
	Available func(name string) bool
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	available := cfg.Available
	if available == nil {
		available = command.Available
	}

	c := &Checker{
		checks:       make(map[string]CheckFunc),
		version:      cfg.Version,
		checkTimeout: timeout,
	}
	if cfg.FetcherBinary != "" {
		c.checks["ytdlp"] = binaryCheck(available, StatusUnhealthy, cfg.FetcherBinary)
	}
	if len(cfg.VPNBinaries) > 0 {
		c.checks["wireguard"] = binaryCheck(available, StatusDegraded, cfg.VPNBinaries...)
	}
	if cfg.ConfigDir != "" {
		c.checks["config_dir"] = configDirCheck(cfg.ConfigDir)
	}
	if cfg.Redis != nil {
		c.checks["redis"] = redisCheck(cfg.Redis, timeout)
	}
	return c
}

// Register adds or replaces a named check
func (c *Checker) Register(name string, check CheckFunc) {
	c.checks[name] = check
}

func binaryCheck(available func(string) bool, failStatus Status, names ...string) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		var missing []string
		for _, n := range names {
			if !available(n) {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return ComponentHealth{
				Status:   failStatus,
				Message:  "not found in PATH: " + strings.Join(missing, ", "),
				Duration: time.Since(start).String(),
			}
		}
		return ComponentHealth{
			Status:   StatusHealthy,
			Duration: time.Since(start).String(),
		}
	}
}

func configDirCheck(dir string) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		entries, err := os.ReadDir(dir)
		if err != nil {
			return ComponentHealth{
				Status:   StatusDegraded,
				Message:  "config directory not readable",
				Duration: time.Since(start).String(),
			}
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				n++
			}
		}
		if n == 0 {
			return ComponentHealth{
				Status:   StatusDegraded,
				Message:  "no WireGuard configs found",
				Duration: time.Since(start).String(),
			}
		}
		return ComponentHealth{
			Status:   StatusHealthy,
			Message:  fmt.Sprintf("%d configs", n),
			Duration: time.Since(start).String(),
		}
	}
}

// redisCheck degrades rather than fails: Redis only carries events and the
// info cache.
func redisCheck(client *redis.Client, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return ComponentHealth{
				Status:   StatusDegraded,
				Message:  "redis ping failed",
				Duration: time.Since(start).String(),
			}
		}
		return ComponentHealth{
			Status:   StatusHealthy,
			Duration: time.Since(start).String(),
		}
	}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck runs every registered check in parallel (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range c.checks {
		wg.Add(1)
		go func(n string, ch CheckFunc) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Check(r.Context())
	writeResponse(w, response)
}

// ReadinessHandler handles readiness probe requests. A degraded service
// still accepts traffic: downloads work without a VPN.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())
	writeResponse(w, response)
}

// HealthHandler serves /health, deep when ?deep=true
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeResponse(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}
