// Package wireguard drives the wg and wg-quick executables.
//
// The active interface is external state: other processes or an operator can
// change it at any time, so callers should re-read ActiveInterface right
// before acting on it.
package wireguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

// DefaultTimeout bounds each wg-quick invocation
const DefaultTimeout = 30 * time.Second

// Config holds configuration for the controller
type Config struct {
	// WGPath is the wg binary used to list interfaces (default: "wg")
	WGPath string
	// WGQuickPath is the wg-quick binary used for up/down (default: "wg-quick")
	WGQuickPath string
	// UseSudo prefixes wg-quick with sudo
	UseSudo bool
	// Timeout bounds each invocation
	Timeout time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		WGPath:      "wg",
		WGQuickPath: "wg-quick",
		UseSudo:     true,
		Timeout:     DefaultTimeout,
	}
}

// OpError describes a failed bring-up or bring-down
type OpError struct {
	Op        string // "start" or "stop"
	Interface string
	Stderr    string
	Err       error
}

func (e *OpError) Error() string {
	if command.IsTimeout(e.Err) {
		return fmt.Sprintf("Timeout %s %s", progressive(e.Op), e.Interface)
	}
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	return fmt.Sprintf("Failed to %s %s: %s", e.Op, e.Interface, detail)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func progressive(op string) string {
	switch op {
	case "start":
		return "starting"
	case "stop":
		return "stopping"
	default:
		return op + "ing"
	}
}

// Controller brings WireGuard interfaces up and down
type Controller struct {
	cfg    *Config
	runner command.Runner
	log    *logger.Logger
}

// New creates a controller. A nil cfg uses DefaultConfig.
func New(cfg *Config, runner command.Runner) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if runner == nil {
		runner = command.NewExecRunner()
	}
	return &Controller{
		cfg:    cfg,
		runner: runner,
		log:    logger.Default().WithComponent("wireguard"),
	}
}

// ActiveInterface returns the first interface wg reports, or "" when none is
// up or wg cannot be queried.
func (c *Controller) ActiveInterface(ctx context.Context) string {
	result, err := c.runner.Run(ctx, c.cfg.Timeout, c.cfg.WGPath, "show", "interfaces")
	if err != nil {
		c.log.Debug(ctx, "interface query failed", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}

	fields := strings.Fields(result.Stdout)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// BringUp activates the interface described by cfg.
// Success only means wg-quick exited cleanly.
func (c *Controller) BringUp(ctx context.Context, cfg location.Config) (string, error) {
	target := cfg.Path
	if target == "" {
		target = cfg.Name
	}

	if err := c.quick(ctx, "up", target); err != nil {
		opErr := c.opError("start", cfg.Name, err)
		c.log.Warn(ctx, "interface start failed", map[string]interface{}{
			"interface": cfg.Name,
			"error":     opErr.Error(),
		})
		return "", opErr
	}

	c.log.Info(ctx, "interface up", map[string]interface{}{"interface": cfg.Name})
	return fmt.Sprintf("WireGuard interface %s is now up", cfg.Name), nil
}

// BringDown deactivates the named interface
func (c *Controller) BringDown(ctx context.Context, iface string) (string, error) {
	if err := c.quick(ctx, "down", iface); err != nil {
		opErr := c.opError("stop", iface, err)
		c.log.Warn(ctx, "interface stop failed", map[string]interface{}{
			"interface": iface,
			"error":     opErr.Error(),
		})
		return "", opErr
	}

	c.log.Info(ctx, "interface down", map[string]interface{}{"interface": iface})
	return fmt.Sprintf("WireGuard interface %s is now down", iface), nil
}

func (c *Controller) quick(ctx context.Context, action, target string) error {
	name := c.cfg.WGQuickPath
	args := []string{action, target}
	if c.cfg.UseSudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}

	_, err := c.runner.Run(ctx, c.cfg.Timeout, name, args...)
	return err
}

func (c *Controller) opError(op, iface string, err error) *OpError {
	opErr := &OpError{Op: op, Interface: iface, Err: err}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		opErr.Stderr = exitErr.Stderr
	}
	return opErr
}

// Binaries lists the executables the controller depends on
func (c *Controller) Binaries() []string {
	bins := []string{c.cfg.WGPath, c.cfg.WGQuickPath}
	if c.cfg.UseSudo {
		bins = append(bins, "sudo")
	}
	return bins
}
