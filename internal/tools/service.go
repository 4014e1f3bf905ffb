// Package tools is the remote-callable surface of the downloader. Every
// operation renders a human-readable text and returns the structured value
// it was rendered from. Failures still carry text; the accompanying
// *apperrors.AppError classifies them for transports that need a status.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/download"
	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/wireguard"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/ytdlp"
)

// JobQueue is the queue API the tools drive
type JobQueue interface {
	Submit(ctx context.Context, req download.Request) (download.Job, error)
	Status() download.Snapshot
	Get(id int64) (download.Job, bool)
	Cancel(ctx context.Context, id int64) bool
	ClearHistory(ctx context.Context) int
}

// ConfigSource lists and selects WireGuard configs
type ConfigSource interface {
	Dir() string
	Lookup(name string) (location.Config, bool)
	GroupByCountry() map[string][]location.Config
	SelectBestConfig(country, preferredCity string) (location.Config, bool)
}

// InfoSource fetches video metadata
type InfoSource interface {
	Info(ctx context.Context, url string) (*ytdlp.VideoInfo, error)
}

// InfoCache stores metadata lookups by URL
type InfoCache interface {
	Get(ctx context.Context, url string) (*ytdlp.VideoInfo, bool)
	Set(ctx context.Context, url string, info *ytdlp.VideoInfo) error
}

// Result is the outcome of one tool call
type Result struct {
	Text string `json:"text"`
	Data any    `json:"data,omitempty"`
}

// Service implements the tool operations
type Service struct {
	queue   JobQueue
	vpn     download.VPNController
	configs ConfigSource
	info    InfoSource
	cache   InfoCache
	log     *logger.Logger
}

// NewService wires the tool operations to their collaborators
func NewService(queue JobQueue, vpn download.VPNController, configs ConfigSource, info InfoSource) *Service {
	return &Service{
		queue:   queue,
		vpn:     vpn,
		configs: configs,
		info:    info,
		log:     logger.Default().WithComponent("tools"),
	}
}

// SetInfoCache enables caching of metadata lookups
func (s *Service) SetInfoCache(c InfoCache) {
	s.cache = c
}

// ConfigEntry is one config in a listing
type ConfigEntry struct {
	Name    string             `json:"name"`
	City    string             `json:"city"`
	Active  bool               `json:"active"`
	Profile *wireguard.Profile `json:"profile,omitempty"`
}

// CountryConfigs groups the configs of one country
type CountryConfigs struct {
	Country string        `json:"country"`
	Configs []ConfigEntry `json:"configs"`
}

// ConfigListing is the structured result of ListConfigs
type ConfigListing struct {
	Dir       string           `json:"dir"`
	Active    string           `json:"active,omitempty"`
	Countries []CountryConfigs `json:"countries"`
}

// ListConfigs lists the WireGuard configs grouped by country, marking the
// active one.
func (s *Service) ListConfigs(ctx context.Context) (Result, error) {
	byCountry := s.configs.GroupByCountry()
	listing := ConfigListing{Dir: s.configs.Dir(), Countries: []CountryConfigs{}}

	if len(byCountry) == 0 {
		return Result{
			Text: fmt.Sprintf("No WireGuard configs found in %s", s.configs.Dir()),
			Data: listing,
		}, nil
	}

	active := s.vpn.ActiveInterface(ctx)
	listing.Active = active

	countries := make([]string, 0, len(byCountry))
	for c := range byCountry {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	lines := []string{"Available WireGuard configurations by country:"}
	for _, country := range countries {
		group := CountryConfigs{Country: country}
		lines = append(lines, "\n"+strings.ToUpper(country)+":")
		for _, cfg := range byCountry[country] {
			loc, _ := location.ParseLocation(cfg.Name)
			entry := ConfigEntry{Name: cfg.Name, City: loc.City, Active: active != "" && active == cfg.Name}
			if p, err := wireguard.ReadProfile(cfg.Name, cfg.Path); err == nil {
				entry.Profile = p
			}
			group.Configs = append(group.Configs, entry)

			status := ""
			if entry.Active {
				status = " (ACTIVE)"
			}
			lines = append(lines, fmt.Sprintf("  - %s%s [%s]", cfg.Name, status, loc.City))
		}
		listing.Countries = append(listing.Countries, group)
	}

	return Result{Text: strings.Join(lines, "\n"), Data: listing}, nil
}

// VPNState is the structured result of the VPN status operations
type VPNState struct {
	Active    string `json:"active,omitempty"`
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
	Config    string `json:"config,omitempty"`
	Country   string `json:"country,omitempty"`
}

// VPNStatus reports the active interface
func (s *Service) VPNStatus(ctx context.Context) (Result, error) {
	active := s.vpn.ActiveInterface(ctx)
	if active != "" {
		return Result{
			Text: fmt.Sprintf("WireGuard interface '%s' is currently active", active),
			Data: VPNState{Active: active, Connected: true},
		}, nil
	}
	return Result{
		Text: "No WireGuard interface is currently active",
		Data: VPNState{},
	}, nil
}

// StartVPNArgs selects the config to bring up: an explicit name, or a
// country (given or detected from URL) with an optional city.
type StartVPNArgs struct {
	ConfigName string `json:"config_name,omitempty"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	URL        string `json:"url,omitempty"`
}

// StartVPN brings up a config unless an interface is already active
func (s *Service) StartVPN(ctx context.Context, args StartVPNArgs) (Result, error) {
	if active := s.vpn.ActiveInterface(ctx); active != "" {
		return Result{
			Text: fmt.Sprintf("WireGuard interface '%s' is already active. Stop it first.", active),
			Data: VPNState{Active: active, Connected: true},
		}, apperrors.VPNAlreadyActive(active)
	}

	var (
		cfg   location.Config
		found bool
	)
	country := strings.ToLower(strings.TrimSpace(args.Country))

	if args.ConfigName != "" {
		if cfg, found = s.configs.Lookup(args.ConfigName); !found {
			return Result{
				Text: fmt.Sprintf("Config '%s' not found", args.ConfigName),
				Data: VPNState{},
			}, apperrors.ConfigNotFound(args.ConfigName)
		}
	} else {
		if country == "" && args.URL != "" {
			country = location.DetectCountry(args.URL)
		}
		if cfg, found = s.configs.SelectBestConfig(country, strings.ToLower(args.City)); !found {
			msg := "No suitable WireGuard config found"
			if country != "" {
				msg += fmt.Sprintf(" for country '%s'", country)
			}
			return Result{Text: msg, Data: VPNState{Country: country}}, apperrors.NotFound("WireGuard config")
		}
	}

	msg, err := s.vpn.BringUp(ctx, cfg)
	if err != nil {
		s.log.Warn(ctx, "vpn start failed", map[string]interface{}{"config": cfg.Name, "error": err.Error()})
		return Result{
			Text: err.Error(),
			Data: VPNState{Config: cfg.Name, Country: country, Message: err.Error()},
		}, externalError("wg-quick", err)
	}

	return Result{
		Text: msg,
		Data: VPNState{Active: cfg.Name, Connected: true, Config: cfg.Name, Country: country, Message: msg},
	}, nil
}

// StopVPN brings down the active interface
func (s *Service) StopVPN(ctx context.Context) (Result, error) {
	active := s.vpn.ActiveInterface(ctx)
	if active == "" {
		return Result{
			Text: "No WireGuard interface is currently active",
			Data: VPNState{},
		}, apperrors.VPNNotActive()
	}

	msg, err := s.vpn.BringDown(ctx, active)
	if err != nil {
		return Result{
			Text: err.Error(),
			Data: VPNState{Active: active, Connected: true, Message: err.Error()},
		}, externalError("wg-quick", err)
	}
	return Result{Text: msg, Data: VPNState{Message: msg}}, nil
}

// QueueDownloadArgs are the inputs of QueueDownload. AutoVPN defaults to
// true when omitted.
type QueueDownloadArgs struct {
	URL           string `json:"url"`
	AutoVPN       *bool  `json:"auto_vpn,omitempty"`
	PreferredCity string `json:"preferred_city,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
	FormatSpec    string `json:"format_spec,omitempty"`
}

// QueueDownload adds a job to the queue
func (s *Service) QueueDownload(ctx context.Context, args QueueDownloadArgs) (Result, error) {
	if err := ytdlp.ValidateURL(args.URL); err != nil {
		return Result{Text: "Error: " + err.Error()}, apperrors.ValidationError(err.Error())
	}

	autoVPN := true
	if args.AutoVPN != nil {
		autoVPN = *args.AutoVPN
	}

	job, err := s.queue.Submit(ctx, download.Request{
		URL:           args.URL,
		AutoVPN:       autoVPN,
		PreferredCity: strings.ToLower(args.PreferredCity),
		OutputDir:     args.OutputDir,
		FormatSpec:    args.FormatSpec,
	})
	if err != nil {
		return Result{Text: "Error: " + err.Error()}, apperrors.ValidationError(err.Error())
	}

	countryMsg := ""
	if job.DetectedCountry != "" {
		countryMsg = fmt.Sprintf(" (detected: %s)", job.DetectedCountry)
	}
	return Result{
		Text: fmt.Sprintf("Added to queue: Job #%d%s\nURL: %s\nUse 'queue_status()' to monitor progress", job.ID, countryMsg, job.URL),
		Data: job,
	}, nil
}

// QueueStatus renders the in-flight job, the backlog and recent history
func (s *Service) QueueStatus(ctx context.Context) (Result, error) {
	snap := s.queue.Status()
	return Result{Text: RenderStatus(snap), Data: snap}, nil
}

// RenderStatus formats a queue snapshot as text
func RenderStatus(snap download.Snapshot) string {
	var lines []string

	if c := snap.Current; c != nil {
		started := ""
		if c.StartedAt != nil {
			started = c.StartedAt.Format(time.RFC3339)
		}
		lines = append(lines,
			fmt.Sprintf("Currently downloading: Job #%d", c.ID),
			"  URL: "+c.URL,
			"  Started: "+started,
			"",
		)
	}

	if len(snap.Queued) > 0 {
		lines = append(lines, fmt.Sprintf("Queued jobs (%d):", len(snap.Queued)))
		for _, j := range snap.Queued {
			lines = append(lines, fmt.Sprintf("  #%d: %s", j.ID, j.URL))
		}
		lines = append(lines, "")
	} else if snap.Current == nil {
		lines = append(lines, "Queue is empty", "")
	}

	if len(snap.RecentHistory) > 0 {
		lines = append(lines, fmt.Sprintf("Recent completions (last %d):", len(snap.RecentHistory)))
		for _, j := range snap.RecentHistory {
			icon := "✗"
			if j.Status == download.StatusCompleted {
				icon = "✓"
			}
			lines = append(lines, fmt.Sprintf("  %s #%d: %s", icon, j.ID, j.URL))
			if j.Error != "" {
				lines = append(lines, "     Error: "+j.Error)
			}
		}
	}

	return strings.Join(lines, "\n")
}

// CancelResult is the structured result of QueueCancel
type CancelResult struct {
	JobID     int64 `json:"job_id"`
	Cancelled bool  `json:"cancelled"`
}

// QueueCancel cancels a job that has not started
func (s *Service) QueueCancel(ctx context.Context, id int64) (Result, error) {
	if s.queue.Cancel(ctx, id) {
		return Result{
			Text: fmt.Sprintf("Job #%d has been cancelled", id),
			Data: CancelResult{JobID: id, Cancelled: true},
		}, nil
	}

	res := Result{
		Text: fmt.Sprintf("Job #%d not found in queue (may have already started or completed)", id),
		Data: CancelResult{JobID: id},
	}
	if job, ok := s.queue.Get(id); ok {
		return res, apperrors.Conflict(fmt.Sprintf("job #%d is %s and can no longer be cancelled", id, job.Status))
	}
	return res, apperrors.JobNotFound(id)
}

// ClearResult is the structured result of QueueClearHistory
type ClearResult struct {
	Removed int `json:"removed"`
}

// QueueClearHistory drops finished jobs
func (s *Service) QueueClearHistory(ctx context.Context) (Result, error) {
	n := s.queue.ClearHistory(ctx)
	return Result{Text: "Download history cleared", Data: ClearResult{Removed: n}}, nil
}

// VideoInfo looks up metadata without downloading
func (s *Service) VideoInfo(ctx context.Context, url string) (Result, error) {
	if s.cache != nil {
		if info, ok := s.cache.Get(ctx, url); ok {
			return Result{Text: info.Summary(), Data: info}, nil
		}
	}

	info, err := s.info.Info(ctx, url)
	if err != nil {
		return s.infoFailure(ctx, url, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, url, info); err != nil {
			s.log.Warn(ctx, "failed to cache video info", map[string]interface{}{"url": url, "error": err.Error()})
		}
	}
	return Result{Text: info.Summary(), Data: info}, nil
}

func (s *Service) infoFailure(ctx context.Context, url string, err error) (Result, error) {
	var dlErr *ytdlp.DownloadError
	switch {
	case errors.Is(err, ytdlp.ErrTimeout):
		return Result{Text: "Request timed out"}, apperrors.ExternalTimeout("yt-dlp")
	case errors.As(err, &dlErr) && dlErr.Exited():
		return Result{Text: "Failed to get video info:\n" + dlErr.Stderr},
			apperrors.ExternalToolError(dlErr.Message).WithCause(err)
	case errors.Is(err, ytdlp.ErrInvalidURL):
		return Result{Text: "Error: " + err.Error()}, apperrors.ValidationError(err.Error())
	case errors.Is(err, ytdlp.ErrYtdlpNotFound):
		return Result{Text: "Error: " + err.Error()}, apperrors.ExternalToolError(err.Error()).WithCause(err)
	default:
		s.log.Error(ctx, "video info lookup failed", err, map[string]interface{}{"url": url})
		return Result{Text: "Error: " + err.Error()}, apperrors.InternalError("video info lookup failed").WithCause(err)
	}
}

func externalError(tool string, err error) *apperrors.AppError {
	if command.IsTimeout(err) {
		return apperrors.ExternalTimeout(tool).WithCause(err)
	}
	return apperrors.ExternalToolError(err.Error()).WithCause(err)
}
