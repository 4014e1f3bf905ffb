package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/ytdlp"
)

// VPNController is the subset of the WireGuard controller the processor uses
type VPNController interface {
	ActiveInterface(ctx context.Context) string
	BringUp(ctx context.Context, cfg location.Config) (string, error)
	BringDown(ctx context.Context, iface string) (string, error)
}

// ConfigSelector picks a WireGuard config for a country
type ConfigSelector interface {
	SelectBestConfig(country, preferredCity string) (location.Config, bool)
}

// Fetcher downloads a URL
type Fetcher interface {
	Download(ctx context.Context, req ytdlp.DownloadRequest) (*ytdlp.DownloadResult, error)
	DownloadTimeout() time.Duration
}

// VPNProcessor routes each download through a region-appropriate tunnel
// when the job asks for it, and tears down any tunnel it started itself.
type VPNProcessor struct {
	vpn     VPNController
	configs ConfigSelector
	fetcher Fetcher
	log     *logger.Logger
}

// NewProcessor creates a processor from its collaborators
func NewProcessor(vpn VPNController, configs ConfigSelector, fetcher Fetcher) *VPNProcessor {
	return &VPNProcessor{
		vpn:     vpn,
		configs: configs,
		fetcher: fetcher,
		log:     logger.Default().WithComponent("processor"),
	}
}

// Process runs one job. The returned outcome always carries the VPN status
// line followed by the fetch result, and the deferred teardown runs on every
// path, panics included.
func (p *VPNProcessor) Process(ctx context.Context, job Job) (out Outcome) {
	var (
		line        string
		selfStarted bool
		original    = p.vpn.ActiveInterface(ctx)
	)

	defer func() {
		if r := recover(); r != nil {
			p.log.Error(ctx, "job processing panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"job_id": job.ID,
			})
			out = Outcome{
				Error:     fmt.Sprintf("%s\n\nError: %v", line, r),
				Code:      CodeInternal,
				VPNConfig: out.VPNConfig,
			}
		}
		if selfStarted && original == "" {
			p.teardown(ctx, job.ID)
		}
	}()

	if job.AutoVPN && original == "" {
		country := job.DetectedCountry
		if country == "" {
			country = location.DetectCountry(job.URL)
		}

		if country == "" {
			line = "No VPN needed for this URL (generic/YouTube)"
		} else if cfg, found := p.configs.SelectBestConfig(country, job.PreferredCity); !found {
			line = fmt.Sprintf("No VPN config found for %s, proceeding without VPN", country)
		} else if _, err := p.vpn.BringUp(ctx, cfg); err != nil {
			line = fmt.Sprintf("VPN start failed: %s", err.Error())
		} else {
			selfStarted = true
			out.VPNConfig = cfg.Name
			line = fmt.Sprintf("Started VPN: %s (detected country: %s)", cfg.Name, country)
		}
	} else if original != "" {
		line = fmt.Sprintf("Using existing VPN: %s", original)
	} else {
		line = "Proceeding without VPN"
	}

	p.log.Info(ctx, "vpn decision", map[string]interface{}{
		"job_id": job.ID,
		"status": line,
	})

	res, err := p.fetcher.Download(ctx, ytdlp.DownloadRequest{
		URL:       job.URL,
		Format:    job.FormatSpec,
		OutputDir: job.OutputDir,
	})

	var dlErr *ytdlp.DownloadError
	switch {
	case err == nil:
		out.Result = fmt.Sprintf("%s\n\nDownload successful!\n%s", line, res.Stdout)
	case errors.Is(err, ytdlp.ErrTimeout):
		out.Error = fmt.Sprintf("%s\n\nDownload timed out after %s", line, humanDuration(p.fetcher.DownloadTimeout()))
		out.Code = CodeTimeout
	case errors.As(err, &dlErr) && dlErr.Exited():
		out.Error = fmt.Sprintf("%s\n\nDownload failed:\n%s", line, dlErr.Stderr)
		out.Code = errorCode(err)
	default:
		out.Error = fmt.Sprintf("%s\n\nError: %s", line, err.Error())
		out.Code = errorCode(err)
	}

	return out
}

// teardown brings down whatever interface is active now. It runs detached
// from ctx so a worker shutdown cannot leave a tunnel behind.
func (p *VPNProcessor) teardown(ctx context.Context, jobID int64) {
	ctx = context.WithoutCancel(ctx)

	active := p.vpn.ActiveInterface(ctx)
	if active == "" {
		return
	}
	if _, err := p.vpn.BringDown(ctx, active); err != nil {
		p.log.Warn(ctx, "vpn teardown failed", map[string]interface{}{
			"job_id":    jobID,
			"interface": active,
			"error":     err.Error(),
		})
		return
	}
	p.log.Info(ctx, "vpn torn down", map[string]interface{}{
		"job_id":    jobID,
		"interface": active,
	})
}

// errorCode maps fetch errors to job error codes
func errorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, ytdlp.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ytdlp.ErrVideoUnavailable):
		return CodeVideoUnavailable
	case errors.Is(err, ytdlp.ErrVideoPrivate):
		return CodeVideoPrivate
	case errors.Is(err, ytdlp.ErrAgeRestricted):
		return CodeAgeRestricted
	case errors.Is(err, ytdlp.ErrNetworkError):
		return CodeNetworkError
	case errors.Is(err, ytdlp.ErrURLNotSupported), errors.Is(err, ytdlp.ErrInvalidURL):
		return CodeURLNotSupported
	case errors.Is(err, ytdlp.ErrDownloadFailed):
		return CodeDownloadFailed
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// humanDuration renders whole minutes as "N minutes" and anything else in
// Go duration notation.
func humanDuration(d time.Duration) string {
	if d <= 0 || d%time.Minute != 0 {
		return d.String()
	}
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
