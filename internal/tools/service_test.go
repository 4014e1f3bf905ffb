package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/download"
	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/wireguard"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/ytdlp"
)

type fakeVPN struct {
	mu     sync.Mutex
	active string
	upErr  error
	ups    []string
}

func (v *fakeVPN) ActiveInterface(ctx context.Context) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *fakeVPN) BringUp(ctx context.Context, cfg location.Config) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ups = append(v.ups, cfg.Name)
	if v.upErr != nil {
		return "", v.upErr
	}
	v.active = cfg.Name
	return fmt.Sprintf("WireGuard interface %s is now up", cfg.Name), nil
}

func (v *fakeVPN) BringDown(ctx context.Context, iface string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = ""
	return fmt.Sprintf("WireGuard interface %s is now down", iface), nil
}

type fakeInfo struct {
	calls int
	info  *ytdlp.VideoInfo
	err   error
}

func (f *fakeInfo) Info(ctx context.Context, url string) (*ytdlp.VideoInfo, error) {
	f.calls++
	return f.info, f.err
}

type memoryCache struct {
	entries map[string]*ytdlp.VideoInfo
}

func (c *memoryCache) Get(ctx context.Context, url string) (*ytdlp.VideoInfo, bool) {
	v, ok := c.entries[url]
	return v, ok
}

func (c *memoryCache) Set(ctx context.Context, url string, info *ytdlp.VideoInfo) error {
	c.entries[url] = info
	return nil
}

// idleProcessor keeps submitted jobs in the backlog long enough to inspect
type idleProcessor struct {
	release chan struct{}
}

func (p *idleProcessor) Process(ctx context.Context, job download.Job) download.Outcome {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return download.Outcome{Result: "done"}
}

func newConfigDir(t *testing.T, names ...string) *location.Resolver {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n+".conf"), []byte("[Interface]\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return location.NewResolver(dir)
}

type fixture struct {
	svc   *Service
	vpn   *fakeVPN
	queue *download.Queue
	info  *fakeInfo
	proc  *idleProcessor
}

func newFixture(t *testing.T, configs ...string) *fixture {
	t.Helper()
	proc := &idleProcessor{release: make(chan struct{})}
	q := download.NewQueue(&download.Config{HistoryWindow: 10, IdleInterval: 10 * time.Millisecond}, proc)
	t.Cleanup(func() {
		close(proc.release)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Worker().Stop(ctx)
	})

	f := &fixture{
		vpn:   &fakeVPN{},
		queue: q,
		info:  &fakeInfo{},
		proc:  proc,
	}
	f.svc = NewService(q, f.vpn, newConfigDir(t, configs...), f.info)
	return f
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError %s, got %v", code, err)
	}
	if appErr.Code != code {
		t.Errorf("expected code %s, got %s", code, appErr.Code)
	}
}

func TestListConfigs(t *testing.T) {
	f := newFixture(t, "us-nyc-001", "gb-lon-001", "gb-man-002", "custom")
	f.vpn.active = "gb-man-002"

	res, err := f.svc.ListConfigs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"Available WireGuard configurations by country:",
		"\nGB:",
		"  - gb-lon-001 [lon]",
		"  - gb-man-002 (ACTIVE) [man]",
		"\nUS:",
		"  - us-nyc-001 [nyc]",
	}, "\n")
	if res.Text != want {
		t.Errorf("Text =\n%s\nwant\n%s", res.Text, want)
	}

	listing := res.Data.(ConfigListing)
	if len(listing.Countries) != 2 || listing.Countries[0].Country != "gb" {
		t.Errorf("unexpected listing %+v", listing)
	}
	if !listing.Countries[0].Configs[1].Active {
		t.Error("gb-man-002 should be marked active")
	}
}

func TestListConfigs_WithProfile(t *testing.T) {
	f := newFixture(t)
	dir := f.svc.configs.Dir()
	body := "[Interface]\nPrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=\n[Peer]\nEndpoint = 1.2.3.4:51820\n"
	if err := os.WriteFile(filepath.Join(dir, "gb-lon-001.conf"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	res, _ := f.svc.ListConfigs(context.Background())

	p := res.Data.(ConfigListing).Countries[0].Configs[0].Profile
	if p == nil || p.Endpoint != "1.2.3.4:51820" || p.PublicKey == "" {
		t.Errorf("expected profile details, got %+v", p)
	}
}

func TestListConfigs_Empty(t *testing.T) {
	f := newFixture(t)

	res, _ := f.svc.ListConfigs(context.Background())

	want := "No WireGuard configs found in " + f.svc.configs.Dir()
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestVPNStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.VPNStatus(ctx)
	if res.Text != "No WireGuard interface is currently active" {
		t.Errorf("unexpected text %q", res.Text)
	}

	f.vpn.active = "gb-lon-001"
	res, _ = f.svc.VPNStatus(ctx)
	if res.Text != "WireGuard interface 'gb-lon-001' is currently active" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if !res.Data.(VPNState).Connected {
		t.Error("expected connected state")
	}
}

func TestStartVPN(t *testing.T) {
	tests := []struct {
		name   string
		active string
		upErr  error
		args   StartVPNArgs
		text   string
		code   string
		up     string
	}{
		{
			name:   "already active",
			active: "us-nyc-001",
			args:   StartVPNArgs{Country: "gb"},
			text:   "WireGuard interface 'us-nyc-001' is already active. Stop it first.",
			code:   apperrors.CodeVPNActive,
		},
		{
			name: "by name",
			args: StartVPNArgs{ConfigName: "gb-man-002"},
			text: "WireGuard interface gb-man-002 is now up",
			up:   "gb-man-002",
		},
		{
			name: "unknown name",
			args: StartVPNArgs{ConfigName: "fr-par-001"},
			text: "Config 'fr-par-001' not found",
			code: apperrors.CodeConfigNotFound,
		},
		{
			name: "by country and city",
			args: StartVPNArgs{Country: "GB", City: "man"},
			text: "WireGuard interface gb-man-002 is now up",
			up:   "gb-man-002",
		},
		{
			name: "by url",
			args: StartVPNArgs{URL: "https://www.bbc.co.uk/iplayer/x"},
			text: "WireGuard interface gb-lon-001 is now up",
			up:   "gb-lon-001",
		},
		{
			name: "no country config",
			args: StartVPNArgs{Country: "de"},
			text: "No suitable WireGuard config found for country 'de'",
			code: apperrors.CodeNotFound,
		},
		{
			name: "no country at all",
			args: StartVPNArgs{},
			text: "No suitable WireGuard config found",
			code: apperrors.CodeNotFound,
		},
		{
			name:  "bring-up fails",
			upErr: &wireguard.OpError{Op: "start", Interface: "gb-lon-001", Stderr: "permission denied"},
			args:  StartVPNArgs{Country: "gb"},
			text:  "Failed to start gb-lon-001: permission denied",
			code:  apperrors.CodeExternalToolError,
		},
		{
			name:  "bring-up times out",
			upErr: &wireguard.OpError{Op: "start", Interface: "gb-lon-001", Err: command.ErrTimeout},
			args:  StartVPNArgs{Country: "gb"},
			text:  "Timeout starting gb-lon-001",
			code:  apperrors.CodeExternalTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "gb-lon-001", "gb-man-002", "us-nyc-001")
			f.vpn.active = tt.active
			f.vpn.upErr = tt.upErr

			res, err := f.svc.StartVPN(context.Background(), tt.args)

			if res.Text != tt.text {
				t.Errorf("Text = %q, want %q", res.Text, tt.text)
			}
			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
			} else {
				wantCode(t, err, tt.code)
			}
			if tt.up != "" && strings.Join(f.vpn.ups, ",") != tt.up {
				t.Errorf("expected bring-up of %s, got %v", tt.up, f.vpn.ups)
			}
			if tt.active != "" && len(f.vpn.ups) != 0 {
				t.Error("must not bring up a second interface")
			}
		})
	}
}

func TestStopVPN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.StopVPN(ctx)
	if res.Text != "No WireGuard interface is currently active" {
		t.Errorf("unexpected text %q", res.Text)
	}
	wantCode(t, err, apperrors.CodeVPNInactive)

	f.vpn.active = "gb-lon-001"
	res, err = f.svc.StopVPN(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "WireGuard interface gb-lon-001 is now down" {
		t.Errorf("unexpected text %q", res.Text)
	}
}

func TestQueueDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://www.bbc.co.uk/iplayer/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Added to queue: Job #1 (detected: gb)\nURL: https://www.bbc.co.uk/iplayer/x\nUse 'queue_status()' to monitor progress"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	job := res.Data.(download.Job)
	if !job.AutoVPN || job.FormatSpec != "best" {
		t.Errorf("defaults not applied: %+v", job)
	}

	off := false
	res, _ = f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://www.bbc.co.uk/y", AutoVPN: &off})
	want = "Added to queue: Job #2\nURL: https://www.bbc.co.uk/y\nUse 'queue_status()' to monitor progress"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}

	res, _ = f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://youtu.be/abc"})
	if !strings.HasPrefix(res.Text, "Added to queue: Job #3\n") {
		t.Errorf("generic platforms have no detected country: %q", res.Text)
	}
}

func TestQueueDownload_BlankURL(t *testing.T) {
	f := newFixture(t)

	for _, url := range []string{"", "   ", "\t\n"} {
		_, err := f.svc.QueueDownload(context.Background(), QueueDownloadArgs{URL: url})
		wantCode(t, err, apperrors.CodeValidationError)
	}
	snap := f.queue.Status()
	if snap.Current != nil || len(snap.Queued) != 0 {
		t.Error("blank submissions must not be queued")
	}
}

func TestQueueDownload_AcceptsNonStandardInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		url     string
		country string
	}{
		{"youtube.com/watch?v=dQw4w9WgXcQ", ""},
		{"ytsearch1:big buck bunny", ""},
		{"www.bbc.co.uk/iplayer/episode/abc", "gb"},
	}

	for _, tt := range tests {
		res, err := f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: tt.url})
		if err != nil {
			t.Fatalf("QueueDownload(%q) rejected: %v", tt.url, err)
		}
		job := res.Data.(download.Job)
		if job.URL != tt.url {
			t.Errorf("job url = %q, want %q", job.URL, tt.url)
		}
		if job.DetectedCountry != tt.country {
			t.Errorf("QueueDownload(%q) detected %q, want %q", tt.url, job.DetectedCountry, tt.country)
		}
	}
}

func TestQueueCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Job 1 is taken by the worker; job 2 waits behind it
	f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://example.com/1"})
	f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://example.com/2"})
	deadline := time.Now().Add(2 * time.Second)
	for f.queue.Status().Current == nil {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up job 1")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := f.svc.QueueCancel(ctx, 2)
	if err != nil || res.Text != "Job #2 has been cancelled" {
		t.Errorf("cancel queued job: %q, %v", res.Text, err)
	}

	res, err = f.svc.QueueCancel(ctx, 1)
	if res.Text != "Job #1 not found in queue (may have already started or completed)" {
		t.Errorf("unexpected text %q", res.Text)
	}
	wantCode(t, err, apperrors.CodeConflict)

	_, err = f.svc.QueueCancel(ctx, 99)
	wantCode(t, err, apperrors.CodeJobNotFound)
}

func TestQueueClearHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://example.com/1"})
	f.svc.QueueDownload(ctx, QueueDownloadArgs{URL: "https://example.com/2"})
	f.svc.QueueCancel(ctx, 2)

	res, _ := f.svc.QueueClearHistory(ctx)
	if res.Text != "Download history cleared" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Data.(ClearResult).Removed != 1 {
		t.Errorf("expected 1 removed, got %+v", res.Data)
	}
}

func TestRenderStatus(t *testing.T) {
	started := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		snap download.Snapshot
		want string
	}{
		{
			name: "empty",
			snap: download.Snapshot{},
			want: "Queue is empty\n",
		},
		{
			name: "full",
			snap: download.Snapshot{
				Current: &download.Job{ID: 3, URL: "https://example.com/3", StartedAt: &started},
				Queued: []download.Job{
					{ID: 4, URL: "https://example.com/4"},
					{ID: 5, URL: "https://example.com/5"},
				},
				RecentHistory: []download.Job{
					{ID: 1, URL: "https://example.com/1", Status: download.StatusCompleted},
					{ID: 2, URL: "https://example.com/2", Status: download.StatusFailed, Error: "Cancelled by user"},
				},
			},
			want: strings.Join([]string{
				"Currently downloading: Job #3",
				"  URL: https://example.com/3",
				"  Started: 2026-10-14T09:30:00Z",
				"",
				"Queued jobs (2):",
				"  #4: https://example.com/4",
				"  #5: https://example.com/5",
				"",
				"Recent completions (last 2):",
				"  ✓ #1: https://example.com/1",
				"  ✗ #2: https://example.com/2",
				"     Error: Cancelled by user",
			}, "\n"),
		},
		{
			name: "in flight only",
			snap: download.Snapshot{
				Current: &download.Job{ID: 1, URL: "https://example.com/1", StartedAt: &started},
			},
			want: "Currently downloading: Job #1\n  URL: https://example.com/1\n  Started: 2026-10-14T09:30:00Z\n",
		},
		{
			name: "history only",
			snap: download.Snapshot{
				RecentHistory: []download.Job{{ID: 1, URL: "u", Status: download.StatusCompleted}},
			},
			want: "Queue is empty\n\nRecent completions (last 1):\n  ✓ #1: u",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderStatus(tt.snap); got != tt.want {
				t.Errorf("RenderStatus =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestVideoInfo(t *testing.T) {
	views := int64(42)
	info := &ytdlp.VideoInfo{Title: "Clip", Uploader: "Chan", Duration: 61, ViewCount: &views}

	f := newFixture(t)
	f.info.info = info

	res, err := f.svc.VideoInfo(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != info.Summary() {
		t.Errorf("Text = %q, want summary %q", res.Text, info.Summary())
	}
}

func TestVideoInfo_Cached(t *testing.T) {
	f := newFixture(t)
	f.info.info = &ytdlp.VideoInfo{Title: "Clip"}
	f.svc.SetInfoCache(&memoryCache{entries: map[string]*ytdlp.VideoInfo{}})
	ctx := context.Background()

	f.svc.VideoInfo(ctx, "https://example.com/v")
	res, _ := f.svc.VideoInfo(ctx, "https://example.com/v")

	if f.info.calls != 1 {
		t.Errorf("expected one lookup, got %d", f.info.calls)
	}
	if !strings.HasPrefix(res.Text, "Title: Clip") {
		t.Errorf("unexpected cached text %q", res.Text)
	}
}

func TestVideoInfo_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		text string
		code string
	}{
		{
			name: "non-zero exit",
			err:  &ytdlp.DownloadError{Message: "url not supported", Stderr: "ERROR: Unsupported URL", ExitCode: 1, Err: ytdlp.ErrURLNotSupported},
			text: "Failed to get video info:\nERROR: Unsupported URL",
			code: apperrors.CodeExternalToolError,
		},
		{
			name: "timeout",
			err:  &ytdlp.DownloadError{Message: "yt-dlp timed out", Err: ytdlp.ErrTimeout},
			text: "Request timed out",
			code: apperrors.CodeExternalTimeout,
		},
		{
			name: "blank url",
			err:  &ytdlp.DownloadError{Message: "url is required", Err: ytdlp.ErrInvalidURL},
			text: "Error: url is required: invalid url format",
			code: apperrors.CodeValidationError,
		},
		{
			name: "bad json",
			err:  &ytdlp.DownloadError{Message: "failed to parse metadata", Err: errors.New("unexpected end of JSON input")},
			text: "Error: failed to parse metadata: unexpected end of JSON input",
			code: apperrors.CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.info.err = tt.err

			res, err := f.svc.VideoInfo(context.Background(), "https://example.com/v")

			if res.Text != tt.text {
				t.Errorf("Text = %q, want %q", res.Text, tt.text)
			}
			wantCode(t, err, tt.code)
		})
	}
}
