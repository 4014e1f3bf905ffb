package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
)

// Tool names
const (
	ToolListConfigs       = "list_wireguard_configs"
	ToolVPNStatus         = "wireguard_status"
	ToolStartVPN          = "start_wireguard"
	ToolStopVPN           = "stop_wireguard"
	ToolQueueDownload     = "queue_download"
	ToolQueueStatus       = "queue_status"
	ToolQueueCancel       = "queue_cancel"
	ToolQueueClearHistory = "queue_clear_history"
	ToolVideoInfo         = "get_video_info"
)

// Param describes one tool argument
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

// Tool describes a callable operation
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	call func(ctx context.Context, args json.RawMessage) (Result, error)
}

// InputSchema renders Params as the JSON Schema object MCP clients expect
func (t Tool) InputSchema() json.RawMessage {
	props := make(map[string]map[string]any, len(t.Params))
	required := []string{}
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}

// Registry dispatches tool calls by name. The HTTP tool routes and the MCP
// server both go through it.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewRegistry registers every tool operation of s
func NewRegistry(s *Service) *Registry {
	r := &Registry{byName: make(map[string]*Tool)}

	r.add(&Tool{
		Name:        ToolListConfigs,
		Description: "List all available WireGuard configurations grouped by country.",
		Params:      []Param{},
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return s.ListConfigs(ctx)
		},
	})
	r.add(&Tool{
		Name:        ToolVPNStatus,
		Description: "Check current WireGuard VPN status.",
		Params:      []Param{},
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return s.VPNStatus(ctx)
		},
	})
	r.add(&Tool{
		Name:        ToolStartVPN,
		Description: "Start a WireGuard VPN connection by config name, by country and city, or for a URL.",
		Params: []Param{
			{Name: "config_name", Type: "string", Description: "Specific config name, e.g. 'gb-lon-wg-001'"},
			{Name: "country", Type: "string", Description: "Country code, e.g. 'gb', 'us', 'ca'"},
			{Name: "city", Type: "string", Description: "Preferred city code, e.g. 'lon', 'nyc', 'tor'"},
			{Name: "url", Type: "string", Description: "Video URL to detect the country from"},
		},
		call: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args StartVPNArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			return s.StartVPN(ctx, args)
		},
	})
	r.add(&Tool{
		Name:        ToolStopVPN,
		Description: "Stop the currently active WireGuard VPN connection.",
		Params:      []Param{},
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return s.StopVPN(ctx)
		},
	})
	r.add(&Tool{
		Name:        ToolQueueDownload,
		Description: "Add a video download to the queue. Downloads are processed sequentially.",
		Params: []Param{
			{Name: "url", Type: "string", Required: true, Description: "Video URL to download"},
			{Name: "auto_vpn", Type: "boolean", Default: true, Description: "Automatically select and start VPN based on URL"},
			{Name: "preferred_city", Type: "string", Description: "Preferred VPN city, e.g. 'lon', 'nyc', 'tor'"},
			{Name: "output_dir", Type: "string", Description: "Download directory (default: ~/Downloads)"},
			{Name: "format_spec", Type: "string", Default: "best", Description: "yt-dlp format specification"},
		},
		call: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args QueueDownloadArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			return s.QueueDownload(ctx, args)
		},
	})
	r.add(&Tool{
		Name:        ToolQueueStatus,
		Description: "Check the status of the download queue.",
		Params:      []Param{},
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return s.QueueStatus(ctx)
		},
	})
	r.add(&Tool{
		Name:        ToolQueueCancel,
		Description: "Cancel a queued download job.",
		Params: []Param{
			{Name: "job_id", Type: "integer", Required: true, Description: "The job ID to cancel (from queue_status)"},
		},
		call: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args struct {
				JobID *int64 `json:"job_id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if args.JobID == nil {
				return Result{}, apperrors.ValidationError("job_id is required")
			}
			return s.QueueCancel(ctx, *args.JobID)
		},
	})
	r.add(&Tool{
		Name:        ToolQueueClearHistory,
		Description: "Clear the download history (keeps current/queued jobs).",
		Params:      []Param{},
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			return s.QueueClearHistory(ctx)
		},
	})
	r.add(&Tool{
		Name:        ToolVideoInfo,
		Description: "Get information about a video without downloading it.",
		Params: []Param{
			{Name: "url", Type: "string", Required: true, Description: "Video URL to inspect"},
		},
		call: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args struct {
				URL string `json:"url"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if args.URL == "" {
				return Result{}, apperrors.ValidationError("url is required")
			}
			return s.VideoInfo(ctx, args.URL)
		},
	})

	return r
}

func (r *Registry) add(t *Tool) {
	r.tools = append(r.tools, t)
	r.byName[t.Name] = t
}

// List returns the registered tools in registration order
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	return out
}

// Call runs the named tool with JSON-encoded arguments. A nil or empty
// argument document is treated as {}.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	t, ok := r.byName[name]
	if !ok {
		return Result{}, apperrors.ToolNotFound(name)
	}
	return t.call(ctx, args)
}

func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.BadRequest(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}
