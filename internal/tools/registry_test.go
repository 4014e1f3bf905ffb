package tools

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
)

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(newFixture(t).svc)

	want := []string{
		ToolListConfigs, ToolVPNStatus, ToolStartVPN, ToolStopVPN, ToolQueueDownload,
		ToolQueueStatus, ToolQueueCancel, ToolQueueClearHistory, ToolVideoInfo,
	}
	tools := r.List()
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i, tool := range tools {
		if tool.Name != want[i] {
			t.Errorf("tool %d = %s, want %s", i, tool.Name, want[i])
		}
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
}

func TestTool_InputSchema(t *testing.T) {
	r := NewRegistry(newFixture(t).svc)

	byName := make(map[string]Tool)
	for _, tool := range r.List() {
		byName[tool.Name] = tool
	}

	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(byName[ToolQueueDownload].InputSchema(), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "url" {
		t.Errorf("required = %v, want [url]", schema.Required)
	}
	if schema.Properties["auto_vpn"]["type"] != "boolean" || schema.Properties["auto_vpn"]["default"] != true {
		t.Errorf("auto_vpn = %v", schema.Properties["auto_vpn"])
	}

	empty := string(byName[ToolQueueStatus].InputSchema())
	if empty != `{"properties":{},"type":"object"}` {
		t.Errorf("no-arg schema = %s", empty)
	}
}

func TestRegistry_Call(t *testing.T) {
	f := newFixture(t, "gb-lon-001")
	r := NewRegistry(f.svc)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args string
		text string
	}{
		{"no args", ToolQueueStatus, "", "Queue is empty\n"},
		{"null args", ToolVPNStatus, "null", "No WireGuard interface is currently active"},
		{"queue", ToolQueueDownload, `{"url":"https://www.itv.com/x","auto_vpn":false}`,
			"Added to queue: Job #1\nURL: https://www.itv.com/x\nUse 'queue_status()' to monitor progress"},
		{"start", ToolStartVPN, `{"country":"gb"}`, "WireGuard interface gb-lon-001 is now up"},
		{"clear", ToolQueueClearHistory, `{}`, "Download history cleared"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Call(ctx, tt.tool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Text != tt.text {
				t.Errorf("Text = %q, want %q", res.Text, tt.text)
			}
		})
	}
}

func TestRegistry_CallErrors(t *testing.T) {
	r := NewRegistry(newFixture(t).svc)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args string
		code string
	}{
		{"unknown tool", "format_disk", "{}", apperrors.CodeToolNotFound},
		{"malformed json", ToolQueueDownload, `{"url":`, apperrors.CodeInvalidRequest},
		{"unknown field", ToolQueueDownload, `{"link":"https://example.com"}`, apperrors.CodeInvalidRequest},
		{"missing job id", ToolQueueCancel, `{}`, apperrors.CodeValidationError},
		{"missing url", ToolVideoInfo, `{}`, apperrors.CodeValidationError},
		{"wrong type", ToolQueueCancel, `{"job_id":"one"}`, apperrors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call(ctx, tt.tool, json.RawMessage(tt.args))
			wantCode(t, err, tt.code)
		})
	}
}
