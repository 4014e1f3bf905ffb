package api

import (
	"net/http"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/health"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/tools"
)

// Deps holds the collaborators the router dispatches to
type Deps struct {
	Service  *tools.Service
	Registry *tools.Registry
	Queue    tools.JobQueue
	Health   *health.Handler
	Metrics  http.Handler
	WS       http.Handler
	// MCP serves the tool registry over streamable HTTP
	MCP http.Handler
}

type Router struct {
	mux     *http.ServeMux
	tools   *ToolHandlers
	rest    *Handlers
	health  *health.Handler
	metrics http.Handler
	ws      http.Handler
	mcp     http.Handler
}

func NewRouter(d Deps) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		tools:   NewToolHandlers(d.Registry),
		rest:    NewHandlers(d.Service, d.Queue),
		health:  d.Health,
		metrics: d.Metrics,
		ws:      d.WS,
		mcp:     d.MCP,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health checks
	if r.health != nil {
		r.mux.HandleFunc("GET /health", r.health.HealthHandler)
		r.mux.HandleFunc("GET /health/live", r.health.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", r.health.ReadinessHandler)
	}
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics)
	}

	// Tool surface
	r.mux.HandleFunc("GET /api/v1/tools", apperrors.HandleFunc(r.tools.List))
	r.mux.HandleFunc("POST /api/v1/tools/{name}", apperrors.HandleFunc(r.tools.Call))
	if r.mcp != nil {
		r.mux.Handle("/mcp", r.mcp)
	}

	// Queue
	r.mux.HandleFunc("GET /api/v1/queue", apperrors.HandleFunc(r.rest.QueueStatus))
	r.mux.HandleFunc("POST /api/v1/jobs", apperrors.HandleFunc(r.rest.CreateJob))
	r.mux.HandleFunc("GET /api/v1/jobs/{id}", apperrors.HandleFunc(r.rest.GetJob))
	r.mux.HandleFunc("DELETE /api/v1/jobs/{id}", apperrors.HandleFunc(r.rest.CancelJob))
	r.mux.HandleFunc("DELETE /api/v1/history", apperrors.HandleFunc(r.rest.ClearHistory))

	// VPN and metadata
	r.mux.HandleFunc("GET /api/v1/vpn", apperrors.HandleFunc(r.rest.VPNStatus))
	r.mux.HandleFunc("GET /api/v1/vpn/configs", apperrors.HandleFunc(r.rest.ListConfigs))
	r.mux.HandleFunc("POST /api/v1/vpn/start", apperrors.HandleFunc(r.rest.StartVPN))
	r.mux.HandleFunc("POST /api/v1/vpn/stop", apperrors.HandleFunc(r.rest.StopVPN))
	r.mux.HandleFunc("GET /api/v1/info", apperrors.HandleFunc(r.rest.VideoInfo))

	// Live job events
	if r.ws != nil {
		r.mux.Handle("GET /ws", r.ws)
	}
}
