package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/api"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/cache"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/command"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/config"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/download"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/health"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/mcpserver"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/metrics"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/middleware"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/tools"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/websocket"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/wireguard"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/ytdlp"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the protocol in stdio mode
	logOut := os.Stdout
	if cfg.MCPStdio {
		logOut = os.Stderr
	}
	logger.SetDefault(logger.New(&logger.Config{
		Output: logOut,
		Level:  logger.ParseLevel(cfg.LogLevel),
	}))
	log := logger.Default().WithComponent("server")

	runner := command.NewExecRunner()
	resolver := location.NewResolver(cfg.WireGuardDir)
	vpn := wireguard.New(&wireguard.Config{
		WGPath:      cfg.WGPath,
		WGQuickPath: cfg.WGQuickPath,
		UseSudo:     cfg.VPNUseSudo,
		Timeout:     cfg.VPNTimeout,
	}, runner)
	fetcher := ytdlp.New(&ytdlp.Config{
		YtdlpPath:       cfg.YtdlpPath,
		DownloadDir:     cfg.DownloadDir,
		DownloadTimeout: cfg.DownloadTimeout,
		InfoTimeout:     cfg.InfoTimeout,
		DefaultFormat:   cfg.DefaultFormat,
	}, runner)
	if !fetcher.Available() {
		log.Warn(ctx, "yt-dlp not found in PATH; downloads will fail", map[string]interface{}{"binary": fetcher.Binary()})
	}

	m := metrics.Default()
	hub := websocket.NewHub(m)
	notifiers := []download.Notifier{download.MetricsNotifier(m), hub}

	m.SetGauge("wireguard_configs", float64(len(resolver.ListConfigs())))

	var (
		redisClient *redis.Client
		publisher   *download.RedisPublisher
		infoCache   *cache.InfoStore[ytdlp.VideoInfo]
	)
	if cfg.RedisURL != "" {
		c, err := cache.New(cfg.RedisURL)
		if err != nil {
			log.Warn(ctx, "redis unavailable; events and info cache disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer c.Close()
			redisClient = c.Client()
			publisher = download.NewRedisPublisher(redisClient, cfg.EventsChannel)
			notifiers = append(notifiers, publisher)
			infoCache = cache.NewInfoStore[ytdlp.VideoInfo](c, cfg.InfoCacheTTL)
		}
	}

	queue := download.NewQueue(&download.Config{
		HistoryWindow: cfg.HistoryWindow,
		IdleInterval:  cfg.WorkerIdleInterval,
	}, download.NewProcessor(vpn, resolver, fetcher), notifiers...)

	svc := tools.NewService(queue, vpn, resolver, fetcher)
	if infoCache != nil {
		svc.SetInfoCache(infoCache)
	}

	checker := health.NewChecker(&health.CheckerConfig{
		FetcherBinary: cfg.YtdlpPath,
		VPNBinaries:   vpn.Binaries(),
		ConfigDir:     resolver.Dir(),
		Redis:         redisClient,
		Version:       version,
	})

	registry := tools.NewRegistry(svc)
	mcpSrv := mcpserver.New(registry, version)

	router := api.NewRouter(api.Deps{
		Service:  svc,
		Registry: registry,
		Queue:    queue,
		Health:   health.NewHandler(checker),
		Metrics:  m.Handler(),
		WS:       http.HandlerFunc(websocket.NewHandler(hub, cfg.AllowedOrigins).ServeWS),
		MCP:      mcpserver.HTTPHandler(mcpSrv),
	})

	handler := middleware.Chain(router,
		middleware.RequestID,
		middleware.Recoverer(log),
		middleware.Logging(log),
		middleware.Timing(log),
		middleware.CORS(cfg.AllowedOrigins),
		metrics.MetricsMiddleware(m),
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(runCtx)

	// The publisher outlives runCtx so events from the shutdown are flushed
	pubCtx, stopPublisher := context.WithCancel(ctx)
	defer stopPublisher()
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		if publisher != nil {
			publisher.Run(pubCtx)
		}
	}()

	queue.Worker().Start()

	var runErr error
	var srv *http.Server
	if cfg.MCPStdio {
		log.Info(ctx, "serving MCP on stdio", map[string]interface{}{
			"wireguard_dir": resolver.Dir(),
			"redis":         redisClient != nil,
		})
		if err := mcpserver.ServeStdio(runCtx, mcpSrv, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	} else {
		srv = &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			log.Info(ctx, "server starting", map[string]interface{}{
				"addr":          cfg.ServerAddr,
				"wireguard_dir": resolver.Dir(),
				"redis":         redisClient != nil,
			})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case <-runCtx.Done():
			log.Info(ctx, "shutting down")
		case runErr = <-serveErr:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "http shutdown", err)
		}
	}
	// Stopping the worker aborts the running fetch; the processor still
	// tears down any tunnel it brought up for that job.
	if err := queue.Worker().Stop(shutdownCtx); err != nil {
		log.Error(ctx, "worker did not stop in time", err)
		runErr = errors.Join(runErr, err)
	}

	stopPublisher()
	select {
	case <-pubDone:
	case <-shutdownCtx.Done():
		log.Warn(ctx, "job events not flushed before shutdown deadline")
	}
	return runErr
}
