// Command events follows the job events a running server publishes to Redis
// and prints them to stdout, one JSON object per line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/cache"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/config"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/download"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Error(context.Background(), "events exited", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required to follow job events")
	}

	// Logs go to stderr so stdout stays a clean event stream
	logger.SetDefault(logger.New(&logger.Config{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.LogLevel),
	}))
	log := logger.Default().WithComponent("events")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := cache.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer c.Close()

	pub := download.NewRedisPublisher(c.Client(), cfg.EventsChannel)
	sub, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Info(ctx, "following job events", map[string]interface{}{"channel": pub.Channel()})

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	enc := json.NewEncoder(os.Stdout)
	for e := range sub.Channel() {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
