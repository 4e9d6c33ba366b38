package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/m3rciful/charmbot/bot"
	"github.com/m3rciful/charmbot/core/buildinfo"
	coreconfig "github.com/m3rciful/charmbot/core/config"
	"github.com/m3rciful/charmbot/core/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("charmbot: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.L.With("component", "app").Info("starting",
		slog.String("event", "boot"),
		slog.String("mode", cfg.Telegram.RunMode),
		slog.String("payload", buildinfo.Version+"/"+buildinfo.Commit),
	)

	app, err := bot.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
