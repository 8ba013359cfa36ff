package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/app"
	"github.com/xaenox/opinion-topics/internal/bot"
	"github.com/xaenox/opinion-topics/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	go a.RunSweeps(ctx, cfg.Analysis.SweepInterval)

	if cfg.Telegram.Token == "" {
		logger.Info("No telegram token configured, running sweeps only")
		<-ctx.Done()
		return
	}

	b, err := bot.New(cfg.Telegram.Token, a.Analyzer, a.Store, cfg.Telegram.AdminIDs, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
