// Package app wires configuration into a ready analyzer service.
package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/batch"
	"github.com/xaenox/opinion-topics/internal/classifier"
	"github.com/xaenox/opinion-topics/internal/mirror"
	"github.com/xaenox/opinion-topics/internal/persist"
	"github.com/xaenox/opinion-topics/internal/storage"
	"github.com/xaenox/opinion-topics/pkg/config"
)

type App struct {
	Store    storage.Storage
	Mirror   mirror.Mirror
	Analyzer *analyzer.Service
	logger   *zap.Logger
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// New opens both stores and assembles the analyzer. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
		pg, err := storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = pg
	}

	var m mirror.Mirror
	if cfg.Mirror.UseInMemory {
		logger.Info("Using in-memory mirror")
		m = mirror.NewMemoryMirror()
	} else {
		logger.Info("Using badger mirror", zap.String("path", cfg.Mirror.Path))
		bm, err := mirror.OpenBadger(cfg.Mirror.Path, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		m = bm
	}

	completer := classifier.NewOpenAICompleter(classifier.OpenAIOptions{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Temperature:       cfg.OpenAI.Temperature,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
		Burst:             cfg.OpenAI.Burst,
	}, logger)

	coord := persist.New(store, m, persist.Options{
		HistoryLimit:   cfg.Analysis.HistoryLimit,
		StorageTimeout: cfg.Database.StorageTimeout,
	}, logger)

	svc := analyzer.NewService(store, m,
		classifier.NewProtocol(completer, cfg.OpenAI.Timeout, logger),
		coord,
		analyzer.Config{
			Budget: batch.Budget{
				MaxSizeUnits: cfg.Analysis.MaxBatchUnits,
				MaxCount:     cfg.Analysis.MaxBatchCount,
			},
			Concurrency: cfg.Analysis.SweepConcurrency,
		},
		logger)

	return &App{Store: store, Mirror: m, Analyzer: svc, logger: logger}, nil
}

// Sweep analyzes every project and then re-publishes whatever the mirror
// store is missing.
func (a *App) Sweep(ctx context.Context, opts analyzer.Options) ([]*analyzer.RunResult, error) {
	results, err := a.Analyzer.RunAll(ctx, opts)
	if err != nil {
		return results, err
	}

	processed, failed := 0, 0
	for _, r := range results {
		processed += r.Processed
		if r.Failed() && !errors.Is(r.Err, analyzer.ErrNoOpinions) {
			failed++
		}
	}

	pushed, err := a.Analyzer.Reconcile(ctx)
	if err != nil {
		a.logger.Warn("Reconciliation incomplete", zap.Error(err))
	}
	a.logger.Info("Sweep finished",
		zap.Int("projects", len(results)),
		zap.Int("failed", failed),
		zap.Int("processed", processed),
		zap.Int("reconciled", pushed))
	return results, nil
}

// RunSweeps sweeps every interval until ctx is done.
func (a *App) RunSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx, analyzer.Options{Reason: "scheduled sweep"}); err != nil {
				a.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

func (a *App) Close() error {
	return errors.Join(a.Mirror.Close(), a.Store.Close())
}
