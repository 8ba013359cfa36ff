package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/storage"
	"github.com/xaenox/opinion-topics/pkg/config"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(config.LogConfig{Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func inMemoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{UseInMemory: true, StorageTimeout: time.Second},
		Mirror:   config.MirrorConfig{UseInMemory: true},
		OpenAI:   config.OpenAIConfig{Timeout: time.Second},
		Analysis: config.AnalysisConfig{MaxBatchUnits: 1000, MaxBatchCount: 10, HistoryLimit: 5, SweepConcurrency: 2},
	}
}

func TestNew_InMemory(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), inMemoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storage.MemoryStorage{}, a.Store)
	require.NotNil(t, a.Analyzer)

	results, err := a.Sweep(context.Background(), analyzer.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNew_Badger(t *testing.T) {
	t.Parallel()

	cfg := inMemoryConfig()
	cfg.Mirror = config.MirrorConfig{Path: t.TempDir()}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestRunSweeps_StopsWithContext(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), inMemoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunSweeps(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeps did not return after cancel")
	}
}
