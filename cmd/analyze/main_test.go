package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/app"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/pkg/config"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags(newFlagSet(), []string{"-project", "a", "-project", "b", "-force", "-reason", "release", "-user", "ops"})
	require.NoError(t, err)
	assert.Equal(t, projectList{"a", "b"}, opts.projects)
	assert.Equal(t, analyzer.Options{Force: true, Reason: "release", UserID: "ops"}, opts.run)
	assert.Equal(t, "config.yaml", opts.configPath)

	opts, err = parseFlags(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Empty(t, opts.projects)
	assert.Equal(t, "manual run", opts.run.Reason)

	_, err = parseFlags(newFlagSet(), []string{"extra"})
	assert.Error(t, err)
	_, err = parseFlags(newFlagSet(), []string{"-project", ""})
	assert.Error(t, err)
}

func TestRunAndReport(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), &config.Config{
		Database: config.DatabaseConfig{UseInMemory: true, StorageTimeout: time.Second},
		Mirror:   config.MirrorConfig{UseInMemory: true},
	}, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	results, err := run(context.Background(), a, &options{projects: projectList{"missing"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	var out bytes.Buffer
	assert.Equal(t, 1, report(&out, results))
	assert.Contains(t, out.String(), "missing: failed")

	ok := []*analyzer.RunResult{{ProjectID: "p", Phase: analyzer.PhaseCompleted, Mode: models.AnalysisIncremental}}
	out.Reset()
	assert.Equal(t, 0, report(&out, ok))
	assert.Contains(t, out.String(), "p: incremental run processed 0 opinions")
}
