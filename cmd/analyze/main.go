// Command analyze runs one analysis pass over the given projects, or over
// every project when none is named, and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/app"
	"github.com/xaenox/opinion-topics/pkg/config"
)

type projectList []string

func (p *projectList) String() string {
	return strings.Join(*p, ",")
}

func (p *projectList) Set(v string) error {
	if v == "" {
		return errors.New("empty project id")
	}
	*p = append(*p, v)
	return nil
}

type options struct {
	configPath string
	projects   projectList
	run        analyzer.Options
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config")
	fs.Var(&opts.projects, "project", "project id to analyze (repeatable; default all)")
	fs.BoolVar(&opts.run.Force, "force", false, "re-classify every opinion")
	fs.StringVar(&opts.run.Reason, "reason", "manual run", "reason recorded in the analysis history")
	fs.StringVar(&opts.run.UserID, "user", "", "operator recorded in the analysis history")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", opts.configPath))
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

	results, err := run(ctx, a, opts)
	a.Close()
	if err != nil {
		logger.Fatal("Analysis failed", zap.Error(err))
	}
	if report(os.Stdout, results) > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, opts *options) ([]*analyzer.RunResult, error) {
	if len(opts.projects) == 0 {
		return a.Sweep(ctx, opts.run)
	}
	results := make([]*analyzer.RunResult, 0, len(opts.projects))
	for _, id := range opts.projects {
		res, _ := a.Analyzer.Run(ctx, id, opts.run)
		results = append(results, res)
	}
	return results, nil
}

// report prints one line per project and returns how many failed.
func report(w io.Writer, results []*analyzer.RunResult) int {
	failed := 0
	for _, r := range results {
		fmt.Fprintln(w, r.String())
		if r.Failed() {
			failed++
		}
	}
	return failed
}
