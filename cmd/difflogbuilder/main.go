// Command difflogbuilder runs the C4 Diff-Log Builder (spec §6:
// "diff_log_builder (no args)").
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/difflog"
	"github.com/a-h/npm-mirror/lock"
	"github.com/a-h/npm-mirror/metrics"
)

type CLI struct {
	DatabaseURL string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	MetricsAddr string `help:"Address to serve Prometheus /metrics on (empty disables)" default:":9090"`
	Verbose     bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("difflogbuilder"); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cmd.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	m, err := metrics.New()
	if err != nil {
		return err
	}
	if cmd.MetricsAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(cmd.MetricsAddr); err != nil {
				log.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	b := &difflog.Builder{DB: database, Log: log, Metrics: metrics.DiffLogMetrics{Metrics: m}}
	return b.Run(ctx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("difflogbuilder"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
