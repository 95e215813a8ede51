// Command downloader runs the C6 Download Worker Pool against a local
// destination directory (spec §6: "downloader <dest_dir> — runs C6 writing
// into dest_dir; exit 2 on missing directory").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/downloader"
	"github.com/a-h/npm-mirror/lock"
	"github.com/a-h/npm-mirror/metrics"
)

type CLI struct {
	DestDir     string `arg:"" help:"Directory to download tarballs into"`
	DatabaseURL string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	Workers     int    `help:"Number of concurrent download workers" default:"8"`
	MaxFailures int64  `help:"Exclude tasks with at least this many failures from selection (0 = unlimited retries)" default:"0"`
	MetricsAddr string `help:"Address to serve Prometheus /metrics on (empty disables)" default:":9090"`
	Verbose     bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("downloader"); err != nil {
		return err
	}

	info, err := os.Stat(cmd.DestDir)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "destination directory %q does not exist\n", cmd.DestDir)
		os.Exit(2)
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

	p := &downloader.Pool{DB: database, Log: log, DestDir: cmd.DestDir, Size: cmd.Workers, MaxFailures: cmd.MaxFailures, Metrics: m}
	return p.Run(ctx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("downloader"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
