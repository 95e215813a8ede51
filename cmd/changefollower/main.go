// Command changefollower runs the C2 Change Follower against the upstream
// registry's continuous changes feed.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/npm-mirror/changefeed"
	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/lock"
	"github.com/a-h/npm-mirror/metrics"
)

type CLI struct {
	DatabaseURL string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	RegistryURL string `help:"Base URL of the upstream registry" env:"REGISTRY_URL" default:"https://replicate.npmjs.com"`
	MetricsAddr string `help:"Address to serve Prometheus /metrics on (empty disables)" default:":9090"`
	Verbose     bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("changefollower"); err != nil {
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

	f := &changefeed.Follower{
		DB:      database,
		Client:  http.DefaultClient,
		BaseURL: cmd.RegistryURL,
		Log:     log,
		Metrics: m,
	}
	return f.Run(ctx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("changefollower"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
