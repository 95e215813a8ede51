// Command downloadqueuer runs the C5 Download Queue, turning new
// CreateVersion/UpdateVersion diff-log entries into download tasks.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/downloadqueue"
	"github.com/a-h/npm-mirror/lock"
)

type CLI struct {
	DatabaseURL string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	Verbose     bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("downloadqueuer"); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cmd.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	q := &downloadqueue.Queue{DB: database, Log: log}
	return q.Run(ctx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("downloadqueuer"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
