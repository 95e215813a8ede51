// Command tarballtransfer runs the same C6 worker pool as downloader, but
// against a fixed local directory rather than a cluster-dispatched node
// (spec §6: "tarball_transfer <N_workers>"; SPEC_FULL §12's supplemented
// feature for bulk re-fetching without going through the scheduler).
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/downloader"
	"github.com/a-h/npm-mirror/lock"
)

type CLI struct {
	NumWorkers  int    `arg:"" help:"Number of concurrent transfer workers"`
	DatabaseURL string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	DestDir     string `help:"Directory to transfer tarballs into" env:"TARBALL_TRANSFER_DIR" required:""`
	Verbose     bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("tarballtransfer"); err != nil {
		return err
	}

	if err := os.MkdirAll(cmd.DestDir, 0o755); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cmd.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	p := &downloader.Pool{DB: database, Log: log, DestDir: cmd.DestDir, Size: cmd.NumWorkers}
	return p.Run(ctx)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("tarballtransfer"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
