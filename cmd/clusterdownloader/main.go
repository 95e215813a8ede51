// Command clusterdownloader runs the C6 Download Worker Pool across a
// fleet of SSH-dispatched cluster jobs rather than locally (spec §6:
// "cluster_downloader <N_parallel> [retry_bool]").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/a-h/npm-mirror/cluster"
	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/lock"
	"github.com/a-h/npm-mirror/metrics"
)

// pollInterval is how often the controller checks squeue for Queued→
// Running transitions and probes Running workers' health.
const pollInterval = 10 * time.Second

type CLI struct {
	NParallel int  `arg:"" help:"Number of cluster jobs to submit"`
	RetryBool bool `arg:"" optional:"" help:"When true, previously-failed download tasks are eligible for re-selection"`

	DatabaseURL  string `help:"Database connection URL" env:"DATABASE_URL" required:""`
	SSHHeadHost  string `help:"user@host of the cluster's login/head node" env:"SSH_HEAD_HOST" required:""`
	SbatchScript string `help:"Path to the sbatch script each worker runs" env:"SBATCH_SCRIPT" required:""`
	RemoteDest   string `help:"Destination directory for tarballs on each compute node" env:"REMOTE_DEST_DIR" required:""`
	MetricsAddr  string `help:"Address to serve Prometheus /metrics on (empty disables)" default:":9090"`
	Verbose      bool   `help:"Enable debug logging" short:"v"`
}

func (cmd *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cmd.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if err := lock.EnsureSingleInstance("clusterdownloader"); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cmd.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	// MaxFailures gates task re-selection (SPEC_FULL §12's retry_bool flag):
	// false excludes anything that has ever failed; true allows unlimited
	// retries.
	maxFailures := int64(1)
	if cmd.RetryBool {
		maxFailures = 0
	}

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

	head, err := cluster.NewSessionFactory(cmd.SSHHeadHost, defaultSSHConfig()).Spawn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster head node: %w", err)
	}
	defer head.Close()

	controller := &cluster.Controller{
		Head:        head,
		JumpFactory: cluster.NewSessionFactory(cmd.SSHHeadHost, defaultSSHConfig()),
		Log:         log,
		Metrics:     m,
	}

	workers := make([]*cluster.Worker, 0, cmd.NParallel)
	for i := 0; i < cmd.NParallel; i++ {
		w, err := controller.Submit(ctx, cmd.SbatchScript)
		if err != nil {
			return fmt.Errorf("failed to submit worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	if err := waitForAllRunning(ctx, controller, workers, log); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			remoteCmd := fmt.Sprintf("downloader %s", cmd.RemoteDest)
			if maxFailures > 0 {
				remoteCmd += fmt.Sprintf(" --max-failures=%d", maxFailures)
			}
			out, err := w.Session.RunCommand(gctx, remoteCmd)
			if err != nil {
				return fmt.Errorf("worker %s: %w", w.JobID, err)
			}
			log.Info("worker finished", slog.String("job_id", w.JobID), slog.String("output", out))
			return nil
		})
	}
	return g.Wait()
}

// waitForAllRunning polls until every worker has transitioned out of
// Queued, per spec §4.7's Queued→Running transition detection.
func waitForAllRunning(ctx context.Context, controller *cluster.Controller, workers []*cluster.Worker, log *slog.Logger) error {
	for {
		if err := controller.PollOnce(ctx); err != nil {
			return err
		}
		pending := 0
		for _, w := range workers {
			if w.Status == cluster.StatusQueued {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		log.Debug("waiting for workers to start", slog.Int("pending", pending))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func defaultSSHConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // cluster nodes are on a trusted internal network
		Timeout:         10 * time.Second,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(sshAgentSigners)},
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("clusterdownloader"), kong.UsageOnError())
	ctx.FatalIfErrorf(cli.Run())
}
