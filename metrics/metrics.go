// Package metrics wires the pipeline stages into a single OTel meter
// exported over Prometheus, the same exporter-over-meter shape the teacher
// used for its own request/upload counters (metrics/metrics.go), repointed
// at the ingestion pipeline's own signals: changes followed, diff-log
// entries emitted, downloads attempted, and cluster jobs submitted.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds every counter the pipeline's stages report into. Zero value
// methods are no-ops, so a Metrics{} can stand in for "no metrics wired"
// without nil checks at call sites.
type Metrics struct {
	changesFollowed     metric.Int64Counter
	diffLogEntriesTotal metric.Int64Counter
	downloadsTotal      metric.Int64Counter
	clusterJobsTotal    metric.Int64Counter
}

// New builds the OTel meter provider over a Prometheus exporter and
// registers every counter. Grounded on the teacher's metrics.New
// (prometheus.New exporter -> sdkmetric.NewMeterProvider -> named
// Int64Counters), with the counters themselves repointed at pipeline
// signals.
func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/npm-mirror")

	if m.changesFollowed, err = meter.Int64Counter("changes_followed_total", metric.WithDescription("Total number of changes-feed events consumed by the change follower")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create changes_followed_total counter: %w", err)
	}
	if m.diffLogEntriesTotal, err = meter.Int64Counter("diff_log_entries_total", metric.WithDescription("Total number of diff-log entries emitted, by kind")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create diff_log_entries_total counter: %w", err)
	}
	if m.downloadsTotal, err = meter.Int64Counter("downloads_total", metric.WithDescription("Total number of tarball download attempts, by outcome")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create downloads_total counter: %w", err)
	}
	if m.clusterJobsTotal, err = meter.Int64Counter("cluster_jobs_total", metric.WithDescription("Total number of cluster jobs submitted or cancelled, by action")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create cluster_jobs_total counter: %w", err)
	}

	return m, nil
}

// ListenAndServe serves the Prometheus scrape endpoint.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

// IncrementChangesFollowed reports one change-feed event having been
// persisted by the C2 follower.
func (m Metrics) IncrementChangesFollowed(ctx context.Context) {
	if m.changesFollowed == nil {
		return
	}
	m.changesFollowed.Add(ctx, 1)
}

// IncrementDiffLogEntries reports n diff-log entries of the given kind
// (CreatePackage, UpdateVersion, ...) having been emitted by the C4 builder.
func (m Metrics) IncrementDiffLogEntries(ctx context.Context, kind string, n int64) {
	if m.diffLogEntriesTotal == nil {
		return
	}
	m.diffLogEntriesTotal.Add(ctx, n, metric.WithAttributes(attribute.String("kind", kind)))
}

// IncrementDownloads reports one C6 download attempt with its outcome
// ("success", "failure").
func (m Metrics) IncrementDownloads(ctx context.Context, outcome string) {
	if m.downloadsTotal == nil {
		return
	}
	m.downloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// IncrementClusterJobs reports one C7 controller action ("submit" or
// "cancel"); a health-driven resubmission is reported as one of each.
func (m Metrics) IncrementClusterJobs(ctx context.Context, action string) {
	if m.clusterJobsTotal == nil {
		return
	}
	m.clusterJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// DiffLogMetrics adapts Metrics to the difflog.Metrics interface, tracking
// session-level progress via the builder's own session hooks and surfacing
// per-batch volume through IncrementDiffLogEntries at the "all" kind since
// the builder itself does not break batches down by diff-log kind.
type DiffLogMetrics struct {
	Metrics
}

func (d DiffLogMetrics) StartSession(startSeqExclusive, totalSeqs int64) {}

func (d DiffLogMetrics) BatchComplete(firstSeq, lastSeq, numProcessed int64) {
	d.IncrementDiffLogEntries(context.Background(), "all", numProcessed)
}

func (d DiffLogMetrics) Panic(seq int64, message string) {}

func (d DiffLogMetrics) EndSession(startSeqExclusive, endSeqInclusive int64) {}
