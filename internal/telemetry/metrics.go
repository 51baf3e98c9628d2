package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/syncer"
)

// SyncMetrics records sync progress as OpenTelemetry metrics. It plugs
// into the orchestrator as its progress observer.
type SyncMetrics struct {
	runs        metric.Int64Counter
	members     metric.Int64Counter
	failures    metric.Int64Counter
	runDuration metric.Float64Histogram
	rosterSize  metric.Int64Gauge
}

// NewSyncMetrics registers the sync instruments on the given meter
// provider.
func NewSyncMetrics(mp metric.MeterProvider) (*SyncMetrics, error) {
	meter := mp.Meter("github.com/jensholdgaard/guildsync/internal/syncer")

	runs, err := meter.Int64Counter("guildsync.runs",
		metric.WithDescription("Completed sync runs per tier"))
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}
	members, err := meter.Int64Counter("guildsync.members.synced",
		metric.WithDescription("Members processed per tier"))
	if err != nil {
		return nil, fmt.Errorf("creating members counter: %w", err)
	}
	failures, err := meter.Int64Counter("guildsync.members.failed",
		metric.WithDescription("Per-member sync failures by category"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	runDuration, err := meter.Float64Histogram("guildsync.run.duration",
		metric.WithDescription("Sync run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	rosterSize, err := meter.Int64Gauge("guildsync.roster.size",
		metric.WithDescription("Members in the latest discovered roster"))
	if err != nil {
		return nil, fmt.Errorf("creating roster gauge: %w", err)
	}

	return &SyncMetrics{
		runs:        runs,
		members:     members,
		failures:    failures,
		runDuration: runDuration,
		rosterSize:  rosterSize,
	}, nil
}

// RunStarted implements syncer.Observer.
func (m *SyncMetrics) RunStarted(string) {}

// MemberSynced implements syncer.Observer.
func (m *SyncMetrics) MemberSynced(tier string, _ provider.Identity, err error) {
	ctx := context.Background()
	m.members.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("category", string(provider.CategoryOf(err))),
		))
	}
}

// RunFinished implements syncer.Observer.
func (m *SyncMetrics) RunFinished(s syncer.RunSummary) {
	ctx := context.Background()
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", s.Tier)))
	m.runDuration.Record(ctx, s.Duration.Seconds(),
		metric.WithAttributes(attribute.String("tier", s.Tier)))
	if s.Tier == syncer.TierDiscovery {
		m.rosterSize.Record(ctx, int64(s.Total))
	}
}
