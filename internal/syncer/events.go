package syncer

import (
	"context"
	"time"

	"github.com/jensholdgaard/guildsync/internal/provider"
)

// Tier names used in logs, error records and notifications.
const (
	TierDiscovery  = "discovery"
	TierEnrichment = "enrichment"
)

// RunSummary describes one finished sync run. Aborted runs report the
// counts accumulated up to the abort.
type RunSummary struct {
	Tier     string
	Total    int
	Failed   int
	Joined   int
	Departed int
	Aborted  bool
	Duration time.Duration
}

// Observer receives progress callbacks from the orchestrator. Callbacks
// run on the sync goroutine, so implementations must return quickly.
type Observer interface {
	RunStarted(tier string)
	MemberSynced(tier string, id provider.Identity, err error)
	RunFinished(summary RunSummary)
}

// Observers fans progress callbacks out to several observers.
type Observers []Observer

func (os Observers) RunStarted(tier string) {
	for _, o := range os {
		o.RunStarted(tier)
	}
}

func (os Observers) MemberSynced(tier string, id provider.Identity, err error) {
	for _, o := range os {
		o.MemberSynced(tier, id, err)
	}
}

func (os Observers) RunFinished(s RunSummary) {
	for _, o := range os {
		o.RunFinished(s)
	}
}

// NopObserver ignores all progress callbacks.
type NopObserver struct{}

func (NopObserver) RunStarted(string)                             {}
func (NopObserver) MemberSynced(string, provider.Identity, error) {}
func (NopObserver) RunFinished(RunSummary)                        {}

// Notifier delivers operator alerts. Implementations must never block
// the sync run; delivery failures are theirs to swallow.
type Notifier interface {
	BatchErrors(ctx context.Context, tier string, failed, total int)
	CriticalFailure(ctx context.Context, tier string, err error)
}

// NopNotifier drops all alerts. Used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) BatchErrors(context.Context, string, int, int)  {}
func (NopNotifier) CriticalFailure(context.Context, string, error) {}
