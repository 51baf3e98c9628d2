// Package syncer schedules and drives the two synchronization tiers:
// roster discovery and per-member enrichment.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/guildsync/internal/activity"
	"github.com/jensholdgaard/guildsync/internal/aggregate"
	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/config"
	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/roster"
	"github.com/jensholdgaard/guildsync/internal/store"
)

// ErrRunInFlight is returned when a tier is triggered while its previous
// run has not finished. The trigger is dropped, never queued.
var ErrRunInFlight = errors.New("sync run already in flight")

// Enricher assembles one member's merged profile from the providers.
type Enricher interface {
	Enrich(ctx context.Context, entry provider.RosterEntry, prior *store.Member) (*aggregate.Result, error)
}

// Orchestrator owns the two sync tiers. Each tier runs on its own
// ticker, at most one run per tier at a time, members paced sequentially
// within a run.
type Orchestrator struct {
	cfg      config.SyncConfig
	roster   provider.RosterClient
	lastSeen provider.LastSeenClient
	enricher Enricher
	members  store.MemberRepository
	errorLog store.SyncErrorRepository
	notifier Notifier
	observer Observer
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	discoveryBusy  atomic.Bool
	enrichmentBusy atomic.Bool
}

// New creates an Orchestrator. Pass NopNotifier or NopObserver for the
// collaborators that are not wired.
func New(
	cfg config.SyncConfig,
	rosterClient provider.RosterClient,
	lastSeen provider.LastSeenClient,
	enricher Enricher,
	members store.MemberRepository,
	errorLog store.SyncErrorRepository,
	notifier Notifier,
	observer Observer,
	clk clock.Clock,
	logger *slog.Logger,
	tp trace.TracerProvider,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		roster:   rosterClient,
		lastSeen: lastSeen,
		enricher: enricher,
		members:  members,
		errorLog: errorLog,
		notifier: notifier,
		observer: observer,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/guildsync/internal/syncer"),
		stop:     make(chan struct{}),
	}
}

// Start launches both tier loops. Discovery runs once immediately so a
// fresh deployment has a roster before the first enrichment tick.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(2)
	go o.loop(ctx, TierDiscovery, o.cfg.DiscoveryInterval, true, o.RunDiscovery)
	go o.loop(ctx, TierEnrichment, o.cfg.EnrichmentInterval, false, o.RunEnrichment)
	o.logger.InfoContext(ctx, "sync loops started",
		slog.Duration("discovery_interval", o.cfg.DiscoveryInterval),
		slog.Duration("enrichment_interval", o.cfg.EnrichmentInterval),
	)
}

// Stop drains gracefully: the member currently being processed finishes,
// the rest of the batch is abandoned, and Stop returns once both loops
// have exited.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, tier string, interval time.Duration, initial bool, run func(context.Context) error) {
	defer o.wg.Done()

	runAndLog := func() {
		err := run(ctx)
		switch {
		case errors.Is(err, ErrRunInFlight):
			o.logger.WarnContext(ctx, "sync tick dropped, previous run still in flight",
				slog.String("tier", tier))
		case err != nil:
			o.logger.ErrorContext(ctx, "sync run failed",
				slog.String("tier", tier), slog.Any("error", err))
		}
	}

	if initial {
		runAndLog()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			runAndLog()
		}
	}
}

// RunDiscovery executes one roster discovery run: fetch the
// authoritative roster, reconcile membership, refresh last-seen
// timestamps, reclassify activity tiers and prune aged error records.
func (o *Orchestrator) RunDiscovery(ctx context.Context) (err error) {
	if !o.discoveryBusy.CompareAndSwap(false, true) {
		return ErrRunInFlight
	}
	defer o.discoveryBusy.Store(false)

	ctx, span := o.tracer.Start(ctx, "Orchestrator.RunDiscovery")
	defer span.End()

	start := o.clock.Now()
	o.observer.RunStarted(TierDiscovery)
	summary := RunSummary{Tier: TierDiscovery}
	// Aborted runs still publish their summary so status and metrics
	// reflect every cycle, not just the clean ones.
	defer func() {
		summary.Aborted = err != nil
		summary.Duration = o.clock.Now().Sub(start)
		o.finishRun(ctx, summary)
	}()

	entries, err := o.roster.GuildRoster(ctx)
	if err != nil {
		// Without a roster nothing downstream is trustworthy.
		o.recordError(ctx, provider.Identity{}, err)
		o.notifier.CriticalFailure(ctx, TierDiscovery, err)
		return fmt.Errorf("fetching guild roster: %w", err)
	}
	span.SetAttributes(attribute.Int("roster.size", len(entries)))
	summary.Total = len(entries)

	persisted, err := o.members.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("listing stored members: %w", err)
	}

	diff := roster.Reconcile(entries, persisted)
	summary.Joined, summary.Departed = len(diff.Joined), len(diff.Departed)
	for i := range entries {
		m := memberFromEntry(entries[i])
		if err := o.members.Upsert(ctx, &m); err != nil {
			return fmt.Errorf("upserting %s: %w", entries[i].Identity, err)
		}
	}
	if err := o.members.Delete(ctx, diff.Departed); err != nil {
		return fmt.Errorf("removing departed members: %w", err)
	}
	if len(diff.Joined) > 0 || len(diff.Departed) > 0 {
		o.logger.InfoContext(ctx, "membership reconciled",
			slog.Int("joined", len(diff.Joined)),
			slog.Int("departed", len(diff.Departed)),
		)
	}

	window := o.cfg.ActivityWindow()
	updates := make([]store.ActivityUpdate, 0, len(entries))
	for i, entry := range entries {
		if o.stopping() {
			o.logger.InfoContext(ctx, "draining discovery run",
				slog.Int("remaining", len(entries)-i))
			break
		}
		if i > 0 && !o.pause(ctx) {
			break
		}

		seen, err := o.lastSeen.LastSeen(ctx, entry)
		if err != nil {
			o.recordError(ctx, entry.Identity, err)
			o.observer.MemberSynced(TierDiscovery, entry.Identity, err)
			if provider.CategoryOf(err) == provider.ErrAuth {
				o.notifier.CriticalFailure(ctx, TierDiscovery, err)
				return fmt.Errorf("authentication failed mid-run: %w", err)
			}
			if countsTowardThreshold(err) {
				summary.Failed++
			}
			continue
		}
		updates = append(updates, store.ActivityUpdate{
			Identity: entry.Identity,
			LastSeen: seen,
			Tier:     activity.Classify(seen, o.clock.Now(), window),
		})
		o.observer.MemberSynced(TierDiscovery, entry.Identity, nil)
	}

	if err := o.members.UpdateActivity(ctx, updates); err != nil {
		return fmt.Errorf("updating activity tiers: %w", err)
	}

	if pruned, err := o.errorLog.Prune(ctx, o.clock.Now().Add(-o.cfg.ErrorRetention)); err != nil {
		o.logger.ErrorContext(ctx, "pruning sync errors", slog.Any("error", err))
	} else if pruned > 0 {
		o.logger.InfoContext(ctx, "pruned aged sync errors", slog.Int64("count", pruned))
	}

	o.alertIfExcessive(ctx, TierDiscovery, summary.Failed, len(entries))
	return nil
}

// RunEnrichment executes one enrichment run over the recently active
// members: fetch and merge provider profiles, persist the result, record
// per-member failures without failing the batch.
func (o *Orchestrator) RunEnrichment(ctx context.Context) (err error) {
	if !o.enrichmentBusy.CompareAndSwap(false, true) {
		return ErrRunInFlight
	}
	defer o.enrichmentBusy.Store(false)

	ctx, span := o.tracer.Start(ctx, "Orchestrator.RunEnrichment")
	defer span.End()

	start := o.clock.Now()
	o.observer.RunStarted(TierEnrichment)
	summary := RunSummary{Tier: TierEnrichment}
	defer func() {
		summary.Aborted = err != nil
		summary.Duration = o.clock.Now().Sub(start)
		o.finishRun(ctx, summary)
	}()

	stored, err := o.members.ListRecentlyActive(ctx, o.cfg.EnrichmentWindow())
	if err != nil {
		return fmt.Errorf("listing recently active members: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.size", len(stored)))
	summary.Total = len(stored)

	for i := range stored {
		m := &stored[i]
		if o.stopping() {
			o.logger.InfoContext(ctx, "draining enrichment run",
				slog.Int("remaining", len(stored)-i))
			break
		}
		if i > 0 && !o.pause(ctx) {
			break
		}

		entry := provider.RosterEntry{
			Identity: m.Identity(),
			Level:    m.Level,
			Class:    m.Class,
			Handle:   m.LookupHandle,
		}
		res, enrichErr := o.enricher.Enrich(ctx, entry, m)
		if res == nil {
			res = &aggregate.Result{Failures: []error{enrichErr}}
		}
		for _, ferr := range res.Failures {
			o.recordError(ctx, m.Identity(), ferr)
		}
		if authErr := firstAuthFailure(res.Failures); authErr != nil {
			o.notifier.CriticalFailure(ctx, TierEnrichment, authErr)
			return fmt.Errorf("authentication failed mid-run: %w", authErr)
		}
		if enrichErr != nil {
			o.observer.MemberSynced(TierEnrichment, m.Identity(), enrichErr)
			if anyCountable(res.Failures) {
				summary.Failed++
			}
			continue
		}

		if err := o.members.UpdateProfile(ctx, res.Member); err != nil {
			o.logger.ErrorContext(ctx, "persisting enriched profile",
				slog.String("character", m.Identity().String()), slog.Any("error", err))
			summary.Failed++
			continue
		}
		o.observer.MemberSynced(TierEnrichment, m.Identity(), nil)
	}

	o.alertIfExcessive(ctx, TierEnrichment, summary.Failed, len(stored))
	return nil
}

func (o *Orchestrator) finishRun(ctx context.Context, s RunSummary) {
	o.observer.RunFinished(s)
	o.logger.InfoContext(ctx, "sync run finished",
		slog.String("tier", s.Tier),
		slog.Int("total", s.Total),
		slog.Int("failed", s.Failed),
		slog.Bool("aborted", s.Aborted),
		slog.Duration("duration", s.Duration),
	)
}

// alertIfExcessive notifies when a run's failure count crosses the
// absolute or relative threshold. Not-found failures never count: a
// character unknown to a provider index is routine, not an outage.
func (o *Orchestrator) alertIfExcessive(ctx context.Context, tier string, failed, total int) {
	if total == 0 || failed == 0 {
		return
	}
	ratio := float64(failed) / float64(total)
	if failed > o.cfg.MaxBatchErrors || ratio > o.cfg.MaxBatchErrorRatio {
		o.logger.WarnContext(ctx, "sync run exceeded error threshold",
			slog.String("tier", tier), slog.Int("failed", failed), slog.Int("total", total))
		o.notifier.BatchErrors(ctx, tier, failed, total)
	}
}

// recordError appends one failure to the error sink. Sink write errors
// are logged and dropped; the sink must never fail a run.
func (o *Orchestrator) recordError(ctx context.Context, id provider.Identity, err error) {
	rec := &store.SyncError{
		CharacterName: id.Name,
		Realm:         id.Realm,
		Category:      provider.CategoryOf(err),
		Message:       err.Error(),
	}
	var fe *provider.FetchError
	if errors.As(err, &fe) {
		rec.Source = fe.Source
		rec.URL = fe.URL
	}
	if appendErr := o.errorLog.Append(ctx, rec); appendErr != nil {
		o.logger.ErrorContext(ctx, "recording sync error", slog.Any("error", appendErr))
	}
}

// pause waits the configured inter-member delay, aborting early on
// shutdown or context cancellation.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.cfg.MemberDelay <= 0 {
		return true
	}
	timer := time.NewTimer(o.cfg.MemberDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-o.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) stopping() bool {
	select {
	case <-o.stop:
		return true
	default:
		return false
	}
}

func memberFromEntry(e provider.RosterEntry) store.Member {
	return store.Member{
		CharacterName: e.Identity.Name,
		Realm:         e.Identity.Realm,
		Class:         e.Class,
		Level:         e.Level,
		LookupHandle:  e.Handle,
	}
}

func countsTowardThreshold(err error) bool {
	return !provider.IsNotFound(err)
}

func anyCountable(errs []error) bool {
	for _, err := range errs {
		if countsTowardThreshold(err) {
			return true
		}
	}
	return false
}

func firstAuthFailure(errs []error) error {
	for _, err := range errs {
		if provider.CategoryOf(err) == provider.ErrAuth {
			return err
		}
	}
	return nil
}
