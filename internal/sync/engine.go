package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/readrelay/internal/backend"
)

const (
	otelScope       = "readrelay/sync"
	spanSync        = "sync.account"
	metricInserted  = "readrelay.sync.items.inserted"
	metricNewFeeds  = "readrelay.sync.feeds.created"
	metricPushed    = "readrelay.sync.changes.pushed"
	metricConflicts = "readrelay.sync.conflicts"
	metricErrors    = "readrelay.sync.errors"
)

// ErrUnknownAccount is returned by [Engine.SyncAccount] for an id that no
// syncer serves.
var ErrUnknownAccount = errors.New("unknown account")

// Engine schedules account syncs. Create one with [NewEngine] and start it
// with [Engine.Run].
type Engine struct {
	syncers      []AccountSyncer
	icons        IconResolver
	iconStore    IconStore
	pollInterval time.Duration
	maxAttempts  int
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntInserted  metric.Int64Counter
	cntNewFeeds  metric.Int64Counter
	cntPushed    metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// NewEngine creates an Engine. icons may be nil, in which case new feeds keep
// whatever icon the backend reported.
func NewEngine(syncers []AccountSyncer, icons IconResolver, iconStore IconStore, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		syncers:      syncers,
		icons:        icons,
		iconStore:    iconStore,
		pollInterval: pollInterval,
		maxAttempts:  defaultMaxAttempts,
		log:          logger,

		tracer:       tracer,
		cntInserted:  mustCounter(metricInserted, "Number of items inserted during sync"),
		cntNewFeeds:  mustCounter(metricNewFeeds, "Number of feeds discovered during sync"),
		cntPushed:    mustCounter(metricPushed, "Number of read/unread changes pushed"),
		cntConflicts: mustCounter(metricConflicts, "Number of entity conflicts during sync"),
		cntErrors:    mustCounter(metricErrors, "Number of failed syncs or sub-requests"),
	}
}

// Lookup returns the syncer for the account id.
func (e *Engine) Lookup(accountID int64) (AccountSyncer, bool) {
	for _, s := range e.syncers {
		if s.Account().ID == accountID {
			return s, true
		}
	}
	return nil, false
}

// Syncers returns the scheduled syncers.
func (e *Engine) Syncers() []AccountSyncer {
	return e.syncers
}

// SyncAccount syncs one account immediately. It returns [ErrSyncInProgress]
// when that account is already syncing.
func (e *Engine) SyncAccount(ctx context.Context, accountID int64) (*Result, error) {
	s, ok := e.Lookup(accountID)
	if !ok {
		return nil, fmt.Errorf("account id=%d: %w", accountID, ErrUnknownAccount)
	}
	return e.syncOne(ctx, s, uuid.NewString())
}

// syncOne runs one account sync with retries on network errors, recording a
// trace span and metrics.
func (e *Engine) syncOne(ctx context.Context, s AccountSyncer, runID string) (*Result, error) {
	acct := s.Account()
	ctx, span := e.tracer.Start(ctx, spanSync, trace.WithAttributes(
		attribute.String("sync.run_id", runID),
		attribute.String("account.name", acct.Name),
		attribute.String("account.kind", string(acct.Kind)),
	))
	defer span.End()

	var res *Result
	err := Retry(ctx, e.maxAttempts, backend.Retryable, func() error {
		var err error
		res, err = s.Sync(ctx, nil)
		return err
	})
	if err != nil {
		e.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("account", acct.Name))
	if res.Inserted > 0 {
		e.cntInserted.Add(ctx, int64(res.Inserted), attrs)
	}
	if len(res.NewFeeds) > 0 {
		e.cntNewFeeds.Add(ctx, int64(len(res.NewFeeds)), attrs)
	}
	if res.Pushed > 0 {
		e.cntPushed.Add(ctx, int64(res.Pushed), attrs)
	}
	if len(res.Conflicts) > 0 {
		e.cntConflicts.Add(ctx, int64(len(res.Conflicts)), attrs)
	}
	if len(res.Failed) > 0 {
		e.cntErrors.Add(ctx, int64(len(res.Failed)), attrs)
		for c, err := range res.Failed {
			e.log.Warn("sync sub-request failed", "account", acct.Name, "category", c, "error", err)
		}
	}

	span.SetAttributes(
		attribute.String("sync.mode", res.Mode.String()),
		attribute.Int("sync.inserted", res.Inserted),
		attribute.Int("sync.new_feeds", len(res.NewFeeds)),
		attribute.Int("sync.pushed", res.Pushed),
		attribute.Int("sync.failed", len(res.Failed)),
		attribute.Int64("sync.watermark", res.Watermark),
	)

	e.resolveIcons(ctx, res)
	return res, nil
}

// resolveIcons looks up favicons for feeds created by the sync that arrived
// without one. Failures are logged and leave the icon empty.
func (e *Engine) resolveIcons(ctx context.Context, res *Result) {
	if e.icons == nil || e.iconStore == nil {
		return
	}
	for i, f := range res.NewFeeds {
		if f.IconURL != "" {
			continue
		}
		page := f.SiteURL
		if page == "" {
			page = f.URL
		}
		icon, err := e.icons.Resolve(ctx, page)
		if err != nil {
			e.log.Debug("favicon lookup failed", "feed", f.Name, "error", err)
			continue
		}
		if err := e.iconStore.UpdateFeedIcon(ctx, f.ID, icon); err != nil {
			e.log.Warn("storing favicon", "feed", f.Name, "error", err)
			continue
		}
		res.NewFeeds[i].IconURL = icon
	}
}

// RunOnce syncs every account concurrently and returns the results of those
// that succeeded. Failed accounts are joined into the error.
func (e *Engine) RunOnce(ctx context.Context) ([]*Result, error) {
	runID := uuid.NewString()
	results := make([]*Result, len(e.syncers))
	errs := make([]error, len(e.syncers))

	var g errgroup.Group
	for i, s := range e.syncers {
		g.Go(func() error {
			res, err := e.syncOne(ctx, s, runID)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	results, err := e.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		e.log.Error("sync failed", "error", err)
	}
	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
	}
	e.log.Info("sync pass complete", "accounts", len(results), "inserted", inserted)
}
