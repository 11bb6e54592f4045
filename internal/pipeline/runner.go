// Package pipeline orchestrates one scrape pass: dedup classification, alert
// matching and notification throttling over a batch of freshly scraped
// listings. Passes are discrete; a failed pass is not retried mid-flight,
// the next scheduled pass simply re-processes current state, which is
// idempotent by construction via the dedup key.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/dedup"
	"github.com/tphakala/autoscout-go/internal/errors"
	"github.com/tphakala/autoscout-go/internal/logging"
	"github.com/tphakala/autoscout-go/internal/matcher"
	"github.com/tphakala/autoscout-go/internal/notify"
	"golang.org/x/sync/errgroup"
)

// PassReport summarizes one completed pass.
type PassReport struct {
	PassID     string
	Started    time.Time
	Duration   time.Duration
	Listings   int
	New        int
	Updated    int
	Unchanged  int
	Rejected   int
	Matches    int
	Emitted    int
	Digests    int
	Swept      int64
}

// Runner wires the pipeline stages together for batch passes.
type Runner struct {
	store     datastore.Interface
	engine    *dedup.Engine
	matcher   matcher.Matcher
	throttler *notify.Throttler
	workers   int
	logger    *slog.Logger

	mu     sync.Mutex // guards report counters across workers
	report *PassReport
}

// NewRunner creates a pass runner. workers below one falls back to the
// configured default.
func NewRunner(store datastore.Interface, engine *dedup.Engine, m matcher.Matcher, throttler *notify.Throttler, settings conf.PipelineSettings) *Runner {
	workers := settings.Workers
	if workers < 1 {
		workers = 4
	}
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default().With("service", "pipeline")
	}
	return &Runner{
		store:     store,
		engine:    engine,
		matcher:   m,
		throttler: throttler,
		workers:   workers,
		logger:    logger,
	}
}

// RunPass processes one batch of scraped listings: per-listing dedup and
// matching fan out across a bounded worker pool, then digests are flushed
// and the inactive sweep runs. Malformed listings are rejected individually;
// store failures abort the remainder of the pass while leaving committed
// listings intact.
func (r *Runner) RunPass(ctx context.Context, listings []datastore.Listing) (*PassReport, error) {
	started := time.Now()
	r.mu.Lock()
	r.report = &PassReport{
		PassID:   uuid.NewString(),
		Started:  started,
		Listings: len(listings),
	}
	r.mu.Unlock()

	r.logger.Info("pass started",
		"pass_id", r.report.PassID,
		"listings", len(listings),
		"workers", r.workers)

	// One read-only alert snapshot for the whole pass.
	alerts, err := r.store.GetActiveAlerts()
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryPipeline).
			Context("pass_id", r.report.PassID).
			Build()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := range listings {
		listing := listings[i]
		g.Go(func() error {
			return r.processListing(gctx, &listing, alerts)
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("pass aborted",
			"pass_id", r.report.PassID,
			"error", err)
		return r.snapshotReport(started), err
	}

	digests, err := r.throttler.FlushDigests(ctx, time.Now())
	if err != nil {
		return r.snapshotReport(started), err
	}
	swept, err := r.engine.Sweep(ctx)
	if err != nil {
		return r.snapshotReport(started), err
	}

	r.mu.Lock()
	r.report.Digests = len(digests)
	r.report.Swept = swept
	r.mu.Unlock()

	report := r.snapshotReport(started)
	r.logger.Info("pass completed",
		"pass_id", report.PassID,
		"duration", report.Duration,
		"new", report.New,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"rejected", report.Rejected,
		"matches", report.Matches,
		"emitted", report.Emitted,
		"digests", report.Digests,
		"swept", report.Swept)
	return report, nil
}

// processListing runs one listing through dedup, matching and throttling.
// Validation and conflict-exhaustion errors reject the single record;
// anything else aborts the pass.
func (r *Runner) processListing(ctx context.Context, listing *datastore.Listing, alerts []datastore.Alert) error {
	result, err := r.engine.Process(ctx, listing)
	if err != nil {
		if isRecordLevel(err) {
			r.logger.Warn("listing rejected",
				"key", listing.Key(),
				"error", err)
			r.count(func(rep *PassReport) { rep.Rejected++ })
			return nil
		}
		return err
	}

	switch result.Outcome {
	case dedup.OutcomeNew:
		r.count(func(rep *PassReport) { rep.New++ })
	case dedup.OutcomePriceUpdate:
		r.count(func(rep *PassReport) { rep.Updated++ })
	default:
		r.count(func(rep *PassReport) { rep.Unchanged++ })
		// Unchanged duplicates are not re-matched.
		return nil
	}

	matched := r.matcher.FindMatchingAlerts(result.Listing, alerts)
	if len(matched) == 0 {
		return nil
	}
	r.count(func(rep *PassReport) { rep.Matches += len(matched) })

	reason := notify.ReasonNewListing
	var oldPrice int64
	if result.Outcome == dedup.OutcomePriceUpdate {
		reason = notify.ReasonPriceUpdate
		if result.PriceChange != nil {
			oldPrice = result.PriceChange.OldPrice
		} else {
			oldPrice = result.Listing.Price // content change without a price delta
		}
	}

	matches := make([]notify.MatchResult, 0, len(matched))
	for i := range matched {
		matches = append(matches, notify.MatchResult{
			Alert:    matched[i],
			Listing:  result.Listing,
			Reason:   reason,
			OldPrice: oldPrice,
		})
	}

	emitted, err := r.throttler.Process(ctx, matches)
	if err != nil {
		return err
	}
	r.count(func(rep *PassReport) { rep.Emitted += len(emitted) })
	return nil
}

// isRecordLevel reports whether an error should reject one record instead of
// aborting the pass.
func isRecordLevel(err error) bool {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category == errors.CategoryValidation || ee.Category == errors.CategoryConflict
	}
	return false
}

func (r *Runner) count(fn func(*PassReport)) {
	r.mu.Lock()
	fn(r.report)
	r.mu.Unlock()
}

func (r *Runner) snapshotReport(started time.Time) *PassReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := *r.report
	report.Duration = time.Since(started)
	return &report
}
