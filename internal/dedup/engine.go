// Package dedup implements the deduplication engine: it decides whether a
// freshly scraped listing is new, a price or content update of a known
// listing, or an unchanged duplicate, and records price history on updates.
// Identity across passes is the exact (source site, external id) key; there
// is no cross-source fuzzy merging.
package dedup

import (
	"context"
	"math"
	"time"

	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/errors"
	"github.com/tphakala/autoscout-go/internal/observability/metrics"
)

// Outcome classifies an incoming listing against the stored state.
type Outcome int

const (
	// OutcomeNew means no listing with this dedup key has been seen before
	OutcomeNew Outcome = iota
	// OutcomePriceUpdate means the key is known and price or content changed
	OutcomePriceUpdate
	// OutcomeUnchanged means the key is known and nothing changed
	OutcomeUnchanged
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomePriceUpdate:
		return "price_update"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Result is what Process hands to the matching stage.
type Result struct {
	Outcome Outcome
	// Listing is the stored listing after processing, with ID assigned.
	Listing *datastore.Listing
	// PriceChange is set when a price delta was recorded.
	PriceChange *datastore.PriceHistoryEntry
}

// Classify compares an incoming listing against the stored record found by
// the dedup key. A nil existing record always means new; with an existing
// record, a differing price or content hash means an update and anything
// else is an unchanged duplicate. Pure function; calling it again with
// identical inputs yields the same outcome.
func Classify(incoming, existing *datastore.Listing, mileageBucketKm int) Outcome {
	if existing == nil {
		return OutcomeNew
	}
	if incoming.Price != existing.Price {
		return OutcomePriceUpdate
	}
	if ContentHash(incoming, mileageBucketKm) != existing.ContentHash {
		// Non-price content change, handled the same way as a price update:
		// full field refresh plus re-match.
		return OutcomePriceUpdate
	}
	return OutcomeUnchanged
}

// ValidateListing rejects records the pipeline cannot identify or price.
func ValidateListing(l *datastore.Listing) error {
	if l == nil {
		return errors.Newf("listing is nil").
			Component("dedup").
			Category(errors.CategoryValidation).
			Build()
	}
	if l.SourceSite == "" || l.ExternalID == "" {
		return errors.Newf("listing is missing its dedup key").
			Component("dedup").
			Category(errors.CategoryValidation).
			Context("source_site", l.SourceSite).
			Context("external_id", l.ExternalID).
			Context("url", l.URL).
			Build()
	}
	if l.Price <= 0 {
		return errors.Newf("listing has a non-positive price").
			Component("dedup").
			Category(errors.CategoryValidation).
			Context("key", l.Key()).
			Context("price", l.Price).
			Build()
	}
	return nil
}

// Engine classifies incoming listings against the store and persists the
// consequences of each classification.
type Engine struct {
	store    datastore.Interface
	settings conf.DedupSettings
	metrics  *metrics.DedupMetrics
}

// NewEngine creates a deduplication engine. metrics may be nil.
func NewEngine(store datastore.Interface, settings conf.DedupSettings, m *metrics.DedupMetrics) *Engine {
	if settings.MileageBucketKm <= 0 {
		settings.MileageBucketKm = DefaultMileageBucketKm
	}
	return &Engine{
		store:    store,
		settings: settings,
		metrics:  m,
	}
}

// Process classifies one incoming listing and persists the result: inserts
// new listings, refreshes updated ones with a price history entry on price
// deltas, and touches unchanged ones. Concurrent updates to the same listing
// are retried with freshly read state up to the configured retry count, then
// skipped for this pass.
func (e *Engine) Process(ctx context.Context, incoming *datastore.Listing) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := ValidateListing(incoming); err != nil {
		if e.metrics != nil {
			e.metrics.RejectedTotal.Inc()
		}
		return nil, err
	}

	existing, err := e.store.GetListingByKey(incoming.SourceSite, incoming.ExternalID)
	if err != nil && !errors.Is(err, datastore.ErrListingNotFound) {
		return nil, err
	}

	outcome := Classify(incoming, existing, e.settings.MileageBucketKm)
	if e.metrics != nil {
		e.metrics.ClassificationsTotal.WithLabelValues(outcome.String()).Inc()
	}

	switch outcome {
	case OutcomeNew:
		return e.insertNew(incoming)
	case OutcomePriceUpdate:
		return e.applyUpdate(ctx, incoming, existing)
	default:
		now := time.Now()
		if err := e.store.TouchListing(existing.ID, now); err != nil {
			return nil, err
		}
		existing.LastSeenAt = now
		return &Result{Outcome: OutcomeUnchanged, Listing: existing}, nil
	}
}

func (e *Engine) insertNew(incoming *datastore.Listing) (*Result, error) {
	now := time.Now()
	incoming.ContentHash = ContentHash(incoming, e.settings.MileageBucketKm)
	incoming.FirstSeenAt = now
	incoming.LastSeenAt = now
	incoming.Active = true

	if err := e.store.InsertListing(incoming); err != nil {
		return nil, err
	}

	getLogger().Debug("new listing",
		"key", incoming.Key(),
		"make", incoming.Make,
		"model", incoming.Model,
		"price", incoming.Price)

	return &Result{Outcome: OutcomeNew, Listing: incoming}, nil
}

// applyUpdate refreshes the stored listing with the incoming content and
// records a price history entry when the price moved. The optimistic lock
// loop re-reads fresh state on every conflict.
func (e *Engine) applyUpdate(ctx context.Context, incoming, existing *datastore.Listing) (*Result, error) {
	var priceChange *datastore.PriceHistoryEntry

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()
		oldPrice := existing.Price

		updated := *incoming
		updated.ID = existing.ID
		updated.Version = existing.Version
		updated.FirstSeenAt = existing.FirstSeenAt
		updated.ContentHash = ContentHash(incoming, e.settings.MileageBucketKm)
		updated.LastSeenAt = now
		updated.Active = true

		err := e.store.UpdateListing(&updated)
		if err == nil {
			if oldPrice != incoming.Price {
				priceChange = &datastore.PriceHistoryEntry{
					ListingID:  existing.ID,
					OldPrice:   oldPrice,
					NewPrice:   incoming.Price,
					ChangePct:  changePct(oldPrice, incoming.Price),
					ObservedAt: now,
				}
				if err := e.store.AddPriceHistory(priceChange); err != nil {
					return nil, err
				}
				getLogger().Info("price change recorded",
					"key", updated.Key(),
					"old_price", oldPrice,
					"new_price", incoming.Price,
					"change_pct", priceChange.ChangePct)
			}
			return &Result{
				Outcome:     OutcomePriceUpdate,
				Listing:     &updated,
				PriceChange: priceChange,
			}, nil
		}

		if !errors.Is(err, datastore.ErrOptimisticLock) {
			return nil, err
		}
		if attempt >= e.settings.ConflictRetries {
			if e.metrics != nil {
				e.metrics.ConflictSkipsTotal.Inc()
			}
			getLogger().Warn("listing skipped after conflict retries",
				"key", incoming.Key(),
				"attempts", attempt+1)
			return nil, errors.New(err).
				Component("dedup").
				Category(errors.CategoryConflict).
				Context("key", incoming.Key()).
				Context("attempts", attempt+1).
				Build()
		}

		if e.metrics != nil {
			e.metrics.ConflictRetriesTotal.Inc()
		}
		fresh, err := e.store.GetListingByKey(incoming.SourceSite, incoming.ExternalID)
		if err != nil {
			return nil, err
		}
		existing = fresh
	}
}

// Sweep marks active listings not seen within the grace window as inactive.
// Runs after a full pass, outside the per-listing classification path.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-e.settings.GraceWindow)
	swept, err := e.store.MarkInactiveNotSeenSince(cutoff)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		if e.metrics != nil {
			e.metrics.SweptTotal.Add(float64(swept))
		}
		getLogger().Info("stale listings swept inactive",
			"count", swept,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return swept, nil
}

// changePct computes the relative price change in percent, rounded to two
// decimals.
func changePct(oldPrice, newPrice int64) float64 {
	if oldPrice == 0 {
		return 0
	}
	pct := float64(newPrice-oldPrice) / float64(oldPrice) * 100
	return math.Round(pct*100) / 100
}
