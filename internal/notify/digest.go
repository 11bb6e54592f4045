// digest.go: daily/weekly batching. Matches for non-immediate alerts are
// persisted as digest entries keyed by (alert, listing, wall-clock period)
// and flushed as one summary notification per alert once the period has
// ended. The boundary is the calendar day or ISO week, not a sliding window.
// Because entries live in the store, matches buffered by one process are
// flushed by whichever process runs the first pass after the boundary.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/errors"
)

// periodStart returns the wall-clock boundary containing t: midnight for
// daily, Monday midnight for weekly.
func periodStart(freq datastore.Frequency, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if freq != datastore.FrequencyWeekly {
		return day
	}
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week starting the previous Monday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

func periodEnd(freq datastore.Frequency, start time.Time) time.Time {
	if freq == datastore.FrequencyWeekly {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// bufferDigest persists one match into its alert's current period. The store's
// unique index deduplicates a listing within the period; the listing snapshot
// is taken now so the digest reflects what matched, not later edits.
func (t *Throttler) bufferDigest(match *MatchResult, now time.Time) error {
	payload, err := json.Marshal(payloadFor(match.Listing))
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryThrottle).
			Context("listing_id", match.Listing.ID).
			Build()
	}

	start := periodStart(match.Alert.Frequency, now)
	entry := &datastore.DigestEntry{
		AlertID:     match.Alert.ID,
		ListingID:   match.Listing.ID,
		Frequency:   match.Alert.Frequency,
		PeriodStart: start,
		PeriodEnd:   periodEnd(match.Alert.Frequency, start),
		Payload:     string(payload),
	}

	err = t.store.AddDigestEntry(entry)
	if errors.Is(err, datastore.ErrDuplicateDigestEntry) {
		getLogger().Debug("listing already buffered for digest",
			"alert_id", match.Alert.ID,
			"listing_id", match.Listing.ID)
		return nil
	}
	return err
}

// FlushDigests emits one summary notification per (alert, period) group whose
// period has ended, then deletes the group's entries. Called at the end of
// each pass; a digest therefore goes out on the first pass after its period
// boundary, regardless of which process buffered the matches. Cap-suppressed
// groups keep their entries and are retried on the next flush.
func (t *Throttler) FlushDigests(ctx context.Context, now time.Time) ([]datastore.Notification, error) {
	due, err := t.store.DigestEntriesDue(now)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	type groupKey struct {
		alertID uint
		period  int64
	}
	groups := make(map[groupKey][]datastore.DigestEntry)
	var order []groupKey
	for _, e := range due {
		key := groupKey{e.AlertID, e.PeriodStart.Unix()}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	var emitted []datastore.Notification
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		entries := groups[key]
		first := &entries[0]

		alert, err := t.store.GetAlert(first.AlertID)
		if errors.Is(err, datastore.ErrAlertNotFound) {
			// Alert deleted while the period was open; its entries are moot.
			if err := t.store.DeleteDigestEntries(first.AlertID, first.PeriodStart); err != nil {
				getLogger().Warn("failed to drop orphaned digest entries",
					"alert_id", first.AlertID,
					"error", err)
			}
			continue
		}
		if err != nil {
			return emitted, err
		}

		n, err := t.buildDigest(alert, entries)
		if err != nil {
			getLogger().Error("failed to build digest",
				"alert_id", alert.ID,
				"error", err)
			continue
		}

		maxPerDay := alert.MaxPerDay
		if maxPerDay <= 0 {
			maxPerDay = t.settings.DefaultMaxPerDay
		}

		err = t.store.EmitNotification(n, maxPerDay, t.settings.CapWindow)
		if errors.Is(err, datastore.ErrDailyCapExceeded) {
			if t.metrics != nil {
				t.metrics.SuppressedTotal.WithLabelValues("daily_cap").Inc()
			}
			getLogger().Info("digest suppressed by daily cap, retrying next flush",
				"alert_id", alert.ID)
			continue
		}
		if err != nil {
			getLogger().Error("failed to emit digest",
				"alert_id", alert.ID,
				"error", err)
			continue
		}

		if err := t.store.DeleteDigestEntries(first.AlertID, first.PeriodStart); err != nil {
			getLogger().Warn("failed to delete flushed digest entries",
				"alert_id", first.AlertID,
				"error", err)
		}

		if t.metrics != nil {
			t.metrics.EmittedTotal.WithLabelValues(string(datastore.TypeDigest)).Inc()
			t.metrics.DigestsFlushedTotal.Inc()
		}
		t.handOff(ctx, n)
		emitted = append(emitted, *n)
	}

	return emitted, nil
}

func (t *Throttler) buildDigest(alert *datastore.Alert, entries []datastore.DigestEntry) (*datastore.Notification, error) {
	items := make([]json.RawMessage, 0, len(entries))
	for i := range entries {
		items = append(items, json.RawMessage(entries[i].Payload))
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, errors.New(err).
			Component("notify").
			Category(errors.CategoryThrottle).
			Context("alert_id", alert.ID).
			Build()
	}

	period := "Daily"
	if entries[0].Frequency == datastore.FrequencyWeekly {
		period = "Weekly"
	}

	alertID := alert.ID
	return &datastore.Notification{
		PublicID:   uuid.NewString(),
		AlertID:    &alertID,
		Type:       datastore.TypeDigest,
		Status:     datastore.StatusPending,
		Title:      fmt.Sprintf("%s digest: %d matches for %q", period, len(items), alert.Name),
		Message:    fmt.Sprintf("%d listings matched your alert %q.", len(items), alert.Name),
		Payload:    string(payload),
		MaxRetries: t.settings.DefaultRetries,
	}, nil
}
