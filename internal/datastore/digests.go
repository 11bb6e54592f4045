// digests.go: persistence for buffered digest matches. Daily and weekly
// alert matches are written here at match time and drained once their
// wall-clock period has ended, so a match buffered by one pass survives
// process restarts until a later pass flushes it.
package datastore

import (
	"time"

	"github.com/tphakala/autoscout-go/internal/errors"
)

// AddDigestEntry buffers one match for a later digest. The composite unique
// index on (alert_id, listing_id, period_start) rejects a listing already
// buffered for the alert's period; that case surfaces as
// ErrDuplicateDigestEntry without having persisted anything.
func (ds *DataStore) AddDigestEntry(entry *DigestEntry) error {
	if entry == nil {
		return validationError("digest entry cannot be nil", "digest_entry", nil)
	}
	if entry.AlertID == 0 || entry.ListingID == 0 {
		return validationError("digest entry must reference an alert and a listing", "digest_entry", entry)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := ds.DB.Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDigestEntry
		}
		return dbError(err, "add_digest_entry", errors.PriorityMedium,
			"alert_id", entry.AlertID,
			"listing_id", entry.ListingID)
	}
	return nil
}

// DigestEntriesDue returns all buffered matches whose period has ended,
// ordered so entries of one (alert, period) group are contiguous.
func (ds *DataStore) DigestEntriesDue(now time.Time) ([]DigestEntry, error) {
	var entries []DigestEntry
	err := ds.DB.Where("period_end <= ?", now).
		Order("alert_id ASC, period_start ASC, created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "digest_entries_due", errors.PriorityMedium)
	}
	return entries, nil
}

// DeleteDigestEntries removes all buffered matches of one alert period,
// typically after the period's digest notification has been emitted.
func (ds *DataStore) DeleteDigestEntries(alertID uint, periodStart time.Time) error {
	result := ds.DB.Where("alert_id = ? AND period_start = ?", alertID, periodStart).
		Delete(&DigestEntry{})
	if result.Error != nil {
		return dbError(result.Error, "delete_digest_entries", errors.PriorityMedium,
			"alert_id", alertID)
	}
	return nil
}
