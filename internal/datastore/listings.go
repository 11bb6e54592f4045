// listings.go: listing and price history operations on the GORM store
package datastore

import (
	"time"

	"github.com/tphakala/autoscout-go/internal/errors"
	"gorm.io/gorm"
)

// GetListing retrieves a listing by its internal ID.
func (ds *DataStore) GetListing(id uint) (*Listing, error) {
	var listing Listing
	if err := ds.DB.First(&listing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, dbError(err, "get_listing", errors.PriorityMedium, "listing_id", id)
	}
	return &listing, nil
}

// GetListingByKey retrieves a listing by its dedup key. Returns
// ErrListingNotFound when no listing with that key has been seen.
func (ds *DataStore) GetListingByKey(sourceSite, externalID string) (*Listing, error) {
	if sourceSite == "" || externalID == "" {
		return nil, validationError("dedup key fields cannot be empty", "source_site/external_id", sourceSite+"/"+externalID)
	}

	var listing Listing
	err := ds.DB.Where("source_site = ? AND external_id = ?", sourceSite, externalID).
		First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, dbError(err, "get_listing_by_key", errors.PriorityMedium,
			"source_site", sourceSite,
			"external_id", externalID)
	}
	return &listing, nil
}

// InsertListing creates a new listing row.
func (ds *DataStore) InsertListing(listing *Listing) error {
	if listing == nil {
		return validationError("listing cannot be nil", "listing", nil)
	}
	if listing.Version == 0 {
		listing.Version = 1
	}
	if err := ds.DB.Create(listing).Error; err != nil {
		return dbError(err, "insert_listing", errors.PriorityHigh,
			"source_site", listing.SourceSite,
			"external_id", listing.ExternalID)
	}
	return nil
}

// UpdateListing persists listing content with an optimistic version check.
// The update only applies when the stored Version matches the one the caller
// read; the version is incremented in the same statement so two racing
// writers cannot both succeed.
func (ds *DataStore) UpdateListing(listing *Listing) error {
	if listing == nil || listing.ID == 0 {
		return validationError("listing must have an ID for update", "listing_id", 0)
	}

	readVersion := listing.Version
	listing.Version = readVersion + 1
	listing.UpdatedAt = time.Now()

	result := ds.DB.Model(&Listing{}).
		Where("id = ? AND version = ?", listing.ID, readVersion).
		Select("*").
		Omit("id", "first_seen_at").
		Updates(listing)

	if result.Error != nil {
		listing.Version = readVersion
		return dbError(result.Error, "update_listing", errors.PriorityHigh,
			"listing_id", listing.ID)
	}
	if result.RowsAffected == 0 {
		listing.Version = readVersion
		return ErrOptimisticLock
	}
	return nil
}

// TouchListing refreshes LastSeenAt for an unchanged duplicate sighting.
func (ds *DataStore) TouchListing(id uint, seenAt time.Time) error {
	result := ds.DB.Model(&Listing{}).
		Where("id = ?", id).
		Update("last_seen_at", seenAt)
	if result.Error != nil {
		return dbError(result.Error, "touch_listing", errors.PriorityLow, "listing_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrListingNotFound
	}
	return nil
}

// ListingsSeenSince returns listings last seen at or after the given time,
// newest first. Used by the alert dry-run window.
func (ds *DataStore) ListingsSeenSince(since time.Time) ([]Listing, error) {
	var listings []Listing
	err := ds.DB.Where("last_seen_at >= ?", since).
		Order("last_seen_at DESC").
		Find(&listings).Error
	if err != nil {
		return nil, dbError(err, "listings_seen_since", errors.PriorityMedium,
			"since", since.Format(time.RFC3339))
	}
	return listings, nil
}

// MarkInactiveNotSeenSince soft-deletes active listings not seen since the
// cutoff. Returns the number of listings swept.
func (ds *DataStore) MarkInactiveNotSeenSince(cutoff time.Time) (int64, error) {
	result := ds.DB.Model(&Listing{}).
		Where("active = ? AND last_seen_at < ?", true, cutoff).
		Update("active", false)
	if result.Error != nil {
		return 0, dbError(result.Error, "mark_inactive", errors.PriorityMedium,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return result.RowsAffected, nil
}

// AddPriceHistory appends a price change record for a listing.
func (ds *DataStore) AddPriceHistory(entry *PriceHistoryEntry) error {
	if entry == nil || entry.ListingID == 0 {
		return validationError("price history entry must reference a listing", "listing_id", 0)
	}
	if err := ds.DB.Create(entry).Error; err != nil {
		return dbError(err, "add_price_history", errors.PriorityMedium,
			"listing_id", entry.ListingID)
	}
	return nil
}

// GetPriceHistory returns all price changes for a listing, oldest first.
func (ds *DataStore) GetPriceHistory(listingID uint) ([]PriceHistoryEntry, error) {
	var entries []PriceHistoryEntry
	err := ds.DB.Where("listing_id = ?", listingID).
		Order("observed_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "get_price_history", errors.PriorityMedium,
			"listing_id", listingID)
	}
	return entries, nil
}
