// memory.go: in-memory store implementation. Backs unit tests and alert dry
// runs; semantics mirror the GORM store, including the sentinels and the
// uniqueness rule on (alert_id, listing_id, type).
package datastore

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Interface with plain maps guarded by a mutex.
type MemoryStore struct {
	mu sync.RWMutex

	listings      map[uint]*Listing
	listingKeys   map[string]uint // dedup key -> listing ID
	priceHistory  map[uint][]PriceHistoryEntry
	alerts        map[uint]*Alert
	digestEntries map[uint]*DigestEntry
	digestKeys    map[digestEntryKey]uint // (alertID, listingID, period) -> entry ID
	notifications map[uint]*Notification
	notifPairs    map[pairKey]uint // (alertID, listingID, type) -> notification ID

	nextListingID uint
	nextAlertID   uint
	nextDigestID  uint
	nextNotifID   uint
	nextHistoryID uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:      make(map[uint]*Listing),
		listingKeys:   make(map[string]uint),
		priceHistory:  make(map[uint][]PriceHistoryEntry),
		alerts:        make(map[uint]*Alert),
		digestEntries: make(map[uint]*DigestEntry),
		digestKeys:    make(map[digestEntryKey]uint),
		notifications: make(map[uint]*Notification),
		notifPairs:    make(map[pairKey]uint),
	}
}

func (ms *MemoryStore) Open() error  { return nil }
func (ms *MemoryStore) Close() error { return nil }

func copyListing(l *Listing) *Listing {
	c := *l
	if l.Latitude != nil {
		lat := *l.Latitude
		c.Latitude = &lat
	}
	if l.Longitude != nil {
		lon := *l.Longitude
		c.Longitude = &lon
	}
	c.PriceHistory = nil
	return &c
}

func copyAlert(a *Alert) *Alert {
	c := *a
	if a.LastTriggeredAt != nil {
		t := *a.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}

func copyNotification(n *Notification) *Notification {
	c := *n
	if n.AlertID != nil {
		id := *n.AlertID
		c.AlertID = &id
	}
	if n.ListingID != nil {
		id := *n.ListingID
		c.ListingID = &id
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}

// GetListing retrieves a listing by internal ID.
func (ms *MemoryStore) GetListing(id uint) (*Listing, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	l, ok := ms.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return copyListing(l), nil
}

// GetListingByKey retrieves a listing by its dedup key.
func (ms *MemoryStore) GetListingByKey(sourceSite, externalID string) (*Listing, error) {
	if sourceSite == "" || externalID == "" {
		return nil, validationError("dedup key fields cannot be empty", "source_site/external_id", sourceSite+"/"+externalID)
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	id, ok := ms.listingKeys[sourceSite+"/"+externalID]
	if !ok {
		return nil, ErrListingNotFound
	}
	return copyListing(ms.listings[id]), nil
}

// InsertListing creates a new listing.
func (ms *MemoryStore) InsertListing(listing *Listing) error {
	if listing == nil {
		return validationError("listing cannot be nil", "listing", nil)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := listing.Key()
	if _, exists := ms.listingKeys[key]; exists {
		return validationError("listing already exists", "key", key)
	}

	ms.nextListingID++
	listing.ID = ms.nextListingID
	if listing.Version == 0 {
		listing.Version = 1
	}
	ms.listings[listing.ID] = copyListing(listing)
	ms.listingKeys[key] = listing.ID
	return nil
}

// UpdateListing applies an optimistic-locked update.
func (ms *MemoryStore) UpdateListing(listing *Listing) error {
	if listing == nil || listing.ID == 0 {
		return validationError("listing must have an ID for update", "listing_id", 0)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored, ok := ms.listings[listing.ID]
	if !ok {
		return ErrListingNotFound
	}
	if stored.Version != listing.Version {
		return ErrOptimisticLock
	}

	listing.Version++
	listing.UpdatedAt = time.Now()
	updated := copyListing(listing)
	updated.FirstSeenAt = stored.FirstSeenAt
	ms.listings[listing.ID] = updated
	return nil
}

// TouchListing refreshes LastSeenAt only.
func (ms *MemoryStore) TouchListing(id uint, seenAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	l, ok := ms.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	l.LastSeenAt = seenAt
	return nil
}

// ListingsSeenSince returns listings last seen at or after the given time.
func (ms *MemoryStore) ListingsSeenSince(since time.Time) ([]Listing, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var listings []Listing
	for _, l := range ms.listings {
		if !l.LastSeenAt.Before(since) {
			listings = append(listings, *copyListing(l))
		}
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].LastSeenAt.After(listings[j].LastSeenAt)
	})
	return listings, nil
}

// MarkInactiveNotSeenSince soft-deletes stale active listings.
func (ms *MemoryStore) MarkInactiveNotSeenSince(cutoff time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var swept int64
	for _, l := range ms.listings {
		if l.Active && l.LastSeenAt.Before(cutoff) {
			l.Active = false
			swept++
		}
	}
	return swept, nil
}

// AddPriceHistory appends a price change record.
func (ms *MemoryStore) AddPriceHistory(entry *PriceHistoryEntry) error {
	if entry == nil || entry.ListingID == 0 {
		return validationError("price history entry must reference a listing", "listing_id", 0)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nextHistoryID++
	entry.ID = ms.nextHistoryID
	ms.priceHistory[entry.ListingID] = append(ms.priceHistory[entry.ListingID], *entry)
	return nil
}

// GetPriceHistory returns price changes for a listing, oldest first.
func (ms *MemoryStore) GetPriceHistory(listingID uint) ([]PriceHistoryEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	entries := make([]PriceHistoryEntry, len(ms.priceHistory[listingID]))
	copy(entries, ms.priceHistory[listingID])
	return entries, nil
}

// GetAlert retrieves an alert by ID.
func (ms *MemoryStore) GetAlert(id uint) (*Alert, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	a, ok := ms.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return copyAlert(a), nil
}

// GetActiveAlerts returns all active alerts ordered by ID.
func (ms *MemoryStore) GetActiveAlerts() ([]Alert, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var alerts []Alert
	for _, a := range ms.alerts {
		if a.Active {
			alerts = append(alerts, *copyAlert(a))
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// SaveAlert creates or updates an alert.
func (ms *MemoryStore) SaveAlert(alert *Alert) error {
	if alert == nil {
		return validationError("alert cannot be nil", "alert", nil)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if alert.ID == 0 {
		ms.nextAlertID++
		alert.ID = ms.nextAlertID
		alert.CreatedAt = time.Now()
	}
	alert.UpdatedAt = time.Now()
	ms.alerts[alert.ID] = copyAlert(alert)
	return nil
}

// DeleteAlert removes an alert, leaving notifications with a nil alert id.
func (ms *MemoryStore) DeleteAlert(id uint) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.alerts[id]; !ok {
		return ErrAlertNotFound
	}
	delete(ms.alerts, id)
	for _, n := range ms.notifications {
		if n.AlertID != nil && *n.AlertID == id {
			n.AlertID = nil
		}
	}
	return nil
}

// digestEntryKey mirrors the composite unique index on the digest entries
// table. Period start is kept as a Unix timestamp so the key stays comparable.
type digestEntryKey struct {
	alertID   uint
	listingID uint
	period    int64
}

// AddDigestEntry buffers one match for a later digest, rejecting a listing
// already buffered for the alert's period.
func (ms *MemoryStore) AddDigestEntry(entry *DigestEntry) error {
	if entry == nil {
		return validationError("digest entry cannot be nil", "digest_entry", nil)
	}
	if entry.AlertID == 0 || entry.ListingID == 0 {
		return validationError("digest entry must reference an alert and a listing", "digest_entry", entry)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := digestEntryKey{entry.AlertID, entry.ListingID, entry.PeriodStart.Unix()}
	if _, exists := ms.digestKeys[key]; exists {
		return ErrDuplicateDigestEntry
	}

	ms.nextDigestID++
	entry.ID = ms.nextDigestID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	stored := *entry
	ms.digestEntries[entry.ID] = &stored
	ms.digestKeys[key] = entry.ID
	return nil
}

// DigestEntriesDue returns buffered matches whose period has ended, ordered
// by alert, period start and creation time.
func (ms *MemoryStore) DigestEntriesDue(now time.Time) ([]DigestEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var due []DigestEntry
	for _, e := range ms.digestEntries {
		if !e.PeriodEnd.After(now) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].AlertID != due[j].AlertID {
			return due[i].AlertID < due[j].AlertID
		}
		if !due[i].PeriodStart.Equal(due[j].PeriodStart) {
			return due[i].PeriodStart.Before(due[j].PeriodStart)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

// DeleteDigestEntries removes all buffered matches of one alert period.
func (ms *MemoryStore) DeleteDigestEntries(alertID uint, periodStart time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	period := periodStart.Unix()
	for id, e := range ms.digestEntries {
		if e.AlertID == alertID && e.PeriodStart.Unix() == period {
			delete(ms.digestEntries, id)
			delete(ms.digestKeys, digestEntryKey{e.AlertID, e.ListingID, period})
		}
	}
	return nil
}

// pairKey mirrors the composite unique index on the notifications table.
type pairKey struct {
	alertID   uint
	listingID uint
	typ       NotificationType
}

// HasNotification reports whether the (alert, listing) pair has emitted a
// notification of any type.
func (ms *MemoryStore) HasNotification(alertID, listingID uint) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for key := range ms.notifPairs {
		if key.alertID == alertID && key.listingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

// CountNotificationsSince counts notifications for an alert in the window.
func (ms *MemoryStore) CountNotificationsSince(alertID uint, since time.Time) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.countSinceLocked(alertID, since), nil
}

func (ms *MemoryStore) countSinceLocked(alertID uint, since time.Time) int64 {
	var count int64
	for _, n := range ms.notifications {
		if n.AlertID != nil && *n.AlertID == alertID && !n.CreatedAt.Before(since) {
			count++
		}
	}
	return count
}

// EmitNotification mirrors the transactional GORM implementation: cap check,
// uniqueness check, insert and trigger bookkeeping happen under one lock.
func (ms *MemoryStore) EmitNotification(n *Notification, maxPerDay int, capWindow time.Duration) error {
	if n == nil {
		return validationError("notification cannot be nil", "notification", nil)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	if n.AlertID != nil && maxPerDay > 0 {
		if ms.countSinceLocked(*n.AlertID, now.Add(-capWindow)) >= int64(maxPerDay) {
			return ErrDailyCapExceeded
		}
	}

	if n.AlertID != nil && n.ListingID != nil {
		pair := pairKey{*n.AlertID, *n.ListingID, n.Type}
		if _, exists := ms.notifPairs[pair]; exists {
			return ErrDuplicateNotification
		}
	}

	ms.nextNotifID++
	n.ID = ms.nextNotifID
	ms.notifications[n.ID] = copyNotification(n)
	if n.AlertID != nil && n.ListingID != nil {
		ms.notifPairs[pairKey{*n.AlertID, *n.ListingID, n.Type}] = n.ID
	}

	if n.AlertID != nil {
		if alert, ok := ms.alerts[*n.AlertID]; ok {
			alert.TriggerCount++
			triggeredAt := now
			alert.LastTriggeredAt = &triggeredAt
		}
	}
	return nil
}

// GetNotificationByPublicID retrieves a notification by its UUID.
func (ms *MemoryStore) GetNotificationByPublicID(publicID string) (*Notification, error) {
	if publicID == "" {
		return nil, validationError("public ID cannot be empty", "public_id", "")
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, n := range ms.notifications {
		if n.PublicID == publicID {
			return copyNotification(n), nil
		}
	}
	return nil, ErrNotificationNotFound
}

// UpdateNotificationStatus records a delivery status report.
func (ms *MemoryStore) UpdateNotificationStatus(publicID string, status NotificationStatus, retryCount int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, n := range ms.notifications {
		if n.PublicID == publicID {
			n.Status = status
			n.RetryCount = retryCount
			if status == StatusSent || status == StatusDelivered {
				sentAt := time.Now()
				n.SentAt = &sentAt
			}
			return nil
		}
	}
	return ErrNotificationNotFound
}

// ListPendingNotifications returns pending notifications, oldest first.
func (ms *MemoryStore) ListPendingNotifications(limit int) ([]Notification, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var pending []Notification
	for _, n := range ms.notifications {
		if n.Status == StatusPending {
			pending = append(pending, *copyNotification(n))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkNotificationRead sets the read flag.
func (ms *MemoryStore) MarkNotificationRead(id uint) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	n, ok := ms.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Read = true
	return nil
}

var _ Interface = (*MemoryStore)(nil)
