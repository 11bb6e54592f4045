package datastore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedListing() *Listing {
	return &Listing{
		SourceSite: "mobile.de",
		ExternalID: "12345",
		Make:       "BMW",
		Model:      "320d",
		Year:       2019,
		Price:      20000,
		Currency:   "EUR",
		Mileage:    80000,
		Active:     true,
		LastSeenAt: time.Now(),
	}
}

func TestMemoryStoreListingRoundTrip(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	listing := storedListing()

	require.NoError(t, ms.InsertListing(listing))
	assert.NotZero(t, listing.ID)
	assert.Equal(t, 1, listing.Version)

	byID, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "320d", byID.Model)

	byKey, err := ms.GetListingByKey("mobile.de", "12345")
	require.NoError(t, err)
	assert.Equal(t, listing.ID, byKey.ID)

	_, err = ms.GetListingByKey("mobile.de", "no-such")
	assert.ErrorIs(t, err, ErrListingNotFound)

	err = ms.InsertListing(storedListing())
	assert.Error(t, err, "duplicate dedup key must be rejected")
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	listing := storedListing()
	require.NoError(t, ms.InsertListing(listing))

	first, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	first.Price = 1

	second, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), second.Price, "mutating a returned listing must not affect the store")
}

func TestMemoryStoreOptimisticLock(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	listing := storedListing()
	require.NoError(t, ms.InsertListing(listing))

	a, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	b, err := ms.GetListing(listing.ID)
	require.NoError(t, err)

	a.Price = 19000
	require.NoError(t, ms.UpdateListing(a))
	assert.Equal(t, 2, a.Version)

	// The second writer still holds the old version.
	b.Price = 18500
	assert.ErrorIs(t, ms.UpdateListing(b), ErrOptimisticLock)

	stored, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(19000), stored.Price, "the losing write must not apply")
}

func TestMemoryStoreTouchListing(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	listing := storedListing()
	require.NoError(t, ms.InsertListing(listing))

	seenAt := time.Now().Add(time.Hour)
	require.NoError(t, ms.TouchListing(listing.ID, seenAt))

	stored, err := ms.GetListing(listing.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, seenAt, stored.LastSeenAt, time.Millisecond)
	assert.Equal(t, int64(20000), stored.Price)

	assert.ErrorIs(t, ms.TouchListing(9999, seenAt), ErrListingNotFound)
}

func TestMemoryStoreMarkInactive(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()

	stale := storedListing()
	stale.LastSeenAt = time.Now().Add(-100 * time.Hour)
	require.NoError(t, ms.InsertListing(stale))

	fresh := storedListing()
	fresh.ExternalID = "67890"
	require.NoError(t, ms.InsertListing(fresh))

	swept, err := ms.MarkInactiveNotSeenSince(time.Now().Add(-72 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	// Already inactive listings are not swept again.
	swept, err = ms.MarkInactiveNotSeenSince(time.Now().Add(-72 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestMemoryStoreAlerts(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()

	active := &Alert{Name: "active", Active: true}
	inactive := &Alert{Name: "inactive", Active: false}
	require.NoError(t, ms.SaveAlert(active))
	require.NoError(t, ms.SaveAlert(inactive))

	alerts, err := ms.GetActiveAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "active", alerts[0].Name)

	active.Name = "renamed"
	require.NoError(t, ms.SaveAlert(active))
	stored, err := ms.GetAlert(active.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)

	require.NoError(t, ms.DeleteAlert(active.ID))
	_, err = ms.GetAlert(active.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestMemoryStoreDeleteAlertDetachesNotifications(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	alert := &Alert{Name: "doomed", Active: true}
	require.NoError(t, ms.SaveAlert(alert))

	alertID := alert.ID
	listingID := uint(1)
	n := &Notification{
		PublicID:  "n-1",
		AlertID:   &alertID,
		ListingID: &listingID,
		Type:      TypeListingMatch,
		Status:    StatusPending,
	}
	require.NoError(t, ms.EmitNotification(n, 10, 24*time.Hour))

	require.NoError(t, ms.DeleteAlert(alert.ID))

	kept, err := ms.GetNotificationByPublicID("n-1")
	require.NoError(t, err)
	assert.Nil(t, kept.AlertID, "notification history survives alert deletion")
}

func TestMemoryStoreEmitNotificationCap(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	alert := &Alert{Name: "capped", Active: true}
	require.NoError(t, ms.SaveAlert(alert))
	alertID := alert.ID

	for i := uint(1); i <= 2; i++ {
		listingID := i
		n := &Notification{
			PublicID:  "n-" + string(rune('0'+i)),
			AlertID:   &alertID,
			ListingID: &listingID,
			Type:      TypeListingMatch,
			Status:    StatusPending,
		}
		require.NoError(t, ms.EmitNotification(n, 2, 24*time.Hour))
	}

	listingID := uint(3)
	over := &Notification{
		PublicID:  "n-3",
		AlertID:   &alertID,
		ListingID: &listingID,
		Type:      TypeListingMatch,
		Status:    StatusPending,
	}
	err := ms.EmitNotification(over, 2, 24*time.Hour)
	assert.ErrorIs(t, err, ErrDailyCapExceeded)

	// The rejected emission leaves no trace.
	count, err := ms.CountNotificationsSince(alertID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stored, err := ms.GetAlert(alertID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TriggerCount)
}

// The cap check, the insert and the bookkeeping must behave as one atomic
// step. Concurrent emitters racing on the same alert may never push the
// persisted count past the cap.
func TestMemoryStoreEmitNotificationCapConcurrent(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	alert := &Alert{Name: "contended", Active: true}
	require.NoError(t, ms.SaveAlert(alert))
	alertID := alert.ID

	const (
		workers   = 20
		maxPerDay = 5
	)

	var wg sync.WaitGroup
	var emitted, capped atomic.Int64
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			listingID := uint(i)
			n := &Notification{
				PublicID:  fmt.Sprintf("race-%d", i),
				AlertID:   &alertID,
				ListingID: &listingID,
				Type:      TypeListingMatch,
				Status:    StatusPending,
			}
			switch err := ms.EmitNotification(n, maxPerDay, 24*time.Hour); {
			case err == nil:
				emitted.Add(1)
			default:
				assert.ErrorIs(t, err, ErrDailyCapExceeded)
				capped.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(maxPerDay), emitted.Load())
	assert.Equal(t, int64(workers-maxPerDay), capped.Load())

	count, err := ms.CountNotificationsSince(alertID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(maxPerDay), count)

	stored, err := ms.GetAlert(alertID)
	require.NoError(t, err)
	assert.Equal(t, maxPerDay, stored.TriggerCount)
}

func TestMemoryStoreDigestEntries(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	now := time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC)
	day := time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)

	entry := func(alertID, listingID uint) *DigestEntry {
		return &DigestEntry{
			AlertID:     alertID,
			ListingID:   listingID,
			Frequency:   FrequencyDaily,
			PeriodStart: day,
			PeriodEnd:   day.AddDate(0, 0, 1),
			CreatedAt:   now,
		}
	}

	require.NoError(t, ms.AddDigestEntry(entry(1, 10)))
	require.NoError(t, ms.AddDigestEntry(entry(1, 11)))
	require.NoError(t, ms.AddDigestEntry(entry(2, 10)))

	// A listing can be buffered only once per alert period.
	err := ms.AddDigestEntry(entry(1, 10))
	assert.ErrorIs(t, err, ErrDuplicateDigestEntry)

	err = ms.AddDigestEntry(&DigestEntry{AlertID: 1})
	assert.Error(t, err, "entry without a listing must be rejected")

	// Nothing is due while the period is still open.
	due, err := ms.DigestEntriesDue(now)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = ms.DigestEntriesDue(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, uint(1), due[0].AlertID, "entries ordered by alert")
	assert.Equal(t, uint(2), due[2].AlertID)

	require.NoError(t, ms.DeleteDigestEntries(1, day))

	due, err = ms.DigestEntriesDue(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint(2), due[0].AlertID, "deletion is scoped to one alert period")
}

func TestMemoryStoreEmitNotificationPairUniqueness(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	alertID := uint(1)
	listingID := uint(2)

	newNotif := func(publicID string, typ NotificationType) *Notification {
		return &Notification{
			PublicID:  publicID,
			AlertID:   &alertID,
			ListingID: &listingID,
			Type:      typ,
			Status:    StatusPending,
		}
	}

	require.NoError(t, ms.EmitNotification(newNotif("n-1", TypeListingMatch), 10, 24*time.Hour))

	err := ms.EmitNotification(newNotif("n-2", TypeListingMatch), 10, 24*time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateNotification)

	// A different type for the same pair is allowed once.
	require.NoError(t, ms.EmitNotification(newNotif("n-3", TypePriceDrop), 10, 24*time.Hour))
	err = ms.EmitNotification(newNotif("n-4", TypePriceDrop), 10, 24*time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateNotification)

	has, err := ms.HasNotification(alertID, listingID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = ms.HasNotification(alertID, 999)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStoreNotificationStatus(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	alertID := uint(1)
	listingID := uint(1)
	n := &Notification{
		PublicID:  "n-1",
		AlertID:   &alertID,
		ListingID: &listingID,
		Type:      TypeListingMatch,
		Status:    StatusPending,
	}
	require.NoError(t, ms.EmitNotification(n, 10, 24*time.Hour))

	pending, err := ms.ListPendingNotifications(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, ms.UpdateNotificationStatus("n-1", StatusSent, 1))
	stored, err := ms.GetNotificationByPublicID("n-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotNil(t, stored.SentAt)

	pending, err = ms.ListPendingNotifications(10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, ms.MarkNotificationRead(stored.ID))
	stored, err = ms.GetNotificationByPublicID("n-1")
	require.NoError(t, err)
	assert.True(t, stored.Read)

	assert.ErrorIs(t, ms.UpdateNotificationStatus("no-such", StatusSent, 0), ErrNotificationNotFound)
}

func TestMemoryStorePriceHistoryOrder(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	listing := storedListing()
	require.NoError(t, ms.InsertListing(listing))

	for i, price := range []int64{19000, 18000, 17500} {
		entry := &PriceHistoryEntry{
			ListingID:  listing.ID,
			OldPrice:   20000,
			NewPrice:   price,
			ObservedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, ms.AddPriceHistory(entry))
	}

	history, err := ms.GetPriceHistory(listing.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(19000), history[0].NewPrice, "insertion order is preserved")
	assert.Equal(t, int64(17500), history[2].NewPrice)
}
