package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
)

func ptr[T any](v T) *T { return &v }

func testNotifySettings() conf.NotifySettings {
	return conf.NotifySettings{
		DefaultMaxPerDay: 10,
		CapWindow:        24 * time.Hour,
		DispatchPerMin:   6000,
		DispatchBurst:    100,
		LookasideTTL:     time.Minute,
		DefaultRetries:   3,
	}
}

// recordingDispatcher captures handed-off notifications.
type recordingDispatcher struct {
	mu     sync.Mutex
	handed []datastore.Notification
}

func (rd *recordingDispatcher) Dispatch(_ context.Context, n *datastore.Notification) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.handed = append(rd.handed, *n)
	return nil
}

func (rd *recordingDispatcher) count() int {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return len(rd.handed)
}

func testListing(id uint) *datastore.Listing {
	return &datastore.Listing{
		ID:         id,
		SourceSite: "mobile.de",
		ExternalID: "ext-" + string(rune('0'+id)),
		Make:       "BMW",
		Model:      "320d",
		Year:       2019,
		Price:      20000,
		Currency:   "EUR",
		Mileage:    80000,
		Active:     true,
	}
}

func TestProcessEnforcesDailyCap(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bmw", Active: true, MaxPerDay: 5}
	require.NoError(t, store.SaveAlert(alert))

	dispatcher := &recordingDispatcher{}
	throttler := NewThrottler(store, testNotifySettings(), dispatcher, nil)

	matches := make([]MatchResult, 0, 6)
	for i := uint(1); i <= 6; i++ {
		matches = append(matches, MatchResult{
			Alert:   *alert,
			Listing: testListing(i),
			Reason:  ReasonNewListing,
		})
	}

	emitted, err := throttler.Process(context.Background(), matches)
	require.NoError(t, err)
	assert.Len(t, emitted, 5, "sixth match exceeds the cap of five")
	assert.Equal(t, 5, dispatcher.count())

	count, err := store.CountNotificationsSince(alert.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	stored, err := store.GetAlert(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.TriggerCount, "suppressed matches never bump trigger bookkeeping")
	assert.NotNil(t, stored.LastTriggeredAt)
}

func TestProcessSuppressesDuplicatePairs(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bmw", Active: true}
	require.NoError(t, store.SaveAlert(alert))

	throttler := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)
	match := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}

	emitted, err := throttler.Process(context.Background(), []MatchResult{match})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	// Same pair on a later pass, regardless of reason.
	again := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonPriceUpdate, OldPrice: 20000}
	emitted, err = throttler.Process(context.Background(), []MatchResult{again})
	require.NoError(t, err)
	assert.Empty(t, emitted)

	count, err := store.CountNotificationsSince(alert.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessDuplicateSurvivesColdLookaside(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bmw", Active: true}
	require.NoError(t, store.SaveAlert(alert))

	match := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}

	first := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)
	emitted, err := first.Process(context.Background(), []MatchResult{match})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	// A fresh throttler has an empty lookaside cache; the store still
	// suppresses the pair.
	second := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)
	emitted, err = second.Process(context.Background(), []MatchResult{match})
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestProcessPriceDropIntoRangeRenotifies(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bargain bmw", Active: true, MaxPrice: ptr(int64(19000))}
	require.NoError(t, store.SaveAlert(alert))

	throttler := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)

	first := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}
	emitted, err := throttler.Process(context.Background(), []MatchResult{first})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, datastore.TypeListingMatch, emitted[0].Type)

	// Price drops from above the alert's maximum to within it.
	dropped := testListing(1)
	dropped.Price = 18000
	update := MatchResult{Alert: *alert, Listing: dropped, Reason: ReasonPriceUpdate, OldPrice: 25000}

	emitted, err = throttler.Process(context.Background(), []MatchResult{update})
	require.NoError(t, err)
	require.Len(t, emitted, 1, "a price drop into a previously failing range re-notifies")
	assert.Equal(t, datastore.TypePriceDrop, emitted[0].Type)
	assert.Contains(t, emitted[0].Title, "Price drop")

	// The same drop reported again stays suppressed.
	emitted, err = throttler.Process(context.Background(), []MatchResult{update})
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestProcessPriceChangeWithinRangeStaysSuppressed(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bargain bmw", Active: true, MaxPrice: ptr(int64(25000))}
	require.NoError(t, store.SaveAlert(alert))

	throttler := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)

	first := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}
	emitted, err := throttler.Process(context.Background(), []MatchResult{first})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	// Both prices satisfy the bound: no re-notification.
	dropped := testListing(1)
	dropped.Price = 19000
	update := MatchResult{Alert: *alert, Listing: dropped, Reason: ReasonPriceUpdate, OldPrice: 20000}

	emitted, err = throttler.Process(context.Background(), []MatchResult{update})
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestProcessNotificationContent(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bmw", Active: true}
	require.NoError(t, store.SaveAlert(alert))

	throttler := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)
	match := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}

	emitted, err := throttler.Process(context.Background(), []MatchResult{match})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	n := emitted[0]
	assert.NotEmpty(t, n.PublicID)
	assert.Equal(t, datastore.StatusPending, n.Status)
	assert.Equal(t, "BMW 320d (2019)", n.Title)
	assert.Contains(t, n.Payload, `"external_id":"ext-1"`)
	require.NotNil(t, n.AlertID)
	assert.Equal(t, alert.ID, *n.AlertID)
}

func TestRecordDeliveryStatus(t *testing.T) {
	t.Parallel()

	store := datastore.NewMemoryStore()
	alert := &datastore.Alert{Name: "bmw", Active: true}
	require.NoError(t, store.SaveAlert(alert))

	throttler := NewThrottler(store, testNotifySettings(), &recordingDispatcher{}, nil)
	match := MatchResult{Alert: *alert, Listing: testListing(1), Reason: ReasonNewListing}
	emitted, err := throttler.Process(context.Background(), []MatchResult{match})
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	publicID := emitted[0].PublicID
	require.NoError(t, throttler.RecordDeliveryStatus(publicID, datastore.StatusSent, 0))

	n, err := store.GetNotificationByPublicID(publicID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)

	require.NoError(t, throttler.RecordDeliveryStatus(publicID, datastore.StatusFailed, 3))
	n, err = store.GetNotificationByPublicID(publicID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, n.Status)
	assert.Equal(t, 3, n.RetryCount)

	assert.Error(t, throttler.RecordDeliveryStatus(publicID, "bogus", 0))
	assert.Error(t, throttler.RecordDeliveryStatus("no-such-id", datastore.StatusSent, 0))
}
