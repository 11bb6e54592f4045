package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/dedup"
	"github.com/tphakala/autoscout-go/internal/matcher"
	"github.com/tphakala/autoscout-go/internal/notify"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store     *datastore.MemoryStore
	engine    *dedup.Engine
	throttler *notify.Throttler
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := datastore.NewMemoryStore()
	engine := dedup.NewEngine(store, conf.DedupSettings{
		GraceWindow:     72 * time.Hour,
		ConflictRetries: 3,
		MileageBucketKm: 5000,
	}, nil)
	throttler := notify.NewThrottler(store, conf.NotifySettings{
		DefaultMaxPerDay: 10,
		CapWindow:        24 * time.Hour,
		DispatchPerMin:   6000,
		DispatchBurst:    100,
		DefaultRetries:   3,
	}, nil, nil)
	lm := matcher.NewLinearMatcher(nil, nil)
	runner := NewRunner(store, engine, lm, throttler, conf.PipelineSettings{Workers: 4})

	return &fixture{store: store, engine: engine, throttler: throttler, runner: runner}
}

func batch() []datastore.Listing {
	return []datastore.Listing{
		{
			SourceSite: "mobile.de",
			ExternalID: "bmw-1",
			Make:       "BMW",
			Model:      "320d",
			Year:       2019,
			Price:      20000,
			Currency:   "EUR",
			Mileage:    80000,
		},
		{
			SourceSite: "mobile.de",
			ExternalID: "audi-1",
			Make:       "Audi",
			Model:      "A4",
			Year:       2020,
			Price:      25000,
			Currency:   "EUR",
			Mileage:    40000,
		},
		{
			// Malformed: no price.
			SourceSite: "mobile.de",
			ExternalID: "broken-1",
			Make:       "VW",
			Model:      "Golf",
			Year:       2018,
		},
	}
}

func TestRunPassFullCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alert := &datastore.Alert{Name: "bmw watch", Active: true, Make: ptr("BMW")}
	require.NoError(t, f.store.SaveAlert(alert))

	report, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Listings)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 1, report.Rejected, "the malformed listing is rejected, not fatal")
	assert.Zero(t, report.Updated)
	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 1, report.Emitted)
	assert.NotEmpty(t, report.PassID)

	count, err := f.store.CountNotificationsSince(alert.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunPassIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alert := &datastore.Alert{Name: "bmw watch", Active: true, Make: ptr("BMW")}
	require.NoError(t, f.store.SaveAlert(alert))

	_, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)

	// Re-running the identical batch classifies everything as unchanged and
	// emits nothing new.
	report, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
	assert.Equal(t, 1, report.Rejected)
	assert.Zero(t, report.New)
	assert.Zero(t, report.Matches, "unchanged duplicates are not re-matched")
	assert.Zero(t, report.Emitted)

	count, err := f.store.CountNotificationsSince(alert.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunPassPriceDropRenotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alert := &datastore.Alert{Name: "bargain bmw", Active: true, Make: ptr("BMW"), MaxPrice: ptr(int64(25000))}
	require.NoError(t, f.store.SaveAlert(alert))

	first, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Emitted)

	// Price update within the alert's bound: re-matched but suppressed.
	updated := batch()
	updated[0].Price = 19000
	second, err := f.runner.RunPass(context.Background(), updated)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, second.Matches)
	assert.Zero(t, second.Emitted)

	listing, err := f.store.GetListingByKey("mobile.de", "bmw-1")
	require.NoError(t, err)
	history, err := f.store.GetPriceHistory(listing.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunPassPriceDropIntoRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Alert that the initial price of 20000 fails.
	alert := &datastore.Alert{Name: "under 19k", Active: true, Make: ptr("BMW"), MaxPrice: ptr(int64(19000))}
	require.NoError(t, f.store.SaveAlert(alert))

	first, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Zero(t, first.Matches)
	assert.Zero(t, first.Emitted)

	// The drop to 18000 brings the listing into range for the first time.
	updated := batch()
	updated[0].Price = 18000
	second, err := f.runner.RunPass(context.Background(), updated)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Matches)
	assert.Equal(t, 1, second.Emitted)
}

func TestRunPassBuffersDigests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alert := &datastore.Alert{Name: "daily bmw", Active: true, Make: ptr("BMW"), Frequency: datastore.FrequencyDaily}
	require.NoError(t, f.store.SaveAlert(alert))

	report, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matches)
	assert.Zero(t, report.Emitted, "daily matches wait for the period boundary")
	assert.Zero(t, report.Digests)

	flushed, err := f.throttler.FlushDigests(context.Background(), time.Now().Add(25*time.Hour))
	require.NoError(t, err)
	assert.Len(t, flushed, 1)
}

// One pass per process: the run that buffers a daily match exits, and the
// next day's run, with all-new components over the same store, must flush it.
func TestRunPassDigestsFlushAcrossRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alert := &datastore.Alert{Name: "daily bmw", Active: true, Make: ptr("BMW"), Frequency: datastore.FrequencyDaily}
	require.NoError(t, f.store.SaveAlert(alert))

	report, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matches)
	assert.Zero(t, report.Digests)

	restarted := notify.NewThrottler(f.store, conf.NotifySettings{
		DefaultMaxPerDay: 10,
		CapWindow:        24 * time.Hour,
		DispatchPerMin:   6000,
		DispatchBurst:    100,
		DefaultRetries:   3,
	}, nil, nil)
	flushed, err := restarted.FlushDigests(context.Background(), time.Now().Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	assert.Equal(t, datastore.TypeDigest, flushed[0].Type)
	assert.Equal(t, alert.ID, *flushed[0].AlertID)
}

func TestRunPassNoAlerts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	report, err := f.runner.RunPass(context.Background(), batch())
	require.NoError(t, err)
	assert.Equal(t, 2, report.New)
	assert.Zero(t, report.Matches)
	assert.Zero(t, report.Emitted)
}

func TestRunPassEmptyBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	report, err := f.runner.RunPass(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Listings)
	assert.Zero(t, report.New)
}

func TestRunPassCancelledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.RunPass(ctx, batch())
	assert.ErrorIs(t, err, context.Canceled)
}
