// throttler.go: turns match results into persisted notifications. The store
// is the authority for both the rolling cap and pair idempotence; the
// lookaside cache only short-circuits the common duplicate case.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/errors"
	"github.com/tphakala/autoscout-go/internal/observability/metrics"
	"golang.org/x/time/rate"
)

// Throttler enforces per-alert caps, pair idempotence and frequency
// batching, then hands persisted notifications to the dispatcher.
type Throttler struct {
	store      datastore.Interface
	settings   conf.NotifySettings
	dispatcher Dispatcher
	metrics    *metrics.NotifyMetrics

	lookaside *gocache.Cache // "alertID:listingID" -> struct{}
	limiter   *rate.Limiter  // paces dispatcher handoffs
}

// NewThrottler creates a throttler. dispatcher defaults to LogDispatcher and
// metrics may be nil.
func NewThrottler(store datastore.Interface, settings conf.NotifySettings, dispatcher Dispatcher, m *metrics.NotifyMetrics) *Throttler {
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	if settings.CapWindow <= 0 {
		settings.CapWindow = 24 * time.Hour
	}
	if settings.DispatchPerMin <= 0 {
		settings.DispatchPerMin = 60
	}
	if settings.DispatchBurst <= 0 {
		settings.DispatchBurst = 10
	}
	lookasideTTL := settings.LookasideTTL
	if lookasideTTL <= 0 {
		lookasideTTL = 30 * time.Minute
	}

	return &Throttler{
		store:      store,
		settings:   settings,
		dispatcher: dispatcher,
		metrics:    m,
		lookaside:  gocache.New(lookasideTTL, 2*lookasideTTL),
		limiter:    rate.NewLimiter(rate.Limit(float64(settings.DispatchPerMin)/60.0), settings.DispatchBurst),
	}
}

// Process handles one batch of match results. Immediate-frequency matches
// become notifications right away; daily and weekly matches are persisted as
// digest entries for the next flush after their period boundary. Suppressed
// matches are logged and counted, never silently dropped. Per-match failures
// do not abort the batch.
func (t *Throttler) Process(ctx context.Context, matches []MatchResult) ([]datastore.Notification, error) {
	var emitted []datastore.Notification

	for i := range matches {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		match := &matches[i]
		switch match.Alert.Frequency {
		case datastore.FrequencyDaily, datastore.FrequencyWeekly:
			if err := t.bufferDigest(match, time.Now()); err != nil {
				getLogger().Error("failed to buffer digest match",
					"alert_id", match.Alert.ID,
					"listing_id", match.Listing.ID,
					"error", err)
			}
		default:
			n, err := t.emitImmediate(ctx, match)
			if err != nil {
				getLogger().Error("failed to emit notification",
					"alert_id", match.Alert.ID,
					"listing_id", match.Listing.ID,
					"error", err)
				continue
			}
			if n != nil {
				emitted = append(emitted, *n)
			}
		}
	}

	return emitted, nil
}

// emitImmediate applies idempotence and cap rules for one match and persists
// the notification when it qualifies. Returns nil without error when the
// match was suppressed.
func (t *Throttler) emitImmediate(ctx context.Context, match *MatchResult) (*datastore.Notification, error) {
	alertID := match.Alert.ID
	listingID := match.Listing.ID
	pairKey := strconv.FormatUint(uint64(alertID), 10) + ":" + strconv.FormatUint(uint64(listingID), 10)

	notifType := datastore.TypeListingMatch

	if _, hot := t.lookaside.Get(pairKey); hot {
		if !t.priceNewlyInRange(match) {
			t.suppress("duplicate", match)
			return nil, nil
		}
		notifType = datastore.TypePriceDrop
	} else {
		exists, err := t.store.HasNotification(alertID, listingID)
		if err != nil {
			return nil, err
		}
		if exists {
			if !t.priceNewlyInRange(match) {
				t.suppress("duplicate", match)
				return nil, nil
			}
			// Price dropped into a previously failing range: the one case
			// where a pair may notify a second time.
			notifType = datastore.TypePriceDrop
		}
	}

	n, err := t.buildNotification(match, notifType)
	if err != nil {
		return nil, err
	}

	maxPerDay := match.Alert.MaxPerDay
	if maxPerDay <= 0 {
		maxPerDay = t.settings.DefaultMaxPerDay
	}

	err = t.store.EmitNotification(n, maxPerDay, t.settings.CapWindow)
	switch {
	case errors.Is(err, datastore.ErrDailyCapExceeded):
		t.suppress("daily_cap", match)
		return nil, nil
	case errors.Is(err, datastore.ErrDuplicateNotification):
		t.lookaside.SetDefault(pairKey, struct{}{})
		t.suppress("duplicate", match)
		return nil, nil
	case err != nil:
		return nil, err
	}

	t.lookaside.SetDefault(pairKey, struct{}{})
	if t.metrics != nil {
		t.metrics.EmittedTotal.WithLabelValues(string(notifType)).Inc()
	}

	t.handOff(ctx, n)
	return n, nil
}

// priceNewlyInRange reports whether a price update moved the listing into a
// price bound that the old price violated. Only such updates may re-notify
// an already notified pair.
func (t *Throttler) priceNewlyInRange(match *MatchResult) bool {
	if match.Reason != ReasonPriceUpdate || match.OldPrice == 0 {
		return false
	}
	alert := &match.Alert
	if alert.MaxPrice != nil && match.OldPrice > *alert.MaxPrice && match.Listing.Price <= *alert.MaxPrice {
		return true
	}
	if alert.MinPrice != nil && match.OldPrice < *alert.MinPrice && match.Listing.Price >= *alert.MinPrice {
		return true
	}
	return false
}

func (t *Throttler) buildNotification(match *MatchResult, notifType datastore.NotificationType) (*datastore.Notification, error) {
	listing := match.Listing
	payload, err := json.Marshal(payloadFor(listing))
	if err != nil {
		return nil, errors.New(err).
			Component("notify").
			Category(errors.CategoryThrottle).
			Context("listing_id", listing.ID).
			Build()
	}

	title := fmt.Sprintf("%s %s (%d)", listing.Make, listing.Model, listing.Year)
	message := fmt.Sprintf("Matched alert %q: %s %s, %d km, %d %s",
		match.Alert.Name, listing.Make, listing.Model, listing.Mileage, listing.Price, listing.Currency)
	if notifType == datastore.TypePriceDrop {
		title = "Price drop: " + title
		message = fmt.Sprintf("Price dropped from %d to %d %s. %s",
			match.OldPrice, listing.Price, listing.Currency, message)
	}

	alertID := match.Alert.ID
	listingID := listing.ID
	return &datastore.Notification{
		PublicID:   uuid.NewString(),
		AlertID:    &alertID,
		ListingID:  &listingID,
		Type:       notifType,
		Status:     datastore.StatusPending,
		Title:      title,
		Message:    message,
		Payload:    string(payload),
		MaxRetries: t.settings.DefaultRetries,
	}, nil
}

// handOff paces and performs the dispatcher handoff. Dispatch errors leave
// the notification pending; the delivery collaborator owns retries.
func (t *Throttler) handOff(ctx context.Context, n *datastore.Notification) {
	if err := t.limiter.Wait(ctx); err != nil {
		getLogger().Warn("dispatch handoff cancelled", "public_id", n.PublicID, "error", err)
		return
	}
	if err := t.dispatcher.Dispatch(ctx, n); err != nil {
		if t.metrics != nil {
			t.metrics.DispatchTotal.WithLabelValues("error").Inc()
		}
		getLogger().Error("dispatcher handoff failed",
			"public_id", n.PublicID,
			"error", err)
		return
	}
	if t.metrics != nil {
		t.metrics.DispatchTotal.WithLabelValues("ok").Inc()
	}
}

func (t *Throttler) suppress(reason string, match *MatchResult) {
	if t.metrics != nil {
		t.metrics.SuppressedTotal.WithLabelValues(reason).Inc()
	}
	getLogger().Info("match suppressed",
		"reason", reason,
		"alert_id", match.Alert.ID,
		"listing_id", match.Listing.ID)
}

// RecordDeliveryStatus records a status report from the delivery
// collaborator. A failure at or past the notification's retry budget is
// terminal: logged, never resurfaced as a pipeline error.
func (t *Throttler) RecordDeliveryStatus(publicID string, status datastore.NotificationStatus, retryCount int) error {
	switch status {
	case datastore.StatusSent, datastore.StatusDelivered, datastore.StatusFailed:
	default:
		return errors.Newf("invalid delivery status %q", status).
			Component("notify").
			Category(errors.CategoryValidation).
			Context("public_id", publicID).
			Build()
	}

	if err := t.store.UpdateNotificationStatus(publicID, status, retryCount); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.StatusReportsTotal.WithLabelValues(string(status)).Inc()
	}

	if status == datastore.StatusFailed {
		n, err := t.store.GetNotificationByPublicID(publicID)
		if err == nil && retryCount >= n.MaxRetries {
			getLogger().Warn("notification delivery terminally failed",
				"public_id", publicID,
				"retries", retryCount)
		}
	}
	return nil
}
