// Package notify implements the notification throttler and the dispatcher
// boundary: it turns alert matches into persisted notifications subject to
// per-alert daily caps, pair idempotence and frequency batching, then hands
// them to an external delivery collaborator.
package notify

import (
	"github.com/tphakala/autoscout-go/internal/datastore"
)

// MatchReason says why a match reached the throttler.
type MatchReason string

const (
	// ReasonNewListing is a match on a listing seen for the first time
	ReasonNewListing MatchReason = "new_listing"
	// ReasonPriceUpdate is a re-match after a price or content update
	ReasonPriceUpdate MatchReason = "price_update"
)

// MatchResult is the transient handoff from the matching engine. Not
// persisted; the throttler turns qualifying results into notifications.
type MatchResult struct {
	Alert   datastore.Alert
	Listing *datastore.Listing
	Reason  MatchReason
	// OldPrice carries the pre-update price on ReasonPriceUpdate, so the
	// throttler can tell whether the alert's price bounds were newly
	// satisfied by the change.
	OldPrice int64
}

// listingPayload is the structured notification content handed to delivery.
type listingPayload struct {
	SourceSite string `json:"source_site"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url,omitempty"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	Year       int    `json:"year"`
	Price      int64  `json:"price"`
	Currency   string `json:"currency,omitempty"`
	Mileage    int    `json:"mileage"`
	City       string `json:"city,omitempty"`
}

func payloadFor(l *datastore.Listing) listingPayload {
	return listingPayload{
		SourceSite: l.SourceSite,
		ExternalID: l.ExternalID,
		URL:        l.URL,
		Make:       l.Make,
		Model:      l.Model,
		Year:       l.Year,
		Price:      l.Price,
		Currency:   l.Currency,
		Mileage:    l.Mileage,
		City:       l.City,
	}
}
