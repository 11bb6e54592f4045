// testalert.go: user-initiated alert dry run against a historical listing
// window. Persists nothing; the throttler is never involved.
package matcher

import (
	"context"
	"time"

	"github.com/tphakala/autoscout-go/internal/datastore"
)

// TestAlert validates the alert's criteria and evaluates it against all
// listings seen within the given window. Returns the matching listings,
// newest first. Criteria errors surface synchronously.
func TestAlert(ctx context.Context, store datastore.Interface, alert *datastore.Alert, window time.Duration, resolver GeoResolver) ([]datastore.Listing, error) {
	if err := ValidateCriteria(alert); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listings, err := store.ListingsSeenSince(time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	var matched []datastore.Listing
	for i := range listings {
		if Matches(&listings[i], alert, resolver) {
			matched = append(matched, listings[i])
		}
	}
	return matched, nil
}
