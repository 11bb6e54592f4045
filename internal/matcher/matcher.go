// Package matcher implements the alert matching engine. Matching is a pure
// conjunction of all set criteria: a nil criterion never excludes a listing,
// an alert with no criteria matches everything. The same evaluation serves
// live matching during a pass and user-initiated dry runs.
package matcher

import (
	"strings"
	"time"

	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/observability/metrics"
)

// Matcher evaluates a listing against a set of alerts. The interface exists
// so a future indexed evaluator can replace the linear scan without touching
// callers.
type Matcher interface {
	FindMatchingAlerts(listing *datastore.Listing, alerts []datastore.Alert) []datastore.Alert
}

// LinearMatcher evaluates every active alert in order. Linear scan is
// sufficient for the target scale of thousands of alerts per listing.
type LinearMatcher struct {
	resolver GeoResolver // nil disables radius filtering
	metrics  *metrics.MatcherMetrics
}

// NewLinearMatcher creates a matcher. resolver and metrics may be nil.
func NewLinearMatcher(resolver GeoResolver, m *metrics.MatcherMetrics) *LinearMatcher {
	return &LinearMatcher{resolver: resolver, metrics: m}
}

// FindMatchingAlerts returns the subset of alerts whose criteria all pass
// for the listing, preserving input order. Inactive alerts never match.
// Deterministic: identical inputs always yield identical output.
func (lm *LinearMatcher) FindMatchingAlerts(listing *datastore.Listing, alerts []datastore.Alert) []datastore.Alert {
	start := time.Now()

	var matched []datastore.Alert
	for i := range alerts {
		if !alerts[i].Active {
			continue
		}
		if lm.metrics != nil {
			lm.metrics.EvaluationsTotal.Inc()
		}
		if Matches(listing, &alerts[i], lm.resolver) {
			matched = append(matched, alerts[i])
			if lm.metrics != nil {
				lm.metrics.MatchesTotal.Inc()
			}
		}
	}

	if lm.metrics != nil {
		lm.metrics.EvalDuration.Observe(time.Since(start).Seconds())
	}
	return matched
}

// Matches reports whether every set criterion of the alert passes for the
// listing. Pure function, no side effects.
func Matches(listing *datastore.Listing, alert *datastore.Alert, resolver GeoResolver) bool {
	// Make is exact (case-insensitive), model is a substring match since
	// sources disagree on trim level suffixes ("320d" vs "320d xDrive").
	if alert.Make != nil && !strings.EqualFold(*alert.Make, listing.Make) {
		return false
	}
	if alert.Model != nil && !containsFold(listing.Model, *alert.Model) {
		return false
	}

	if alert.MinYear != nil && listing.Year < *alert.MinYear {
		return false
	}
	if alert.MaxYear != nil && listing.Year > *alert.MaxYear {
		return false
	}
	if alert.MinPrice != nil && listing.Price < *alert.MinPrice {
		return false
	}
	if alert.MaxPrice != nil && listing.Price > *alert.MaxPrice {
		return false
	}
	if alert.MaxMileage != nil && listing.Mileage > *alert.MaxMileage {
		return false
	}
	if alert.MinPower != nil && listing.EnginePower < *alert.MinPower {
		return false
	}
	if alert.MaxPower != nil && listing.EnginePower > *alert.MaxPower {
		return false
	}

	if alert.FuelType != nil && !strings.EqualFold(*alert.FuelType, listing.FuelType) {
		return false
	}
	if alert.Transmission != nil && !strings.EqualFold(*alert.Transmission, listing.Transmission) {
		return false
	}
	if alert.BodyType != nil && !strings.EqualFold(*alert.BodyType, listing.BodyType) {
		return false
	}
	if alert.Condition != nil && !strings.EqualFold(*alert.Condition, listing.Condition) {
		return false
	}

	if alert.City != nil {
		if !matchesLocation(listing, alert, resolver) {
			return false
		}
	}

	return true
}

// matchesLocation applies the radius filter when both a radius and listing
// coordinates are available, otherwise falls back to city string equality.
func matchesLocation(listing *datastore.Listing, alert *datastore.Alert, resolver GeoResolver) bool {
	if alert.RadiusKm != nil && listing.Latitude != nil && listing.Longitude != nil && resolver != nil {
		if center, ok := resolver.Resolve(*alert.City); ok {
			dist := Haversine(center, Coordinates{Lat: *listing.Latitude, Lon: *listing.Longitude})
			return dist <= *alert.RadiusKm
		}
	}
	return strings.EqualFold(*alert.City, listing.City)
}

// containsFold reports whether substr occurs in s, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
