// validate.go: criteria validation surfaced synchronously to alert editors
// and the dry-run endpoint, rather than silently matching nothing.
package matcher

import (
	"github.com/tphakala/autoscout-go/internal/datastore"
	"github.com/tphakala/autoscout-go/internal/errors"
)

// ValidateCriteria checks an alert's criteria for contradictions.
func ValidateCriteria(alert *datastore.Alert) error {
	if alert == nil {
		return criteriaError("alert is nil", "alert")
	}
	if alert.MinYear != nil && alert.MaxYear != nil && *alert.MinYear > *alert.MaxYear {
		return criteriaError("minimum year exceeds maximum year", "year")
	}
	if alert.MinPrice != nil && alert.MaxPrice != nil && *alert.MinPrice > *alert.MaxPrice {
		return criteriaError("minimum price exceeds maximum price", "price")
	}
	if alert.MinPower != nil && alert.MaxPower != nil && *alert.MinPower > *alert.MaxPower {
		return criteriaError("minimum power exceeds maximum power", "power")
	}
	if alert.MaxMileage != nil && *alert.MaxMileage < 0 {
		return criteriaError("maximum mileage is negative", "mileage")
	}
	if alert.RadiusKm != nil && *alert.RadiusKm < 0 {
		return criteriaError("search radius is negative", "radius")
	}
	if alert.RadiusKm != nil && alert.City == nil {
		return criteriaError("search radius requires a city", "radius")
	}
	return nil
}

func criteriaError(message, field string) error {
	return errors.Newf("invalid alert criteria: %s", message).
		Component("matcher").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}
