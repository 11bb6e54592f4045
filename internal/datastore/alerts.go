// alerts.go: alert CRUD on the GORM store. Alerts are created and edited by
// the external user-facing surface; the pipeline consumes them read-only
// except for trigger bookkeeping.
package datastore

import (
	"github.com/tphakala/autoscout-go/internal/errors"
	"gorm.io/gorm"
)

// GetAlert retrieves an alert by its internal ID.
func (ds *DataStore) GetAlert(id uint) (*Alert, error) {
	var alert Alert
	if err := ds.DB.First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, dbError(err, "get_alert", errors.PriorityMedium, "alert_id", id)
	}
	return &alert, nil
}

// GetActiveAlerts returns all active alerts. The pipeline loads this snapshot
// once per pass.
func (ds *DataStore) GetActiveAlerts() ([]Alert, error) {
	var alerts []Alert
	if err := ds.DB.Where("active = ?", true).Order("id ASC").Find(&alerts).Error; err != nil {
		return nil, dbError(err, "get_active_alerts", errors.PriorityHigh)
	}
	return alerts, nil
}

// SaveAlert creates or updates an alert.
func (ds *DataStore) SaveAlert(alert *Alert) error {
	if alert == nil {
		return validationError("alert cannot be nil", "alert", nil)
	}
	if err := ds.DB.Save(alert).Error; err != nil {
		return dbError(err, "save_alert", errors.PriorityMedium, "alert_id", alert.ID)
	}
	return nil
}

// DeleteAlert removes an alert. Notifications referencing it keep their row
// with a NULL alert id.
func (ds *DataStore) DeleteAlert(id uint) error {
	result := ds.DB.Delete(&Alert{}, id)
	if result.Error != nil {
		return dbError(result.Error, "delete_alert", errors.PriorityMedium, "alert_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}
