// notifications.go: notification persistence. The composite unique index on
// (alert_id, listing_id, type) makes the one-notification-per-pair-and-type
// rule hold even under concurrent emitters; EmitNotification wraps the cap
// check, the insert and the alert trigger bookkeeping in one transaction so
// the check-then-increment cannot race.
package datastore

import (
	"strings"
	"time"

	"github.com/tphakala/autoscout-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HasNotification reports whether a notification already exists for the
// given (alert, listing) pair.
func (ds *DataStore) HasNotification(alertID, listingID uint) (bool, error) {
	var count int64
	err := ds.DB.Model(&Notification{}).
		Where("alert_id = ? AND listing_id = ?", alertID, listingID).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "has_notification", errors.PriorityMedium,
			"alert_id", alertID,
			"listing_id", listingID)
	}
	return count > 0, nil
}

// CountNotificationsSince counts persisted notifications for an alert created
// at or after the given time. Used for the rolling daily cap.
func (ds *DataStore) CountNotificationsSince(alertID uint, since time.Time) (int64, error) {
	var count int64
	err := ds.DB.Model(&Notification{}).
		Where("alert_id = ? AND created_at >= ?", alertID, since).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_notifications_since", errors.PriorityMedium,
			"alert_id", alertID)
	}
	return count, nil
}

// EmitNotification atomically enforces the rolling cap, inserts the
// notification and updates the owning alert's trigger bookkeeping.
// Returns ErrDailyCapExceeded or ErrDuplicateNotification without having
// persisted anything.
func (ds *DataStore) EmitNotification(n *Notification, maxPerDay int, capWindow time.Duration) error {
	if n == nil {
		return validationError("notification cannot be nil", "notification", nil)
	}

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if n.AlertID != nil && maxPerDay > 0 {
			// Take a row lock on the owning alert so concurrent emitters
			// serialize on the cap check. Without it, two transactions under
			// REPEATABLE READ can both count N-1 and both insert.
			var owner Alert
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&owner, *n.AlertID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			var count int64
			if err := tx.Model(&Notification{}).
				Where("alert_id = ? AND created_at >= ?", *n.AlertID, now.Add(-capWindow)).
				Count(&count).Error; err != nil {
				return err
			}
			if count >= int64(maxPerDay) {
				return ErrDailyCapExceeded
			}
		}

		if err := tx.Create(n).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateNotification
			}
			return err
		}

		if n.AlertID != nil {
			if err := tx.Model(&Alert{}).
				Where("id = ?", *n.AlertID).
				Updates(map[string]any{
					"last_triggered_at": now,
					"trigger_count":     gorm.Expr("trigger_count + 1"),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrDailyCapExceeded) || errors.Is(err, ErrDuplicateNotification) {
			return err
		}
		return dbError(err, "emit_notification", errors.PriorityHigh,
			"public_id", n.PublicID)
	}
	return nil
}

// isUniqueViolation reports whether a database error stems from a unique
// constraint. Covers the SQLite and MySQL phrasings.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry")
}

// GetNotificationByPublicID retrieves a notification by the UUID handed to
// the delivery collaborator.
func (ds *DataStore) GetNotificationByPublicID(publicID string) (*Notification, error) {
	if publicID == "" {
		return nil, validationError("public ID cannot be empty", "public_id", "")
	}
	var n Notification
	if err := ds.DB.Where("public_id = ?", publicID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, dbError(err, "get_notification", errors.PriorityMedium,
			"public_id", publicID)
	}
	return &n, nil
}

// UpdateNotificationStatus records a delivery status reported back by the
// dispatcher. Sent and delivered stamp SentAt on first transition.
func (ds *DataStore) UpdateNotificationStatus(publicID string, status NotificationStatus, retryCount int) error {
	updates := map[string]any{
		"status":      status,
		"retry_count": retryCount,
	}
	if status == StatusSent || status == StatusDelivered {
		updates["sent_at"] = time.Now()
	}

	result := ds.DB.Model(&Notification{}).
		Where("public_id = ?", publicID).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "update_notification_status", errors.PriorityMedium,
			"public_id", publicID,
			"status", string(status))
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// ListPendingNotifications returns notifications awaiting delivery, oldest
// first.
func (ds *DataStore) ListPendingNotifications(limit int) ([]Notification, error) {
	var notifications []Notification
	query := ds.DB.Where("status = ?", StatusPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&notifications).Error; err != nil {
		return nil, dbError(err, "list_pending_notifications", errors.PriorityMedium)
	}
	return notifications, nil
}

// MarkNotificationRead sets the user-visible read flag.
func (ds *DataStore) MarkNotificationRead(id uint) error {
	result := ds.DB.Model(&Notification{}).
		Where("id = ?", id).
		Update("read", true)
	if result.Error != nil {
		return dbError(result.Error, "mark_notification_read", errors.PriorityLow,
			"notification_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
