// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"github.com/tphakala/autoscout-go/internal/conf"
	"github.com/tphakala/autoscout-go/internal/errors"
	"gorm.io/gorm"
)

// Sentinel errors returned by store implementations. Callers match these with
// errors.Is regardless of the backing implementation.
var (
	ErrListingNotFound       = errors.NewStd("listing not found")
	ErrAlertNotFound         = errors.NewStd("alert not found")
	ErrNotificationNotFound  = errors.NewStd("notification not found")
	ErrOptimisticLock        = errors.NewStd("listing was modified concurrently")
	ErrDailyCapExceeded      = errors.NewStd("alert daily notification cap exceeded")
	ErrDuplicateNotification = errors.NewStd("notification already exists for alert and listing")
	ErrDuplicateDigestEntry  = errors.NewStd("digest entry already exists for alert, listing and period")
)

// Interface abstracts the underlying database implementation and defines the
// operations the pipeline needs. An in-memory implementation backs unit tests
// and dry runs; GORM-backed SQLite and MySQL implementations back production.
type Interface interface {
	Open() error
	Close() error

	// Listings
	GetListing(id uint) (*Listing, error)
	GetListingByKey(sourceSite, externalID string) (*Listing, error)
	InsertListing(listing *Listing) error
	// UpdateListing persists the listing if its Version still matches the
	// stored row, incrementing Version on success. Returns ErrOptimisticLock
	// when a concurrent writer got there first.
	UpdateListing(listing *Listing) error
	// TouchListing refreshes LastSeenAt without touching content fields.
	TouchListing(id uint, seenAt time.Time) error
	ListingsSeenSince(since time.Time) ([]Listing, error)
	// MarkInactiveNotSeenSince soft-deletes active listings whose LastSeenAt
	// predates the cutoff. Returns the number of listings swept.
	MarkInactiveNotSeenSince(cutoff time.Time) (int64, error)

	// Price history
	AddPriceHistory(entry *PriceHistoryEntry) error
	GetPriceHistory(listingID uint) ([]PriceHistoryEntry, error)

	// Alerts
	GetAlert(id uint) (*Alert, error)
	GetActiveAlerts() ([]Alert, error)
	SaveAlert(alert *Alert) error
	DeleteAlert(id uint) error

	// Digest buffering
	// AddDigestEntry buffers one match for a daily or weekly digest.
	// Returns ErrDuplicateDigestEntry when the listing is already buffered
	// for the alert's period.
	AddDigestEntry(entry *DigestEntry) error
	// DigestEntriesDue returns entries whose period ended at or before now,
	// grouped-friendly: ordered by alert, period start and creation time.
	DigestEntriesDue(now time.Time) ([]DigestEntry, error)
	DeleteDigestEntries(alertID uint, periodStart time.Time) error

	// Notifications
	HasNotification(alertID, listingID uint) (bool, error)
	CountNotificationsSince(alertID uint, since time.Time) (int64, error)
	// EmitNotification atomically checks the alert's rolling cap, inserts the
	// notification and bumps the alert's trigger bookkeeping. Returns
	// ErrDailyCapExceeded or ErrDuplicateNotification without side effects.
	EmitNotification(n *Notification, maxPerDay int, capWindow time.Duration) error
	GetNotificationByPublicID(publicID string) (*Notification, error)
	UpdateNotificationStatus(publicID string, status NotificationStatus, retryCount int) error
	ListPendingNotifications(limit int) ([]Notification, error)
	MarkNotificationRead(id uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// performAutoMigration runs GORM auto-migration for all entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Listing{}, &PriceHistoryEntry{}, &Alert{}, &DigestEntry{}, &Notification{}); err != nil {
		return errors.Newf("failed to auto-migrate %s database: %v", dbType, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}
	if debug {
		getLogger().Debug("database connection initialized",
			"db_type", dbType,
			"connection", connectionInfo)
	}
	return nil
}
