// model.go this code defines the data model for the application
package datastore

import "time"

// Listing represents a single vehicle offer from one source site. Identity
// across scrape passes is the (SourceSite, ExternalID) pair; listings are
// never physically deleted, only marked inactive, so price history survives.
type Listing struct {
	ID         uint   `gorm:"primaryKey"`
	SourceSite string `gorm:"uniqueIndex:idx_listings_source_external;not null"`
	ExternalID string `gorm:"uniqueIndex:idx_listings_source_external;not null"`
	URL        string

	Make         string `gorm:"index:idx_listings_make"`
	Model        string
	Year         int
	Price        int64  // minor-unit-free currency amount
	Currency     string `gorm:"type:varchar(3)"`
	Mileage      int    // kilometers
	FuelType     string
	Transmission string
	BodyType     string
	Condition    string
	City         string
	Region       string
	Latitude     *float64 // pre-resolved by the scraper, nil if unknown
	Longitude    *float64
	EnginePower  int // kW

	ContentHash string `gorm:"index:idx_listings_hash"` // hash of comparable fields, price excluded
	Active      bool   `gorm:"index"`
	Version     int    `gorm:"not null;default:1"` // optimistic locking counter

	FirstSeenAt time.Time
	LastSeenAt  time.Time `gorm:"index"`
	UpdatedAt   time.Time

	PriceHistory []PriceHistoryEntry `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
}

// Key returns the dedup key identifying this listing across passes.
func (l *Listing) Key() string {
	return l.SourceSite + "/" + l.ExternalID
}

// PriceHistoryEntry is an immutable record of a price change observed on an
// existing listing. Created exclusively by the deduplication engine.
type PriceHistoryEntry struct {
	ID         uint `gorm:"primaryKey"`
	ListingID  uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:ListingID;references:ID"`
	OldPrice   int64
	NewPrice   int64
	ChangePct  float64
	ObservedAt time.Time `gorm:"index"`
}

// Frequency controls how often an alert may emit notifications.
type Frequency string

const (
	// FrequencyImmediate emits one notification per qualifying match
	FrequencyImmediate Frequency = "immediate"
	// FrequencyDaily batches matches into one summary per calendar day
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly batches matches into one summary per ISO week
	FrequencyWeekly Frequency = "weekly"
)

// Alert is a user-defined predicate set evaluated against incoming listings.
// Criteria fields are pointers; nil means "don't care" and never excludes a
// listing.
type Alert struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"index"`
	Name   string

	Make         *string
	Model        *string
	MinYear      *int
	MaxYear      *int
	MinPrice     *int64
	MaxPrice     *int64
	MaxMileage   *int
	FuelType     *string
	Transmission *string
	BodyType     *string
	Condition    *string
	City         *string
	RadiusKm     *float64
	MinPower     *int
	MaxPower     *int

	Active          bool      `gorm:"index"`
	Frequency       Frequency `gorm:"type:varchar(16);default:immediate"`
	LastTriggeredAt *time.Time
	TriggerCount    int
	MaxPerDay       int // 0 means use the configured default cap

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DigestEntry buffers one alert match for a daily or weekly digest until its
// wall-clock period has ended. Entries are persisted so buffered matches
// survive process restarts between passes; the composite unique index
// deduplicates a listing within one alert period. Drained by the digest
// flush, which replaces each (alert, period) group with one summary
// Notification.
type DigestEntry struct {
	ID        uint `gorm:"primaryKey"`
	AlertID   uint `gorm:"uniqueIndex:idx_digest_alert_listing_period;index"`
	ListingID uint `gorm:"uniqueIndex:idx_digest_alert_listing_period"`

	Frequency   Frequency `gorm:"type:varchar(16)"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_digest_alert_listing_period"`
	PeriodEnd   time.Time `gorm:"index"`

	Payload string `gorm:"type:text"` // listing snapshot taken at match time, JSON

	CreatedAt time.Time
}

// NotificationType categorizes a notification.
type NotificationType string

const (
	// TypeListingMatch is an immediate per-listing match notification
	TypeListingMatch NotificationType = "listing_match"
	// TypePriceDrop is a match re-triggered by a price update
	TypePriceDrop NotificationType = "price_drop"
	// TypeDigest is a daily or weekly summary notification
	TypeDigest NotificationType = "digest"
)

// NotificationStatus tracks delivery state. The throttler sets pending;
// terminal transitions are reported back by the delivery collaborator.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
)

// Notification is a persisted, user-visible notification record. The
// composite unique index on (AlertID, ListingID, Type) enforces at the
// storage layer that a given pair produces at most one notification per
// type: one on first match, and at most one more when a price update drops
// the listing into a previously failing price range.
type Notification struct {
	ID       uint   `gorm:"primaryKey"`
	PublicID string `gorm:"uniqueIndex;type:varchar(36)"` // UUID handed to the delivery collaborator

	AlertID   *uint `gorm:"uniqueIndex:idx_notifications_alert_listing;constraint:OnDelete:SET NULL"`
	ListingID *uint `gorm:"uniqueIndex:idx_notifications_alert_listing;constraint:OnDelete:SET NULL"`

	Type    NotificationType   `gorm:"type:varchar(32);uniqueIndex:idx_notifications_alert_listing"`
	Status  NotificationStatus `gorm:"type:varchar(16);index"`
	Title   string
	Message string
	Payload string `gorm:"type:text"` // structured content, JSON

	Read       bool `gorm:"index"`
	RetryCount int
	MaxRetries int

	CreatedAt time.Time `gorm:"index"`
	SentAt    *time.Time
}
