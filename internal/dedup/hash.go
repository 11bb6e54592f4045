// hash.go: content hashing for listing identity comparison.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tphakala/autoscout-go/internal/datastore"
)

// DefaultMileageBucketKm is the bucket size applied to mileage before
// hashing, so ordinary odometer creep between passes does not change the
// hash.
const DefaultMileageBucketKm = 5000

// ContentHash computes a hash over the normalized comparable fields of a
// listing: make, model, year, bucketed mileage and body type. Price is
// intentionally excluded so that price-only changes classify as updates
// rather than new listings. The result is a pure function of those fields.
func ContentHash(l *datastore.Listing, mileageBucketKm int) string {
	if mileageBucketKm <= 0 {
		mileageBucketKm = DefaultMileageBucketKm
	}
	bucket := l.Mileage / mileageBucketKm

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s",
		strings.ToLower(strings.TrimSpace(l.Make)),
		strings.ToLower(strings.TrimSpace(l.Model)),
		l.Year,
		bucket,
		strings.ToLower(strings.TrimSpace(l.BodyType)),
	)
	return hex.EncodeToString(h.Sum(nil))
}
