// geo.go: great-circle distance and city coordinate resolution. Geocoding is
// an external concern; the resolver only serves pre-resolved coordinates.
package matcher

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tphakala/autoscout-go/internal/errors"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoResolver resolves a city name to pre-resolved coordinates. Returns
// false when the city is unknown, in which case matching falls back to
// string equality.
type GeoResolver interface {
	Resolve(city string) (Coordinates, bool)
}

// StaticResolver is a fixed city table. Lookup is case-insensitive.
type StaticResolver map[string]Coordinates

// Resolve implements GeoResolver.
func (sr StaticResolver) Resolve(city string) (Coordinates, bool) {
	c, ok := sr[strings.ToLower(strings.TrimSpace(city))]
	return c, ok
}

// LoadCityTable reads a JSON city table mapping lowercase city names to
// coordinates and returns it as a StaticResolver.
func LoadCityTable(path string) (StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("matcher").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var raw map[string]Coordinates
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(err).
			Component("matcher").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	table := make(StaticResolver, len(raw))
	for city, coords := range raw {
		table[strings.ToLower(strings.TrimSpace(city))] = coords
	}
	return table, nil
}

// CachingResolver wraps another resolver with a TTL cache, so repeated
// lookups of the same alert cities within a pass stay cheap.
type CachingResolver struct {
	inner GeoResolver
	cache *gocache.Cache
}

// NewCachingResolver creates a caching resolver with the given TTL.
func NewCachingResolver(inner GeoResolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Resolve implements GeoResolver. Misses are cached too, so unknown cities
// do not hit the inner resolver on every listing.
func (cr *CachingResolver) Resolve(city string) (Coordinates, bool) {
	key := strings.ToLower(strings.TrimSpace(city))
	if v, found := cr.cache.Get(key); found {
		if c, ok := v.(Coordinates); ok {
			return c, true
		}
		return Coordinates{}, false
	}

	c, ok := cr.inner.Resolve(city)
	if ok {
		cr.cache.SetDefault(key, c)
	} else {
		cr.cache.SetDefault(key, false)
	}
	return c, ok
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two positions in
// kilometers.
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
