package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"krushilink/internal/domain"
	"krushilink/internal/models"
)

const earthRadiusKm = 6371.0088

// MemoryGeoRepository is the in-process counterpart of RedisGeoRepository.
type MemoryGeoRepository struct {
	locations  sync.Map
	rateLimits sync.Map
	now        func() time.Time
}

func NewMemoryGeoRepository() *MemoryGeoRepository {
	return &MemoryGeoRepository{now: time.Now}
}

func (r *MemoryGeoRepository) SetLocation(_ context.Context, driverID string, p models.GeoPoint) error {
	r.locations.Store(driverID, p)
	return nil
}

func (r *MemoryGeoRepository) RemoveLocation(_ context.Context, driverID string) error {
	r.locations.Delete(driverID)
	return nil
}

func (r *MemoryGeoRepository) Nearby(_ context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]domain.GeoHit, error) {
	var hits []domain.GeoHit
	r.locations.Range(func(key, value interface{}) bool {
		d := Haversine(center, value.(models.GeoPoint))
		if d <= radiusKm {
			hits = append(hits, domain.GeoHit{DriverID: key.(string), DistanceKm: d})
		}
		return true
	})

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm == hits[j].DistanceKm {
			return hits[i].DriverID < hits[j].DriverID
		}
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryGeoRepository) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if now.After(entry.expiresAt) {
		entry.count = 0
		entry.expiresAt = now.Add(window)
	}
	entry.count++
	return entry.count <= limit, nil
}

// Haversine returns the great-circle distance between two points in kilometres.
func Haversine(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
