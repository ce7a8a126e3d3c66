package repository

import (
	"context"
	"fmt"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/domain"
	"krushilink/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisGeoRepository stores driver positions in a redis GEO set and keeps
// fixed-window rate limit counters.
type RedisGeoRepository struct {
	client *redis.Client
	geoKey string
}

func NewRedisGeoRepository(client *redis.Client, geoKey string) *RedisGeoRepository {
	return &RedisGeoRepository{
		client: client,
		geoKey: geoKey,
	}
}

func (r *RedisGeoRepository) SetLocation(ctx context.Context, driverID string, p models.GeoPoint) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add driver location: %w", err)
	}
	return nil
}

func (r *RedisGeoRepository) RemoveLocation(ctx context.Context, driverID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	// GEO sets are sorted sets underneath
	if err := r.client.ZRem(ctx, r.geoKey, driverID).Err(); err != nil {
		return fmt.Errorf("failed to remove driver location: %w", err)
	}
	return nil
}

func (r *RedisGeoRepository) Nearby(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]domain.GeoHit, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	locations, err := r.client.GeoRadius(ctx, r.geoKey, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    limit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby drivers: %w", err)
	}

	hits := make([]domain.GeoHit, 0, len(locations))
	for _, loc := range locations {
		hits = append(hits, domain.GeoHit{DriverID: loc.Name, DistanceKm: loc.Dist})
	}
	return hits, nil
}

func (r *RedisGeoRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := "rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}

	return count <= int64(limit), nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
