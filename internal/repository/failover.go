package repository

import (
	"context"
	"sync/atomic"
	"time"

	"krushilink/internal/domain"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
)

// GeoStore is what both the redis and the memory repositories provide.
type GeoStore interface {
	domain.GeoIndex
	domain.RateLimiter
}

const recoveryInterval = time.Minute

// FailoverRepository serves from the primary store and switches to the
// fallback on the first primary error. The primary is probed again once
// recoveryInterval has passed. Location writes always reach the fallback too,
// so it holds a recent copy when the switch happens.
type FailoverRepository struct {
	primary   GeoStore
	fallback  GeoStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverRepository(primary, fallback GeoStore, logger *zerolog.Logger) *FailoverRepository {
	return &FailoverRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverRepository) record(err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("Primary geo repository recovered")
		}
		return
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary geo repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverRepository) SetLocation(ctx context.Context, driverID string, p models.GeoPoint) error {
	if err := r.fallback.SetLocation(ctx, driverID, p); err != nil {
		return err
	}
	if r.usePrimary() {
		r.record(r.primary.SetLocation(ctx, driverID, p))
	}
	return nil
}

func (r *FailoverRepository) RemoveLocation(ctx context.Context, driverID string) error {
	if err := r.fallback.RemoveLocation(ctx, driverID); err != nil {
		return err
	}
	if r.usePrimary() {
		r.record(r.primary.RemoveLocation(ctx, driverID))
	}
	return nil
}

func (r *FailoverRepository) Nearby(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]domain.GeoHit, error) {
	if r.usePrimary() {
		hits, err := r.primary.Nearby(ctx, center, radiusKm, limit)
		r.record(err)
		if err == nil {
			return hits, nil
		}
	}
	return r.fallback.Nearby(ctx, center, radiusKm, limit)
}

func (r *FailoverRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		r.record(err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
