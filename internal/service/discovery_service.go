package service

import (
	"context"
	"fmt"
	"strings"

	"krushilink/internal/config"
	"krushilink/internal/domain"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
)

// maxNearbyScan bounds how many index entries one search may inspect.
const maxNearbyScan = 500

type NearbyQuery struct {
	Center      models.GeoPoint
	RadiusKm    float64
	ServiceType string
	Limit       int
}

// DiscoveryService keeps driver positions in the geo index and answers
// "who can plow my field" queries.
type DiscoveryService struct {
	users     domain.UserRepository
	equipment domain.EquipmentRepository
	geo       domain.GeoIndex
	cfg       config.DiscoveryConfig
	logger    *zerolog.Logger
}

func NewDiscoveryService(users domain.UserRepository, equipment domain.EquipmentRepository, geo domain.GeoIndex, cfg config.DiscoveryConfig, logger *zerolog.Logger) *DiscoveryService {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = models.DefaultSearchRadiusKm
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = models.MaxSearchRadiusKm
	}
	if cfg.Limit <= 0 {
		cfg.Limit = models.DefaultNearbyLimit
	}
	l := logger.With().Str("component", "discovery").Logger()
	return &DiscoveryService{
		users:     users,
		equipment: equipment,
		geo:       geo,
		cfg:       cfg,
		logger:    &l,
	}
}

func (s *DiscoveryService) UpdateDriverLocation(ctx context.Context, driverID string, p models.GeoPoint) error {
	if !p.Valid() {
		return validationError("location out of range")
	}
	driver, err := s.users.GetUser(ctx, driverID)
	if err != nil {
		return storeError(err, "driver")
	}
	if driver.Role != models.RoleDriver {
		return fmt.Errorf("%w: only drivers share their location", ErrForbidden)
	}
	if driver.Blocked {
		return fmt.Errorf("%w: driver is blocked", ErrForbidden)
	}
	if err := s.geo.SetLocation(ctx, driverID, p); err != nil {
		return fmt.Errorf("update driver location: %w", err)
	}
	return nil
}

func (s *DiscoveryService) RemoveDriverLocation(ctx context.Context, driverID string) error {
	if err := s.geo.RemoveLocation(ctx, driverID); err != nil {
		return fmt.Errorf("remove driver location: %w", err)
	}
	return nil
}

// FindNearbyDrivers returns bookable drivers sorted by distance, each with the
// active equipment matching the requested service type.
func (s *DiscoveryService) FindNearbyDrivers(ctx context.Context, q NearbyQuery) ([]*models.NearbyDriver, error) {
	if !q.Center.Valid() {
		return nil, validationError("location out of range")
	}
	if q.RadiusKm <= 0 {
		q.RadiusKm = s.cfg.DefaultRadiusKm
	}
	if q.RadiusKm > s.cfg.MaxRadiusKm {
		return nil, validationError("radius must not exceed %.0f km", s.cfg.MaxRadiusKm)
	}
	if q.Limit <= 0 || q.Limit > s.cfg.Limit {
		q.Limit = s.cfg.Limit
	}
	serviceType := strings.ToLower(strings.TrimSpace(q.ServiceType))
	if serviceType != "" && !models.IsServiceType(serviceType) {
		return nil, validationError("unknown service type %q", q.ServiceType)
	}

	// Unverified, blocked and unequipped drivers are filtered out after the
	// radius query, so widen the window until enough survive or the radius is exhausted.
	result := make([]*models.NearbyDriver, 0, q.Limit)
	scanned := 0
	for window := q.Limit * 3; ; window *= 2 {
		if window > maxNearbyScan {
			window = maxNearbyScan
		}
		hits, err := s.geo.Nearby(ctx, q.Center, q.RadiusKm, window)
		if err != nil {
			return nil, fmt.Errorf("nearby drivers: %w", err)
		}
		for _, hit := range hits[min(scanned, len(hits)):] {
			if len(result) == q.Limit {
				return result, nil
			}
			found, err := s.bookable(ctx, hit, serviceType)
			if err != nil {
				return nil, err
			}
			if found != nil {
				result = append(result, found)
			}
		}
		scanned = len(hits)
		if len(result) == q.Limit || len(hits) < window || window == maxNearbyScan {
			return result, nil
		}
	}
}

// bookable returns nil for drivers that cannot take the job right now.
func (s *DiscoveryService) bookable(ctx context.Context, hit domain.GeoHit, serviceType string) (*models.NearbyDriver, error) {
	driver, err := s.users.GetUser(ctx, hit.DriverID)
	if err != nil {
		s.logger.Warn().Err(err).Str("driver_id", hit.DriverID).Msg("skip indexed driver")
		return nil, nil
	}
	if !driver.CanBeBooked() {
		return nil, nil
	}
	list, err := s.equipment.ListEquipmentByDriver(ctx, driver.ID, true)
	if err != nil {
		return nil, storeError(err, "driver equipment")
	}
	list = filterEquipment(list, serviceType)
	if len(list) == 0 {
		return nil, nil
	}
	return &models.NearbyDriver{
		Driver:     driver,
		DistanceKm: hit.DistanceKm,
		Equipment:  list,
	}, nil
}

func filterEquipment(list []*models.Equipment, serviceType string) []*models.Equipment {
	if serviceType == "" {
		return list
	}
	out := list[:0]
	for _, eq := range list {
		if eq.ServiceType == serviceType {
			out = append(out, eq)
		}
	}
	return out
}
