package service

import (
	"context"
	"fmt"
	"strings"

	"krushilink/internal/domain"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type AddEquipmentRequest struct {
	ServiceType  string
	Name         string
	PricePerAcre decimal.Decimal
}

type EquipmentService struct {
	repo   domain.EquipmentRepository
	logger *zerolog.Logger
}

func NewEquipmentService(repo domain.EquipmentRepository, logger *zerolog.Logger) *EquipmentService {
	l := logger.With().Str("component", "equipment_service").Logger()
	return &EquipmentService{repo: repo, logger: &l}
}

func (s *EquipmentService) AddEquipment(ctx context.Context, actor lifecycle.Actor, req AddEquipmentRequest) (*models.Equipment, error) {
	if actor.Role != models.RoleDriver {
		return nil, fmt.Errorf("%w: only drivers can add equipment", ErrForbidden)
	}
	serviceType := strings.ToLower(strings.TrimSpace(req.ServiceType))
	if !models.IsServiceType(serviceType) {
		return nil, validationError("unknown service type %q", req.ServiceType)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationError("equipment name is required")
	}
	if !req.PricePerAcre.IsPositive() {
		return nil, validationError("price per acre must be greater than zero")
	}

	eq := &models.Equipment{
		ID:           uuid.NewString(),
		DriverID:     actor.UserID,
		ServiceType:  serviceType,
		Name:         name,
		PricePerAcre: req.PricePerAcre.Round(2),
		IsActive:     true,
	}
	if err := s.repo.CreateEquipment(ctx, eq); err != nil {
		return nil, storeError(err, "add equipment")
	}
	s.logger.Info().Str("driver_id", eq.DriverID).Str("equipment_id", eq.ID).Str("service_type", eq.ServiceType).Msg("Equipment added")
	return eq, nil
}

func (s *EquipmentService) ListDriverEquipment(ctx context.Context, driverID string, activeOnly bool) ([]*models.Equipment, error) {
	list, err := s.repo.ListEquipmentByDriver(ctx, driverID, activeOnly)
	if err != nil {
		return nil, storeError(err, "list equipment")
	}
	return list, nil
}

// DeactivateEquipment hides equipment from new bookings. Drivers can only touch
// their own; admins can deactivate any.
func (s *EquipmentService) DeactivateEquipment(ctx context.Context, actor lifecycle.Actor, id string) error {
	eq, err := s.repo.GetEquipment(ctx, id)
	if err != nil {
		return storeError(err, "equipment")
	}
	switch {
	case actor.Role == models.RoleAdmin:
	case actor.Role == models.RoleDriver && actor.UserID == eq.DriverID:
	default:
		return fmt.Errorf("%w: equipment %s belongs to another driver", ErrForbidden, id)
	}
	return storeError(s.repo.DeactivateEquipment(ctx, id, eq.DriverID), "deactivate equipment")
}
