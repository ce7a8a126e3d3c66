package database

import (
	"context"
	"fmt"
	"time"

	"krushilink/internal/models"
)

const equipmentColumns = `id, driver_id, service_type, name, price_per_acre, is_active, created_at, updated_at`

func (db *DB) CreateEquipment(ctx context.Context, eq *models.Equipment) error {
	query := `INSERT INTO equipment (` + equipmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		eq.ID,
		eq.DriverID,
		eq.ServiceType,
		eq.Name,
		eq.PricePerAcre,
		eq.IsActive,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("equipment %s: %w", eq.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create equipment: %w", err)
	}
	eq.CreatedAt = now
	eq.UpdatedAt = now
	return nil
}

func (db *DB) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = ?`
	eq, err := scanEquipment(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "equipment")
	}
	return eq, nil
}

func (db *DB) ListEquipmentByDriver(ctx context.Context, driverID string, activeOnly bool) ([]*models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment
              WHERE driver_id = ? AND (? = 0 OR is_active = 1)
              ORDER BY service_type, name`
	rows, err := db.QueryContext(ctx, query, driverID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var list []*models.Equipment
	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		list = append(list, eq)
	}
	return list, rows.Err()
}

// DeactivateEquipment hides a driver's machine from search and new bookings.
func (db *DB) DeactivateEquipment(ctx context.Context, id, driverID string) error {
	query := `UPDATE equipment SET is_active = 0, updated_at = ? WHERE id = ? AND driver_id = ?`
	return db.execOne(ctx, "equipment", query, time.Now().UTC(), id, driverID)
}

func scanEquipment(row rowScanner) (*models.Equipment, error) {
	var eq models.Equipment
	err := row.Scan(&eq.ID, &eq.DriverID, &eq.ServiceType, &eq.Name, &eq.PricePerAcre, &eq.IsActive, &eq.CreatedAt, &eq.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &eq, nil
}
