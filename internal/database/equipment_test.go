package database

import (
	"context"
	"testing"

	"krushilink/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquipment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tractor := &models.Equipment{ID: "eq-1", DriverID: "driver-1", ServiceType: models.ServicePlowing, Name: "Mahindra 575", PricePerAcre: decimal.RequireFromString("1250.50"), IsActive: true}
	harvester := &models.Equipment{ID: "eq-2", DriverID: "driver-1", ServiceType: models.ServiceHarvesting, Name: "Kartar 4000", PricePerAcre: decimal.NewFromInt(2500), IsActive: true}
	require.NoError(t, db.CreateEquipment(ctx, tractor))
	require.NoError(t, db.CreateEquipment(ctx, harvester))
	assert.ErrorIs(t, db.CreateEquipment(ctx, tractor), ErrDuplicate)

	got, err := db.GetEquipment(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", got.PricePerAcre.String())
	assert.True(t, got.IsActive)

	require.NoError(t, db.DeactivateEquipment(ctx, "eq-2", "driver-1"))
	assert.ErrorIs(t, db.DeactivateEquipment(ctx, "eq-1", "someone-else"), ErrNotFound)

	active, err := db.ListEquipmentByDriver(ctx, "driver-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "eq-1", active[0].ID)

	all, err := db.ListEquipmentByDriver(ctx, "driver-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = db.GetEquipment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
