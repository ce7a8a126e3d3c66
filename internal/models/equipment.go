package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ServicePlowing    = "plowing"
	ServiceHarvesting = "harvesting"
	ServiceSowing     = "sowing"
	ServiceSpraying   = "spraying"
	ServiceThreshing  = "threshing"
	ServiceTransport  = "transport"
)

var ServiceTypes = []string{
	ServicePlowing,
	ServiceHarvesting,
	ServiceSowing,
	ServiceSpraying,
	ServiceThreshing,
	ServiceTransport,
}

func IsServiceType(s string) bool {
	for _, st := range ServiceTypes {
		if st == s {
			return true
		}
	}
	return false
}

// Equipment is a priced service offering owned by a driver.
type Equipment struct {
	ID           string          `json:"id"`
	DriverID     string          `json:"driver_id"`
	ServiceType  string          `json:"service_type"`
	Name         string          `json:"name"`
	PricePerAcre decimal.Decimal `json:"price_per_acre"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NearbyDriver is a discovery result.
type NearbyDriver struct {
	Driver     *User        `json:"driver"`
	DistanceKm float64      `json:"distance_km"`
	Equipment  []*Equipment `json:"equipment"`
}
