package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	StatusRequested       BookingStatus = "requested"
	StatusAccepted        BookingStatus = "accepted"
	StatusRejected        BookingStatus = "rejected"
	StatusInProgress      BookingStatus = "in_progress"
	StatusCompleted       BookingStatus = "completed"
	StatusCanceled        BookingStatus = "canceled"
	StatusAwaitingPayment BookingStatus = "awaiting_payment"
)

var bookingStatuses = []BookingStatus{
	StatusRequested,
	StatusAccepted,
	StatusRejected,
	StatusInProgress,
	StatusCompleted,
	StatusCanceled,
	StatusAwaitingPayment,
}

// ParseBookingStatus accepts the stored spelling and a few legacy variants.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "cancelled":
		s = string(StatusCanceled)
	case "in-progress", "inprogress":
		s = string(StatusInProgress)
	}
	for _, st := range bookingStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown booking status %q", raw)
}

func (s BookingStatus) Valid() bool {
	for _, st := range bookingStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports statuses with no outbound transitions.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCanceled, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsOpen reports bookings that still occupy the driver.
func (s BookingStatus) IsOpen() bool {
	return s == StatusRequested || s == StatusAccepted || s == StatusInProgress
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentLater PaymentMethod = "later"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentLater
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentPaid || s == PaymentFailed
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Booking struct {
	ID           string          `json:"id"`
	FarmerID     string          `json:"farmer_id"`
	DriverID     string          `json:"driver_id"`
	ServiceType  string          `json:"service_type"`
	EquipmentID  string          `json:"equipment_id"`
	PricePerAcre decimal.Decimal `json:"price_per_acre"`
	Acreage      decimal.Decimal `json:"acreage"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Location     GeoPoint        `json:"location"`
	Address      string          `json:"address"`
	Notes        string          `json:"notes,omitempty"`

	Status BookingStatus `json:"status"`

	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentDueDate   *time.Time    `json:"payment_due_date,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	PaymentNote      string        `json:"payment_note,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	ReminderCount    int           `json:"reminder_count"`
	LastReminderSent *time.Time    `json:"last_reminder_sent,omitempty"`

	RequestedTime time.Time  `json:"requested_time"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	CompletedTime *time.Time `json:"completed_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`
}

// TotalFor computes pricePerAcre × acreage rounded to paise.
func TotalFor(pricePerAcre, acreage decimal.Decimal) decimal.Decimal {
	return pricePerAcre.Mul(acreage).Round(2)
}

// Counterpart returns the other party of the booking for the given user.
func (b *Booking) Counterpart(userID string) (string, Role) {
	if userID == b.DriverID {
		return b.FarmerID, RoleFarmer
	}
	return b.DriverID, RoleDriver
}

// IsParty reports whether userID is the farmer or the driver on the booking.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.FarmerID || userID == b.DriverID)
}

// Clone returns a deep copy so decisions never alias the caller's record.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.PaymentDueDate = cloneTime(b.PaymentDueDate)
	c.PaidAt = cloneTime(b.PaidAt)
	c.LastReminderSent = cloneTime(b.LastReminderSent)
	c.ScheduledTime = cloneTime(b.ScheduledTime)
	c.CompletedTime = cloneTime(b.CompletedTime)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
