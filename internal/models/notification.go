package models

import "time"

type NotificationCategory string

const (
	CategoryBookingUpdate NotificationCategory = "booking_update"
	CategoryPayment       NotificationCategory = "payment"
)

// Notification is both the dispatcher call contract and the stored in-app record.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipient_id"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	Category    NotificationCategory `json:"category"`
	RelatedID   string               `json:"related_id,omitempty"`
	ReadAt      *time.Time           `json:"read_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}
