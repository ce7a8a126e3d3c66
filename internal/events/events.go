package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	EventBookingRequested     = "booking_requested"
	EventBookingStatusChanged = "booking_status_changed"
	EventPaymentRecorded      = "payment_recorded"
	EventPaymentFailed        = "payment_failed"
	EventPaymentReopened      = "payment_reopened"
	EventPaymentReminderSent  = "payment_reminder_sent"
)

// BookingEventTypes lists every event carrying a BookingEventPayload.
var BookingEventTypes = []string{
	EventBookingRequested,
	EventBookingStatusChanged,
	EventPaymentRecorded,
	EventPaymentFailed,
	EventPaymentReopened,
	EventPaymentReminderSent,
}

// BookingEventPayload is the booking snapshot carried by every booking and payment event.
type BookingEventPayload struct {
	BookingID     string    `json:"booking_id"`
	FarmerID      string    `json:"farmer_id"`
	DriverID      string    `json:"driver_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Action        string    `json:"action,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorRole     string    `json:"actor_role,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	ReminderCount int       `json:"reminder_count,omitempty"`
	Version       int64     `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs every handler of the event type synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}
