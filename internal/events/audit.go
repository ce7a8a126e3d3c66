package events

import (
	"github.com/rs/zerolog"
)

// SubscribeAudit writes every booking and payment event to the log as an audit trail.
func SubscribeAudit(bus *EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "audit").Logger()

	bus.Subscribe(func(ev *Event) error {
		var payload BookingEventPayload
		if err := ev.Decode(&payload); err != nil {
			audit.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		audit.Info().
			Str("event", ev.Type).
			Str("booking_id", payload.BookingID).
			Str("status", payload.Status).
			Str("payment_status", payload.PaymentStatus).
			Str("action", payload.Action).
			Str("actor_id", payload.ActorID).
			Str("actor_role", payload.ActorRole).
			Int64("version", payload.Version).
			Time("occurred_at", payload.OccurredAt).
			Msg("booking event")
		return nil
	}, BookingEventTypes...)
}
