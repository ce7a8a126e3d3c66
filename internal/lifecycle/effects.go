package lifecycle

import "krushilink/internal/models"

// Effect is a side effect the caller must perform after a decision.
type Effect interface {
	effect()
}

// Persist writes Booking if the stored version still equals ExpectedVersion.
type Persist struct {
	Booking         *models.Booking
	ExpectedVersion int64
}

// Notify hands a message to the notification dispatcher. Failures must not
// undo the persisted change.
type Notify struct {
	Notification  models.Notification
	RecipientRole models.Role
}

func (Persist) effect() {}
func (Notify) effect()  {}

// Decision is the outcome of a pure lifecycle operation.
type Decision struct {
	Booking *models.Booking
	Effects []Effect
}

// Persistence returns the persist effect, if any.
func (d Decision) Persistence() (Persist, bool) {
	for _, e := range d.Effects {
		if p, ok := e.(Persist); ok {
			return p, true
		}
	}
	return Persist{}, false
}

// Notifications returns notify effects in emission order.
func (d Decision) Notifications() []Notify {
	var out []Notify
	for _, e := range d.Effects {
		if n, ok := e.(Notify); ok {
			out = append(out, n)
		}
	}
	return out
}

func notifyEffect(recipientID string, role models.Role, category models.NotificationCategory, b *models.Booking, msg message) Notify {
	return Notify{
		Notification: models.Notification{
			RecipientID: recipientID,
			Title:       msg.title,
			Body:        msg.body,
			Category:    category,
			RelatedID:   b.ID,
		},
		RecipientRole: role,
	}
}
