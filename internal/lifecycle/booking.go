package lifecycle

import (
	"time"

	"krushilink/internal/models"
)

// Apply runs action against b and returns the full next state plus the
// persist and notify effects. b itself is never modified.
func Apply(b *models.Booking, actor Actor, action Action, now time.Time) (Decision, error) {
	next, err := Transition(b.Status, actor.Role, action)
	if err != nil {
		return Decision{}, err
	}

	nb := b.Clone()
	nb.Status = next
	nb.UpdatedAt = now
	if next == models.StatusCompleted {
		if nb.CompletedTime == nil {
			completed := now
			nb.CompletedTime = &completed
		}
		if nb.PaymentMethod == models.PaymentLater {
			nb.PaymentStatus = models.PaymentPending
		}
	}

	recipientID, recipientRole := nb.FarmerID, models.RoleFarmer
	if actor.Role == models.RoleFarmer {
		recipientID, recipientRole = nb.DriverID, models.RoleDriver
	}

	return Decision{
		Booking: nb,
		Effects: []Effect{
			Persist{Booking: nb, ExpectedVersion: b.Version},
			notifyEffect(recipientID, recipientRole, models.CategoryBookingUpdate, nb, statusMessage(recipientRole, nb)),
		},
	}, nil
}

// Requested is the notification for a brand new booking, sent to the driver.
func Requested(b *models.Booking) Notify {
	return notifyEffect(b.DriverID, models.RoleDriver, models.CategoryBookingUpdate, b, statusMessage(models.RoleDriver, b))
}
