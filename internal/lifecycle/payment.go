package lifecycle

import (
	"strings"
	"time"

	"krushilink/internal/models"
)

// ReminderPolicy bounds payment reminders. Zero values disable the checks.
type ReminderPolicy struct {
	MaxReminders int
	MinInterval  time.Duration
	DueIn        time.Duration
}

func DefaultReminderPolicy() ReminderPolicy {
	return ReminderPolicy{
		MaxReminders: models.DefaultMaxReminders,
		DueIn:        models.DefaultPaymentDueDays * 24 * time.Hour,
	}
}

func paymentOpen(b *models.Booking) bool {
	return b.Status == models.StatusCompleted && b.PaymentStatus == models.PaymentPending
}

// RecordPayment marks the booking paid. The payer (farmer) and the payee
// (driver) are both notified.
func RecordPayment(b *models.Booking, reference string, now time.Time) (Decision, error) {
	if !paymentOpen(b) {
		return Decision{}, preconditionError(b, "record payment")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Decision{}, ErrMissingReference
	}

	nb := b.Clone()
	paidAt := now
	nb.PaymentStatus = models.PaymentPaid
	nb.PaymentReference = reference
	nb.PaidAt = &paidAt
	nb.UpdatedAt = now

	return Decision{
		Booking: nb,
		Effects: []Effect{
			Persist{Booking: nb, ExpectedVersion: b.Version},
			notifyEffect(nb.FarmerID, models.RoleFarmer, models.CategoryPayment, nb, paymentMessage(paymentPaid, models.RoleFarmer, nb)),
			notifyEffect(nb.DriverID, models.RoleDriver, models.CategoryPayment, nb, paymentMessage(paymentPaid, models.RoleDriver, nb)),
		},
	}, nil
}

// RecordPaymentFailure marks the payment failed, e.g. a declined online payment.
func RecordPaymentFailure(b *models.Booking, reason string, now time.Time) (Decision, error) {
	if !paymentOpen(b) {
		return Decision{}, preconditionError(b, "record payment failure")
	}

	nb := b.Clone()
	nb.PaymentStatus = models.PaymentFailed
	nb.PaymentNote = strings.TrimSpace(reason)
	nb.UpdatedAt = now

	return Decision{
		Booking: nb,
		Effects: []Effect{
			Persist{Booking: nb, ExpectedVersion: b.Version},
			notifyEffect(nb.FarmerID, models.RoleFarmer, models.CategoryPayment, nb, paymentMessage(paymentFailed, models.RoleFarmer, nb)),
			notifyEffect(nb.DriverID, models.RoleDriver, models.CategoryPayment, nb, paymentMessage(paymentFailed, models.RoleDriver, nb)),
		},
	}, nil
}

// ReopenPayment moves a failed payment back to pending so it can be collected again.
func ReopenPayment(b *models.Booking, now time.Time) (Decision, error) {
	if b.Status != models.StatusCompleted || b.PaymentStatus != models.PaymentFailed {
		return Decision{}, preconditionError(b, "reopen payment")
	}

	nb := b.Clone()
	nb.PaymentStatus = models.PaymentPending
	nb.UpdatedAt = now

	return Decision{
		Booking: nb,
		Effects: []Effect{
			Persist{Booking: nb, ExpectedVersion: b.Version},
			notifyEffect(nb.FarmerID, models.RoleFarmer, models.CategoryPayment, nb, paymentMessage(paymentReopened, models.RoleFarmer, nb)),
		},
	}, nil
}

// SendReminder increments reminderCount by one and stamps lastReminderSent.
// paymentDueDate defaults to now+DueIn on the first reminder.
func SendReminder(b *models.Booking, now time.Time, policy ReminderPolicy) (Decision, error) {
	if !paymentOpen(b) {
		return Decision{}, preconditionError(b, "send reminder")
	}
	if policy.MaxReminders > 0 && b.ReminderCount >= policy.MaxReminders {
		return Decision{}, ErrReminderLimit
	}
	if policy.MinInterval > 0 && b.LastReminderSent != nil && now.Sub(*b.LastReminderSent) < policy.MinInterval {
		return Decision{}, ErrReminderTooSoon
	}

	nb := b.Clone()
	sent := now
	nb.ReminderCount++
	nb.LastReminderSent = &sent
	if nb.PaymentDueDate == nil {
		dueIn := policy.DueIn
		if dueIn <= 0 {
			dueIn = models.DefaultPaymentDueDays * 24 * time.Hour
		}
		due := now.Add(dueIn)
		nb.PaymentDueDate = &due
	}
	nb.UpdatedAt = now

	return Decision{
		Booking: nb,
		Effects: []Effect{
			Persist{Booking: nb, ExpectedVersion: b.Version},
			notifyEffect(nb.FarmerID, models.RoleFarmer, models.CategoryPayment, nb, paymentMessage(paymentReminder, models.RoleFarmer, nb)),
		},
	}, nil
}
