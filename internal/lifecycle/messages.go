package lifecycle

import (
	"fmt"
	"strings"

	"krushilink/internal/models"
)

type message struct {
	title string
	body  string
}

type paymentEvent string

const (
	paymentPaid     paymentEvent = "paid"
	paymentFailed   paymentEvent = "failed"
	paymentReminder paymentEvent = "reminder"
	paymentReopened paymentEvent = "reopened"
)

type statusKey struct {
	role   models.Role
	status models.BookingStatus
}

type paymentKey struct {
	role  models.Role
	event paymentEvent
}

var statusTemplates = map[statusKey]func(b *models.Booking) message{
	{models.RoleDriver, models.StatusRequested}: func(b *models.Booking) message {
		return message{"New booking request", fmt.Sprintf("New %s request for %s acres at %s.", service(b), b.Acreage.String(), place(b))}
	},
	{models.RoleFarmer, models.StatusAccepted}: func(b *models.Booking) message {
		return message{"Booking accepted", fmt.Sprintf("Your %s booking has been accepted by the driver.", service(b))}
	},
	{models.RoleFarmer, models.StatusRejected}: func(b *models.Booking) message {
		return message{"Booking rejected", fmt.Sprintf("Your %s booking request was declined by the driver.", service(b))}
	},
	{models.RoleFarmer, models.StatusInProgress}: func(b *models.Booking) message {
		return message{"Work started", fmt.Sprintf("The driver has started your %s job.", service(b))}
	},
	{models.RoleFarmer, models.StatusCompleted}: func(b *models.Booking) message {
		return message{"Work completed", fmt.Sprintf("Your %s job is complete. Amount due: %s.", service(b), amount(b))}
	},
	{models.RoleFarmer, models.StatusCanceled}: func(b *models.Booking) message {
		return message{"Booking canceled", fmt.Sprintf("The driver canceled your %s booking.", service(b))}
	},
	{models.RoleDriver, models.StatusCanceled}: func(b *models.Booking) message {
		return message{"Booking canceled", fmt.Sprintf("The farmer canceled the %s booking request.", service(b))}
	},
}

var paymentTemplates = map[paymentKey]func(b *models.Booking) message{
	{models.RoleFarmer, paymentPaid}: func(b *models.Booking) message {
		return message{"Payment recorded", fmt.Sprintf("Your payment of %s for the %s booking was recorded. Reference: %s.", amount(b), service(b), b.PaymentReference)}
	},
	{models.RoleDriver, paymentPaid}: func(b *models.Booking) message {
		return message{"Payment received", fmt.Sprintf("You received %s for the %s booking.", amount(b), service(b))}
	},
	{models.RoleFarmer, paymentFailed}: func(b *models.Booking) message {
		return message{"Payment failed", fmt.Sprintf("Your payment for the %s booking could not be completed.", service(b))}
	},
	{models.RoleDriver, paymentFailed}: func(b *models.Booking) message {
		return message{"Payment failed", fmt.Sprintf("The farmer's payment for the %s booking failed.", service(b))}
	},
	{models.RoleFarmer, paymentReminder}: func(b *models.Booking) message {
		body := fmt.Sprintf("Payment of %s for your %s booking is pending.", amount(b), service(b))
		if b.PaymentDueDate != nil {
			body += fmt.Sprintf(" Please pay by %s.", b.PaymentDueDate.Format("02 Jan 2006"))
		}
		return message{"Payment reminder", body}
	},
	{models.RoleFarmer, paymentReopened}: func(b *models.Booking) message {
		return message{"Payment pending", fmt.Sprintf("Payment of %s for your %s booking is pending again.", amount(b), service(b))}
	},
}

func statusMessage(role models.Role, b *models.Booking) message {
	if tmpl, ok := statusTemplates[statusKey{role, b.Status}]; ok {
		return tmpl(b)
	}
	return message{"Booking updated", fmt.Sprintf("Your %s booking is now %s.", service(b), humanStatus(b.Status))}
}

func paymentMessage(event paymentEvent, role models.Role, b *models.Booking) message {
	if tmpl, ok := paymentTemplates[paymentKey{role, event}]; ok {
		return tmpl(b)
	}
	return message{"Payment update", fmt.Sprintf("Payment status for your %s booking is now %s.", service(b), b.PaymentStatus)}
}

func service(b *models.Booking) string {
	if b.ServiceType == "" {
		return "equipment"
	}
	return b.ServiceType
}

func place(b *models.Booking) string {
	if a := strings.TrimSpace(b.Address); a != "" {
		return a
	}
	return fmt.Sprintf("%.4f, %.4f", b.Location.Lat, b.Location.Lng)
}

func amount(b *models.Booking) string {
	return "₹" + b.TotalPrice.StringFixed(2)
}

func humanStatus(s models.BookingStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
