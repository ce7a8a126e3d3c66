package models

import "time"

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

const (
	// DefaultPaymentDueDays is applied to paymentDueDate on the first reminder when it is unset.
	DefaultPaymentDueDays = 15

	// DefaultMaxReminders caps reminders per booking.
	DefaultMaxReminders = 5

	// ReminderHour is the hour, in ReminderTimezone, the automatic reminder scan runs at.
	ReminderHour = 10

	ReminderTimezone = "Asia/Kolkata"

	// ReminderGraceDays is how long after completion a booking without a due date becomes eligible for automatic reminders.
	ReminderGraceDays = 3

	// DefaultSearchRadiusKm for driver discovery.
	DefaultSearchRadiusKm = 25.0

	// MaxSearchRadiusKm bounds discovery queries.
	MaxSearchRadiusKm = 200.0

	// DefaultNearbyLimit caps discovery results.
	DefaultNearbyLimit = 20

	// TelegramLinkTTL is how long a chat link code stays valid.
	TelegramLinkTTL = 15 * time.Minute

	// WorkerQueueSize is the in-memory delivery queue capacity.
	WorkerQueueSize = 128

	// DefaultExportRangeDays when the admin export range is omitted.
	DefaultExportRangeDays = 30
)

const (
	DefaultPaginationSize = 5

	RateLimitMessages = 20

	// seconds
	RateLimitWindow = 60
)
