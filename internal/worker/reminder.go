package worker

import (
	"context"
	"errors"
	"time"

	"krushilink/internal/lifecycle"
	"krushilink/internal/metrics"
	"krushilink/internal/models"

	"github.com/rs/zerolog"
)

// PaymentReminders is the part of the booking service the scheduler drives.
type PaymentReminders interface {
	ListDuePayments(ctx context.Context, now time.Time) ([]*models.Booking, error)
	SendReminder(ctx context.Context, bookingID string, actor lifecycle.Actor) (*models.Booking, error)
}

var systemActor = lifecycle.Actor{UserID: "system", Role: models.RoleSystem}

// ReminderScheduler sends automatic payment reminders once a day.
type ReminderScheduler struct {
	bookings PaymentReminders
	hour     int
	loc      *time.Location
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewReminderScheduler(bookings PaymentReminders, hour int, logger *zerolog.Logger) *ReminderScheduler {
	l := logger.With().Str("component", "reminders").Logger()
	return &ReminderScheduler{
		bookings: bookings,
		hour:     hour,
		loc:      reminderLocation(),
		logger:   &l,
		now:      time.Now,
	}
}

// reminderLocation falls back to a fixed +05:30 offset when the host has no tz database.
func reminderLocation() *time.Location {
	if loc, err := time.LoadLocation(models.ReminderTimezone); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}

// Start waits for the configured hour in India time, then runs every 24h until ctx is done.
func (s *ReminderScheduler) Start(ctx context.Context) {
	wait := s.untilNextRun()
	s.logger.Info().Int("hour", s.hour).Str("zone", s.loc.String()).Dur("first_run_in", wait).Msg("Reminder scheduler started")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(24 * time.Hour)
		}
	}
}

// RunOnce reminds every due booking and returns how many reminders went out
// and how many bookings were skipped by the reminder policy.
func (s *ReminderScheduler) RunOnce(ctx context.Context) (sent, skipped int) {
	bookings, err := s.bookings.ListDuePayments(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("List due payments failed")
		return 0, 0
	}

	for _, b := range bookings {
		if ctx.Err() != nil {
			break
		}
		_, err := s.bookings.SendReminder(ctx, b.ID, systemActor)
		switch {
		case err == nil:
			sent++
			metrics.IncReminder("scheduled", "sent")
		case errors.Is(err, lifecycle.ErrReminderLimit), errors.Is(err, lifecycle.ErrReminderTooSoon),
			errors.Is(err, lifecycle.ErrPreconditionFailed):
			skipped++
			metrics.IncReminder("scheduled", "skipped")
		default:
			metrics.IncReminder("scheduled", "error")
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Send reminder failed")
		}
	}

	s.logger.Info().Int("due", len(bookings)).Int("sent", sent).Int("skipped", skipped).Msg("Reminder run finished")
	return sent, skipped
}

func (s *ReminderScheduler) untilNextRun() time.Duration {
	return timeUntilNextHour(s.now().In(s.loc), s.hour)
}

func timeUntilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
