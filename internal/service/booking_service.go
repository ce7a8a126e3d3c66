package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/domain"
	"krushilink/internal/events"
	"krushilink/internal/lifecycle"
	"krushilink/internal/metrics"
	"krushilink/internal/models"
	"krushilink/internal/payments"
	"krushilink/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BookingOptions tunes payment reminders and reminder eligibility.
type BookingOptions struct {
	Reminders lifecycle.ReminderPolicy
	// GraceDays after completion before a booking without a due date is reminded automatically.
	GraceDays int
}

func BookingOptionsFromConfig(cfg config.RemindersConfig) BookingOptions {
	opts := BookingOptions{
		Reminders: lifecycle.ReminderPolicy{
			MaxReminders: cfg.MaxReminders,
			MinInterval:  cfg.MinInterval,
			DueIn:        time.Duration(cfg.DueDays) * 24 * time.Hour,
		},
		GraceDays: cfg.GraceDays,
	}
	if opts.Reminders.MaxReminders <= 0 {
		opts.Reminders.MaxReminders = models.DefaultMaxReminders
	}
	if opts.Reminders.DueIn <= 0 {
		opts.Reminders.DueIn = models.DefaultPaymentDueDays * 24 * time.Hour
	}
	if opts.GraceDays <= 0 {
		opts.GraceDays = models.ReminderGraceDays
	}
	return opts
}

type CreateBookingRequest struct {
	FarmerID       string
	DriverID       string
	EquipmentID    string
	Acreage        decimal.Decimal
	Location       models.GeoPoint
	Address        string
	Notes          string
	ScheduledTime  *time.Time
	PaymentMethod  models.PaymentMethod
	PaymentDueDate *time.Time
}

// BookingService runs lifecycle decisions against the store. A decision is
// persisted first; notifications, events and ledger sync follow and never fail
// the operation.
type BookingService struct {
	repo       domain.Repository
	dispatcher domain.Dispatcher
	eventBus   domain.EventPublisher
	queue      domain.TaskQueue
	verifier   domain.PaymentVerifier
	opts       BookingOptions
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewBookingService(
	repo domain.Repository,
	dispatcher domain.Dispatcher,
	eventBus domain.EventPublisher,
	queue domain.TaskQueue,
	verifier domain.PaymentVerifier,
	opts BookingOptions,
	logger *zerolog.Logger,
) *BookingService {
	if opts.Reminders.MaxReminders == 0 && opts.Reminders.DueIn == 0 {
		opts.Reminders = lifecycle.DefaultReminderPolicy()
	}
	if opts.GraceDays <= 0 {
		opts.GraceDays = models.ReminderGraceDays
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		repo:       repo,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		queue:      queue,
		verifier:   verifier,
		opts:       opts,
		logger:     &l,
		now:        time.Now,
	}
}

func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if !req.Acreage.IsPositive() {
		return nil, validationError("acreage must be greater than zero")
	}
	if !req.Location.Valid() {
		return nil, validationError("location out of range")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return nil, validationError("unknown payment method %q", req.PaymentMethod)
	}
	now := s.now()
	if req.ScheduledTime != nil && req.ScheduledTime.Before(now.Add(-24*time.Hour)) {
		return nil, validationError("scheduled time is in the past")
	}

	farmer, err := s.repo.GetUser(ctx, req.FarmerID)
	if err != nil {
		return nil, storeError(err, "farmer")
	}
	if farmer.Role != models.RoleFarmer || farmer.Blocked {
		return nil, fmt.Errorf("%w: user %s cannot request bookings", ErrForbidden, farmer.ID)
	}

	driver, err := s.repo.GetUser(ctx, req.DriverID)
	if err != nil {
		return nil, storeError(err, "driver")
	}
	if !driver.CanBeBooked() {
		return nil, validationError("driver %s is not available for booking", driver.ID)
	}

	eq, err := s.repo.GetEquipment(ctx, req.EquipmentID)
	if err != nil {
		return nil, storeError(err, "equipment")
	}
	if eq.DriverID != driver.ID || !eq.IsActive {
		return nil, validationError("equipment %s is not offered by driver %s", eq.ID, driver.ID)
	}

	booking := &models.Booking{
		ID:             uuid.NewString(),
		FarmerID:       farmer.ID,
		DriverID:       driver.ID,
		ServiceType:    eq.ServiceType,
		EquipmentID:    eq.ID,
		PricePerAcre:   eq.PricePerAcre,
		Acreage:        req.Acreage,
		TotalPrice:     models.TotalFor(eq.PricePerAcre, req.Acreage),
		Location:       req.Location,
		Address:        strings.TrimSpace(req.Address),
		Notes:          strings.TrimSpace(req.Notes),
		Status:         models.StatusRequested,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  models.PaymentPending,
		PaymentDueDate: req.PaymentDueDate,
		RequestedTime:  now,
		ScheduledTime:  req.ScheduledTime,
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		metrics.IncTransition("request", "error")
		return nil, storeError(err, "create booking")
	}
	metrics.IncTransition("request", "ok")

	s.notify(ctx, lifecycle.Requested(booking))
	actor := lifecycle.Actor{UserID: farmer.ID, Role: models.RoleFarmer}
	s.publishEvent(events.EventBookingRequested, booking, actor, "request")
	s.enqueueLedger(ctx, booking)

	return booking, nil
}

// ApplyAction moves the booking through the state machine on behalf of one of its parties.
func (s *BookingService) ApplyAction(ctx context.Context, bookingID string, actor lifecycle.Actor, action lifecycle.Action) (*models.Booking, error) {
	booking, err := s.loadForParty(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}

	decision, err := lifecycle.Apply(booking, actor, action, s.now())
	if err != nil {
		metrics.IncTransition(string(action), "rejected")
		return nil, err
	}
	if err := s.execute(ctx, decision); err != nil {
		metrics.IncTransition(string(action), "error")
		return nil, err
	}
	metrics.IncTransition(string(action), "ok")

	s.publishEvent(events.EventBookingStatusChanged, decision.Booking, actor, string(action))
	return decision.Booking, nil
}

// RecordPayment verifies the reference with the payment provider and marks the
// booking paid. A declined payment is recorded as failed and returned without error.
func (s *BookingService) RecordPayment(ctx context.Context, bookingID string, actor lifecycle.Actor, reference string) (*models.Booking, error) {
	booking, err := s.loadForPayment(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	decision, err := lifecycle.RecordPayment(booking, reference, now)
	if err != nil {
		return nil, err
	}
	// Cash and offline references are confirmed by whoever received the money.
	if actor.Role == models.RoleFarmer && !payments.ProviderChecked(booking, reference) {
		metrics.IncPayment("forbidden")
		return nil, fmt.Errorf("%w: the driver confirms offline payments", ErrForbidden)
	}

	verification := domain.PaymentVerification{Outcome: domain.PaymentSucceeded}
	if s.verifier != nil {
		verification, err = s.verifier.Verify(ctx, booking, strings.TrimSpace(reference))
		if err != nil {
			metrics.IncPayment("verify_error")
			return nil, fmt.Errorf("%w: %w", ErrPaymentNotVerified, err)
		}
	}

	switch verification.Outcome {
	case domain.PaymentSucceeded:
	case domain.PaymentDeclined:
		reason := verification.Reason
		if reason == "" {
			reason = "declined by provider"
		}
		return s.recordFailure(ctx, booking, actor, reason, now)
	default:
		metrics.IncPayment("unsettled")
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotVerified, verification.Reason)
	}

	if err := s.execute(ctx, decision); err != nil {
		metrics.IncPayment("error")
		return nil, err
	}
	metrics.IncPayment("paid")

	s.publishEvent(events.EventPaymentRecorded, decision.Booking, actor, "")
	return decision.Booking, nil
}

func (s *BookingService) RecordPaymentFailure(ctx context.Context, bookingID string, actor lifecycle.Actor, reason string) (*models.Booking, error) {
	booking, err := s.loadForPayment(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	return s.recordFailure(ctx, booking, actor, reason, s.now())
}

func (s *BookingService) recordFailure(ctx context.Context, booking *models.Booking, actor lifecycle.Actor, reason string, now time.Time) (*models.Booking, error) {
	decision, err := lifecycle.RecordPaymentFailure(booking, reason, now)
	if err != nil {
		return nil, err
	}
	if err := s.execute(ctx, decision); err != nil {
		metrics.IncPayment("error")
		return nil, err
	}
	metrics.IncPayment("failed")

	s.publishEvent(events.EventPaymentFailed, decision.Booking, actor, "")
	return decision.Booking, nil
}

// SendReminder nudges the farmer about an unpaid completed booking. The driver,
// an admin or the scheduler may send it.
func (s *BookingService) SendReminder(ctx context.Context, bookingID string, actor lifecycle.Actor) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleSystem:
	case models.RoleDriver:
		if actor.UserID != booking.DriverID {
			return nil, fmt.Errorf("%w: not the driver of booking %s", ErrForbidden, booking.ID)
		}
	default:
		return nil, fmt.Errorf("%w: %s cannot send payment reminders", ErrForbidden, actor.Role)
	}

	manual := actor.Role != models.RoleSystem
	decision, err := lifecycle.SendReminder(booking, s.now(), s.opts.Reminders)
	if err != nil {
		if manual {
			metrics.IncReminder("manual", "rejected")
		}
		return nil, err
	}
	if err := s.execute(ctx, decision); err != nil {
		if manual {
			metrics.IncReminder("manual", "error")
		}
		return nil, err
	}
	if manual {
		metrics.IncReminder("manual", "sent")
	}

	s.publishEvent(events.EventPaymentReminderSent, decision.Booking, actor, "")
	return decision.Booking, nil
}

// ReopenPayment is the admin correction path from failed back to pending.
func (s *BookingService) ReopenPayment(ctx context.Context, bookingID string, actor lifecycle.Actor) (*models.Booking, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins can reopen payments", ErrForbidden)
	}
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	decision, err := lifecycle.ReopenPayment(booking, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.execute(ctx, decision); err != nil {
		return nil, err
	}
	metrics.IncPayment("reopened")

	s.publishEvent(events.EventPaymentReopened, decision.Booking, actor, "")
	return decision.Booking, nil
}

// GetBooking returns the booking if actor is a party to it or an admin.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string, actor lifecycle.Actor) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && !booking.IsParty(actor.UserID) {
		return nil, fmt.Errorf("%w: not a party to booking %s", ErrForbidden, booking.ID)
	}
	return booking, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID string, limit int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	bookings, err := s.repo.ListBookingsByUser(ctx, userID, limit)
	if err != nil {
		return nil, storeError(err, "list bookings")
	}
	return bookings, nil
}

// ListPendingPayments returns completed, unpaid bookings completed (or due) before olderThan.
func (s *BookingService) ListPendingPayments(ctx context.Context, olderThan time.Time) ([]*models.Booking, error) {
	bookings, err := s.repo.ListPendingPayments(ctx, olderThan, olderThan)
	if err != nil {
		return nil, storeError(err, "list pending payments")
	}
	return bookings, nil
}

// ListDuePayments returns bookings eligible for an automatic reminder at now:
// past their due date, or completed more than GraceDays ago without one.
func (s *BookingService) ListDuePayments(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	completedBefore := now.AddDate(0, 0, -s.opts.GraceDays)
	bookings, err := s.repo.ListPendingPayments(ctx, now, completedBefore)
	if err != nil {
		return nil, storeError(err, "list due payments")
	}
	return bookings, nil
}

func (s *BookingService) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	if !to.After(from) {
		return nil, validationError("empty date range")
	}
	bookings, err := s.repo.ListBookingsByRange(ctx, from, to)
	if err != nil {
		return nil, storeError(err, "list bookings by range")
	}
	return bookings, nil
}

func (s *BookingService) getBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking")
	}
	return booking, nil
}

// loadForParty loads the booking and checks the actor acts as its own side of it.
func (s *BookingService) loadForParty(ctx context.Context, id string, actor lifecycle.Actor) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == models.RoleFarmer && actor.UserID == booking.FarmerID:
	case actor.Role == models.RoleDriver && actor.UserID == booking.DriverID:
	default:
		return nil, fmt.Errorf("%w: %s %s is not a party to booking %s", ErrForbidden, actor.Role, actor.UserID, booking.ID)
	}
	user, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, storeError(err, "acting user")
	}
	if user.Blocked {
		return nil, fmt.Errorf("%w: user %s is blocked", ErrForbidden, user.ID)
	}
	return booking, nil
}

func (s *BookingService) loadForPayment(ctx context.Context, id string, actor lifecycle.Actor) (*models.Booking, error) {
	if actor.Role == models.RoleAdmin {
		return s.getBooking(ctx, id)
	}
	return s.loadForParty(ctx, id, actor)
}

// execute performs the decision's effects in order. Only the persist effect can fail the call.
func (s *BookingService) execute(ctx context.Context, d lifecycle.Decision) error {
	for _, effect := range d.Effects {
		switch e := effect.(type) {
		case lifecycle.Persist:
			if err := s.repo.SaveBookingWithVersion(ctx, e.Booking, e.ExpectedVersion); err != nil {
				return storeError(err, "save booking")
			}
		case lifecycle.Notify:
			s.notify(ctx, e)
		}
	}
	s.enqueueLedger(ctx, d.Booking)
	return nil
}

func (s *BookingService) notify(ctx context.Context, n lifecycle.Notify) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Notify(ctx, n.Notification); err != nil {
		s.logger.Warn().Err(err).
			Str("booking_id", n.Notification.RelatedID).
			Str("recipient_id", n.Notification.RecipientID).
			Str("recipient_role", string(n.RecipientRole)).
			Msg("notification dispatch failed")
	}
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, actor lifecycle.Actor, action string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     b.ID,
		FarmerID:      b.FarmerID,
		DriverID:      b.DriverID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		Action:        action,
		ActorID:       actor.UserID,
		ActorRole:     string(actor.Role),
		Reference:     b.PaymentReference,
		ReminderCount: b.ReminderCount,
		Version:       b.Version,
		OccurredAt:    b.UpdatedAt,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueLedger(ctx context.Context, b *models.Booking) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, worker.TaskLedgerUpsert, b.ID, b); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("ledger enqueue error")
	}
}

