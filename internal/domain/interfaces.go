package domain

import (
	"context"
	"time"

	"krushilink/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByTelegramChatID(ctx context.Context, chatID int64) (*models.User, error)
	UpdateUserProfile(ctx context.Context, user *models.User) error
	SetUserVerified(ctx context.Context, id string, verifiedAt time.Time) error
	SetUserBlocked(ctx context.Context, id string, blocked bool, reason string) error
	SetTelegramChatID(ctx context.Context, id string, chatID int64) error
	SetFCMToken(ctx context.Context, id, token string) error
	ListUsers(ctx context.Context, role models.Role, limit, offset int) ([]*models.User, error)
	CreateTelegramLink(ctx context.Context, link *models.TelegramLink) error
	ConsumeTelegramLink(ctx context.Context, code string, now time.Time) (string, error)
}

type EquipmentRepository interface {
	CreateEquipment(ctx context.Context, eq *models.Equipment) error
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
	ListEquipmentByDriver(ctx context.Context, driverID string, activeOnly bool) ([]*models.Equipment, error)
	DeactivateEquipment(ctx context.Context, id, driverID string) error
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	SaveBookingWithVersion(ctx context.Context, booking *models.Booking, expectedVersion int64) error
	ListBookingsByUser(ctx context.Context, userID string, limit int) ([]*models.Booking, error)
	ListBookingsByRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	ListPendingPayments(ctx context.Context, dueBefore, completedBefore time.Time) ([]*models.Booking, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) error
}

type DeliveryTaskRepository interface {
	CreateDeliveryTask(ctx context.Context, task *models.DeliveryTask) error
	GetPendingDeliveryTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error)
	UpdateDeliveryTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Repository is the full persistent store.
type Repository interface {
	UserRepository
	EquipmentRepository
	BookingRepository
	NotificationRepository
}

// GeoHit is a driver found by a radius query.
type GeoHit struct {
	DriverID   string
	DistanceKm float64
}

// GeoIndex keeps the last known position of drivers who are available for work.
type GeoIndex interface {
	SetLocation(ctx context.Context, driverID string, p models.GeoPoint) error
	RemoveLocation(ctx context.Context, driverID string) error
	Nearby(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]GeoHit, error)
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Dispatcher delivers a notification to its recipient.
type Dispatcher interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Pusher is one out-of-band delivery channel.
type Pusher interface {
	Channel() string
	Push(ctx context.Context, recipient *models.User, n *models.Notification) error
}

// TaskQueue accepts background work for the delivery worker.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType, entityID string, payload interface{}) error
}

type LedgerWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
}

type PaymentOutcome int

const (
	PaymentSucceeded PaymentOutcome = iota
	PaymentDeclined
	PaymentUnsettled
)

func (o PaymentOutcome) String() string {
	switch o {
	case PaymentSucceeded:
		return "succeeded"
	case PaymentDeclined:
		return "declined"
	default:
		return "unsettled"
	}
}

// PaymentVerification is a provider's answer about a payment reference.
type PaymentVerification struct {
	Outcome PaymentOutcome
	Reason  string
}

type PaymentVerifier interface {
	Verify(ctx context.Context, booking *models.Booking, reference string) (PaymentVerification, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}
