// Package notify delivers booking and payment notifications. Every
// notification is stored in the recipient's in-app inbox first; push
// channels (Telegram, FCM) run later from the delivery queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"krushilink/internal/domain"
	"krushilink/internal/models"
	"krushilink/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// Inbox is the notification dispatcher used by the booking service.
type Inbox struct {
	store  domain.NotificationRepository
	queue  domain.TaskQueue
	logger *zerolog.Logger
	now    func() time.Time
}

func NewInbox(store domain.NotificationRepository, queue domain.TaskQueue, logger *zerolog.Logger) *Inbox {
	l := logger.With().Str("component", "inbox").Logger()
	return &Inbox{
		store:  store,
		queue:  queue,
		logger: &l,
		now:    time.Now,
	}
}

// Notify stores n and schedules push delivery. A failed enqueue is logged;
// the message is still readable in the inbox.
func (i *Inbox) Notify(ctx context.Context, n models.Notification) error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return ErrNoRecipient
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = i.now().UTC()
	n.ReadAt = nil

	if err := i.store.CreateNotification(ctx, &n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if i.queue != nil {
		if err := i.queue.Enqueue(ctx, worker.TaskPush, n.ID, n); err != nil {
			i.logger.Warn().Err(err).Str("notification_id", n.ID).Str("recipient_id", n.RecipientID).Msg("push enqueue failed")
		}
	}
	return nil
}

func (i *Inbox) List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return i.store.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

func (i *Inbox) MarkRead(ctx context.Context, id, recipientID string) error {
	return i.store.MarkNotificationRead(ctx, id, recipientID, i.now().UTC())
}
