package notify

import (
	"context"
	"errors"
	"fmt"

	"krushilink/internal/database"
	"krushilink/internal/domain"
	"krushilink/internal/metrics"
	"krushilink/internal/models"
	"krushilink/internal/worker"

	"github.com/rs/zerolog"
)

// ErrNoAddress means the recipient has not registered for a channel. It is not a failure.
var ErrNoAddress = errors.New("recipient has no address for channel")

// PushHandler fans a stored notification out to every push channel the
// recipient is reachable on. It is registered with the delivery worker for
// worker.TaskPush.
type PushHandler struct {
	users   domain.UserRepository
	pushers []domain.Pusher
	logger  *zerolog.Logger
}

func NewPushHandler(users domain.UserRepository, logger *zerolog.Logger, pushers ...domain.Pusher) *PushHandler {
	l := logger.With().Str("component", "push").Logger()
	return &PushHandler{users: users, pushers: pushers, logger: &l}
}

// Handle returns an error only when every channel the recipient has failed, so
// the task is retried. Partial delivery counts as done.
func (h *PushHandler) Handle(ctx context.Context, task *models.DeliveryTask) error {
	var n models.Notification
	if err := worker.DecodePayload(task, &n); err != nil {
		return err
	}

	recipient, err := h.users.GetUser(ctx, n.RecipientID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: recipient %s: %v", worker.ErrPermanent, n.RecipientID, err)
	}
	if err != nil {
		return fmt.Errorf("load recipient %s: %w", n.RecipientID, err)
	}
	if recipient.Blocked {
		return nil
	}

	var (
		attempted int
		failures  []error
	)
	for _, p := range h.pushers {
		err := p.Push(ctx, recipient, &n)
		switch {
		case errors.Is(err, ErrNoAddress):
			continue
		case err != nil:
			attempted++
			failures = append(failures, fmt.Errorf("%s: %w", p.Channel(), err))
			metrics.IncDelivery(p.Channel(), "error")
			h.logger.Warn().Err(err).Str("channel", p.Channel()).Str("notification_id", n.ID).Msg("push failed")
		default:
			attempted++
			metrics.IncDelivery(p.Channel(), "ok")
		}
	}

	if attempted > 0 && len(failures) == attempted {
		return errors.Join(failures...)
	}
	return nil
}
