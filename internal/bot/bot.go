package bot

import (
	"context"
	"fmt"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/domain"
	"krushilink/internal/lifecycle"
	"krushilink/internal/metrics"
	"krushilink/internal/models"
	"krushilink/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserDirectory resolves Telegram chats to KrushiLink accounts.
type UserDirectory interface {
	CompleteTelegramLink(ctx context.Context, code string, chatID int64) (*models.User, error)
	GetUserByTelegramChatID(ctx context.Context, chatID int64) (*models.User, error)
}

// BookingDesk is the part of the booking service the bot drives.
type BookingDesk interface {
	ApplyAction(ctx context.Context, bookingID string, actor lifecycle.Actor, action lifecycle.Action) (*models.Booking, error)
	ListUserBookings(ctx context.Context, userID string, limit int) ([]*models.Booking, error)
}

// Bot is the companion Telegram bot: it links chats to accounts, lists
// bookings and turns the accept/reject buttons of request notifications into
// booking actions.
type Bot struct {
	sender   domain.TelegramSender
	tg       *notify.Telegram
	users    UserDirectory
	bookings BookingDesk
	limiter  domain.RateLimiter
	cfg      config.BotConfig
	logger   *zerolog.Logger
}

func NewBot(
	sender domain.TelegramSender,
	users UserDirectory,
	bookings BookingDesk,
	limiter domain.RateLimiter,
	cfg config.BotConfig,
	logger *zerolog.Logger,
) *Bot {
	if cfg.PaginationSize <= 0 {
		cfg.PaginationSize = models.DefaultPaginationSize
	}
	l := logger.With().Str("component", "bot").Logger()
	return &Bot{
		sender:   sender,
		tg:       notify.NewTelegram(sender, nil),
		users:    users,
		bookings: bookings,
		limiter:  limiter,
		cfg:      cfg,
		logger:   &l,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.sender.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.sender.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.sender == nil {
		return
	}
	b.sender.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	kind, chatID := updateKind(update)
	if chatID == 0 {
		return
	}

	result := "ok"
	defer func() {
		metrics.ObserveBotUpdate(kind, result, time.Since(start))
	}()

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Int64("chat_id", chatID).Logger()
	updateCtx = l.WithContext(updateCtx)

	if !b.withRecovery(func() {
		if !b.allow(updateCtx, chatID) {
			result = "rate_limited"
			if update.CallbackQuery != nil {
				_ = b.tg.AnswerCallback(update.CallbackQuery.ID, msgSlowDown)
			} else {
				b.reply(chatID, msgSlowDown)
			}
			return
		}

		if update.CallbackQuery != nil {
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
			return
		}
		b.handleMessage(updateCtx, update.Message)
	}) {
		result = "panic"
	}
}

func updateKind(update tgbotapi.Update) (string, int64) {
	switch {
	case update.CallbackQuery != nil:
		// Inline-mode callbacks carry no message; the sender's id doubles as the private chat id.
		if m := update.CallbackQuery.Message; m != nil && m.Chat != nil {
			return "callback", m.Chat.ID
		}
		if update.CallbackQuery.From != nil {
			return "callback", update.CallbackQuery.From.ID
		}
		return "callback", 0
	case update.Message != nil && update.Message.Chat != nil:
		return "message", update.Message.Chat.ID
	default:
		return "", 0
	}
}

// allow applies the per-chat message budget. Limiter errors let the update through.
func (b *Bot) allow(ctx context.Context, chatID int64) bool {
	if b.limiter == nil || b.cfg.RateLimitMessages <= 0 {
		return true
	}
	window := time.Duration(b.cfg.RateLimitWindow) * time.Second
	ok, err := b.limiter.CheckRateLimit(ctx, fmt.Sprintf("bot:chat:%d", chatID), b.cfg.RateLimitMessages, window)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Rate limit check failed")
		return true
	}
	if !ok {
		zerolog.Ctx(ctx).Warn().Msg("Rate limit exceeded")
	}
	return ok
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.tg.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
