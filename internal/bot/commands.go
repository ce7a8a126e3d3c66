package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"krushilink/internal/models"
	"krushilink/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	if !msg.IsCommand() {
		b.reply(chatID, msgHelp)
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))
	case "bookings":
		user := b.linkedUser(ctx, chatID)
		if user == nil {
			return
		}
		b.renderBookingsPage(ctx, user, chatID, 0, 0)
	default:
		b.reply(chatID, msgHelp)
	}
}

// handleStart links the chat when a code is given (t.me/bot?start=CODE
// deep links arrive the same way) and greets an already linked user otherwise.
func (b *Bot) handleStart(ctx context.Context, chatID int64, code string) {
	if code == "" {
		user, err := b.users.GetUserByTelegramChatID(ctx, chatID)
		if err != nil {
			if !errors.Is(err, service.ErrNotFound) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("lookup chat user")
			}
			b.reply(chatID, msgNotLinked)
			return
		}
		b.reply(chatID, fmt.Sprintf("Welcome back, %s!\n\n%s", displayName(user), msgHelp))
		return
	}

	user, err := b.users.CompleteTelegramLink(ctx, code, chatID)
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Info().Str("user_id", user.ID).Msg("Telegram chat linked")
		b.reply(chatID, fmt.Sprintf("✅ Linked to %s (%s). Booking updates will arrive here.", displayName(user), user.Role))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrValidation):
		b.reply(chatID, msgLinkFailed)
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("complete telegram link")
		b.reply(chatID, errorMessage(err))
	}
}

// linkedUser returns the account behind chatID, replying with instructions when there is none.
func (b *Bot) linkedUser(ctx context.Context, chatID int64) *models.User {
	user, err := b.users.GetUserByTelegramChatID(ctx, chatID)
	if err == nil {
		return user
	}
	if errors.Is(err, service.ErrNotFound) {
		b.reply(chatID, msgNotLinked)
		return nil
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("lookup chat user")
	b.reply(chatID, errorMessage(err))
	return nil
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Phone
}
