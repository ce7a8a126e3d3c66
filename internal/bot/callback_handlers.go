package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"krushilink/internal/lifecycle"
	"krushilink/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const callbackBookingsPage = "bk:page:"

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || callback.Message.Chat == nil {
		b.answer(callback.ID, "")
		return
	}
	data := callback.Data
	chatID := callback.Message.Chat.ID

	switch {
	case strings.HasPrefix(data, notify.CallbackAccept):
		b.handleBookingAction(ctx, callback, strings.TrimPrefix(data, notify.CallbackAccept), lifecycle.ActionAccept)

	case strings.HasPrefix(data, notify.CallbackReject):
		b.handleBookingAction(ctx, callback, strings.TrimPrefix(data, notify.CallbackReject), lifecycle.ActionReject)

	case strings.HasPrefix(data, callbackBookingsPage):
		b.answer(callback.ID, "")
		page, _ := strconv.Atoi(strings.TrimPrefix(data, callbackBookingsPage))
		user := b.linkedUser(ctx, chatID)
		if user == nil {
			return
		}
		b.renderBookingsPage(ctx, user, chatID, callback.Message.MessageID, page)

	default:
		b.answer(callback.ID, "")
	}
}

func (b *Bot) handleBookingAction(ctx context.Context, callback *tgbotapi.CallbackQuery, bookingID string, action lifecycle.Action) {
	chatID := callback.Message.Chat.ID
	user := b.linkedUser(ctx, chatID)
	if user == nil {
		b.answer(callback.ID, "")
		return
	}

	actor := lifecycle.Actor{UserID: user.ID, Role: user.Role}
	booking, err := b.bookings.ApplyAction(ctx, bookingID, actor, action)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("booking_id", bookingID).Str("action", string(action)).Msg("booking action from bot failed")
		b.answer(callback.ID, errorMessage(err))
		return
	}

	b.answer(callback.ID, "Done")
	text := fmt.Sprintf("Booking %s is now %s.", shortID(booking.ID), statusLabel(booking.Status))
	if _, err := b.tg.EditMessage(chatID, callback.Message.MessageID, text); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("edit request message")
	}
}

func (b *Bot) answer(callbackID, text string) {
	if err := b.tg.AnswerCallback(callbackID, text); err != nil {
		b.logger.Warn().Err(err).Msg("answer callback")
	}
}
