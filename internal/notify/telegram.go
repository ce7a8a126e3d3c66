package notify

import (
	"context"
	"fmt"

	"krushilink/internal/domain"
	"krushilink/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	CallbackAccept = "bk:accept:"
	CallbackReject = "bk:reject:"
)

// Telegram wraps the bot API for both push delivery and bot replies.
type Telegram struct {
	bot      domain.TelegramSender
	bookings domain.BookingRepository
}

// NewTelegram builds the Telegram channel. bookings is optional; with it, a
// driver's request notification carries accept/reject buttons while the
// booking is still waiting for an answer.
func NewTelegram(bot domain.TelegramSender, bookings domain.BookingRepository) *Telegram {
	return &Telegram{bot: bot, bookings: bookings}
}

func (t *Telegram) Channel() string { return "telegram" }

func (t *Telegram) Push(ctx context.Context, recipient *models.User, n *models.Notification) error {
	if recipient.TelegramChatID == 0 {
		return ErrNoAddress
	}

	text := fmt.Sprintf("*%s*\n%s",
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Body))

	if kb, ok := t.requestKeyboard(ctx, recipient, n); ok {
		_, err := t.SendWithInlineKeyboard(recipient.TelegramChatID, text, kb)
		return err
	}
	_, err := t.SendMarkdown(recipient.TelegramChatID, text)
	return err
}

func (t *Telegram) requestKeyboard(ctx context.Context, recipient *models.User, n *models.Notification) (tgbotapi.InlineKeyboardMarkup, bool) {
	if t.bookings == nil || n.RelatedID == "" || n.Category != models.CategoryBookingUpdate || recipient.Role != models.RoleDriver {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	b, err := t.bookings.GetBooking(ctx, n.RelatedID)
	if err != nil || b.Status != models.StatusRequested || b.DriverID != recipient.ID {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return BookingRequestKeyboard(b.ID), true
}

func BookingRequestKeyboard(bookingID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Accept", CallbackAccept+bookingID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", CallbackReject+bookingID),
		),
	)
}

func (t *Telegram) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return t.bot.Send(msg)
}

func (t *Telegram) SendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	return t.bot.Send(msg)
}

func (t *Telegram) SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	msg.ReplyMarkup = keyboard
	return t.bot.Send(msg)
}

// EditMessage replaces the text of a sent message and drops its keyboard.
func (t *Telegram) EditMessage(chatID int64, messageID int, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	return t.bot.Send(msg)
}

func (t *Telegram) AnswerCallback(callbackID, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := t.bot.Request(callback)
	return err
}
