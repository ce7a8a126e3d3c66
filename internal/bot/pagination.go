package bot

import (
	"context"
	"fmt"
	"strings"

	"krushilink/internal/models"
	"krushilink/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// maxListedBookings bounds how far back /bookings pages go.
const maxListedBookings = 50

// renderBookingsPage sends (messageID == 0) or edits one page of the user's
// bookings. Requests still waiting on a driver carry accept/reject buttons.
func (b *Bot) renderBookingsPage(ctx context.Context, user *models.User, chatID int64, messageID, page int) {
	bookings, err := b.bookings.ListUserBookings(ctx, user.ID, maxListedBookings)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list bookings for bot")
		b.reply(chatID, errorMessage(err))
		return
	}
	if len(bookings) == 0 {
		b.reply(chatID, "You have no bookings yet.")
		return
	}

	text, markup := bookingsPage(user, bookings, page, b.cfg.PaginationSize)

	var c tgbotapi.Chattable
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ParseMode = models.ParseModeMarkdown
		if len(markup.InlineKeyboard) > 0 {
			edit.ReplyMarkup = &markup
		}
		c = edit
	} else {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = models.ParseModeMarkdown
		if len(markup.InlineKeyboard) > 0 {
			msg.ReplyMarkup = markup
		}
		c = msg
	}
	if _, err := b.sender.Send(c); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("send bookings page")
	}
}

func bookingsPage(user *models.User, bookings []*models.Booking, page, perPage int) (string, tgbotapi.InlineKeyboardMarkup) {
	if perPage <= 0 {
		perPage = models.DefaultPaginationSize
	}
	total := len(bookings)
	totalPages := (total + perPage - 1) / perPage
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}
	startIdx := page * perPage
	endIdx := startIdx + perPage
	if endIdx > total {
		endIdx = total
	}

	var message strings.Builder
	message.WriteString("*Your bookings*\n\n")
	if totalPages > 1 {
		message.WriteString(fmt.Sprintf("Page %d of %d\n\n", page+1, totalPages))
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, bk := range bookings[startIdx:endIdx] {
		message.WriteString(fmt.Sprintf("%s *%s* %s\n", statusEmoji(bk.Status), shortID(bk.ID),
			tgbotapi.EscapeText(tgbotapi.ModeMarkdown, bk.ServiceType)))
		message.WriteString(fmt.Sprintf("   %s acres, ₹%s, %s\n", bk.Acreage.String(), bk.TotalPrice.StringFixed(2), statusLabel(bk.Status)))
		if bk.ScheduledTime != nil {
			message.WriteString(fmt.Sprintf("   📅 %s\n", bk.ScheduledTime.Format("02 Jan 2006 15:04")))
		}
		if bk.Status == models.StatusCompleted {
			message.WriteString(fmt.Sprintf("   💰 payment %s\n", bk.PaymentStatus))
		}
		message.WriteString("\n")

		if bk.Status == models.StatusRequested && user.Role == models.RoleDriver && bk.DriverID == user.ID {
			keyboard = append(keyboard, notify.BookingRequestKeyboard(bk.ID).InlineKeyboard...)
		}
	}

	var navButtons []tgbotapi.InlineKeyboardButton
	if page > 0 {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", fmt.Sprintf("%s%d", callbackBookingsPage, page-1)))
	}
	if endIdx < total {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("%s%d", callbackBookingsPage, page+1)))
	}
	if len(navButtons) > 0 {
		keyboard = append(keyboard, navButtons)
	}

	return message.String(), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func statusEmoji(s models.BookingStatus) string {
	switch s {
	case models.StatusAccepted:
		return "✅"
	case models.StatusInProgress:
		return "🚜"
	case models.StatusCompleted:
		return "🏁"
	case models.StatusRejected, models.StatusCanceled:
		return "❌"
	default:
		return "⏳"
	}
}

func statusLabel(s models.BookingStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + id[:8]
	}
	return "#" + id
}
