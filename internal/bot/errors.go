package bot

import (
	"errors"

	"krushilink/internal/lifecycle"
	"krushilink/internal/service"
)

const (
	msgSlowDown   = "⚠️ You are sending messages too fast. Please wait a moment."
	msgNotLinked  = "This chat is not linked to a KrushiLink account yet. Open the app, go to Profile > Link Telegram and send the code here as /start CODE."
	msgLinkFailed = "⚠️ That code is invalid or has expired. Request a new one in the app."
	msgHelp       = "KrushiLink bot\n\n/start CODE - link this chat to your account\n/bookings - your recent bookings\n/help - this message"
)

func errorMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return "⚠️ This booking has already moved on and can no longer be changed this way."
	case service.IsConflict(err):
		return "⚠️ The booking was changed at the same time. Please try again."
	case errors.Is(err, service.ErrForbidden):
		return "⚠️ This booking is not assigned to you."
	case errors.Is(err, service.ErrNotFound):
		return "⚠️ Booking not found."
	case errors.Is(err, service.ErrConflict):
		return "⚠️ This Telegram chat is already linked to another account."
	}

	return "❌ Something went wrong while handling your request. Please try again later."
}
