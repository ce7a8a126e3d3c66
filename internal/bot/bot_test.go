package bot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"
	"krushilink/internal/notify"
	"krushilink/internal/repository"
	"krushilink/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu        sync.Mutex
	updates   chan tgbotapi.Update
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
	stopped   bool
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockSender) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockSender) GetSelf() tgbotapi.User { return tgbotapi.User{UserName: "krushilink_bot"} }

func (m *mockSender) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockSender) lastText(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	switch c := m.sent[len(m.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return c.Text
	case tgbotapi.EditMessageTextConfig:
		return c.Text
	default:
		t.Fatalf("unexpected chattable %T", c)
		return ""
	}
}

func (m *mockSender) lastAnswer(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requested)
	cb, ok := m.requested[len(m.requested)-1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	return cb.Text
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) CompleteTelegramLink(ctx context.Context, code string, chatID int64) (*models.User, error) {
	args := m.Called(ctx, code, chatID)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) GetUserByTelegramChatID(ctx context.Context, chatID int64) (*models.User, error) {
	args := m.Called(ctx, chatID)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDesk struct {
	mock.Mock
}

func (m *mockDesk) ApplyAction(ctx context.Context, bookingID string, actor lifecycle.Actor, action lifecycle.Action) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actor, action)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDesk) ListUserBookings(ctx context.Context, userID string, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, userID, limit)
	if b := args.Get(0); b != nil {
		return b.([]*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

var driver = &models.User{ID: "driver-1", Role: models.RoleDriver, Name: "Suresh", Phone: "+919800000002", TelegramChatID: 77}

func newTestBot(cfg config.BotConfig) (*Bot, *mockSender, *mockDirectory, *mockDesk) {
	sender := &mockSender{updates: make(chan tgbotapi.Update, 4)}
	users := &mockDirectory{}
	desk := &mockDesk{}
	logger := zerolog.New(io.Discard)
	b := NewBot(sender, users, desk, repository.NewMemoryGeoRepository(), cfg, &logger)
	return b, sender, users, desk
}

func command(chatID int64, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: chatID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func callback(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: chatID},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 501, Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func TestStartCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("LinksChat", func(t *testing.T) {
		b, sender, users, _ := newTestBot(config.BotConfig{})
		users.On("CompleteTelegramLink", mock.Anything, "K7QX2MPA", int64(77)).Return(driver, nil)

		b.processUpdate(ctx, command(77, "/start K7QX2MPA"))

		users.AssertExpectations(t)
		assert.Contains(t, sender.lastText(t), "Linked to Suresh (driver)")
	})

	t.Run("BadCode", func(t *testing.T) {
		b, sender, users, _ := newTestBot(config.BotConfig{})
		users.On("CompleteTelegramLink", mock.Anything, "NOPE", int64(77)).
			Return(nil, fmt.Errorf("telegram link: %w", service.ErrNotFound))

		b.processUpdate(ctx, command(77, "/start NOPE"))
		assert.Equal(t, msgLinkFailed, sender.lastText(t))
	})

	t.Run("ChatTaken", func(t *testing.T) {
		b, sender, users, _ := newTestBot(config.BotConfig{})
		users.On("CompleteTelegramLink", mock.Anything, "CODE1234", int64(77)).
			Return(nil, fmt.Errorf("link telegram: %w", service.ErrConflict))

		b.processUpdate(ctx, command(77, "/start CODE1234"))
		assert.Contains(t, sender.lastText(t), "already linked")
	})

	t.Run("NotLinked", func(t *testing.T) {
		b, sender, users, _ := newTestBot(config.BotConfig{})
		users.On("GetUserByTelegramChatID", mock.Anything, int64(78)).Return(nil, service.ErrNotFound)

		b.processUpdate(ctx, command(78, "/start"))
		assert.Equal(t, msgNotLinked, sender.lastText(t))
	})

	t.Run("Greets", func(t *testing.T) {
		b, sender, users, _ := newTestBot(config.BotConfig{})
		users.On("GetUserByTelegramChatID", mock.Anything, int64(77)).Return(driver, nil)

		b.processUpdate(ctx, command(77, "/start"))
		assert.Contains(t, sender.lastText(t), "Welcome back, Suresh")
	})

	t.Run("PlainText", func(t *testing.T) {
		b, sender, _, _ := newTestBot(config.BotConfig{})
		b.processUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 77}, Text: "hello"}})
		assert.Equal(t, msgHelp, sender.lastText(t))
	})
}

func TestBookingsCommand(t *testing.T) {
	ctx := context.Background()
	b, sender, users, desk := newTestBot(config.BotConfig{PaginationSize: 2})
	users.On("GetUserByTelegramChatID", mock.Anything, int64(77)).Return(driver, nil)

	bookings := []*models.Booking{
		{ID: "b0000001-aaaa", DriverID: "driver-1", ServiceType: "plowing", Status: models.StatusRequested, Acreage: decimal.NewFromInt(2), TotalPrice: decimal.NewFromInt(2400)},
		{ID: "b0000002-bbbb", DriverID: "driver-1", ServiceType: "harvesting", Status: models.StatusCompleted, PaymentStatus: models.PaymentPending, Acreage: decimal.NewFromInt(1), TotalPrice: decimal.NewFromInt(1800)},
		{ID: "b0000003-cccc", DriverID: "driver-1", ServiceType: "sowing", Status: models.StatusCanceled, Acreage: decimal.NewFromInt(3), TotalPrice: decimal.NewFromInt(900)},
	}
	desk.On("ListUserBookings", mock.Anything, "driver-1", maxListedBookings).Return(bookings, nil)

	b.processUpdate(ctx, command(77, "/bookings"))

	sender.mu.Lock()
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	sender.mu.Unlock()
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Page 1 of 2")
	assert.Contains(t, msg.Text, "#b0000001")
	assert.Contains(t, msg.Text, "payment pending")
	assert.NotContains(t, msg.Text, "#b0000003")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, notify.CallbackAccept+"b0000001-aaaa", *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, callbackBookingsPage+"1", *markup.InlineKeyboard[1][0].CallbackData)

	b.processUpdate(ctx, callback(77, callbackBookingsPage+"1"))
	assert.Contains(t, sender.lastText(t), "Page 2 of 2")
	assert.Contains(t, sender.lastText(t), "#b0000003")
}

func TestBookingActionCallbacks(t *testing.T) {
	ctx := context.Background()
	actor := lifecycle.Actor{UserID: "driver-1", Role: models.RoleDriver}

	t.Run("Accept", func(t *testing.T) {
		b, sender, users, desk := newTestBot(config.BotConfig{})
		users.On("GetUserByTelegramChatID", mock.Anything, int64(77)).Return(driver, nil)
		desk.On("ApplyAction", mock.Anything, "bk-1", actor, lifecycle.ActionAccept).
			Return(&models.Booking{ID: "bk-1", Status: models.StatusAccepted}, nil)

		b.processUpdate(ctx, callback(77, notify.CallbackAccept+"bk-1"))

		desk.AssertExpectations(t)
		assert.Equal(t, "Done", sender.lastAnswer(t))
		assert.Equal(t, "Booking #bk-1 is now accepted.", sender.lastText(t))
	})

	t.Run("AlreadyAnswered", func(t *testing.T) {
		b, sender, users, desk := newTestBot(config.BotConfig{})
		users.On("GetUserByTelegramChatID", mock.Anything, int64(77)).Return(driver, nil)
		desk.On("ApplyAction", mock.Anything, "bk-1", actor, lifecycle.ActionReject).
			Return(nil, &lifecycle.TransitionError{From: models.StatusAccepted, Role: models.RoleDriver, Action: lifecycle.ActionReject})

		b.processUpdate(ctx, callback(77, notify.CallbackReject+"bk-1"))

		assert.Contains(t, sender.lastAnswer(t), "already moved on")
		assert.Empty(t, sender.sent)
	})

	t.Run("UnlinkedChat", func(t *testing.T) {
		b, sender, users, desk := newTestBot(config.BotConfig{})
		users.On("GetUserByTelegramChatID", mock.Anything, int64(90)).Return(nil, service.ErrNotFound)

		b.processUpdate(ctx, callback(90, notify.CallbackAccept+"bk-1"))

		desk.AssertNotCalled(t, "ApplyAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, msgNotLinked, sender.lastText(t))
	})
}

func TestCallbackWithoutMessage(t *testing.T) {
	ctx := context.Background()
	updates := []tgbotapi.Update{
		{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb-2", From: &tgbotapi.User{ID: 77}, Data: notify.CallbackAccept + "bk-1"}},
		{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb-3", From: &tgbotapi.User{ID: 77}, Data: notify.CallbackAccept + "bk-1",
			Message: &tgbotapi.Message{MessageID: 9}}},
	}
	for _, u := range updates {
		b, sender, users, desk := newTestBot(config.BotConfig{})
		b.processUpdate(ctx, u)

		assert.Equal(t, "", sender.lastAnswer(t))
		assert.Empty(t, sender.sent)
		users.AssertNotCalled(t, "GetUserByTelegramChatID", mock.Anything, mock.Anything)
		desk.AssertNotCalled(t, "ApplyAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	b, sender, _, _ := newTestBot(config.BotConfig{RateLimitMessages: 1, RateLimitWindow: 60})

	b.processUpdate(ctx, command(77, "/help"))
	assert.Equal(t, msgHelp, sender.lastText(t))

	b.processUpdate(ctx, command(77, "/help"))
	assert.Equal(t, msgSlowDown, sender.lastText(t))
}

func TestPanicRecovery(t *testing.T) {
	b, _, users, _ := newTestBot(config.BotConfig{})
	users.On("GetUserByTelegramChatID", mock.Anything, int64(77)).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil, nil)

	assert.NotPanics(t, func() {
		b.processUpdate(context.Background(), command(77, "/bookings"))
	})
}

func TestStartStop(t *testing.T) {
	b, sender, _, _ := newTestBot(config.BotConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	sender.updates <- command(77, "/help")
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}

	b.Stop()
	assert.True(t, sender.stopped)
}

func TestBookingsPageBounds(t *testing.T) {
	farmer := &models.User{ID: "farmer-1", Role: models.RoleFarmer}
	bookings := []*models.Booking{
		{ID: "one", FarmerID: "farmer-1", DriverID: "driver-1", Status: models.StatusRequested},
	}

	text, markup := bookingsPage(farmer, bookings, 5, 0)
	assert.Contains(t, text, "#one")
	assert.NotContains(t, text, "Page")
	assert.Empty(t, markup.InlineKeyboard, "farmers get no accept buttons")
}
