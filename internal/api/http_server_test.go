package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/database"
	"krushilink/internal/events"
	"krushilink/internal/export"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"
	"krushilink/internal/notify"
	"krushilink/internal/payments"
	"krushilink/internal/repository"
	"krushilink/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, string, string, interface{}) error { return nil }

type testEnv struct {
	db     *database.DB
	server *HTTPServer
	ts     *httptest.Server
	limits *repository.MemoryGeoRepository
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "app-key", Extra: "app-extra", Name: "android", Permissions: []string{"bookings"}},
				{Key: "ops-key", Extra: "ops-extra", Name: "backoffice", Permissions: []string{"admin"}},
			},
		},
		JWT: config.APIJWTConfig{Secret: testSecret, Issuer: "krushilink", Leeway: 30 * time.Second, TokenTTL: time.Hour},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.APIConfig)) *testEnv {
	t.Helper()
	cfg := testAPIConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	geo := repository.NewMemoryGeoRepository()
	inbox := notify.NewInbox(db, noopQueue{}, &logger)
	bookings := service.NewBookingService(db, inbox, events.NewEventBus(), noopQueue{}, payments.NewVerifier(nil, &logger),
		service.BookingOptions{
			Reminders: lifecycle.ReminderPolicy{MaxReminders: 3, MinInterval: time.Hour, DueIn: 15 * 24 * time.Hour},
			GraceDays: 3,
		}, &logger)

	svc := Services{
		Users:       service.NewUserService(db, geo, &logger),
		Equipment:   service.NewEquipmentService(db, &logger),
		Discovery:   service.NewDiscoveryService(db, db, geo, config.DiscoveryConfig{DefaultRadiusKm: 50, MaxRadiusKm: 200, Limit: 20}, &logger),
		Bookings:    bookings,
		Inbox:       inbox,
		Exporter:    export.NewExporter(bookings, db, t.TempDir(), &logger),
		UserLimiter: geo,
		Readiness:   []ReadinessCheck{{Name: "database", Check: db.HealthCheck}},
	}

	server := NewHTTPServer(cfg, svc, true, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{db: db, server: server, ts: ts, limits: geo}
}

type call struct {
	method string
	path   string
	token  string
	body   any
	apiKey string
	extra  string
}

func (e *testEnv) do(t *testing.T, c call) *http.Response {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(c.method, e.ts.URL+c.path, body)
	require.NoError(t, err)

	apiKey, extra := c.apiKey, c.extra
	if apiKey == "" {
		apiKey, extra = "app-key", "app-extra"
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("x-api-extra", extra)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) register(t *testing.T, role, phone string) registerResponse {
	t.Helper()
	resp := e.do(t, call{method: http.MethodPost, path: "/api/v1/users", body: map[string]any{
		"role": role, "name": role + " " + phone, "phone": phone,
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[registerResponse](t, resp)
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.server.tokens.Mint("admin-1", models.RoleAdmin)
	require.NoError(t, err)
	return token
}

// bookableDriver registers a verified driver with one plowing rig near Nashik.
func (e *testEnv) bookableDriver(t *testing.T, phone string) (registerResponse, *models.Equipment) {
	t.Helper()
	driver := e.register(t, "driver", phone)

	resp := e.do(t, call{method: http.MethodPost, path: "/api/v1/admin/drivers/" + driver.User.ID + "/verify",
		token: e.adminToken(t), apiKey: "ops-key", extra: "ops-extra"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, call{method: http.MethodPost, path: "/api/v1/equipment", token: driver.Token, body: map[string]any{
		"service_type": "plowing", "name": "Mahindra 575", "price_per_acre": "1200",
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	eq := decode[models.Equipment](t, resp)

	resp = e.do(t, call{method: http.MethodPut, path: "/api/v1/drivers/me/location", token: driver.Token,
		body: map[string]any{"lat": 19.845, "lng": 73.998}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	return driver, &eq
}

func (e *testEnv) createBooking(t *testing.T, farmerToken, driverID, equipmentID string) models.Booking {
	t.Helper()
	resp := e.do(t, call{method: http.MethodPost, path: "/api/v1/bookings", token: farmerToken, body: map[string]any{
		"driver_id": driverID, "equipment_id": equipmentID, "acreage": "2.5",
		"lat": 19.9975, "lng": 73.7898, "address": "Survey 12, Nashik", "payment_method": "later",
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.Booking](t, resp)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, resp)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "up", body.Checks["database"])

	resp, err = http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.db.Close())
	resp, err = http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClientAuth(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")

	t.Run("MissingKey", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/users/me", nil)
		req.Header.Set("Authorization", "Bearer "+farmer.Token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongExtra", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: farmer.Token, apiKey: "app-key", extra: "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("AdminNeedsPermission", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/admin/users", token: env.adminToken(t)})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/admin/users", token: env.adminToken(t), apiKey: "ops-key", extra: "ops-extra"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Bearer", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: "garbage"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: farmer.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		me := decode[models.User](t, resp)
		assert.Equal(t, farmer.User.ID, me.ID)
		assert.Equal(t, models.RoleFarmer, me.Role)
	})
}

func TestClientRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) {
		c.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	})

	resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decode[errorBody](t, resp).Code)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", apiKey: "ops-key", extra: "ops-extra"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "limits are per client key")
}

func TestUserRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) {
		c.RateLimit = config.APIRateLimitConfig{UserRequests: 2, UserWindow: time.Minute}
	})
	farmer := env.register(t, "farmer", "+919800000001")

	for i := 0; i < 2; i++ {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: farmer.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: farmer.Token})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"AdminRole", map[string]any{"role": "admin", "phone": "+919800000001"}, http.StatusBadRequest},
		{"NoPhone", map[string]any{"role": "farmer"}, http.StatusBadRequest},
		{"BadLatitude", map[string]any{"role": "farmer", "phone": "+919800000001", "lat": 95.0, "lng": 73.0}, http.StatusBadRequest},
		{"HalfLocation", map[string]any{"role": "farmer", "phone": "+919800000001", "lat": 19.0}, http.StatusBadRequest},
		{"UnknownField", map[string]any{"role": "farmer", "phone": "+919800000001", "email": "x@y.z"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/users", body: tc.body})
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, "validation_error", decode[errorBody](t, resp).Code)
		})
	}

	env.register(t, "farmer", "+919800000001")
	resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/users", body: map[string]any{"role": "driver", "phone": "+919800000001"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")

	resp := env.do(t, call{method: http.MethodPut, path: "/api/v1/users/me", token: farmer.Token,
		body: map[string]any{"village": "Sinnar", "lat": 19.85, "lng": 74.0}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sinnar", decode[models.User](t, resp).Village)

	resp = env.do(t, call{method: http.MethodPut, path: "/api/v1/users/me/fcm-token", token: farmer.Token, body: map[string]any{"token": "fcm-1"}})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodPut, path: "/api/v1/users/me/telegram", token: farmer.Token, body: map[string]any{"chat_id": 4242}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "chats are linked through the bot")

	resp = env.do(t, call{method: http.MethodPut, path: "/api/v1/admin/users/" + farmer.User.ID + "/telegram", token: farmer.Token,
		body: map[string]any{"chat_id": 4242}, apiKey: "ops-key", extra: "ops-extra"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodPut, path: "/api/v1/admin/users/" + farmer.User.ID + "/telegram", token: env.adminToken(t),
		body: map[string]any{"chat_id": 4242}, apiKey: "ops-key", extra: "ops-extra"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/users/me/telegram/link", token: farmer.Token})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decode[models.TelegramLink](t, resp).Code, 8)

	user, err := env.db.GetUser(context.Background(), farmer.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "fcm-1", user.FCMToken)
	assert.Equal(t, int64(4242), user.TelegramChatID)
}

func TestDiscoveryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")
	driver, eq := env.bookableDriver(t, "+919800000002")

	resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/nearby?lat=19.9975&lng=73.7898&service_type=plowing", token: farmer.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[struct {
		Drivers []models.NearbyDriver `json:"drivers"`
	}](t, resp)
	require.Len(t, found.Drivers, 1)
	assert.Equal(t, driver.User.ID, found.Drivers[0].Driver.ID)
	require.Len(t, found.Drivers[0].Equipment, 1)
	assert.Equal(t, eq.ID, found.Drivers[0].Equipment[0].ID)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/nearby?lng=73.7898", token: farmer.Token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/nearby?lat=19.9&lng=73.7&radius_km=900", token: farmer.Token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodPut, path: "/api/v1/drivers/me/location", token: farmer.Token, body: map[string]any{"lat": 19.9, "lng": 73.7}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodDelete, path: "/api/v1/drivers/me/location", token: driver.Token})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/nearby?lat=19.9975&lng=73.7898", token: farmer.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[struct {
		Drivers []models.NearbyDriver `json:"drivers"`
	}](t, resp).Drivers)
}

func TestEquipmentEndpoints(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")
	driver, eq := env.bookableDriver(t, "+919800000002")

	resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/equipment", token: farmer.Token, body: map[string]any{
		"service_type": "plowing", "name": "Rig", "price_per_acre": "900",
	}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodDelete, path: "/api/v1/equipment/" + eq.ID, token: farmer.Token})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, call{method: http.MethodDelete, path: "/api/v1/equipment/" + eq.ID, token: driver.Token})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	type list struct {
		Equipment []models.Equipment `json:"equipment"`
	}
	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/" + driver.User.ID + "/equipment", token: farmer.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[list](t, resp).Equipment)

	resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/" + driver.User.ID + "/equipment?all=true", token: driver.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[list](t, resp).Equipment, 1)
}

func TestBookingFlow(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")
	driver, eq := env.bookableDriver(t, "+919800000002")
	outsider := env.register(t, "farmer", "+919800000003")

	booking := env.createBooking(t, farmer.Token, driver.User.ID, eq.ID)
	assert.Equal(t, models.StatusRequested, booking.Status)
	assert.Equal(t, models.PaymentPending, booking.PaymentStatus)
	assert.Equal(t, "3000.00", booking.TotalPrice.StringFixed(2))

	action := func(token, name string) *http.Response {
		return env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/actions/" + name, token: token})
	}

	t.Run("WrongParty", func(t *testing.T) {
		resp := action(farmer.Token, "accept")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "conflict", decode[errorBody](t, resp).Code)

		resp = action(outsider.Token, "cancel")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/bookings/" + booking.ID, token: outsider.Token})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = action(driver.Token, "fly")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("PaymentBeforeCompletion", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/payment", token: driver.Token,
			body: map[string]any{"reference": "CASH-1"}})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	})

	for _, name := range []string{"accept", "start", "complete"} {
		resp := action(driver.Token, name)
		require.Equal(t, http.StatusOK, resp.StatusCode, name)
	}

	t.Run("Reminders", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/reminders", token: driver.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, decode[models.Booking](t, resp).ReminderCount)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/reminders", token: driver.Token})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/reminders", token: farmer.Token})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("UnverifiedStripeReference", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/payment", token: driver.Token,
			body: map[string]any{"reference": "pi_123"}})
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	})

	t.Run("Failure", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/payment", token: driver.Token,
			body: map[string]any{"status": "failed", "reason": "UPI timeout"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.PaymentFailed, decode[models.Booking](t, resp).PaymentStatus)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/admin/bookings/" + booking.ID + "/payment/reopen", token: driver.Token,
			apiKey: "ops-key", extra: "ops-extra"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/admin/bookings/" + booking.ID + "/payment/reopen", token: env.adminToken(t),
			apiKey: "ops-key", extra: "ops-extra"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.PaymentPending, decode[models.Booking](t, resp).PaymentStatus)
	})

	t.Run("PendingPayments", func(t *testing.T) {
		// the reminded booking is due in the future; an unreminded one counts from completion
		second := env.createBooking(t, farmer.Token, driver.User.ID, eq.ID)
		for _, name := range []string{"accept", "start", "complete"} {
			resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + second.ID + "/actions/" + name, token: driver.Token})
			require.Equal(t, http.StatusOK, resp.StatusCode, name)
		}

		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/admin/payments/pending", token: env.adminToken(t),
			apiKey: "ops-key", extra: "ops-extra"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		pending := decode[struct {
			Bookings []models.Booking `json:"bookings"`
		}](t, resp).Bookings
		require.Len(t, pending, 1)
		assert.Equal(t, second.ID, pending[0].ID)
	})

	t.Run("Paid", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/payment", token: driver.Token,
			body: map[string]any{"reference": "CASH-1"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		paid := decode[models.Booking](t, resp)
		assert.Equal(t, models.PaymentPaid, paid.PaymentStatus)
		assert.NotNil(t, paid.PaidAt)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/bookings/" + booking.ID + "/payment", token: driver.Token,
			body: map[string]any{"reference": "CASH-2"}})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	})

	t.Run("Listings", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/bookings", token: farmer.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[struct {
			Bookings []models.Booking `json:"bookings"`
		}](t, resp).Bookings, 2)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/bookings", token: outsider.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[struct {
			Bookings []models.Booking `json:"bookings"`
		}](t, resp).Bookings)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/bookings/missing", token: farmer.Token})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Notifications", func(t *testing.T) {
		resp := env.do(t, call{method: http.MethodGet, path: "/api/v1/notifications?unread=true", token: farmer.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[struct {
			Notifications []models.Notification `json:"notifications"`
		}](t, resp).Notifications
		require.NotEmpty(t, list)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/notifications/" + list[0].ID + "/read", token: farmer.Token})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodPost, path: "/api/v1/notifications/" + list[0].ID + "/read", token: driver.Token})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.register(t, "farmer", "+919800000001")
	driver, eq := env.bookableDriver(t, "+919800000002")
	env.createBooking(t, farmer.Token, driver.User.ID, eq.ID)

	admin := func(method, path string, body any) *http.Response {
		return env.do(t, call{method: method, path: path, token: env.adminToken(t), body: body, apiKey: "ops-key", extra: "ops-extra"})
	}

	t.Run("ListUsers", func(t *testing.T) {
		resp := admin(http.MethodGet, "/api/v1/admin/users?role=driver", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		users := decode[struct {
			Users []models.User `json:"users"`
		}](t, resp).Users
		require.Len(t, users, 1)
		assert.Equal(t, driver.User.ID, users[0].ID)

		resp = admin(http.MethodGet, "/api/v1/admin/users?role=pilot", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("BlockAndUnblock", func(t *testing.T) {
		resp := admin(http.MethodPost, "/api/v1/admin/users/"+driver.User.ID+"/block", map[string]any{"reason": "no-show"})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/drivers/nearby?lat=19.9975&lng=73.7898", token: farmer.Token})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[struct {
			Drivers []models.NearbyDriver `json:"drivers"`
		}](t, resp).Drivers)

		resp = admin(http.MethodPost, "/api/v1/admin/users/"+driver.User.ID+"/unblock", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = admin(http.MethodPost, "/api/v1/admin/users/missing/unblock", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Export", func(t *testing.T) {
		today := time.Now().UTC().Format("2006-01-02")
		resp := admin(http.MethodGet, "/api/v1/admin/bookings/export?from="+today+"&to="+today, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_"+today)

		f, err := excelize.OpenReader(resp.Body)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Bookings")
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		resp = admin(http.MethodGet, "/api/v1/admin/bookings/export?from="+today, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = env.do(t, call{method: http.MethodGet, path: "/api/v1/admin/bookings/export?from=" + today + "&to=" + today,
			token: farmer.Token, apiKey: "ops-key", extra: "ops-extra"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
