package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/domain"
	"krushilink/internal/export"
	"krushilink/internal/lifecycle"
	"krushilink/internal/metrics"
	"krushilink/internal/notify"
	"krushilink/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services are the application services behind the HTTP API.
type Services struct {
	Users     *service.UserService
	Equipment *service.EquipmentService
	Discovery *service.DiscoveryService
	Bookings  *service.BookingService
	Inbox     *notify.Inbox
	Exporter  *export.Exporter
	// UserLimiter backs per-user rate limits; nil disables them.
	UserLimiter domain.RateLimiter
	Readiness   []ReadinessCheck
}

// HTTPServer exposes the JSON API under /api/v1.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	tokens   *TokenIssuer
	registry *clientRegistry
	limiter  *rateLimiter
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, metricsEnabled bool, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		tokens:   NewTokenIssuer(cfg.JWT),
		registry: newClientRegistry(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   &l,
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	handler := srv.requestID(srv.logRequests(srv.recoverPanics(srv.clientAuth(mux))))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	const p = "/api/v1"

	mux.HandleFunc("POST "+p+"/users", s.handleRegister)
	mux.Handle("GET "+p+"/users/me", s.authed(s.handleMe))
	mux.Handle("PUT "+p+"/users/me", s.authed(s.handleUpdateProfile))
	mux.Handle("PUT "+p+"/users/me/fcm-token", s.authed(s.handleFCMToken))
	mux.Handle("POST "+p+"/users/me/telegram/link", s.authed(s.handleTelegramLinkCode))

	mux.Handle("POST "+p+"/equipment", s.authed(s.handleAddEquipment))
	mux.Handle("DELETE "+p+"/equipment/{id}", s.authed(s.handleDeactivateEquipment))
	mux.Handle("GET "+p+"/drivers/{id}/equipment", s.authed(s.handleDriverEquipment))
	mux.Handle("PUT "+p+"/drivers/me/location", s.authed(s.handleUpdateLocation))
	mux.Handle("DELETE "+p+"/drivers/me/location", s.authed(s.handleRemoveLocation))
	mux.Handle("GET "+p+"/drivers/nearby", s.authed(s.handleNearbyDrivers))

	mux.Handle("POST "+p+"/bookings", s.authed(s.handleCreateBooking))
	mux.Handle("GET "+p+"/bookings", s.authed(s.handleListBookings))
	mux.Handle("GET "+p+"/bookings/{id}", s.authed(s.handleGetBooking))
	mux.Handle("POST "+p+"/bookings/{id}/actions/{action}", s.authed(s.handleBookingAction))
	mux.Handle("POST "+p+"/bookings/{id}/payment", s.authed(s.handlePayment))
	mux.Handle("POST "+p+"/bookings/{id}/reminders", s.authed(s.handleReminder))

	mux.Handle("GET "+p+"/notifications", s.authed(s.handleNotifications))
	mux.Handle("POST "+p+"/notifications/{id}/read", s.authed(s.handleMarkRead))

	mux.Handle("POST "+p+"/admin/drivers/{id}/verify", s.authed(s.handleVerifyDriver))
	mux.Handle("POST "+p+"/admin/users/{id}/block", s.authed(s.handleBlockUser))
	mux.Handle("POST "+p+"/admin/users/{id}/unblock", s.authed(s.handleUnblockUser))
	mux.Handle("PUT "+p+"/admin/users/{id}/telegram", s.authed(s.handleLinkTelegram))
	mux.Handle("GET "+p+"/admin/users", s.authed(s.handleListUsers))
	mux.Handle("GET "+p+"/admin/bookings/export", s.authed(s.handleExportBookings))
	mux.Handle("GET "+p+"/admin/payments/pending", s.authed(s.handlePendingPayments))
	mux.Handle("POST "+p+"/admin/bookings/{id}/payment/reopen", s.authed(s.handleReopenPayment))
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.svc.Readiness))
	ready := true
	for _, c := range s.svc.Readiness {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", c.Name).Msg("Readiness check failed")
			checks[c.Name] = "down"
			ready = false
			continue
		}
		checks[c.Name] = "up"
	}

	code := http.StatusOK
	state := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, code, map[string]any{"status": state, "checks": checks})
}

// fail logs server errors and writes the mapped status.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func isPublic(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// clientAuth checks the client application key pair and its rate limit.
func (s *HTTPServer) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.Auth.Enabled {
			client, err := s.registry.authenticate(
				strings.TrimSpace(r.Header.Get(s.registry.apiKeyHeader)),
				strings.TrimSpace(r.Header.Get(s.registry.extraHeader)),
			)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !allowed(client, requiredPermission(r)) {
				writeError(w, http.StatusForbidden, errPermissionDenied.Error())
				return
			}
		}

		if !s.limiter.allow(s.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requiredPermission(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/api/v1/admin/") {
		return permAdmin
	}
	return ""
}

func (s *HTTPServer) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(s.registry.apiKeyHeader)); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

type authedHandler func(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor)

// authed resolves the bearer token into an actor and applies the per-user limit.
func (s *HTTPServer) authed(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		actor, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		if lim := s.svc.UserLimiter; lim != nil && s.cfg.RateLimit.UserRequests > 0 {
			ok, err := lim.CheckRateLimit(r.Context(), "api:user:"+actor.UserID, s.cfg.RateLimit.UserRequests, s.cfg.RateLimit.UserWindow)
			if err != nil {
				s.logger.Warn().Err(err).Str("user_id", actor.UserID).Msg("User rate limit check failed")
			} else if !ok {
				writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
				return
			}
		}

		h(w, r.WithContext(withActor(r.Context(), actor)), actor)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.ObserveHTTP(endpoint, recorder.status, dur)

		s.logger.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
