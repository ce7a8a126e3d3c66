package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"krushilink/internal/bot"
	"krushilink/internal/config"
	"krushilink/internal/database"
	"krushilink/internal/events"
	"krushilink/internal/logging"
	"krushilink/internal/metrics"
	"krushilink/internal/notify"
	"krushilink/internal/payments"
	"krushilink/internal/repository"
	"krushilink/internal/service"
	"krushilink/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Error().Msg("Set telegram.bot_token in config.yaml")
		return os.ErrInvalid
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, limiter := initLimiter(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The bot only produces delivery tasks; the API process runs the worker
	// loop that sends them.
	queue := worker.NewDeliveryWorker(db, redisClient, worker.PolicyFromConfig(cfg.Worker), worker.Options{
		QueueKey:      cfg.Worker.QueueKey,
		DeadLetterKey: cfg.Worker.DeadLetterKey,
	}, &logger)

	eventBus := events.NewEventBus()
	events.SubscribeAudit(eventBus, &logger)

	bookingService := service.NewBookingService(db, notify.NewInbox(db, queue, &logger), eventBus, queue,
		payments.NewVerifier(nil, &logger), service.BookingOptionsFromConfig(cfg.Payments.Reminders), &logger)
	userService := service.NewUserService(db, limiter, &logger)

	startMetrics(ctx, cfg, &logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("create telegram bot api")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug

	telegramBot := bot.NewBot(bot.NewBotWrapper(botAPI), userService, bookingService, limiter, cfg.Bot, &logger)

	logger.Info().Msg("Bot started")
	telegramBot.Start(ctx)
	telegramBot.Stop()

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := *logging.Component(baseLogger, "bot-main")

	return cfg, logger, closer, nil
}

// initLimiter backs the per-chat message budget with redis when it is
// configured and with process memory otherwise.
func initLimiter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, repository.GeoStore) {
	fallback := repository.NewMemoryGeoRepository()
	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}
	primary := repository.NewRedisGeoRepository(redisClient, cfg.Discovery.GeoKey)
	return redisClient, repository.NewFailoverRepository(primary, fallback, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
