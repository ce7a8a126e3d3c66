package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"krushilink/internal/api"
	"krushilink/internal/bot"
	"krushilink/internal/config"
	"krushilink/internal/database"
	"krushilink/internal/domain"
	"krushilink/internal/events"
	"krushilink/internal/export"
	"krushilink/internal/google"
	"krushilink/internal/logging"
	"krushilink/internal/metrics"
	"krushilink/internal/models"
	"krushilink/internal/notify"
	"krushilink/internal/payments"
	"krushilink/internal/repository"
	"krushilink/internal/service"
	"krushilink/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
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
		defer (func() { _ = closer.Close() })()
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}
	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	geo := initGeoIndex(cfg, redisClient, &logger)

	deliveryWorker := worker.NewDeliveryWorker(db, redisClient, worker.PolicyFromConfig(cfg.Worker), worker.Options{
		QueueKey:      cfg.Worker.QueueKey,
		DeadLetterKey: cfg.Worker.DeadLetterKey,
		PollInterval:  cfg.Worker.PollInterval,
	}, &logger)

	pushers, err := initPushers(ctx, cfg, db, &logger)
	if err != nil {
		return err
	}
	deliveryWorker.Handle(worker.TaskPush, notify.NewPushHandler(db, &logger, pushers...).Handle)

	if err := initLedger(ctx, cfg, deliveryWorker, &logger); err != nil {
		return err
	}
	go deliveryWorker.Start(ctx)

	eventBus := events.NewEventBus()
	events.SubscribeAudit(eventBus, &logger)

	verifier, err := initVerifier(cfg, &logger)
	if err != nil {
		return err
	}

	inbox := notify.NewInbox(db, deliveryWorker, &logger)
	bookingService := service.NewBookingService(db, inbox, eventBus, deliveryWorker, verifier,
		service.BookingOptionsFromConfig(cfg.Payments.Reminders), &logger)

	if cfg.Payments.Reminders.Enabled {
		scheduler := worker.NewReminderScheduler(bookingService, cfg.Payments.Reminders.Hour, &logger)
		go scheduler.Start(ctx)
	}

	readiness := []api.ReadinessCheck{{Name: "database", Check: db.HealthCheck}}
	if redisClient != nil {
		readiness = append(readiness, api.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return repository.Ping(ctx, redisClient)
		}})
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Users:       service.NewUserService(db, geo, &logger),
		Equipment:   service.NewEquipmentService(db, &logger),
		Discovery:   service.NewDiscoveryService(db, db, geo, cfg.Discovery, &logger),
		Bookings:    bookingService,
		Inbox:       inbox,
		Exporter:    export.NewExporter(bookingService, db, cfg.Exports.Path, &logger),
		UserLimiter: geo,
		Readiness:   readiness,
	}, cfg.Monitoring.PrometheusEnabled, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, db, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchHealth(ctx, 15*time.Second)
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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
	logger := *logging.Component(baseLogger, "api-main")

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("create exports directory")
		return err
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, geo index starts on the memory fallback")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initGeoIndex serves driver positions and rate limits from redis with an
// in-memory fallback, or from memory alone when redis is not configured.
func initGeoIndex(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) repository.GeoStore {
	fallback := repository.NewMemoryGeoRepository()
	if redisClient == nil {
		logger.Warn().Msg("redis not configured, driver locations are kept in memory")
		return fallback
	}
	primary := repository.NewRedisGeoRepository(redisClient, cfg.Discovery.GeoKey)
	return repository.NewFailoverRepository(primary, fallback, logger)
}

func initPushers(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) ([]domain.Pusher, error) {
	var pushers []domain.Pusher

	if cfg.Notifications.TelegramPush {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("create telegram bot api")
			return nil, err
		}
		botAPI.Debug = cfg.Telegram.Debug
		pushers = append(pushers, notify.NewTelegram(bot.NewBotWrapper(botAPI), db))
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram push enabled")
	}

	if cfg.Notifications.FCM.Enabled {
		client, err := notify.NewFCMClient(ctx, cfg.Notifications.FCM.CredentialsFile)
		if err != nil {
			logger.Error().Err(err).Msg("create fcm client")
			return nil, err
		}
		pushers = append(pushers, notify.NewFCM(client))
		logger.Info().Msg("fcm push enabled")
	}

	if len(pushers) == 0 {
		logger.Warn().Msg("no push channel configured, notifications stay in the in-app inbox")
	}
	return pushers, nil
}

func initLedger(ctx context.Context, cfg *config.Config, w *worker.DeliveryWorker, logger *zerolog.Logger) error {
	if !cfg.Google.Enabled() {
		w.Handle(worker.TaskLedgerUpsert, func(context.Context, *models.DeliveryTask) error { return nil })
		return nil
	}

	ledger, err := google.NewSheetsLedger(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingSpreadSheetID, cfg.Google.BookingSheetName, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init google sheets ledger")
		return err
	}
	if err := ledger.TestConnection(ctx); err != nil {
		logger.Error().Err(err).Msg("google sheets connection test failed")
		return err
	}
	if err := ledger.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("warm up ledger cache")
	}
	go ledger.RefreshPeriodically(ctx, 10*time.Minute)

	w.Handle(worker.TaskLedgerUpsert, google.LedgerHandler(ledger))
	logger.Info().Msg("google sheets ledger connected")
	return nil
}

func initVerifier(cfg *config.Config, logger *zerolog.Logger) (*payments.Verifier, error) {
	var intents payments.IntentGetter
	if cfg.Payments.Stripe.Enabled {
		client, err := payments.NewStripeClient(cfg.Payments.Stripe.SecretKey)
		if err != nil {
			logger.Error().Err(err).Msg("create stripe client")
			return nil, err
		}
		intents = client
	}
	return payments.NewVerifier(intents, logger), nil
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("gRPC health service started")
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}
