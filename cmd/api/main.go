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

	"staybook/internal/api"
	"staybook/internal/auth"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/google"
	"staybook/internal/logging"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/notify"
	"staybook/internal/repository"
	"staybook/internal/service"
	"staybook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := seedProperties(ctx, cfg, db, logger); err != nil {
		return err
	}

	startMetrics(ctx, cfg, logger)

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	locker := domain.PropertyLocker(repository.NewMemoryPropertyLocker(cfg.Booking.LockWait))
	if redisClient != nil {
		locker = repository.NewFailoverPropertyLocker(
			repository.NewRedisPropertyLocker(redisClient, cfg.Booking.LockTTL, cfg.Booking.LockWait),
			locker, logger)
	}

	bus := events.NewEventBus(logger)
	initTelegram(ctx, cfg, bus, db, logger)

	var syncWorker domain.SyncWorker
	var sheetsWorker *worker.SheetsWorker
	if sheetsSvc := initGoogleSheets(ctx, cfg, logger); sheetsSvc != nil {
		sheetsWorker = worker.NewSheetsWorker(db, sheetsSvc, redisClient, worker.Options{
			BatchSize:      cfg.Database.SyncBatchSize,
			OccupancySheet: cfg.Google.OccupancySheetName,
			Retry:          worker.RetryPolicy{Jitter: 0.2},
		}, logger)
		syncWorker = sheetsWorker
		go sheetsWorker.Start(ctx)
		go scheduleOccupancySync(ctx, sheetsWorker, cfg.Google.OccupancyDays, logger)
	}

	availability := service.NewAvailabilityService(db, cfg.Booking.MaxRangeDays, logger)
	if rows, err := availability.RepairDerivedOverrides(ctx); err != nil {
		logger.Warn().Err(err).Msg("derived override repair failed")
	} else {
		logger.Info().Int64("rows", rows).Msg("derived overrides rebuilt")
	}
	bookings := service.NewBookingService(db, availability, locker, bus, syncWorker, cfg.Booking, logger)
	properties := service.NewPropertyService(db, logger)

	sweeper := service.NewExpirySweeper(db, bookings, cfg.Booking.PendingTTL, cfg.Booking.ExpirySweepInterval, logger)
	go sweeper.Start(ctx)

	backup := database.NewBackupService(db, cfg.Backup, logger)
	go backup.Start(ctx)

	deps := api.Dependencies{
		Availability: availability,
		Bookings:     bookings,
		Properties:   properties,
		ExportDir:    cfg.Exports.Path,
		Readiness: []api.ReadinessCheck{
			{Name: "database", Check: func(ctx context.Context) error { return db.PingContext(ctx) }},
		},
	}
	if sheetsWorker != nil {
		deps.Sync = sheetsWorker
	}
	if redisClient != nil {
		deps.Readiness = append(deps.Readiness, api.ReadinessCheck{
			Name: "redis", Check: func(ctx context.Context) error { return repository.Ping(ctx, redisClient) },
		})
	}
	if cfg.API.Auth.JWTSecret != "" {
		deps.Verifier = auth.NewVerifier(cfg.API.Auth.JWTSecret, cfg.API.Auth.JWTIssuer)
	} else {
		logger.Warn().Msg("api.auth.jwt_secret is empty, caller-scoped endpoints will reject every request")
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, running background services only")
		<-ctx.Done()
		return nil
	}
	return startServers(ctx, cfg, deps, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

// propertySeed mirrors models.Property with a plain date for available_from.
type propertySeed struct {
	models.Property `yaml:",inline"`
	AvailableFrom   string `yaml:"available_from"`
}

func loadProperties(path string) ([]*models.Property, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var catalog struct {
		Properties []propertySeed `yaml:"properties"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]*models.Property, 0, len(catalog.Properties))
	for i := range catalog.Properties {
		seed := catalog.Properties[i]
		p := seed.Property
		if seed.AvailableFrom != "" {
			from, err := models.ParseDate(seed.AvailableFrom)
			if err != nil {
				return nil, fmt.Errorf("property %d available_from: %w", p.ID, err)
			}
			p.AvailableFrom = &from
		}
		out = append(out, &p)
	}
	return out, nil
}

func seedProperties(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) error {
	path := os.Getenv("PROPERTIES_PATH")
	if path == "" {
		path = cfg.PropertiesPath
	}
	if path == "" {
		return nil
	}

	properties, err := loadProperties(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("properties_path", path).Msg("property catalog not found, skipping seed")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("properties_path", path).Msg("read properties")
		return err
	}
	if err := config.ValidateProperties(properties); err != nil {
		return fmt.Errorf("validate properties: %w", err)
	}
	return service.SyncCatalog(ctx, db, properties, logger)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// the failover locker keeps probing, so the client stays
		logger.Warn().Err(err).Msg("redis connection failed, starting on in-memory locks")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

func initTelegram(ctx context.Context, cfg *config.Config, bus *events.EventBus, arrivals notify.ArrivalSource, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}
	bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	notifier := notify.NewTelegramNotifier(bot, cfg.Telegram.ChatIDs, logger)
	notifier.Register(bus)
	go notifier.Start(ctx)

	reminder, err := notify.NewReminder(arrivals, bot, cfg.Telegram.ChatIDs, cfg.Telegram.ReminderTime, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("arrival reminders disabled")
	} else {
		go reminder.Start(ctx)
	}
	logger.Info().Int("chats", len(cfg.Telegram.ChatIDs)).Msg("telegram notifications enabled")
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx,
		cfg.Google.GoogleCredentialsFile,
		cfg.Google.BookingSpreadSheetID,
		cfg.Google.SheetName,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheetsService.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}
	go sheetsService.RefreshCachePeriodically(ctx, time.Hour)

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

// scheduleOccupancySync redraws the occupancy grid for the coming days once
// at startup and then hourly.
func scheduleOccupancySync(ctx context.Context, w *worker.SheetsWorker, days int, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		start := models.DateOnly(time.Now())
		if err := w.EnqueueOccupancySync(ctx, start, start.AddDate(0, 0, days)); err != nil {
			logger.Warn().Err(err).Msg("failed to schedule occupancy sync")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
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

func startServers(ctx context.Context, cfg *config.Config, deps api.Dependencies, logger *zerolog.Logger) error {
	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		lis, err := api.Listen(cfg.API)
		if err != nil {
			return err
		}
		grpcServer, err = api.NewGRPCServer(cfg.API, lis, api.NewPartnerService(deps.Availability, deps.Bookings), deps.Verifier, logger)
		if err != nil {
			lis.Close()
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, deps, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("grpc", grpcServer != nil).
		Int("http_port", cfg.API.HTTP.Port).
		Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("API server stopped")
	return nil
}
