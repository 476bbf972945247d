package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notify-dispatch/internal/channel"
	"github.com/kursadbilgin/notify-dispatch/internal/config"
	"github.com/kursadbilgin/notify-dispatch/internal/confirm"
	"github.com/kursadbilgin/notify-dispatch/internal/dispatch"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/handler"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/notify-dispatch/internal/keyresolver"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"github.com/kursadbilgin/notify-dispatch/internal/pipeline"
	"github.com/kursadbilgin/notify-dispatch/internal/provider"
	"github.com/kursadbilgin/notify-dispatch/internal/queue"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"github.com/kursadbilgin/notify-dispatch/internal/service"
	"github.com/kursadbilgin/notify-dispatch/internal/transport"
	"github.com/kursadbilgin/notify-dispatch/internal/workerpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notify-dispatch stopped with error", zap.Error(err))
	}
	logger.Info("notify-dispatch stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracingOptions{
		EndpointURL: cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	channels, err := loadChannels(cfg)
	if err != nil {
		return err
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, queue.Topology{
		Exchange:      cfg.RabbitMQExchange,
		Queue:         cfg.RabbitMQQueue,
		RoutingKey:    cfg.RabbitMQRoutingKey,
		DelayExchange: cfg.RabbitMQDelayExchange,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()

	gateway, err := queue.NewGateway(mq, channels, logger)
	if err != nil {
		return err
	}
	gateway.SetMetrics(metrics)

	templates := repository.NewGormTemplateRepo(db)
	accounts := repository.NewGormAccountRepo(db)
	schedules := repository.NewGormScheduledSendRepo(db)
	deliveryLogs := repository.NewGormDeliveryLogRepo(db)

	// Dispatch side: pools -> executor -> confirmer.
	sizing, err := workerpool.ParseOptionsTable(cfg.WorkerPools)
	if err != nil {
		return fmt.Errorf("failed to parse WORKER_POOLS: %w", err)
	}
	pools, err := workerpool.NewSet(channels, sizing, workerpool.Options{
		Workers:    cfg.WorkerDefaultSize,
		QueueDepth: cfg.WorkerDefaultQueue,
	}, logger)
	if err != nil {
		return err
	}

	confirmer, err := confirm.NewConfirmer(deliveryLogs, gateway, confirm.Policy{
		MaxRetries: cfg.RetryLimit,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}, logger)
	if err != nil {
		return err
	}
	confirmer.SetMetrics(metrics)

	senders, err := buildSenders(cfg)
	if err != nil {
		return err
	}
	executor, err := dispatch.NewExecutor(accounts, senders, confirmer, logger)
	if err != nil {
		return err
	}
	executor.SetMetrics(metrics)
	if cfg.ProviderRateLimit > 0 {
		throttle, err := infraredis.NewRedisRateLimiter(rdb, "provider_throttle", cfg.ProviderRateLimit)
		if err != nil {
			return err
		}
		executor.SetThrottle(throttle)
	}

	consumer, err := dispatch.NewConsumer(pools, executor, confirmer, logger)
	if err != nil {
		return err
	}
	consumer.SetMetrics(metrics)

	// Intake side: chains -> send service -> HTTP and cron.
	runner := pipeline.NewRunner(logger)
	runner.SetMetrics(metrics)
	sendChain := pipeline.NewSendChain(pipeline.SendDeps{
		Templates: templates,
		Channels:  channels,
		Publisher: gateway,
	})
	scheduledChain := pipeline.NewScheduledChain(schedules, runner, sendChain)

	sendService, err := service.NewSendService(runner, sendChain, scheduledChain, gateway, logger)
	if err != nil {
		return err
	}
	guards, err := buildGuards(cfg, rdb)
	if err != nil {
		return err
	}
	if err := sendService.SetGuards(guards); err != nil {
		return err
	}

	cronTrigger, err := service.NewCronTrigger(schedules, sendService, cfg.CronRefreshInterval, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "notify-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.HealthCheck{Name: "rabbitmq", Ping: mq.Ping},
	)
	if err := handler.RegisterMessageRoutes(app, sendService); err != nil {
		return err
	}
	if err := handler.RegisterDeliveryRoutes(app, deliveryLogs); err != nil {
		return err
	}

	// Workers outlive the consumers so queued jobs drain on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	pools.Start(workerCtx)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The connection is shared with the gateway; mq.Close releases it.
		source := queue.NewRabbitMQConsumer(mq, cfg.RabbitMQPrefetch, logger)
		return consumer.Run(groupCtx, source, cfg.DispatchConsumers)
	})
	g.Go(func() error {
		return cronTrigger.Start(groupCtx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("notify-dispatch api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd readiness notification failed", zap.Error(err))
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	pools.Close()
	cancelWorkers()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadChannels(cfg *config.Config) (*channel.Registry, error) {
	if cfg.ChannelFile != "" {
		registry, err := channel.LoadFile(cfg.ChannelFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CHANNEL_FILE: %w", err)
		}
		return registry, nil
	}

	registry, err := channel.Parse(channel.Source{
		IDs:        cfg.ChannelIDs,
		Names:      cfg.ChannelNames,
		RawContent: cfg.RawContentChannels,
		TTLs:       cfg.ChannelTTLs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel registry: %w", err)
	}
	return registry, nil
}

// buildSenders routes every channel to the webhook sender by default. The
// default webhook has no endpoint, so accounts must carry one unless
// WEBHOOK_ENDPOINTS names the channel.
func buildSenders(cfg *config.Config) (*provider.Router, error) {
	fallback, err := provider.NewWebhookSender("")
	if err != nil {
		return nil, err
	}
	router := provider.NewRouter(fallback)

	endpoints, err := cfg.WebhookEndpointTable()
	if err != nil {
		return nil, err
	}
	for key, endpoint := range endpoints {
		ch, err := domain.ParseChannel(key)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_ENDPOINTS channel %q: %w", key, err)
		}
		sender, err := provider.NewWebhookSender(endpoint)
		if err != nil {
			return nil, err
		}
		router.Register(ch, sender)
	}

	telegramChannels := cfg.TelegramChannelList()
	if len(telegramChannels) == 0 {
		return router, nil
	}
	telegram, err := provider.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramAPIURL)
	if err != nil {
		return nil, fmt.Errorf("TELEGRAM_CHANNELS set but telegram sender failed: %w", err)
	}
	for _, key := range telegramChannels {
		ch, err := domain.ParseChannel(key)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHANNELS entry %q: %w", key, err)
		}
		router.Register(ch, telegram)
	}

	return router, nil
}

// buildGuards enables the idempotency guard always and the rate-limit guard
// when RATE_LIMIT_PER_SEC is positive.
func buildGuards(cfg *config.Config, rdb *goredis.Client) (service.Guards, error) {
	var guards service.Guards

	store, err := infraredis.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
	if err != nil {
		return guards, err
	}
	idempotencyKey, err := keyresolver.New(keyresolver.Kind(cfg.IdempotencyKeyKind), cfg.IdempotencyKeyExpr)
	if err != nil {
		return guards, fmt.Errorf("invalid IDEMPOTENCY_KEY_KIND: %w", err)
	}
	guards.Idempotency = store
	guards.IdempotencyKey = idempotencyKey

	if cfg.RateLimitPerSec <= 0 {
		return guards, nil
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, "request_limit", cfg.RateLimitPerSec)
	if err != nil {
		return guards, err
	}
	rateLimitKey, err := keyresolver.New(keyresolver.Kind(cfg.RateLimitKeyKind), "")
	if err != nil {
		return guards, fmt.Errorf("invalid RATE_LIMIT_KEY_KIND: %w", err)
	}
	guards.RateLimiter = limiter
	guards.RateLimitKey = rateLimitKey

	return guards, nil
}
