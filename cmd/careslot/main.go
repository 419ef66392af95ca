package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/careslot/internal/booking"
	"github.com/md-rashed-zaman/careslot/internal/consumer"
	"github.com/md-rashed-zaman/careslot/internal/handlers"
	"github.com/md-rashed-zaman/careslot/internal/inbox"
	"github.com/md-rashed-zaman/careslot/internal/lock"
	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/notify"
	"github.com/md-rashed-zaman/careslot/internal/outbox"
	"github.com/md-rashed-zaman/careslot/internal/schedule"
	"github.com/md-rashed-zaman/careslot/internal/storage"
	"github.com/md-rashed-zaman/careslot/libs/config"
	"github.com/md-rashed-zaman/careslot/libs/db"
	"github.com/md-rashed-zaman/careslot/libs/httpx"
	"github.com/md-rashed-zaman/careslot/libs/kafkax"
	otelx "github.com/md-rashed-zaman/careslot/libs/otel"
	"github.com/md-rashed-zaman/careslot/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "careslot")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	// Lock manager: redis when configured, otherwise the in-process
	// per-key table. The local fallback only protects a single instance.
	var locks lock.Manager
	var rdb *redis.Client
	redisAddr := config.String("REDIS_ADDR", "")
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		locks = lock.NewRedisManager(rdb, "careslot")
		logger.Info("using redis lock manager", "addr", redisAddr)
	} else {
		locks = lock.NewLocalManager()
		logger.Warn("REDIS_ADDR not set; using in-process lock manager (single instance only)")
	}

	store := storage.NewStore(pool)
	slotRepo := storage.NewSlotRepository(pool)
	templateRepo := storage.NewTemplateRepository(pool)
	taskRepo := storage.NewTaskRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	channels := map[model.Channel]notify.Channel{
		model.ChannelEmail: notify.NewSMTPChannel(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		model.ChannelPush: notify.NewLogChannel(logger, model.ChannelPush),
	}
	if smsURL := config.String("SMS_WEBHOOK_URL", ""); smsURL != "" {
		channels[model.ChannelSMS] = notify.NewWebhookSMSChannel(smsURL, config.String("SMS_WEBHOOK_TOKEN", ""))
	} else {
		channels[model.ChannelSMS] = notify.NewLogChannel(logger, model.ChannelSMS)
	}

	pipeline := notify.NewPipeline(taskRepo, channels, logger, notify.PipelineConfig{
		Lead:         time.Duration(config.Int("REMINDER_LEAD_MINUTES", 5)) * time.Minute,
		RetryBackoff: config.Duration("RETRY_BACKOFF", 60*time.Second),
		MaxRetries:   config.Int("MAX_RETRIES", notify.DefaultMaxRetries),
		BatchSize:    config.Int("DISPATCH_BATCH", notify.DefaultBatchSize),
	})
	dispatcher := notify.NewDispatcher(pipeline, logger, config.Duration("DISPATCH_INTERVAL", notify.DefaultDispatchInterval))
	go dispatcher.Run(ctx)

	coordinator := booking.NewCoordinator(store, locks, pipeline, logger, booking.Config{
		LockWait:  config.Duration("LOCK_WAIT", 10*time.Second),
		LockLease: config.Duration("LOCK_LEASE", 30*time.Second),
	})

	generator := schedule.NewGenerator(slotRepo, logger)
	refresher := schedule.NewRefresher(templateRepo, generator, logger, schedule.RefresherConfig{
		Interval:    config.Duration("REFRESH_INTERVAL", 6*time.Hour),
		HorizonDays: config.Int("HORIZON_DAYS", schedule.DefaultHorizonDays),
	})
	go refresher.Run(ctx)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if kafkaBrokers != "" {
		bookingConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "careslot"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", consumer.TopicBookingRequested),
		}, consumer.BookingHandler(coordinator, logger))
		go bookingConsumer.Run(ctx)
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: lock.ReadyCheck(rdb)})
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/v1/slots", handlers.NewSlotsHandler(slotRepo, logger).List)
	templatesHandler := handlers.NewTemplatesHandler(templateRepo, generator, logger)
	mux.HandleFunc("/v1/templates", templatesHandler.Create)
	mux.HandleFunc("/v1/templates/", templatesHandler.Deactivate)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(15*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "careslot")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
