package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/api"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/circuitbreaker"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/config"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/dlq"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/events"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/notify"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/observ"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/redis"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mediremind scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Sample pool utilization for the connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.SetDBConnections(database.AcquiredConns())
		}
	}()

	// Stores
	taskStore := db.NewTaskStore(database, logger)
	logStore := db.NewLogStore(database, logger)
	dlqStore := db.NewDLQStore(database, logger)

	// Redis for the channel rate limiter, idempotency, and API limits
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	channelLimiter := redis.NewChannelLimiter(redisClient, logger, redis.DefaultChannelLimits())
	idempotencyService := redis.NewIdempotencyService(redisClient, logger)
	requestLimiter := redis.NewRequestLimiter(redisClient, logger, redis.RequestLimitConfig{
		Limit:  100,
		Window: 1 * time.Minute,
	})

	// Outcome event publisher; optional
	var publisher *events.Publisher
	if cfg.SQSQueueURL != "" {
		publisher, err = events.NewPublisher(ctx, events.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("event publisher unavailable, outcome events disabled",
				zap.Error(err),
			)
			publisher = nil
		}
	}

	// Channel senders
	emailSender, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}

	senders := []notify.Sender{emailSender}

	smsSender, err := notify.NewSNSSender(ctx, notify.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS notifications disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, smsSender)
	}

	if cfg.PushEndpoint != "" {
		senders = append(senders, notify.NewPushSender(notify.PushConfig{
			Endpoint:  cfg.PushEndpoint,
			ServerKey: cfg.PushServerKey,
		}, logger))
	}

	if cfg.WhatsAppEndpoint != "" {
		senders = append(senders, notify.NewWhatsAppSender(notify.WhatsAppConfig{
			Endpoint:    cfg.WhatsAppEndpoint,
			AccessToken: cfg.WhatsAppToken,
		}, logger))
	}

	multiSender := notify.NewMultiSender(logger, senders...)
	logger.Info("initialized multi-channel notification system",
		zap.Int("channels", len(senders)),
		zap.Bool("push_enabled", cfg.PushEndpoint != ""),
		zap.Bool("whatsapp_enabled", cfg.WhatsAppEndpoint != ""),
	)

	directory := notify.NewPostgresDirectory(database, logger)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
	retryPolicy := scheduler.NewRetryPolicy(taskStore, logStore, dlqStore, breakers, publisher, logger)

	sched := scheduler.New(taskStore, retryPolicy, channelLimiter, breakers, multiSender, directory, publisher, scheduler.Config{
		TickInterval:  time.Duration(cfg.TickSeconds) * time.Second,
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.MaxConcurrent,
	}, logger)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	reminderService := scheduler.NewService(taskStore, sched, logger)
	reviewService := dlq.NewService(dlqStore, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandlerWithIdempotency(logger, reminderService, reviewService, idempotencyService)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(requestLimiter, logger, api.IPKeyFunc))

		r.Post("/reminders", handler.CreateReminder)
		r.Get("/reminders/{id}", handler.GetReminder)
		r.Delete("/appointments/{id}/reminders", handler.CancelAppointmentReminders)
		r.Get("/stats", handler.GetStats)

		// Dead Letter Queue routes
		r.Get("/dlq", handler.ListDeadLetters)
		r.Get("/dlq/retry-candidates", handler.ListRetryCandidates)
		r.Get("/dlq/{id}", handler.GetDeadLetter)
		r.Post("/dlq/{id}/resolve", handler.ResolveDeadLetter)
		r.Post("/dlq/{id}/archive", handler.ArchiveDeadLetter)
		r.Post("/dlq/{id}/escalate", handler.EscalateDeadLetter)
		r.Post("/dlq/{id}/retry", handler.RetryDeadLetter)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete; in-flight
		// deliveries drain in the deferred sched.Stop.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
