package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/database"
	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/handler"
	"github.com/dandantas/boarding/internal/invite"
	"github.com/dandantas/boarding/internal/jobs"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/metrics"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/notify"
	"github.com/dandantas/boarding/internal/orders"
	"github.com/dandantas/boarding/internal/queue"
	"github.com/dandantas/boarding/internal/report"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/retry"
	"github.com/dandantas/boarding/internal/scheduler"
	"github.com/dandantas/boarding/internal/store"
	"github.com/dandantas/boarding/internal/store/memory"
	"github.com/dandantas/boarding/internal/sweeper"
	"github.com/dandantas/boarding/pkg/middleware"
	"github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Boarding Service", "version", version, "store", cfg.StoreBackend)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the row store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Metrics
	var recorder *metrics.Recorder
	var metricsHandler http.Handler
	var provider *metrics.Provider
	if cfg.MetricsEnabled {
		provider, err = metrics.Setup()
		if err != nil {
			slog.Error("Failed to set up metrics", "error", err)
			os.Exit(1)
		}
		recorder = metrics.New()
		recorder.ObserveQueueDepth(func(ctx context.Context) (int64, error) {
			return st.CountEntries(ctx, model.EntryWaiting)
		})
		metricsHandler = provider.Handler()
	}

	clk := clock.Real{}
	locks := keymutex.New(keymutex.WithWaitObserver(recorder.LockWait))

	// Invitation API client
	inviteClient := invite.NewClient(
		cfg.InviteAPIBaseURL,
		cfg.InviteTimeout,
		retry.NewPolicy(cfg.InviteRetry, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			slog.Warn("Retrying invitation API call", "attempt", attempt, "delay", delay, "error", err)
		})),
		invite.WithRateLimit(cfg.InviteRatePerSecond),
		invite.WithBreaker(retry.NewBreaker(5, 2, 60*time.Second)),
	)

	// Notifications
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhookURL != "" {
		webhook := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout, retry.NewPolicy(model.RetryConfig{}))
		defer webhook.Close()
		notifier = webhook
	}

	// Run summaries: always persisted, optionally cached in Redis
	recorders := report.Multi{report.NewStoreRecorder(st)}
	var summaries handler.RunSummaries
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}

		redisRecorder := report.NewRedisRecorder(rdb,
			report.WithPrefix(cfg.RedisSummaryPrefix),
			report.WithTTL(cfg.RedisSummaryTTL),
		)
		recorders = append(recorders, redisRecorder)
		summaries = redisRecorder
	}
	publisher := report.NewPublisher(recorders, recorder, notifier)

	// Domain services
	reservations := reservation.New(st, clk)
	queueService := queue.NewService(st, reservations, locks, clk, queue.OptionsFromConfig(cfg))
	directory := groups.NewDirectory(st, inviteClient, locks, clk, cfg.GroupSeatLimit)
	orderService := orders.NewService(st, reservations, locks, clk)

	// Boarding scheduler
	state := scheduler.NewState(cfg.BoardingHours)
	fulfiller := scheduler.NewFulfiller(scheduler.Deps{
		Entries:      st,
		Invitations:  st,
		Reservations: reservations,
		Groups:       directory,
		Invites:      inviteClient,
		Locks:        locks,
		Clock:        clk,
		Publisher:    publisher,
		State:        state,
		Channel:      cfg.ResourceChannel,
		Location:     cfg.BoardingLocation,
	})
	sched := scheduler.NewScheduler(fulfiller, cfg.BoardingEnabled, cfg.BoardingLookahead)
	sched.Start(ctx)

	// Sweepers
	runner := sweeper.NewRunner(publisher, clk)
	if err := setupSweepers(cfg, runner, st, reservations, inviteClient, directory, locks, clk); err != nil {
		slog.Error("Failed to schedule sweepers", "error", err)
		os.Exit(1)
	}
	runner.Start()

	// Manual job triggers
	registry := jobs.NewRegistry(2, 16)
	registry.Add(model.JobFulfillment, func(ctx context.Context) (*model.JobRun, error) {
		return sched.RunNow(ctx), nil
	})
	for _, name := range runner.Names() {
		registry.Add(name, func(ctx context.Context) (*model.JobRun, error) {
			return runner.Trigger(ctx, name)
		})
	}
	registry.Start()

	// Initialize handlers and router
	router := handler.NewRouter(handler.Handlers{
		Queue:  handler.NewQueueHandler(queueService),
		Admin:  handler.NewAdminHandler(queueService, reservations, directory, fulfiller),
		Orders: handler.NewOrderHandler(orderService, cfg.ResourceChannel),
		Jobs:   handler.NewJobsHandler(registry, state, st, summaries),
		Health: handler.NewHealthHandler(st, cfg.StoreBackend, inviteClient.BreakerState, version),
	}, handler.RouterConfig{
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   cfg.CORSAllowedMethods,
			AllowedHeaders:   cfg.CORSAllowedHeaders,
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           cfg.CORSMaxAge,
		},
		Identity: middleware.IdentityHeaders{
			Identity:    cfg.IdentityHeader,
			Username:    cfg.UsernameHeader,
			DisplayName: cfg.DisplayNameHeader,
			TrustLevel:  cfg.TrustLevelHeader,
		},
		AdminToken: cfg.AdminToken,
		Metrics:    metricsHandler,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first, then drain background work
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sched.Stop(shutdownCtx)
	runner.Stop(shutdownCtx)
	registry.Stop()
	cancel()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics shutdown error", "error", err)
	}

	slog.Info("Boarding Service stopped")
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("Using in-memory store, state is lost on restart")
		return memory.New(), func() {}, nil
	case "mongo", "mongodb":
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}

	if err := database.CreateIndexes(ctx, db); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return database.NewStore(db), closeFn, nil
}

func setupSweepers(
	cfg *config.Config,
	runner *sweeper.Runner,
	st store.Store,
	reservations *reservation.Service,
	invites invite.Service,
	directory *groups.Directory,
	locks *keymutex.Manager,
	clk clock.Clock,
) error {
	expiration := sweeper.NewExpiration(st, reservations, locks, clk, map[model.OrderKind]time.Duration{
		model.OrderPurchase: cfg.PurchaseOrderExpiry,
		model.OrderCredit:   cfg.CreditOrderExpiry,
	})
	overcapacity := sweeper.NewOvercapacity(st, invites, directory, locks, clk, sweeper.OvercapacityOptions{
		MaxMembers:        cfg.OvercapacityMaxMembers,
		CreatedWithinDays: cfg.OvercapacityCreatedWithinDays,
		Concurrency:       cfg.OvercapacitySweeperConcurrency,
		RemovalsPerSecond: cfg.OvercapacityRemovalsPerSecond,
	})

	// Registered jobs stay available for manual triggers when their schedule is off
	runner.Register(expiration)
	runner.Register(overcapacity)

	if cfg.ExpirationSweeperEnabled {
		spec := fmt.Sprintf("@every %s", cfg.ExpirationSweeperInterval)
		if err := runner.Schedule(spec, expiration); err != nil {
			return err
		}
		runner.RunAfter(expiration.Name(), cfg.ExpirationSweeperInitialDelay, model.TriggerStartup)
	} else {
		slog.Info("Expiration sweeper is disabled by configuration")
	}

	if cfg.OvercapacitySweeperEnabled {
		if err := runner.Schedule(cfg.OvercapacitySweeperSchedule, overcapacity); err != nil {
			return err
		}
		if cfg.OvercapacitySweeperRunOnStartup {
			runner.RunAfter(overcapacity.Name(), 0, model.TriggerStartup)
		}
	} else {
		slog.Info("Overcapacity sweeper is disabled by configuration")
	}

	return nil
}
