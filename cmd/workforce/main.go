package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/attendly/backend/api/controllers"
	"github.com/attendly/backend/api/routes"
	"github.com/attendly/backend/internal/workforce"
	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/consumer"
	"github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/metrics"
	"github.com/attendly/backend/pkg/migrate"
	"github.com/attendly/backend/pkg/outbox"
	"github.com/attendly/backend/pkg/projection"
	"github.com/attendly/backend/pkg/pubsub"
	"github.com/attendly/backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "workforce"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "workforce"

	logg = logger.New(logger.Options{
		ServiceName: "workforce",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	eventRegistry, err := events.NewRegistry(cfg.PubSub)
	requireResource(ctx, logg, "event registry", err)

	emitter, err := outbox.NewEmitter(eventRegistry, logg)
	requireResource(ctx, logg, "outbox emitter", err)

	userRefs := projection.NewUserRefs(dbClient.DB())

	staffService, err := workforce.NewStaffService(workforce.StaffServiceParams{
		Tx:        dbClient,
		Staff:     workforce.NewStaffRepository(dbClient.DB()),
		Positions: workforce.NewPositionRepository(dbClient.DB()),
		Files:     workforce.NewFileRepository(dbClient.DB()),
		UserRefs:  userRefs,
		Emitter:   emitter,
		Logger:    logg,
	})
	requireResource(ctx, logg, "staff service", err)

	attendanceService, err := workforce.NewAttendanceService(
		workforce.NewStaffRepository(dbClient.DB()),
		workforce.NewAttendanceRepository(dbClient.DB()),
		logg,
		nil,
	)
	requireResource(ctx, logg, "attendance service", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})

	group, groupCtx := errgroup.WithContext(runCtx)

	// The projection consumers keep the local user_refs table in step with
	// the identity service.
	if cfg.PubSub.UserRegisteredSubscription != "" || cfg.PubSub.UserDeletedSubscription != "" {
		inboxRepo := inbox.NewRepository(dbClient.DB())
		guard, err := inbox.NewGuard(dbClient, inboxRepo)
		requireResource(ctx, logg, "inbox guard", err)

		idempotency, err := consumer.NewIdempotencyManager(redisClient, cfg.Consumer.IdempotencyTTL)
		requireResource(ctx, logg, "idempotency manager", err)

		consumerMetrics := metrics.NewConsumerMetrics(promRegistry)

		if cfg.PubSub.UserRegisteredSubscription != "" {
			userRegisteredConsumer, err := consumer.New(
				"workforce.user-registered",
				pubsubClient.UserRegisteredSubscription(),
				eventRegistry,
				idempotency,
				inboxRepo,
				projection.NewUserRegisteredHandler(guard, userRefs, logg),
				consumerMetrics,
				logg,
			)
			requireResource(ctx, logg, "user registered consumer", err)

			group.Go(func() error {
				return userRegisteredConsumer.Run(groupCtx)
			})
		}

		if cfg.PubSub.UserDeletedSubscription != "" {
			userDeletedConsumer, err := consumer.New(
				"workforce.user-deleted",
				pubsubClient.UserDeletedSubscription(),
				eventRegistry,
				idempotency,
				inboxRepo,
				projection.NewUserDeletedProjectionHandler(guard, userRefs, logg),
				consumerMetrics,
				logg,
			)
			requireResource(ctx, logg, "user deleted consumer", err)

			group.Go(func() error {
				return userDeletedConsumer.Run(groupCtx)
			})
		}
	}

	router := routes.NewWorkforceRouter(cfg, logg, promRegistry, staffService, attendanceService,
		controllers.Dependency{Name: "postgres", Pinger: dbClient},
		controllers.Dependency{Name: "redis", Pinger: redisClient},
		controllers.Dependency{Name: "pubsub", Pinger: pubsubClient},
	)
	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: router}

	group.Go(func() error {
		logg.Info(groupCtx, "workforce server listening on "+server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "workforce service stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "workforce service shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
