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
	"github.com/attendly/backend/internal/notifications"
	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/consumer"
	"github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/metrics"
	"github.com/attendly/backend/pkg/migrate"
	"github.com/attendly/backend/pkg/projection"
	"github.com/attendly/backend/pkg/pubsub"
	"github.com/attendly/backend/pkg/realtime"
	"github.com/attendly/backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "notifications"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "notifications"

	logg = logger.New(logger.Options{
		ServiceName: "notifications",
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

	hub := realtime.NewHub(logg)
	userRefs := projection.NewUserRefs(dbClient.DB())
	inboxRepo := inbox.NewRepository(dbClient.DB())
	notificationRepo := notifications.NewRepository(dbClient.DB())

	guard, err := inbox.NewGuard(dbClient, inboxRepo)
	requireResource(ctx, logg, "inbox guard", err)

	inboxService, err := notifications.NewService(notificationRepo)
	requireResource(ctx, logg, "inbox service", err)

	fanOut, err := notifications.NewFanOut(guard, userRefs, notificationRepo, hub, logg)
	requireResource(ctx, logg, "fan out", err)

	idempotency, err := consumer.NewIdempotencyManager(redisClient, cfg.Consumer.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	consumerMetrics := metrics.NewConsumerMetrics(promRegistry)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})

	group, groupCtx := errgroup.WithContext(runCtx)

	// Consumers are wired per configured subscription: user.registered and
	// user.deleted maintain the user_refs projection, staff.changed fans the
	// update out to every admin inbox.
	type subscriptionSpec struct {
		name         string
		subscription string
		handler      consumer.Handler
	}
	for _, spec := range []subscriptionSpec{
		{
			name:         "notifications.user-registered",
			subscription: cfg.PubSub.UserRegisteredSubscription,
			handler:      projection.NewUserRegisteredHandler(guard, userRefs, logg),
		},
		{
			name:         "notifications.user-deleted",
			subscription: cfg.PubSub.UserDeletedSubscription,
			handler:      projection.NewUserDeletedProjectionHandler(guard, userRefs, logg),
		},
		{
			name:         "notifications.staff-changed",
			subscription: cfg.PubSub.StaffChangedSubscription,
			handler:      fanOut.Handler(),
		},
	} {
		if spec.subscription == "" {
			continue
		}
		c, err := consumer.New(
			spec.name,
			pubsubClient.Subscription(spec.subscription),
			eventRegistry,
			idempotency,
			inboxRepo,
			spec.handler,
			consumerMetrics,
			logg,
		)
		requireResource(ctx, logg, spec.name, err)

		group.Go(func() error {
			return c.Run(groupCtx)
		})
	}

	router := routes.NewNotificationsRouter(cfg, logg, promRegistry, inboxService, hub,
		controllers.Dependency{Name: "postgres", Pinger: dbClient},
		controllers.Dependency{Name: "redis", Pinger: redisClient},
		controllers.Dependency{Name: "pubsub", Pinger: pubsubClient},
	)
	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: router}

	group.Go(func() error {
		logg.Info(groupCtx, "notifications server listening on "+server.Addr)
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
		logg.Error(runCtx, "notifications service stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "notifications service shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
