package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	service := flag.String("service", "", "service schema: identity|workforce|notifications")
	cmd := flag.String("cmd", "up", "migration command: up|down|status|up-to|down-to")
	version := flag.String("version", "", "target version for up-to/down-to")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	kind := *service
	if kind == "" {
		kind = cfg.Service.Kind
	}
	dir, err := migrate.DirFor(kind)
	requireResource(ctx, logg, "migration directory", err)

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"cmd":     *cmd,
		"service": kind,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	var args []string
	switch *cmd {
	case "up", "down", "status":
	case "up-to", "down-to":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for", *cmd)
			os.Exit(1)
		}
		args = append(args, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	if err := migrate.Run(ctx, sqlDB, dir, *cmd, args...); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
