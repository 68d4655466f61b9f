// Command cleanup purges idempotency records that expired more than a day
// ago. It is meant to run from cron.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/honeynil/LeadMarketplace/internal/config"
	infraobs "github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	core "github.com/honeynil/LeadMarketplace/internal/repository/postgres"
	service "github.com/honeynil/LeadMarketplace/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	infraobs.InitLogger(cfg.App.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := core.Open(ctx, cfg.Postgres.DSN, 2, 1, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc := service.NewIdempotencyService(core.NewPostgresIdempotencyRepository(db), nil, cfg.App.IdempotencyTTL)
	deleted, err := svc.CleanupExpired(ctx)
	if err != nil {
		slog.Error("idempotency cleanup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("idempotency cleanup finished", "deleted", deleted)
}
