package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/honeynil/LeadMarketplace/internal/config"
	infraobs "github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	core "github.com/honeynil/LeadMarketplace/internal/repository/postgres"
)

func main() {
	flag.Parse()
	command := "up"
	var args []string
	if flag.NArg() > 0 {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	infraobs.InitLogger(cfg.App.LogLevel)

	ctx := context.Background()
	db, err := core.Open(ctx, cfg.Postgres.DSN, 2, 1, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := core.RunMigrations(ctx, db, command, args...); err != nil {
		slog.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied", "command", command)
}
