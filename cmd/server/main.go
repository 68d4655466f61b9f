package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeynil/LeadMarketplace/internal/api"
	"github.com/honeynil/LeadMarketplace/internal/config"
	"github.com/honeynil/LeadMarketplace/internal/handler"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/gateway"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/kafka"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/redis"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/observability"
	core "github.com/honeynil/LeadMarketplace/internal/repository/postgres"
	service "github.com/honeynil/LeadMarketplace/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logs, metrics and traces
	shutdownTracing, metricsHandler := observability.Setup(ctx, cfg.Tracing.ServiceName, cfg.App.LogLevel, cfg.Tracing.OTLPEndpoint)
	defer shutdownTracing(context.Background())

	db, err := core.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient redis.RedisClient
	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		redisClient = client
	}

	var producer kafka.KafkaProducer
	if cfg.Kafka.Enabled() {
		p := kafka.NewProducer(cfg.Kafka.Brokers)
		defer p.Close()
		producer = p
	}

	var gw gateway.Gateway
	if cfg.Payment.Gateway == config.GatewayManual {
		gw = gateway.NewManualSettlement()
	}

	// Repositories and services
	leadRepo := core.NewPostgresLeadRepository(db)
	purchaseRepo := core.NewPostgresPurchaseRepository(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)
	idempotencyRepo := core.NewPostgresIdempotencyRepository(db)
	fraudRepo := core.NewPostgresFraudRepository(db)

	idempotencySvc := service.NewIdempotencyService(idempotencyRepo, redisClient, cfg.App.IdempotencyTTL)
	riskSvc := service.NewRiskService(fraudRepo, service.DefaultRiskConfig().Merge(riskOverrides(cfg.Risk)))
	paymentSvc := service.NewPaymentService(paymentRepo, gw)
	purchaseSvc := service.NewPurchaseService(leadRepo, purchaseRepo, idempotencySvc, riskSvc, paymentSvc, producer, service.PurchaseConfig{
		Currency:    cfg.Payment.Currency,
		Method:      models.PaymentMethod(cfg.Payment.Method),
		EventsTopic: cfg.Kafka.PurchasesTopic,
	})

	if cfg.Kafka.Enabled() {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.SettlementsTopic, cfg.Kafka.GroupID, paymentSvc)
		go consumer.Consume(ctx)
		defer consumer.Close()
	}

	var tokenStore redis.RedisClient
	if cfg.JWT.CheckRevocation {
		tokenStore = redisClient
	}
	h := handler.NewHandler(purchaseSvc, paymentSvc, cfg.App.IsDev())
	router := api.SetupRouter(h, tokenStore, cfg.JWT.Secret, db, metricsHandler)

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}
	go func() {
		slog.Info("starting server", "addr", server.Addr, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}

func riskOverrides(r config.RiskConfig) service.RiskConfig {
	return service.RiskConfig{
		MaxPaymentsPerHour:   r.MaxPaymentsPerHour,
		MaxPaymentsPerDay:    r.MaxPaymentsPerDay,
		MaxTransactionAmount: r.MaxTransactionAmount,
		MaxDailyAmount:       r.MaxDailyAmount,
		SuspiciousAmount:     r.SuspiciousAmount,
		IPFailUsers:          r.IPFailUsers,
		IPFlagUsers:          r.IPFlagUsers,
		DeviceFailUsers:      r.DeviceFailUsers,
		DeviceFlagUsers:      r.DeviceFlagUsers,
		FailScore:            r.FailScore,
	}
}
