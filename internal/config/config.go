package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Tracing  TracingConfig
	Risk     RiskConfig
	Payment  PaymentConfig
}

type AppConfig struct {
	Env             string        `envconfig:"APP_ENV" default:"production"`
	Port            string        `envconfig:"APP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type PostgresConfig struct {
	DSN             string        `envconfig:"POSTGRES_DSN" default:"host=localhost user=postgres password=postgres dbname=leads sslmode=disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"1h"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers          []string `envconfig:"KAFKA_BROKERS"`
	PurchasesTopic   string   `envconfig:"KAFKA_PURCHASES_TOPIC" default:"lead-purchases"`
	SettlementsTopic string   `envconfig:"KAFKA_SETTLEMENTS_TOPIC" default:"payment-settlements"`
	GroupID          string   `envconfig:"KAFKA_GROUP_ID" default:"lead-marketplace"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type JWTConfig struct {
	Secret string `envconfig:"JWT_SECRET" required:"true"`
	// When set, tokens must also match the agent's active token in Redis.
	CheckRevocation bool `envconfig:"JWT_CHECK_REVOCATION" default:"false"`
}

type TracingConfig struct {
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"lead-marketplace"`
}

// RiskConfig carries threshold overrides. Unset values keep the scorer's
// defaults.
type RiskConfig struct {
	MaxPaymentsPerHour   int             `envconfig:"RISK_MAX_PAYMENTS_PER_HOUR"`
	MaxPaymentsPerDay    int             `envconfig:"RISK_MAX_PAYMENTS_PER_DAY"`
	MaxTransactionAmount decimal.Decimal `envconfig:"RISK_MAX_TRANSACTION_AMOUNT"`
	MaxDailyAmount       decimal.Decimal `envconfig:"RISK_MAX_DAILY_AMOUNT"`
	SuspiciousAmount     decimal.Decimal `envconfig:"RISK_SUSPICIOUS_AMOUNT"`
	IPFailUsers          int             `envconfig:"RISK_IP_FAIL_USERS"`
	IPFlagUsers          int             `envconfig:"RISK_IP_FLAG_USERS"`
	DeviceFailUsers      int             `envconfig:"RISK_DEVICE_FAIL_USERS"`
	DeviceFlagUsers      int             `envconfig:"RISK_DEVICE_FLAG_USERS"`
	FailScore            int             `envconfig:"RISK_FAIL_SCORE"`
}

const (
	GatewayNone   = "none"
	GatewayManual = "manual"
)

type PaymentConfig struct {
	Currency string `envconfig:"PAYMENT_CURRENCY" default:"USD"`
	Method   string `envconfig:"PAYMENT_METHOD" default:"card"`
	// Gateway selects the charge backend: "none" leaves payments pending,
	// "manual" charges through the manual settlement gateway.
	Gateway string `envconfig:"PAYMENT_GATEWAY" default:"none"`
}

func (p PaymentConfig) validate() error {
	switch p.Gateway {
	case GatewayNone, GatewayManual:
		return nil
	}
	return fmt.Errorf("unknown payment gateway %q", p.Gateway)
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Payment.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
		"redis_enabled", cfg.Redis.Enabled(),
		"kafka_brokers", cfg.Kafka.Brokers,
		"payment_gateway", cfg.Payment.Gateway)
	return &cfg, nil
}
