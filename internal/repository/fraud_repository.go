package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=fraud_repository.go -destination=mocks/fraud_repository_mock.go -package=mocks

// FraudRepository answers the windowed aggregates the risk checks need and
// owns the fraud_check_logs audit table.
type FraudRepository interface {
	CountUserPayments(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	SumUserPayments(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	CountDistinctUsersByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountDistinctUsersByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error)
	InsertLogs(ctx context.Context, logs []models.FraudCheckLog) error
	AttachPayment(ctx context.Context, runID, paymentID uuid.UUID) error
}
