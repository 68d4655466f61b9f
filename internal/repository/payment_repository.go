package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
)

//go:generate mockgen -source=payment_repository.go -destination=mocks/payment_repository_mock.go -package=mocks

// PaymentStatusUpdate carries the optional columns written with a status change.
type PaymentStatusUpdate struct {
	PaymentID       uuid.UUID
	Status          models.PaymentStatus
	PaymentIntentID *string
	GatewayResponse []byte
	FailureReason   *string
	FailureCode     *string
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	// UpdateStatus applies the update only when the current status is one of from.
	// It returns the row as stored after the call and whether it changed.
	UpdateStatus(ctx context.Context, upd PaymentStatusUpdate, from []models.PaymentStatus) (*models.Payment, bool, error)
}
