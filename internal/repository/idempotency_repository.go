package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
)

//go:generate mockgen -source=idempotency_repository.go -destination=mocks/idempotency_repository_mock.go -package=mocks

type IdempotencyRepository interface {
	GetByKey(ctx context.Context, key string) (*models.PurchaseAttempt, error)
	// Insert returns pkgerrors.ErrDuplicateKey when the key is already taken.
	Insert(ctx context.Context, attempt *models.PurchaseAttempt) error
	// Finalize moves a pending record to a terminal status. It reports false
	// when the record was already terminal.
	Finalize(ctx context.Context, key string, paymentID *uuid.UUID, status models.AttemptStatus, response json.RawMessage) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
