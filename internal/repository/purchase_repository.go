package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
)

//go:generate mockgen -source=purchase_repository.go -destination=mocks/purchase_repository_mock.go -package=mocks

// PurchaseRepository owns lead_purchases. Create returns
// pkgerrors.ErrLeadAlreadyPurchased when the lead_id constraint rejects the row.
type PurchaseRepository interface {
	Create(ctx context.Context, purchase *models.Purchase) error
	GetByLeadID(ctx context.Context, leadID uuid.UUID) (*models.Purchase, error)
}
