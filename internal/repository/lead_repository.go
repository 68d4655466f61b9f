package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
)

//go:generate mockgen -source=lead_repository.go -destination=mocks/lead_repository_mock.go -package=mocks

type LeadRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Lead, error)
}
