package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
)

//go:generate mockgen -source=gateway.go -destination=mocks/gateway_mock.go -package=mocks

// Gateway charges a payment with an external provider. A nil error with
// Success=false means the provider accepted the request but settlement is
// still outstanding.
type Gateway interface {
	Charge(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error)
}

// ManualSettlement accepts every charge and leaves it for back-office
// settlement, which later arrives on the settlements topic.
type ManualSettlement struct{}

func NewManualSettlement() *ManualSettlement {
	return &ManualSettlement{}
}

func (ManualSettlement) Charge(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error) {
	raw, err := json.Marshal(map[string]any{
		"provider":   "manual",
		"payment_id": paymentID,
		"method":     method,
		"status":     "awaiting_settlement",
	})
	if err != nil {
		return nil, err
	}
	slog.Info("payment queued for manual settlement", "payment_id", paymentID, "method", method)
	return &models.GatewayResult{Success: false, Raw: raw}, nil
}
