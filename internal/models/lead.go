package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Lead struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"lead_price"`
	Status    LeadStatus      `json:"status"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type LeadStatus string

const (
	LeadAvailable LeadStatus = "available"
	LeadPurchased LeadStatus = "purchased"
	LeadExpired   LeadStatus = "expired"
	LeadWithdrawn LeadStatus = "withdrawn"
)

// Purchase is the ownership record of a lead. lead_id is unique.
type Purchase struct {
	ID            uuid.UUID       `json:"id"`
	LeadID        uuid.UUID       `json:"lead_id"`
	AgentID       uuid.UUID       `json:"agent_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchasedAt   time.Time       `json:"purchased_at"`
}
