package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	LeadID            uuid.UUID       `json:"lead_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	PaymentMethod     PaymentMethod   `json:"payment_method,omitempty"`
	PaymentIntentID   *string         `json:"payment_intent_id,omitempty"`
	GatewayResponse   json.RawMessage `json:"gateway_response,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	FailureCode       *string         `json:"failure_code,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key"`
	IPAddress         string          `json:"-"`
	UserAgent         string          `json:"-"`
	DeviceFingerprint string          `json:"-"`
	Metadata          PaymentMetadata `json:"metadata"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
}

type PaymentMetadata struct {
	LeadID     uuid.UUID `json:"lead_id"`
	FraudLogID uuid.UUID `json:"fraud_log_id"`
	RiskScore  int       `json:"risk_score"`
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// CanTransitionTo encodes pending -> processing -> {completed|failed}.
// pending may also settle directly and may be re-affirmed as pending.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next.IsValid()
	case PaymentProcessing:
		return next == PaymentCompleted || next == PaymentFailed || next == PaymentPending
	}
	return false
}

type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodStripe PaymentMethod = "stripe"
	MethodPayPal PaymentMethod = "paypal"
	MethodManual PaymentMethod = "manual"
)

// GatewayResult is what a payment gateway reports for one charge attempt.
type GatewayResult struct {
	Success         bool            `json:"success"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}
