package models

import (
	"github.com/google/uuid"
)

type PurchaseRequest struct {
	LeadID            uuid.UUID `json:"lead_id"`
	AgentID           uuid.UUID `json:"agent_id"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
	TermsAccepted     bool      `json:"terms_accepted"`
	IPAddress         string    `json:"-"`
	UserAgent         string    `json:"-"`
	DeviceFingerprint string    `json:"-"`
}

// PurchaseResult is the payload cached on the idempotency record and
// returned verbatim on replay.
type PurchaseResult struct {
	Purchase *Purchase `json:"purchase"`
	Payment  *Payment  `json:"payment"`
	Warning  string    `json:"warning,omitempty"`
	Replayed bool      `json:"-"`
}

// PurchaseFailure is cached on failed attempts.
type PurchaseFailure struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PurchaseEvent is published once a purchase attempt reaches a terminal state.
type PurchaseEvent struct {
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	LeadID         uuid.UUID `json:"lead_id"`
	AgentID        uuid.UUID `json:"agent_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	PaymentStatus  string    `json:"payment_status"`
	Code           string    `json:"code,omitempty"`
	OccurredAt     string    `json:"occurred_at"`
}

// SettlementEvent is a gateway settlement notification for a payment.
type SettlementEvent struct {
	PaymentID   uuid.UUID     `json:"payment_id"`
	Status      PaymentStatus `json:"status"`
	GatewayRef  string        `json:"gateway_ref,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	FailureCode string        `json:"failure_code,omitempty"`
}
