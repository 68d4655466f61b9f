package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PurchaseAttempt is the idempotency record of one client-submitted request.
type PurchaseAttempt struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         uuid.UUID       `json:"user_id"`
	RequestHash    string          `json:"request_hash"`
	RequestBody    json.RawMessage `json:"request_body"`
	PaymentID      *uuid.UUID      `json:"payment_id,omitempty"`
	ResponseStatus AttemptStatus   `json:"response_status"`
	ResponseData   json.RawMessage `json:"response_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}
