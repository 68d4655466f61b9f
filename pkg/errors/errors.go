package errors

import (
	"errors"
)

// Persistence and state errors. Repositories return these instead of raw
// driver errors so callers can branch with errors.Is.
var (
	ErrLeadNotFound             = errors.New("lead not found")
	ErrLeadUnavailable          = errors.New("lead is no longer available for purchase")
	ErrLeadExpired              = errors.New("lead has expired")
	ErrLeadAlreadyPurchased     = errors.New("lead already purchased")
	ErrDuplicateKey             = errors.New("idempotency key already exists")
	ErrIdempotencyNotFound      = errors.New("idempotency record not found")
	ErrRequestInProgress        = errors.New("request with this idempotency key is still in progress")
	ErrNilPayment               = errors.New("payment is nil")
	ErrNilPurchase              = errors.New("purchase is nil")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInvalidPaymentStatus     = errors.New("invalid payment status")
	ErrInvalidPaymentTransition = errors.New("payment status transition not allowed")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrGatewayNotConfigured     = errors.New("payment gateway not configured")
	ErrFraudCheckFailed         = errors.New("fraud check failed")
	ErrTermsNotAccepted         = errors.New("terms not accepted")
	ErrMissingIdentifiers       = errors.New("lead id and agent id are required")
	ErrIdentityMismatch         = errors.New("agent id does not match authenticated identity")
)
