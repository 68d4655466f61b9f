package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/gateway"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxListLimit = 100

type CreatePaymentInput struct {
	UserID            uuid.UUID
	LeadID            uuid.UUID
	Amount            decimal.Decimal
	Currency          string
	Method            models.PaymentMethod
	IdempotencyKey    string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	FraudLogID        uuid.UUID
	RiskScore         int
}

type PaymentStatusChange struct {
	PaymentID     uuid.UUID
	Status        models.PaymentStatus
	FailureReason string
}

type PaymentService interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.Payment, error)
	// HasGateway reports whether a gateway is wired for synchronous charges.
	HasGateway() bool
	ProcessPaymentWithGateway(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error)
	MarkAsProcessing(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	MarkAsCompleted(ctx context.Context, paymentID uuid.UUID, gatewayRef string, result json.RawMessage) (*models.Payment, error)
	MarkAsFailed(ctx context.Context, paymentID uuid.UUID, reason, code string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, change PaymentStatusChange) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	ApplySettlement(ctx context.Context, event models.SettlementEvent) error
}

type paymentService struct {
	repo    repository.PaymentRepository
	gateway gateway.Gateway
}

// NewPaymentService builds the ledger. gw may be nil when no gateway is wired.
func NewPaymentService(repo repository.PaymentRepository, gw gateway.Gateway) *paymentService {
	return &paymentService{repo: repo, gateway: gw}
}

func (s *paymentService) HasGateway() bool {
	return s.gateway != nil
}

func (s *paymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()

	payment := &models.Payment{
		UserID:            in.UserID,
		LeadID:            in.LeadID,
		Amount:            in.Amount,
		Currency:          in.Currency,
		Status:            models.PaymentPending,
		PaymentMethod:     in.Method,
		IdempotencyKey:    in.IdempotencyKey,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		Metadata: models.PaymentMetadata{
			LeadID:     in.LeadID,
			FraudLogID: in.FraudLogID,
			RiskScore:  in.RiskScore,
		},
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		if !stderrors.Is(err, pkgerrors.ErrDuplicateKey) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "payment creation failed")
			slog.Error("failed to create payment", "user_id", in.UserID, "lead_id", in.LeadID, "error", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("payment_id", payment.ID.String()))
	return payment, nil
}

// ProcessPaymentWithGateway charges through the wired gateway. A result with
// Success=false and no intent id means the charge awaits manual settlement.
func (s *paymentService) ProcessPaymentWithGateway(ctx context.Context, paymentID uuid.UUID, method models.PaymentMethod, payload map[string]any) (*models.GatewayResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ProcessPaymentWithGateway")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", paymentID.String()), attribute.String("method", string(method)))

	if s.gateway == nil {
		return nil, pkgerrors.ErrGatewayNotConfigured
	}
	result, err := s.gateway.Charge(ctx, paymentID, method, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway charge failed")
		slog.Error("gateway charge failed", "payment_id", paymentID, "method", method, "error", err)
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("gateway returned no result for payment %s", paymentID)
	}
	slog.Info("gateway charge returned", "payment_id", paymentID, "success", result.Success, "intent_id", result.PaymentIntentID)
	return result, nil
}

func (s *paymentService) MarkAsProcessing(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.transition(ctx, "MarkAsProcessing", repository.PaymentStatusUpdate{
		PaymentID: paymentID,
		Status:    models.PaymentProcessing,
	})
}

// MarkAsCompleted settles the payment. Repeating it on a completed payment is
// a no-op.
func (s *paymentService) MarkAsCompleted(ctx context.Context, paymentID uuid.UUID, gatewayRef string, result json.RawMessage) (*models.Payment, error) {
	upd := repository.PaymentStatusUpdate{
		PaymentID:       paymentID,
		Status:          models.PaymentCompleted,
		GatewayResponse: result,
	}
	if gatewayRef != "" {
		upd.PaymentIntentID = &gatewayRef
	}
	return s.transition(ctx, "MarkAsCompleted", upd)
}

func (s *paymentService) MarkAsFailed(ctx context.Context, paymentID uuid.UUID, reason, code string) (*models.Payment, error) {
	upd := repository.PaymentStatusUpdate{
		PaymentID: paymentID,
		Status:    models.PaymentFailed,
	}
	if reason != "" {
		upd.FailureReason = &reason
	}
	if code != "" {
		upd.FailureCode = &code
	}
	return s.transition(ctx, "MarkAsFailed", upd)
}

func (s *paymentService) UpdatePaymentStatus(ctx context.Context, change PaymentStatusChange) (*models.Payment, error) {
	if !change.Status.IsValid() {
		return nil, pkgerrors.ErrInvalidPaymentStatus
	}
	upd := repository.PaymentStatusUpdate{PaymentID: change.PaymentID, Status: change.Status}
	if change.FailureReason != "" {
		upd.FailureReason = &change.FailureReason
	}
	return s.transition(ctx, "UpdatePaymentStatus", upd)
}

// transition applies upd when the stored status allows it. A payment already
// in the target status is returned unchanged; any other refusal is an
// ErrInvalidPaymentTransition.
func (s *paymentService) transition(ctx context.Context, op string, upd repository.PaymentStatusUpdate) (*models.Payment, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", upd.PaymentID.String()), attribute.String("status", string(upd.Status)))

	payment, changed, err := s.repo.UpdateStatus(ctx, upd, sourcesOf(upd.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		slog.Error("failed to update payment status", "method", op, "payment_id", upd.PaymentID, "status", upd.Status, "error", err)
		return nil, err
	}
	if changed {
		slog.Info("payment status changed", "method", op, "payment_id", payment.ID, "status", payment.Status)
		return payment, nil
	}
	if payment.Status == upd.Status {
		return payment, nil
	}
	slog.Warn("payment status transition refused",
		"method", op,
		"payment_id", upd.PaymentID,
		"current", payment.Status,
		"requested", upd.Status)
	return payment, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidPaymentTransition, payment.Status, upd.Status)
}

// sourcesOf lists the statuses that may move to target.
func sourcesOf(target models.PaymentStatus) []models.PaymentStatus {
	all := []models.PaymentStatus{models.PaymentPending, models.PaymentProcessing, models.PaymentCompleted, models.PaymentFailed}
	from := make([]models.PaymentStatus, 0, len(all))
	for _, st := range all {
		if st.CanTransitionTo(target) {
			from = append(from, st)
		}
	}
	return from
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

func (s *paymentService) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	return s.repo.GetByIdempotencyKey(ctx, key)
}

func (s *paymentService) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// ApplySettlement records an asynchronous gateway outcome. Events for a
// payment that already settled the other way are logged and dropped.
func (s *paymentService) ApplySettlement(ctx context.Context, event models.SettlementEvent) error {
	var err error
	switch event.Status {
	case models.PaymentCompleted:
		raw, _ := json.Marshal(event)
		_, err = s.MarkAsCompleted(ctx, event.PaymentID, event.GatewayRef, raw)
	case models.PaymentFailed:
		reason := event.Reason
		if reason == "" {
			reason = "settlement declined"
		}
		_, err = s.MarkAsFailed(ctx, event.PaymentID, reason, event.FailureCode)
	default:
		return fmt.Errorf("%w: settlement status %q", pkgerrors.ErrInvalidPaymentStatus, event.Status)
	}
	if stderrors.Is(err, pkgerrors.ErrInvalidPaymentTransition) {
		slog.Warn("stale settlement ignored", "payment_id", event.PaymentID, "status", event.Status, "error", err)
		return nil
	}
	return err
}
