package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/kafka"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	warningNoGateway          = "payment gateway not configured; payment awaits manual settlement"
	warningAwaitingSettlement = "payment accepted by gateway and awaiting settlement"

	failureAlreadyPurchased = "LEAD_ALREADY_PURCHASED"
	failureLeadUnavailable  = "LEAD_UNAVAILABLE"
	failureGateway          = "GATEWAY_ERROR"
	failureInternal         = "INTERNAL_ERROR"
)

type PurchaseService interface {
	Purchase(ctx context.Context, req models.PurchaseRequest) (*models.PurchaseResult, error)
}

type PurchaseConfig struct {
	Currency    string
	Method      models.PaymentMethod
	EventsTopic string
}

type purchaseService struct {
	leads       repository.LeadRepository
	purchases   repository.PurchaseRepository
	idempotency IdempotencyService
	risk        RiskService
	payments    PaymentService
	producer    kafka.KafkaProducer
	cfg         PurchaseConfig
	now         func() time.Time
}

// NewPurchaseService wires the orchestrator. producer may be nil, in which
// case no outcome events are published.
func NewPurchaseService(
	leads repository.LeadRepository,
	purchases repository.PurchaseRepository,
	idempotency IdempotencyService,
	risk RiskService,
	payments PaymentService,
	producer kafka.KafkaProducer,
	cfg PurchaseConfig,
) *purchaseService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Method == "" {
		cfg.Method = models.MethodCard
	}
	return &purchaseService{
		leads:       leads,
		purchases:   purchases,
		idempotency: idempotency,
		risk:        risk,
		payments:    payments,
		producer:    producer,
		cfg:         cfg,
		now:         time.Now,
	}
}

// requestSnapshot is what the idempotency record keeps of the request.
type requestSnapshot struct {
	LeadID        uuid.UUID `json:"lead_id"`
	AgentID       uuid.UUID `json:"agent_id"`
	TermsAccepted bool      `json:"terms_accepted"`
}

func (s *purchaseService) Purchase(ctx context.Context, req models.PurchaseRequest) (*models.PurchaseResult, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "Purchase")
	defer span.End()

	result, err := s.purchase(ctx, req)
	if err != nil {
		mapped := MapError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(mapped.Code()))
		return nil, mapped
	}
	return result, nil
}

func (s *purchaseService) purchase(ctx context.Context, req models.PurchaseRequest) (*models.PurchaseResult, error) {
	span := trace.SpanFromContext(ctx)
	if req.LeadID == uuid.Nil || req.AgentID == uuid.Nil {
		observability.PurchaseOutcomes.WithLabelValues("invalid").Inc()
		return nil, pkgerrors.ErrMissingIdentifiers
	}
	if !req.TermsAccepted {
		observability.PurchaseOutcomes.WithLabelValues("invalid").Inc()
		return nil, pkgerrors.ErrTermsNotAccepted
	}

	key := req.IdempotencyKey
	if key == "" {
		key = s.idempotency.GenerateKey()
	}
	span.SetAttributes(
		attribute.String("idempotency_key", key),
		attribute.String("lead_id", req.LeadID.String()),
		attribute.String("agent_id", req.AgentID.String()),
	)
	log := observability.Logger(ctx).With("idempotency_key", key, "lead_id", req.LeadID, "agent_id", req.AgentID)
	snapshot := requestSnapshot{LeadID: req.LeadID, AgentID: req.AgentID, TermsAccepted: req.TermsAccepted}

	// 1. Replay.
	attempt, err := s.idempotency.CheckIdempotency(ctx, key, req.AgentID, snapshot)
	if err != nil {
		return nil, err
	}
	if attempt != nil {
		return s.replay(ctx, log, key, snapshot, attempt)
	}
	// A payment under this key without a record means an earlier attempt
	// lost its record.
	existing, err := s.payments.GetPaymentByIdempotencyKey(ctx, key)
	if err == nil {
		return s.recoverAttempt(ctx, log, key, snapshot, nil, existing)
	}
	if !stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
		return nil, err
	}

	// 2. Lead availability.
	lead, err := s.leads.GetByID(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLead(lead); err != nil {
		log.Warn("lead not purchasable", "status", lead.Status, "expires_at", lead.ExpiresAt, "error", err)
		observability.PurchaseOutcomes.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	// 3. Risk scoring, before any payment row exists.
	assessment, err := s.risk.PerformFraudChecks(ctx, models.FraudCheckInput{
		UserID:            req.AgentID,
		Amount:            lead.Price,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("risk_score", assessment.RiskScore))
	if !assessment.Passed {
		return nil, s.rejectFraud(ctx, log, key, snapshot, req, assessment)
	}

	// 4. Pending payment and idempotency record.
	payment, err := s.payments.CreatePayment(ctx, CreatePaymentInput{
		UserID:            req.AgentID,
		LeadID:            lead.ID,
		Amount:            lead.Price,
		Currency:          s.cfg.Currency,
		Method:            s.cfg.Method,
		IdempotencyKey:    key,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		FraudLogID:        assessment.LogID,
		RiskScore:         assessment.RiskScore,
	})
	if stderrors.Is(err, pkgerrors.ErrDuplicateKey) {
		return s.replayAfterRace(ctx, log, key, snapshot)
	}
	if err != nil {
		return nil, err
	}
	if err := s.risk.AttachPayment(ctx, assessment.LogID, payment.ID); err != nil {
		log.Warn("failed to link fraud logs to payment", "payment_id", payment.ID, "log_id", assessment.LogID, "error", err)
	}

	if _, err := s.idempotency.StoreIdempotency(ctx, key, req.AgentID, snapshot, &payment.ID, models.AttemptPending); err != nil {
		if stderrors.Is(err, pkgerrors.ErrDuplicateKey) {
			return s.replayAfterRace(ctx, log, key, snapshot)
		}
		return nil, s.abort(ctx, log, key, req, payment, false, err, "failed to record purchase attempt", failureInternal)
	}

	// 5. Ownership transfer.
	purchase := &models.Purchase{
		LeadID:        lead.ID,
		AgentID:       req.AgentID,
		PaymentID:     payment.ID,
		PurchasePrice: lead.Price,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		switch {
		case stderrors.Is(err, pkgerrors.ErrLeadAlreadyPurchased):
			return nil, s.abort(ctx, log, key, req, payment, true, err, "already purchased", failureAlreadyPurchased)
		case stderrors.Is(err, pkgerrors.ErrLeadUnavailable):
			return nil, s.abort(ctx, log, key, req, payment, true, err, "lead no longer available", failureLeadUnavailable)
		}
		return nil, s.abort(ctx, log, key, req, payment, true, err, "ownership transfer failed", failureInternal)
	}
	log.Info("lead ownership transferred", "purchase_id", purchase.ID, "payment_id", payment.ID)

	// 6. Settlement. The transfer stands whatever happens from here on.
	settled, warning, err := s.settle(ctx, log, payment, lead)
	if err != nil {
		return nil, s.abort(ctx, log, key, req, payment, true, err, "payment gateway error", failureGateway)
	}

	result := &models.PurchaseResult{Purchase: purchase, Payment: settled, Warning: warning}
	s.finishAttempt(ctx, log, key, snapshot, &payment.ID, models.AttemptCompleted, result, true)

	outcome := "completed"
	if warning != "" {
		outcome = "pending_settlement"
	}
	observability.PurchaseOutcomes.WithLabelValues(outcome).Inc()
	s.publish(ctx, log, "purchase."+outcome, key, req, settled.ID, settled.Status, "")
	log.Info("lead purchased", "payment_id", settled.ID, "payment_status", settled.Status, "price", lead.Price)
	return result, nil
}

func (s *purchaseService) checkLead(lead *models.Lead) error {
	switch lead.Status {
	case models.LeadAvailable:
	case models.LeadPurchased:
		return pkgerrors.ErrLeadAlreadyPurchased
	case models.LeadExpired:
		return pkgerrors.ErrLeadExpired
	default:
		return pkgerrors.ErrLeadUnavailable
	}
	if !lead.ExpiresAt.IsZero() && !s.now().Before(lead.ExpiresAt) {
		return pkgerrors.ErrLeadExpired
	}
	return nil
}

// settle runs the gateway step and returns the payment as it ends up.
func (s *purchaseService) settle(ctx context.Context, log *slog.Logger, payment *models.Payment, lead *models.Lead) (*models.Payment, string, error) {
	if !s.payments.HasGateway() {
		p, err := s.payments.UpdatePaymentStatus(ctx, PaymentStatusChange{
			PaymentID:     payment.ID,
			Status:        models.PaymentPending,
			FailureReason: warningNoGateway,
		})
		if err != nil {
			return nil, "", err
		}
		log.Warn("no payment gateway wired, payment left pending", "payment_id", payment.ID)
		return p, warningNoGateway, nil
	}

	if _, err := s.payments.MarkAsProcessing(ctx, payment.ID); err != nil {
		return nil, "", err
	}
	res, err := s.payments.ProcessPaymentWithGateway(ctx, payment.ID, s.cfg.Method, map[string]any{
		"lead_id":  lead.ID,
		"agent_id": payment.UserID,
		"amount":   payment.Amount.StringFixed(2),
		"currency": payment.Currency,
	})
	if err != nil {
		return nil, "", err
	}
	if !res.Success && res.PaymentIntentID == "" {
		p, err := s.payments.UpdatePaymentStatus(ctx, PaymentStatusChange{
			PaymentID:     payment.ID,
			Status:        models.PaymentPending,
			FailureReason: warningAwaitingSettlement,
		})
		if err != nil {
			return nil, "", err
		}
		return p, warningAwaitingSettlement, nil
	}
	if !res.Success {
		return nil, "", stderrors.New("gateway declined payment " + res.PaymentIntentID)
	}

	p, err := s.payments.MarkAsCompleted(ctx, payment.ID, res.PaymentIntentID, res.Raw)
	if err != nil {
		return nil, "", err
	}
	return p, "", nil
}

// rejectFraud makes the key terminal so a retry with it replays the refusal.
func (s *purchaseService) rejectFraud(ctx context.Context, log *slog.Logger, key string, snapshot requestSnapshot, req models.PurchaseRequest, a *models.FraudAssessment) error {
	reason := a.FailedReason()
	rejection := pkgerrors.Wrap(pkgerrors.CodeForbidden, pkgerrors.ErrFraudCheckFailed, reason)
	log.Warn("purchase blocked by fraud checks", "risk_score", a.RiskScore, "reason", reason, "log_id", a.LogID)
	observability.PurchaseOutcomes.WithLabelValues("fraud_rejected").Inc()

	failure := models.PurchaseFailure{Error: rejection.Message(), Code: string(pkgerrors.CodeForbidden)}
	s.finishAttempt(ctx, log, key, snapshot, nil, models.AttemptFailed, failure, false)
	s.publish(ctx, log, "purchase.rejected", key, req, uuid.Nil, "", string(pkgerrors.CodeForbidden))
	return rejection
}

// abort fails the payment and the idempotency record once a payment exists
// and returns the mapped error. recorded reports whether the pending record
// was written.
func (s *purchaseService) abort(ctx context.Context, log *slog.Logger, key string, req models.PurchaseRequest, payment *models.Payment, recorded bool, cause error, reason, failureCode string) error {
	mapped := MapError(cause)
	log.Error("purchase failed", "payment_id", payment.ID, "reason", reason, "code", mapped.Code(), "error", cause)

	if _, err := s.payments.MarkAsFailed(ctx, payment.ID, reason, failureCode); err != nil {
		log.Error("failed to mark payment as failed", "payment_id", payment.ID, "error", err)
	}
	failure := models.PurchaseFailure{Error: mapped.Message(), Code: string(mapped.Code())}
	snapshot := requestSnapshot{LeadID: req.LeadID, AgentID: req.AgentID, TermsAccepted: req.TermsAccepted}
	s.finishAttempt(ctx, log, key, snapshot, &payment.ID, models.AttemptFailed, failure, recorded)

	outcome := "failed"
	if mapped.Code() == pkgerrors.CodeConflict {
		outcome = "conflict"
	}
	observability.PurchaseOutcomes.WithLabelValues(outcome).Inc()
	s.publish(ctx, log, "purchase."+outcome, key, req, payment.ID, models.PaymentFailed, string(mapped.Code()))
	return mapped
}

// finishAttempt makes the key terminal, inserting the pending record first
// when it was never written.
func (s *purchaseService) finishAttempt(ctx context.Context, log *slog.Logger, key string, snapshot requestSnapshot, paymentID *uuid.UUID, status models.AttemptStatus, data any, recorded bool) {
	if !recorded {
		_, err := s.idempotency.StoreIdempotency(ctx, key, snapshot.AgentID, snapshot, paymentID, models.AttemptPending)
		if err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateKey) {
			log.Error("failed to record purchase attempt", "status", status, "error", err)
			return
		}
	}
	if err := s.idempotency.UpdateIdempotencyResult(ctx, key, paymentID, status, data); err != nil {
		log.Error("failed to finalize purchase attempt", "status", status, "error", err)
	}
}

func keyTaken() error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, pkgerrors.ErrDuplicateKey, "idempotency key already used")
}

func (s *purchaseService) replay(ctx context.Context, log *slog.Logger, key string, snapshot requestSnapshot, attempt *models.PurchaseAttempt) (*models.PurchaseResult, error) {
	if attempt.UserID != snapshot.AgentID {
		log.Warn("idempotency key belongs to another agent", "owner_id", attempt.UserID)
		return nil, keyTaken()
	}

	switch attempt.ResponseStatus {
	case models.AttemptCompleted:
		var result models.PurchaseResult
		if err := json.Unmarshal(attempt.ResponseData, &result); err != nil {
			return nil, err
		}
		result.Replayed = true
		observability.PurchaseOutcomes.WithLabelValues("replayed").Inc()
		log.Info("purchase replayed from idempotency record")
		return &result, nil
	case models.AttemptFailed:
		var failure models.PurchaseFailure
		if err := json.Unmarshal(attempt.ResponseData, &failure); err != nil {
			return nil, err
		}
		observability.PurchaseOutcomes.WithLabelValues("replayed").Inc()
		log.Info("failed purchase replayed from idempotency record", "code", failure.Code)
		return nil, pkgerrors.New(pkgerrors.Code(failure.Code), failure.Error)
	}

	if attempt.PaymentID == nil {
		return nil, pkgerrors.ErrRequestInProgress
	}
	payment, err := s.payments.GetPayment(ctx, *attempt.PaymentID)
	if err != nil {
		return nil, err
	}
	return s.recoverAttempt(ctx, log, key, snapshot, attempt, payment)
}

// recoverAttempt answers for a key whose record is missing or still pending by
// reading the payment made under it. Once that payment shows how the attempt
// ended, the record is completed so later sightings replay it directly.
func (s *purchaseService) recoverAttempt(ctx context.Context, log *slog.Logger, key string, snapshot requestSnapshot, attempt *models.PurchaseAttempt, payment *models.Payment) (*models.PurchaseResult, error) {
	if payment.UserID != snapshot.AgentID {
		log.Warn("idempotency key belongs to another agent", "owner_id", payment.UserID)
		return nil, keyTaken()
	}
	recorded := attempt != nil

	switch payment.Status {
	case models.PaymentFailed:
		failure := paymentFailure(payment)
		log.Warn("failed attempt recovered from payment", "payment_id", payment.ID, "code", failure.Code())
		s.finishAttempt(ctx, log, key, snapshot, &payment.ID, models.AttemptFailed,
			models.PurchaseFailure{Error: failure.Message(), Code: string(failure.Code())}, recorded)
		observability.PurchaseOutcomes.WithLabelValues("recovered").Inc()
		return nil, failure
	case models.PaymentProcessing:
		return nil, pkgerrors.ErrRequestInProgress
	case models.PaymentPending:
		// Only settlement leaves a reason on a pending payment.
		if payment.FailureReason == nil {
			return nil, pkgerrors.ErrRequestInProgress
		}
	}

	purchase, err := s.purchases.GetByLeadID(ctx, payment.LeadID)
	if err != nil {
		return nil, err
	}
	if purchase == nil || purchase.PaymentID != payment.ID {
		return nil, pkgerrors.ErrRequestInProgress
	}
	result := &models.PurchaseResult{Purchase: purchase, Payment: payment}
	if payment.Status == models.PaymentPending {
		result.Warning = *payment.FailureReason
	}
	s.finishAttempt(ctx, log, key, snapshot, &payment.ID, models.AttemptCompleted, result, recorded)
	observability.PurchaseOutcomes.WithLabelValues("recovered").Inc()
	log.Info("purchase recovered from payment", "payment_id", payment.ID, "purchase_id", purchase.ID)

	result.Replayed = true
	return result, nil
}

var failureSentinels = map[string]error{
	failureAlreadyPurchased: pkgerrors.ErrLeadAlreadyPurchased,
	failureLeadUnavailable:  pkgerrors.ErrLeadUnavailable,
}

// paymentFailure rebuilds the error an aborted attempt returned from the
// failure code stored on its payment.
func paymentFailure(p *models.Payment) *pkgerrors.Error {
	if p.FailureCode != nil {
		if sentinel, ok := failureSentinels[*p.FailureCode]; ok {
			mapped := MapError(sentinel)
			return pkgerrors.New(mapped.Code(), mapped.Message())
		}
	}
	return pkgerrors.New(pkgerrors.CodeInternal, pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage)
}

// replayAfterRace handles a concurrent attempt with the same key winning the
// insert: the surviving record is surfaced instead of re-running the purchase.
func (s *purchaseService) replayAfterRace(ctx context.Context, log *slog.Logger, key string, snapshot requestSnapshot) (*models.PurchaseResult, error) {
	log.Info("concurrent attempt with the same idempotency key")
	attempt, err := s.idempotency.CheckIdempotency(ctx, key, snapshot.AgentID, snapshot)
	if err != nil {
		return nil, err
	}
	if attempt != nil {
		return s.replay(ctx, log, key, snapshot, attempt)
	}
	payment, err := s.payments.GetPaymentByIdempotencyKey(ctx, key)
	if stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
		return nil, pkgerrors.ErrRequestInProgress
	}
	if err != nil {
		return nil, err
	}
	return s.recoverAttempt(ctx, log, key, snapshot, nil, payment)
}

func (s *purchaseService) publish(ctx context.Context, log *slog.Logger, eventType, key string, req models.PurchaseRequest, paymentID uuid.UUID, status models.PaymentStatus, code string) {
	if s.producer == nil || s.cfg.EventsTopic == "" {
		return
	}
	event := models.PurchaseEvent{
		EventType:      eventType,
		IdempotencyKey: key,
		LeadID:         req.LeadID,
		AgentID:        req.AgentID,
		PaymentID:      paymentID,
		PaymentStatus:  string(status),
		Code:           code,
		OccurredAt:     s.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Error("failed to marshal purchase event", "error", err)
		return
	}
	if err := s.producer.Send(context.WithoutCancel(ctx), s.cfg.EventsTopic, req.LeadID.String(), raw); err != nil {
		log.Error("failed to publish purchase event", "event_type", eventType, "error", err)
	}
}
