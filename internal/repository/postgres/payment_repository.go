package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/honeynil/LeadMarketplace/internal/repository"
	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const paymentsIdempotencyKey = "payments_idempotency_key_key"

const paymentColumns = `id, user_id, lead_id, amount, currency, status, payment_method, payment_intent_id,
	gateway_response, failure_reason, failure_code, idempotency_key, ip_address, user_agent,
	device_fingerprint, metadata, created_at, updated_at, completed_at, failed_at`

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                             models.Payment
		method, ip, ua, device        sql.NullString
		gatewayResponse, metadataJSON []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.LeadID, &p.Amount, &p.Currency, &p.Status, &method, &p.PaymentIntentID,
		&gatewayResponse, &p.FailureReason, &p.FailureCode, &p.IdempotencyKey, &ip, &ua,
		&device, &metadataJSON, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedAt)
	if err != nil {
		return nil, err
	}
	p.PaymentMethod = models.PaymentMethod(method.String)
	p.IPAddress, p.UserAgent, p.DeviceFingerprint = ip.String, ua.String, device.String
	if len(gatewayResponse) > 0 {
		p.GatewayResponse = json.RawMessage(gatewayResponse)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
		}
	}
	return &p, nil
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *models.Payment) (err error) {
	ctx, span, done := track(ctx, "payment-repository", "CreatePayment")
	defer done(&err)

	if p == nil {
		err = pkgerrors.ErrNilPayment
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	if !p.Amount.IsPositive() {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("amount must be positive", "method", "Create", "amount", p.Amount, "error", err)
		return err
	}
	if !p.Status.IsValid() {
		err = pkgerrors.ErrInvalidPaymentStatus
		slog.Error("invalid payment status", "method", "Create", "status", p.Status, "error", err)
		return err
	}
	span.SetAttributes(
		attribute.String("user_id", p.UserID.String()),
		attribute.String("lead_id", p.LeadID.String()),
		attribute.String("idempotency_key", p.IdempotencyKey),
	)

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode payment metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO payments (user_id, lead_id, amount, currency, status, payment_method,
			idempotency_key, ip_address, user_agent, device_fingerprint, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		p.UserID, p.LeadID, p.Amount, p.Currency, p.Status, nullString(string(p.PaymentMethod)),
		p.IdempotencyKey, nullString(p.IPAddress), nullString(p.UserAgent), nullString(p.DeviceFingerprint), metadataJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		err = rollback(tx, err)
		if code, constraint, _ := pqCode(err); code == pqUniqueViolation && constraint == paymentsIdempotencyKey {
			slog.Warn("payment already exists for idempotency key", "method", "Create", "idempotency_key", p.IdempotencyKey)
			err = pkgerrors.ErrDuplicateKey
			return err
		}
		slog.Error("failed to create payment", "method", "Create", "user_id", p.UserID, "lead_id", p.LeadID, "error", err)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("payment created", "method", "Create", "payment_id", p.ID, "user_id", p.UserID, "lead_id", p.LeadID, "status", p.Status)
	return nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (p *models.Payment, err error) {
	ctx, span, done := track(ctx, "payment-repository", "GetPaymentByID")
	defer done(&err)
	span.SetAttributes(attribute.String("payment_id", id.String()))

	p, err = scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment", "method", "GetByID", "payment_id", id, "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (p *models.Payment, err error) {
	ctx, span, done := track(ctx, "payment-repository", "GetPaymentByIdempotencyKey")
	defer done(&err)
	span.SetAttributes(attribute.String("idempotency_key", key))

	p, err = scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment", "method", "GetByIdempotencyKey", "idempotency_key", key, "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) (out []models.Payment, err error) {
	ctx, span, done := track(ctx, "payment-repository", "ListPaymentsByUser")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID.String()), attribute.Int("limit", limit))

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		slog.Error("failed to list payments", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	out = make([]models.Payment, 0, limit)
	for rows.Next() {
		p, scanErr := scanPayment(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan payment: %w", scanErr)
			return nil, err
		}
		out = append(out, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return out, nil
}

// UpdateStatus is a compare-and-set on the status column. When the row is not
// in one of the from statuses it is left untouched and returned as stored.
func (r *PostgresPaymentRepository) UpdateStatus(ctx context.Context, upd repository.PaymentStatusUpdate, from []models.PaymentStatus) (p *models.Payment, changed bool, err error) {
	ctx, span, done := track(ctx, "payment-repository", "UpdatePaymentStatus")
	defer done(&err)
	span.SetAttributes(
		attribute.String("payment_id", upd.PaymentID.String()),
		attribute.String("status", string(upd.Status)),
	)

	if !upd.Status.IsValid() {
		err = pkgerrors.ErrInvalidPaymentStatus
		return nil, false, err
	}
	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	query := `UPDATE payments SET
			status = $2::text,
			payment_intent_id = COALESCE($3, payment_intent_id),
			gateway_response = COALESCE($4::jsonb, gateway_response),
			failure_reason = COALESCE($5, failure_reason),
			failure_code = COALESCE($6, failure_code),
			updated_at = NOW(),
			completed_at = CASE WHEN $2::text = 'completed' THEN NOW() ELSE completed_at END,
			failed_at = CASE WHEN $2::text = 'failed' THEN NOW() ELSE failed_at END
		WHERE id = $1 AND status = ANY($7)
		RETURNING ` + paymentColumns

	var gatewayResponse any
	if len(upd.GatewayResponse) > 0 {
		gatewayResponse = upd.GatewayResponse
	}
	p, err = scanPayment(r.db.QueryRowContext(ctx, query,
		upd.PaymentID, string(upd.Status), upd.PaymentIntentID, gatewayResponse,
		upd.FailureReason, upd.FailureCode, pq.Array(fromStatuses)))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = nil
		current, getErr := r.GetByID(ctx, upd.PaymentID)
		if getErr != nil {
			err = getErr
			return nil, false, err
		}
		slog.Info("payment status unchanged", "method", "UpdateStatus", "payment_id", upd.PaymentID, "current", current.Status, "requested", upd.Status)
		return current, false, nil
	}
	if err != nil {
		slog.Error("failed to update payment status", "method", "UpdateStatus", "payment_id", upd.PaymentID, "error", err)
		return nil, false, fmt.Errorf("failed to update payment status: %w", err)
	}

	slog.Info("payment status updated", "method", "UpdateStatus", "payment_id", p.ID, "status", p.Status)
	return p, true, nil
}
